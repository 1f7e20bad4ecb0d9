// Package proxy drives an external image proxy subprocess that speaks the
// containers/image registry, mirroring, and signature configuration on our
// behalf — the same "shell out to a purpose-built helper binary" shape the
// teacher uses for its FUSE mount helpers, but for registry access instead
// of filesystem mounts.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/lukewarmtemp/ostree-ext-go/internal/proxyconfig"
	"github.com/lukewarmtemp/ostree-ext-go/pkg/sylog"
)

// DefaultBinary is the proxy helper looked up on PATH when Config.Binary is
// empty.
const DefaultBinary = "container-image-proxy"

// Driver supervises one running proxy subprocess for the lifetime of an
// import or pull operation.
type Driver struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	ctrl   *net.UnixConn

	stderrBuf  bytes.Buffer
	stderrDone <-chan error
}

// New starts the proxy subprocess configured by cfg, wiring a control socket
// for blob fd-passing via cmd.ExtraFiles the same way imagedriver.go passes
// mount source/target fds into its FUSE helpers.
func New(ctx context.Context, cfg proxyconfig.Config) (*Driver, error) {
	binary := cfg.Binary
	if binary == "" {
		binary = DefaultBinary
	}

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("creating proxy control socketpair: %w", err)
	}
	parentFile := os.NewFile(uintptr(fds[0]), "proxy-ctrl-parent")
	childFile := os.NewFile(uintptr(fds[1]), "proxy-ctrl-child")

	// fd 3 in the child is always the control socket; an auth file handle,
	// if present, rides along as fd 4 so it stays readable after dropping
	// privileges (see proxyconfig.MergeDefaultsWithIsolation).
	extraFiles := []*os.File{childFile}
	authFileArg := ""
	if cfg.AuthData != nil {
		extraFiles = append(extraFiles, cfg.AuthData)
		authFileArg = fmt.Sprintf("/proc/self/fd/%d", 2+len(extraFiles))
	}

	cmd := exec.CommandContext(ctx, binary, cfg.Args(authFileArg)...)
	cmd.ExtraFiles = extraFiles

	if cfg.IsolationUser != "" {
		cred, err := credentialFor(cfg.IsolationUser)
		if err != nil {
			return nil, fmt.Errorf("resolving isolation user %s: %w", cfg.IsolationUser, err)
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{Credential: cred}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		parentFile.Close()
		childFile.Close()
		return nil, fmt.Errorf("opening proxy stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		parentFile.Close()
		childFile.Close()
		return nil, fmt.Errorf("opening proxy stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		parentFile.Close()
		childFile.Close()
		return nil, fmt.Errorf("opening proxy stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		parentFile.Close()
		childFile.Close()
		return nil, fmt.Errorf("starting %s: %w", binary, err)
	}
	// The child has its own copy of the control fd now; our copy would
	// otherwise keep the socket half-open after the child exits.
	childFile.Close()

	ctrlConn, err := net.FileConn(parentFile)
	parentFile.Close()
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("wrapping proxy control socket: %w", err)
	}
	unixConn, ok := ctrlConn.(*net.UnixConn)
	if !ok {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("unexpected control connection type %T", ctrlConn)
	}

	d := &Driver{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		ctrl:   unixConn,
	}

	stderrDone := make(chan error, 1)
	go func() {
		_, err := io.Copy(&d.stderrBuf, stderr)
		stderrDone <- err
	}()
	d.stderrDone = stderrDone

	return d, nil
}

// credentialFor resolves username to a syscall.Credential suitable for
// cmd.SysProcAttr, dropping the proxy subprocess's privileges the same way
// apptainer's gocryptfs/FUSE helpers avoid running with elevated
// capabilities unless explicitly required.
func credentialFor(username string) (*syscall.Credential, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, err
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parsing uid %s: %w", u.Uid, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parsing gid %s: %w", u.Gid, err)
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, nil
}

// call sends a request and waits for the matching response.
func (d *Driver) call(method string, args ...string) (response, error) {
	if err := writeFrame(d.stdin, request{Method: method, Args: args}); err != nil {
		return response{}, fmt.Errorf("calling %s: %w", method, err)
	}
	var resp response
	if err := readFrame(d.stdout, &resp); err != nil {
		return response{}, fmt.Errorf("reading %s response: %w", method, err)
	}
	if !resp.Success {
		return response{}, fmt.Errorf("%s: %s", method, resp.Error)
	}
	return resp, nil
}

// Close tells the proxy to shut down by closing its stdin, then waits for
// the process to exit and reports any stderr output it produced.
func (d *Driver) Close() error {
	closeErr := d.stdin.Close()
	ctrlErr := d.ctrl.Close()
	waitErr := d.cmd.Wait()
	<-d.stderrDone

	if waitErr != nil {
		stderrText := strings.TrimSpace(d.stderrBuf.String())
		if stderrText != "" {
			return fmt.Errorf("proxy exited: %w: %s", waitErr, stderrText)
		}
		return fmt.Errorf("proxy exited: %w", waitErr)
	}
	if closeErr != nil {
		sylog.Debugf("closing proxy stdin: %v", closeErr)
	}
	if ctrlErr != nil {
		sylog.Debugf("closing proxy control socket: %v", ctrlErr)
	}
	return nil
}
