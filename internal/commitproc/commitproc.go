// Package commitproc launches and supervises the external commit-writing
// child process: it wires a filtered tar stream into the child's stdin and
// reconciles its exit status and stdout/stderr into a commit digest or an
// error carrying the child's stderr.
package commitproc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/lukewarmtemp/ostree-ext-go/internal/tarfilter"
	"github.com/lukewarmtemp/ostree-ext-go/pkg/sylog"
)

// DefaultBinary is the commit-writer helper looked up on PATH when
// Config.BinaryPath is empty.
const DefaultBinary = "ostree-commit-writer"

// ImporterVersion is recorded as commit metadata so a reader can tell which
// importer produced a given commit; it names the importer, not a release.
const ImporterVersion = "ostree-ext-go"

// Config describes how to invoke the commit-writer subprocess.
type Config struct {
	BinaryPath string
	ExtraArgs  []string
}

func (c Config) binary() string {
	if c.BinaryPath != "" {
		return c.BinaryPath
	}
	return DefaultBinary
}

// Options mirrors the CommitProcess contract's per-call knobs.
type Options struct {
	// Base, if set, is the commit this one is derived from; used only to
	// locate a base SELinux policy tree when SELinux is true.
	Base string
	// SELinux requests checking out the base commit's SELinux policy
	// tree (if Base is set) and pointing the child at it.
	SELinux bool
}

// PolicyCheckouter extracts a base commit's SELinux policy tree into a
// scratch directory so the commit-writer child can label new content
// consistently with it. Concrete commit store implementations supply this;
// commitproc only needs the abstraction.
type PolicyCheckouter interface {
	CheckoutSELinuxPolicy(ctx context.Context, baseCommit string) (dir string, cleanup func(), err error)
}

// Result is what a successful Commit call produces.
type Result struct {
	CommitDigest string
	Tally        tarfilter.FilterTally
}

// Commit launches the commit-writer child, piping storeFD in as its commit
// store handle and a TarStreamFilter-normalized view of src as its stdin,
// and returns the digest it reports for ref.
func Commit(ctx context.Context, cfg Config, storeFD *os.File, ref string, opts Options, checkouter PolicyCheckouter, src io.Reader) (*Result, error) {
	var policyDir string
	if opts.SELinux && opts.Base != "" {
		if checkouter == nil {
			return nil, fmt.Errorf("selinux policy requested but no policy checkouter configured")
		}
		dir, cleanup, err := checkouter.CheckoutSELinuxPolicy(ctx, opts.Base)
		if err != nil {
			return nil, fmt.Errorf("checking out selinux policy for %s: %w", opts.Base, err)
		}
		defer cleanup()
		policyDir = dir
	}

	args := []string{
		"--repo=/proc/self/fd/3",
		"--tar-autocreate-parents",
		"--tar=-",
		"--add-metadata-string=ostree-ext-go.importer-version=" + ImporterVersion,
	}
	if policyDir != "" {
		args = append(args, "--selinux-policy="+policyDir)
	}
	args = append(args, cfg.ExtraArgs...)
	args = append(args, ref)

	cmd := exec.CommandContext(ctx, cfg.binary(), args...)
	cmd.ExtraFiles = []*os.File{storeFD}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening commit-writer stdin: %w", err)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cfg.binary(), err)
	}

	filterErrCh := make(chan error, 1)
	var tally tarfilter.FilterTally
	go func() {
		t, err := tarfilter.Filter(src, stdin)
		tally = t
		closeErr := stdin.Close()
		if err != nil {
			filterErrCh <- err
			return
		}
		filterErrCh <- closeErr
	}()

	waitErr := cmd.Wait()
	filterErr := <-filterErrCh

	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("commit writer failed: %w: %s", waitErr, msg)
		}
		return nil, fmt.Errorf("commit writer failed: %w", waitErr)
	}
	if filterErr != nil {
		sylog.Debugf("tar filter reported an error after commit writer exited cleanly: %v", filterErr)
		return nil, fmt.Errorf("filtering tar stream: %w", filterErr)
	}

	return &Result{
		CommitDigest: strings.TrimSpace(stdout.String()),
		Tally:        tally,
	}, nil
}
