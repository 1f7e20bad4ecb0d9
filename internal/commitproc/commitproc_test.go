package commitproc

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeCommitWriter writes an executable shell script standing in for
// the real commit-writer binary: it drains stdin, writes stderrMsg (if any)
// to stderr, echoes a fixed digest to stdout only when exitCode is 0, and
// exits with exitCode — enough to exercise Commit's process wiring without
// a real ostree repo.
func writeFakeCommitWriter(t *testing.T, exitCode int, stderrMsg string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-commit-writer")
	script := "#!/bin/sh\ncat >/dev/null\n"
	if stderrMsg != "" {
		script += "echo '" + stderrMsg + "' 1>&2\n"
	}
	if exitCode == 0 {
		script += "echo deadbeefcafef00d\n"
	}
	script += "exit " + itoa(exitCode) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func makeTar(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{Name: "usr/bin/blah", Typeflag: tar.TypeReg, Size: 4}
	require.NoError(t, tw.WriteHeader(hdr))
	_, err := tw.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	return &buf
}

func TestCommitSuccess(t *testing.T) {
	binary := writeFakeCommitWriter(t, 0, "")
	storeFD, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer storeFD.Close()

	result, err := Commit(context.Background(), Config{BinaryPath: binary}, storeFD, "myref", Options{}, nil, makeTar(t))
	require.NoError(t, err)
	assert.Equal(t, "deadbeefcafef00d", result.CommitDigest)
}

func TestCommitFailurePropagatesStderr(t *testing.T) {
	binary := writeFakeCommitWriter(t, 1, "corrupt object")
	storeFD, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer storeFD.Close()

	_, err = Commit(context.Background(), Config{BinaryPath: binary}, storeFD, "myref", Options{}, nil, makeTar(t))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt object")
}

func TestCommitRequiresCheckouterForSELinux(t *testing.T) {
	binary := writeFakeCommitWriter(t, 0, "")
	storeFD, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer storeFD.Close()

	_, err = Commit(context.Background(), Config{BinaryPath: binary}, storeFD, "myref", Options{Base: "parentcommit", SELinux: true}, nil, makeTar(t))
	assert.Error(t, err)
}
