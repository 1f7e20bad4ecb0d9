package commitproc

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/opencontainers/selinux/go-selinux"
)

// DirCheckouter implements PolicyCheckouter over a filesystem tree of
// checked-out commits keyed by commit id, copying the policy subtree
// (usr/etc/selinux) out to a private scratch directory so the commit-writer
// child can reference it even after the checkout itself is torn down.
type DirCheckouter struct {
	// CheckoutsRoot holds one subdirectory per commit id.
	CheckoutsRoot string
}

const selinuxPolicySubdir = "usr/etc/selinux"

// CheckoutSELinuxPolicy copies baseCommit's policy tree into a fresh
// temporary directory. If SELinux support isn't compiled/enabled on this
// host, or the base commit carries no policy tree, it returns ("", no-op, nil).
func (d DirCheckouter) CheckoutSELinuxPolicy(ctx context.Context, baseCommit string) (string, func(), error) {
	if !selinux.GetEnabled() {
		return "", func() {}, nil
	}

	src, err := securejoin.SecureJoin(d.CheckoutsRoot, filepath.Join(baseCommit, selinuxPolicySubdir))
	if err != nil {
		return "", nil, fmt.Errorf("resolving policy path for %s: %w", baseCommit, err)
	}
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return "", func() {}, nil
	} else if err != nil {
		return "", nil, fmt.Errorf("statting %s: %w", src, err)
	}

	dst, err := os.MkdirTemp("", "ostree-ext-selinux-policy-")
	if err != nil {
		return "", nil, fmt.Errorf("creating policy scratch dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dst) }

	if err := copyTree(src, dst); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("copying policy tree from %s: %w", src, err)
	}
	return dst, cleanup, nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
