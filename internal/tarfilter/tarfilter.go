// Package tarfilter implements the streaming tar transformer described in
// spec.md §4.1: it normalizes paths into /usr, rewrites hardlinks that cross
// the internal sysroot object-store prefix, and tallies what it drops.
//
// This is deliberately a single forward pass over the archive, matching the
// teacher's own "dumb tar extraction" style (see e.g. ociimage.extractArchive)
// but adapted to rewrite rather than just extract.
package tarfilter

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/lukewarmtemp/ostree-ext-go/pkg/sylog"
)

// SysrootPrefix is the path prefix under which the commit store's object
// files live when materialized inside an imported tar stream. Entries under
// it are never user-visible files and must not be re-emitted verbatim.
const SysrootPrefix = "sysroot/ostree/repo"

// FilterTally maps a top-level filtered path prefix (e.g. "var", "boot") to
// the count of entries discarded under it.
type FilterTally map[string]uint32

func (t FilterTally) add(prefix string) {
	t[prefix]++
}

// pendingObject is a modified regular file found under SysrootPrefix, spilled
// to a scratch file while we wait to see whether a hardlink claims it.
type pendingObject struct {
	header *tar.Header
	spill  *os.File
}

// scratchDir lazily creates a temporary directory to spill sysroot object
// bodies into, mirroring the original's OnceCell-initialized tmpdir.
type scratchDir struct {
	path string
}

func (s *scratchDir) get() (string, error) {
	if s.path != "" {
		return s.path, nil
	}
	dir, err := os.MkdirTemp("", "tarfilter-sysroot-")
	if err != nil {
		return "", err
	}
	s.path = dir
	return dir, nil
}

func (s *scratchDir) cleanup() {
	if s.path != "" {
		os.RemoveAll(s.path)
	}
}

// newAnonymousSpill creates a file in dir, unlinking it immediately so it
// holds no directory entry once it is created — the portable equivalent of
// an O_TMPFILE anonymous file. The caller keeps the open *os.File handle.
func newAnonymousSpill(dir string) (*os.File, error) {
	f, err := os.CreateTemp(dir, "obj-")
	if err != nil {
		return nil, err
	}
	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func isUnderPrefix(p, prefix string) bool {
	p = filepath.ToSlash(p)
	return p == prefix || (len(p) > len(prefix) && p[:len(prefix)+1] == prefix+"/")
}

// Filter performs a single sequential pass over src, writing a normalized,
// sysroot-hardlink-rewritten tar archive to dst, and returns a tally of
// top-level path prefixes that were discarded. The output is flushed before
// returning.
func Filter(src io.Reader, dst io.Writer) (FilterTally, error) {
	tr := tar.NewReader(src)
	tw := tar.NewWriter(dst)

	tally := FilterTally{}
	pending := map[string]pendingObject{}   // sysroot path -> spilled content
	relocated := map[string]string{}        // original sysroot path -> carrier path
	scratch := &scratchDir{}
	defer scratch.cleanup()
	defer func() {
		for _, p := range pending {
			p.spill.Close()
		}
	}()

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return tally, fmt.Errorf("reading tar header: %w", err)
		}

		path := hdr.Name
		isModified := hdr.ModTime.Unix() > 0
		isRegular := hdr.Typeflag == tar.TypeReg

		if isUnderPrefix(path, SysrootPrefix) {
			if isModified && isRegular {
				if err := spillSysrootObject(scratch, pending, tr, hdr, path); err != nil {
					return tally, err
				}
			}
			// Anything else under the sysroot prefix is dropped outright.
			continue
		}

		if hdr.Typeflag == tar.TypeLink && isModified {
			// link_name, not Header.Linkname truncated by short-name
			// extensions — archive/tar's Linkname is already the
			// long-form value once GNU/PAX extensions are parsed, so
			// we use it directly (the stdlib reader has already done
			// the work the original needed link_name() for).
			target := hdr.Linkname
			if target == "" {
				return tally, fmt.Errorf("invalid empty hardlink at %s", path)
			}
			if isUnderPrefix(target, SysrootPrefix) {
				handled, err := handleSysrootHardlink(tw, pending, relocated, hdr, path, target)
				if err != nil {
					return tally, err
				}
				if handled {
					continue
				}
				sylog.Debugf("found unhandled modified link from %s to %s", path, target)
				continue
			}
		}

		normalized, err := Normalize(path)
		if err != nil {
			return tally, fmt.Errorf("invalid path %s: %w", path, err)
		}
		if normalized.Kind == Filtered {
			tally.add(normalized.Prefix)
			continue
		}

		if err := copyEntry(tw, tr, hdr, normalized.Path); err != nil {
			return tally, err
		}
	}

	if err := tw.Flush(); err != nil {
		return tally, fmt.Errorf("flushing output tar: %w", err)
	}
	return tally, nil
}

func spillSysrootObject(scratch *scratchDir, pending map[string]pendingObject, tr *tar.Reader, hdr *tar.Header, path string) error {
	sylog.Debugf("processing modified sysroot file %s", path)
	dir, err := scratch.get()
	if err != nil {
		return fmt.Errorf("creating sysroot spill dir: %w", err)
	}
	f, err := newAnonymousSpill(dir)
	if err != nil {
		return fmt.Errorf("creating spill file for %s: %w", path, err)
	}
	if _, err := io.Copy(f, tr); err != nil {
		f.Close()
		return fmt.Errorf("spilling %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return fmt.Errorf("rewinding spill for %s: %w", path, err)
	}
	clone := *hdr
	pending[path] = pendingObject{header: &clone, spill: f}
	return nil
}

// handleSysrootHardlink resolves a hardlink whose target lies under the
// sysroot prefix. It returns handled=true if the link was rewritten (either
// by becoming the carrier, or by relinking to a prior carrier).
func handleSysrootHardlink(tw *tar.Writer, pending map[string]pendingObject, relocated map[string]string, hdr *tar.Header, path, target string) (bool, error) {
	if obj, ok := pending[target]; ok {
		sylog.Debugf("making %s canonical for sysroot link %s", path, target)
		delete(pending, target)
		defer obj.spill.Close()
		header := *obj.header
		header.Name = path
		header.Typeflag = tar.TypeReg
		header.Linkname = ""
		size, err := obj.spill.Seek(0, io.SeekEnd)
		if err != nil {
			return false, fmt.Errorf("measuring spill for %s: %w", target, err)
		}
		header.Size = size
		if _, err := obj.spill.Seek(0, io.SeekStart); err != nil {
			return false, fmt.Errorf("rewinding spill for %s: %w", target, err)
		}
		if err := tw.WriteHeader(&header); err != nil {
			return false, fmt.Errorf("writing carrier header for %s: %w", path, err)
		}
		if _, err := io.Copy(tw, obj.spill); err != nil {
			return false, fmt.Errorf("writing carrier body for %s: %w", path, err)
		}
		relocated[target] = path
		return true, nil
	}

	if realTarget, ok := relocated[target]; ok {
		sylog.Debugf("relinking %s to %s", path, realTarget)
		header := *hdr
		header.Name = path
		header.Linkname = realTarget
		if err := tw.WriteHeader(&header); err != nil {
			return false, fmt.Errorf("writing relinked header for %s: %w", path, err)
		}
		return true, nil
	}

	return false, nil
}

// copyEntry copies a tar entry to tw, optionally under a different path,
// using the reader's long-form link-name (already resolved by archive/tar)
// rather than a possibly-truncated header field.
func copyEntry(tw *tar.Writer, entry *tar.Reader, hdr *tar.Header, newPath string) error {
	header := *hdr
	if newPath != "" {
		header.Name = newPath
	}
	if err := tw.WriteHeader(&header); err != nil {
		return fmt.Errorf("writing header for %s: %w", header.Name, err)
	}
	if header.Typeflag == tar.TypeReg {
		if _, err := io.Copy(tw, entry); err != nil {
			return fmt.Errorf("copying body for %s: %w", header.Name, err)
		}
	}
	return nil
}
