// Package commitprep walks a prospective ostree commit root before it is
// committed: it force-cleans known scratch directories and validates that
// /var holds no content that isn't itself an empty directory tree.
package commitprep

import (
	"fmt"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"golang.org/x/sys/unix"

	"github.com/lukewarmtemp/ostree-ext-go/pkg/sylog"
)

// ForceCleanPaths are directories for which all content is always removed.
var ForceCleanPaths = []string{"run", "tmp", "var/tmp", "var/cache"}

// Prepare cleans out empty directories and fails if /var holds any content
// that is neither an empty directory nor under one of ForceCleanPaths.
func Prepare(root string) error {
	return prepare(root, true)
}

// PrepareNonStrict behaves like Prepare but only warns about unsupported
// content under /var instead of failing.
func PrepareNonStrict(root string) error {
	return prepare(root, false)
}

func prepare(root string, strict bool) error {
	rootdev, err := devOf(root)
	if err != nil {
		return fmt.Errorf("statting %s: %w", root, err)
	}
	if err := cleanPathsIn(root, rootdev); err != nil {
		return err
	}
	return processVar(root, rootdev, strict)
}

func devOf(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Dev), nil
}

func cleanPathsIn(root string, rootdev uint64) error {
	for _, rel := range ForceCleanPaths {
		subdir, err := securejoin.SecureJoin(root, rel)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", rel, err)
		}
		if _, err := os.Lstat(subdir); os.IsNotExist(err) {
			continue
		} else if err != nil {
			return fmt.Errorf("statting %s: %w", subdir, err)
		}
		if err := cleanSubdir(subdir, rootdev); err != nil {
			return fmt.Errorf("cleaning %s: %w", rel, err)
		}
	}
	return nil
}

// cleanSubdir removes every entry directly inside dir that lives on rootdev
// and isn't itself a mount point, recursing into directories.
func cleanSubdir(dir string, rootdev uint64) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		info, err := os.Lstat(path)
		if err != nil {
			return fmt.Errorf("statting %s: %w", path, err)
		}
		st, ok := info.Sys().(*unix.Stat_t)
		if !ok {
			return fmt.Errorf("unsupported platform stat for %s", path)
		}
		if uint64(st.Dev) != rootdev {
			sylog.Debugf("skipping entry in foreign dev %s", path)
			continue
		}
		if isMountpoint(path) {
			sylog.Debugf("skipping mount point %s", path)
			continue
		}
		if info.IsDir() {
			if _, err := removeAllOnMountRecurse(path, rootdev); err != nil {
				return err
			}
		} else if err := os.Remove(path); err != nil {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return nil
}

// removeAllOnMountRecurse recursively removes path but never descends across
// a device boundary; it reports whether any such boundary was skipped, in
// which case the directory itself (now possibly non-empty) is left behind.
func removeAllOnMountRecurse(path string, rootdev uint64) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	skipped := false
	for _, entry := range entries {
		child := filepath.Join(path, entry.Name())
		info, err := os.Lstat(child)
		if err != nil {
			return false, fmt.Errorf("statting %s: %w", child, err)
		}
		st, ok := info.Sys().(*unix.Stat_t)
		if !ok {
			return false, fmt.Errorf("unsupported platform stat for %s", child)
		}
		if uint64(st.Dev) != rootdev {
			skipped = true
			continue
		}
		if info.IsDir() {
			childSkipped, err := removeAllOnMountRecurse(child, rootdev)
			if err != nil {
				return false, err
			}
			skipped = skipped || childSkipped
		} else if err := os.Remove(child); err != nil {
			return false, fmt.Errorf("removing %s: %w", child, err)
		}
	}
	if !skipped {
		if err := os.Remove(path); err != nil {
			return false, fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return skipped, nil
}

// processVar recurses through root/var, removing empty directories (except
// var/tmp itself) and counting non-directory entries it finds, which are
// not allowed in a prepared commit root. If strict, any such entry is a
// hard error; otherwise it is only logged.
func processVar(root string, rootdev uint64, strict bool) error {
	varPath, err := securejoin.SecureJoin(root, "var")
	if err != nil {
		return fmt.Errorf("resolving var: %w", err)
	}
	if _, err := os.Lstat(varPath); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("statting %s: %w", varPath, err)
	}

	errorCount := 0
	validated, err := processVardirRecurse(varPath, rootdev, "", &errorCount)
	if err != nil {
		return err
	}
	if !validated && strict {
		return fmt.Errorf("found content in var")
	}
	return nil
}

func processVardirRecurse(varRoot string, rootdev uint64, relPath string, errorCount *int) (bool, error) {
	emptyPath := relPath == ""
	dirPath := varRoot
	if !emptyPath {
		var err error
		dirPath, err = securejoin.SecureJoin(varRoot, relPath)
		if err != nil {
			return false, fmt.Errorf("resolving var/%s: %w", relPath, err)
		}
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return false, fmt.Errorf("validating: var/%s: %w", relPath, err)
	}

	validated := true
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return false, err
		}
		st, ok := info.Sys().(*unix.Stat_t)
		if !ok {
			return false, fmt.Errorf("unsupported platform stat for %s", entry.Name())
		}
		if uint64(st.Dev) != rootdev {
			continue
		}

		var entryPath string
		if emptyPath {
			entryPath = entry.Name()
		} else {
			entryPath = relPath + "/" + entry.Name()
		}

		if info.IsDir() {
			ok, err := processVardirRecurse(varRoot, rootdev, entryPath, errorCount)
			if err != nil {
				return false, err
			}
			if !ok {
				validated = false
			}
		} else {
			validated = false
			*errorCount++
			if *errorCount < 20 {
				sylog.Warningf("found file: var/%s", entryPath)
			}
		}
	}

	if validated && !emptyPath && relPath != "tmp" {
		if err := os.Remove(dirPath); err != nil {
			return false, fmt.Errorf("validating: var/%s: %w", relPath, err)
		}
	}
	return validated, nil
}
