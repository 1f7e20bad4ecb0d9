package commitprep

import "github.com/moby/sys/mountinfo"

// isMountpoint reports whether absPath is itself a mount point. Errors
// reading /proc/self/mountinfo are swallowed to false, matching the
// original's "unwrap_or_default" fallback for kernels/sandboxes without
// statx support.
func isMountpoint(absPath string) bool {
	mounted, err := mountinfo.Mounted(absPath)
	if err != nil {
		return false
	}
	return mounted
}
