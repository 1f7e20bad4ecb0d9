package imageref

import "github.com/docker/go-units"

// formatSize renders a byte count as a human readable string (e.g. "12MB"),
// using the teacher's own byte-formatting dependency.
func formatSize(n int64) string {
	return units.HumanSize(float64(n))
}
