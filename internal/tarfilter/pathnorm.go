package tarfilter

import (
	"fmt"
	"strings"
)

// NormalizedKind tags the outcome of normalizing a tar entry path.
type NormalizedKind int

const (
	// Normal means the path was rewritten and should be kept.
	Normal NormalizedKind = iota
	// Filtered means the path's first component is outside /usr and the
	// entry should be dropped, tallied under the returned prefix.
	Filtered
)

// NormalizedPath is the result of running a path through Normalize.
type NormalizedPath struct {
	Kind   NormalizedKind
	Path   string // valid when Kind == Normal: "./usr/..."
	Prefix string // valid when Kind == Filtered: the first path component
}

// Normalize folds redundant separators and "." components, rejects "..",
// rewrites a leading "etc" to "usr/etc", and reports anything outside "usr"
// as Filtered. ".." is the only component rejected; any other name,
// including Windows-style drive or UNC prefixes, is treated as an ordinary
// component.
//
// normalize("/etc/foo") == Normal("./usr/etc/foo")
// normalize("etc/foo") == Normal("./usr/etc/foo")
func Normalize(p string) (NormalizedPath, error) {
	// Walk raw components (not path.Clean, which would silently cancel
	// ".." against a preceding component); every "/", repeated separators,
	// and "." component is dropped, but ".." is a hard error, matching the
	// original's component-by-component classification.
	var parts []string
	for _, part := range strings.Split(p, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			return NormalizedPath{}, fmt.Errorf("invalid path: %s", p)
		default:
			parts = append(parts, part)
		}
	}

	if len(parts) == 0 {
		// Root, or an all "." / "/" path, folds to the current-dir component.
		return NormalizedPath{Kind: Normal, Path: "."}, nil
	}

	first := parts[0]
	switch first {
	case "usr":
		// kept verbatim
	case "etc":
		parts = append([]string{"usr", "etc"}, parts[1:]...)
	default:
		return NormalizedPath{Kind: Filtered, Prefix: first}, nil
	}

	return NormalizedPath{Kind: Normal, Path: "./" + strings.Join(parts, "/")}, nil
}
