// Package changes decides whether a stack's latest files differ from what
// was last deployed.
package changes

import "github.com/bcnelson/stack-executor/internal/domain"

// Changed reports whether latest differs from deployed.
//
// A nil deployed set means the stack was never deployed and always counts as
// changed. A path present in latest but not in deployed, or present in both
// with different contents, is a change. Paths only present in deployed are
// ignored.
func Changed(deployed, latest []domain.FileContents) bool {
	if deployed == nil {
		return true
	}

	prev := make(map[string]string, len(deployed))
	for _, f := range deployed {
		prev[f.Path] = f.Contents
	}
	for _, f := range latest {
		contents, ok := prev[f.Path]
		if !ok || contents != f.Contents {
			return true
		}
	}
	return false
}
