package channel

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Channel names are dot-separated. Glob patterns are evaluated with the dot
// as the segment separator, so "user.*" matches "user.7" but not "user.7.x",
// and "user.**" matches both.
func matchPattern(pattern, name string) bool {
	ok, err := doublestar.Match(toPath(pattern), toPath(name))
	return err == nil && ok
}

func validPattern(pattern string) bool {
	return pattern != "" && doublestar.ValidatePattern(toPath(pattern))
}

func toPath(s string) string {
	return strings.ReplaceAll(s, ".", "/")
}

// specificity ranks a pattern by its literal (non-wildcard) rune count.
// A higher value means a more specific pattern.
func specificity(pattern string) int {
	n := 0
	for _, r := range pattern {
		switch r {
		case '*', '?', '[', ']', '{', '}':
		default:
			n++
		}
	}
	return n
}
