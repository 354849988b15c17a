package types

import (
	"strconv"
	"strings"
)

// LatestVersion is the keyword that selects the highest available version.
const LatestVersion = "latest"

// IsLatest reports whether v asks for the highest available version.
func IsLatest(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, LatestVersion)
}

// VersionLess orders version directory names: numeric names compare as
// numbers and sort before non-numeric ones, which compare lexically.
func VersionLess(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		return ai < bi
	case aerr == nil:
		return true
	case berr == nil:
		return false
	default:
		return a < b
	}
}

// Highest returns the greatest version in vs, or "" when vs is empty.
func Highest(vs []string) string {
	var best string
	for i, v := range vs {
		if i == 0 || VersionLess(best, v) {
			best = v
		}
	}
	return best
}
