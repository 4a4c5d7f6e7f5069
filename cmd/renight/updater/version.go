package updater

import (
	"strconv"
	"strings"
)

// parseVersionTuple reads digits and '.' from the start of a version string
// and stops at the first other character, so "0.3-beta" parses as (0, 3).
// A string with no leading digit parses as (0).
func parseVersionTuple(version string) []int {
	s := strings.TrimSpace(version)

	end := 0
	for end < len(s) && (s[end] == '.' || (s[end] >= '0' && s[end] <= '9')) {
		end++
	}
	s = s[:end]

	if s == "" {
		return []int{0}
	}

	parts := strings.Split(s, ".")
	tuple := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			n = 0
		}
		tuple = append(tuple, n)
	}
	return tuple
}

// isBetaVersion reports whether a version string denotes a beta build.
func isBetaVersion(version string) bool {
	s := strings.ToLower(strings.TrimSpace(version))
	return strings.Contains(s, "beta") || strings.HasSuffix(s, "b")
}

// CompareVersions compares two release version strings.
//
// Returns -1 if a < b, 0 if a == b, 1 if a > b. Numeric tuples compare
// lexicographically with missing components treated as 0, so "0.3" equals
// "0.3.0". A beta build is lower than a stable of the same numeric version:
// "0.03-beta" < "0.03".
func CompareVersions(a, b string) int {
	ta := parseVersionTuple(a)
	tb := parseVersionTuple(b)

	for len(ta) < len(tb) {
		ta = append(ta, 0)
	}
	for len(tb) < len(ta) {
		tb = append(tb, 0)
	}

	for i := range ta {
		if ta[i] < tb[i] {
			return -1
		}
		if ta[i] > tb[i] {
			return 1
		}
	}

	aBeta := isBetaVersion(a)
	bBeta := isBetaVersion(b)
	if aBeta && !bBeta {
		return -1
	}
	if bBeta && !aBeta {
		return 1
	}
	return 0
}
