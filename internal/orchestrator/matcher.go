// Package orchestrator composes the key resolver, rule cache, and rate
// limiter into a single per-request decision at the HTTP boundary.
package orchestrator

import "strings"

// matchesAny reports whether path matches at least one Ant-style pattern.
//
// Patterns support "*" (matches exactly one path segment) and "**"
// (matches any number of remaining segments), mirroring the include/exclude
// pattern language used by servlet-filter style path matching.
func matchesAny(path string, patterns []string) bool {
	for _, p := range patterns {
		if matchPattern(path, p) {
			return true
		}
	}
	return false
}

func matchPattern(path, pattern string) bool {
	pathSegs := splitPath(path)
	patternSegs := splitPath(pattern)
	return matchSegments(pathSegs, patternSegs)
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(path, pattern []string) bool {
	for len(pattern) > 0 {
		seg := pattern[0]

		if seg == "**" {
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(path); i++ {
				if matchSegments(path[i:], pattern[1:]) {
					return true
				}
			}
			return false
		}

		if len(path) == 0 {
			return false
		}

		if seg != "*" && seg != path[0] {
			return false
		}

		path = path[1:]
		pattern = pattern[1:]
	}

	return len(path) == 0
}
