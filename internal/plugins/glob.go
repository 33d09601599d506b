package plugins

import (
	"regexp"
	"strings"
)

// compileGlobs translates route globs to anchored full-path regexps.
// "*" expands to ".*"; "?" stays literal; everything else is quoted.
func compileGlobs(globs []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(globs))
	for _, glob := range globs {
		parts := strings.Split(glob, "*")
		for i, part := range parts {
			parts[i] = regexp.QuoteMeta(part)
		}
		pattern := "^" + strings.Join(parts, ".*") + "$"
		if re, err := regexp.Compile(pattern); err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}

func matchesAny(patterns []*regexp.Regexp, path string) bool {
	for _, re := range patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
