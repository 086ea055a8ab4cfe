package logging

import (
	"regexp"
	"strings"
)

// LoggerPatternConfig sets the level of every logger whose name matches Pattern. Patterns are
// dotted logger names where a section may be `*`, e.g. "sentinel.*.events".
type LoggerPatternConfig struct {
	Pattern string `json:"pattern"`
	Level   string `json:"level"`
}

// sectionRegexp matches one section of a logger name, e.g. "monitor" or "stop-button".
var sectionRegexp = regexp.MustCompile(`^[a-zA-Z0-9]+([_-]*[a-zA-Z0-9]+)*$`)

// ValidatePattern reports whether pattern is a dotted logger name where any section may be
// the `*` wildcard.
func ValidatePattern(pattern string) bool {
	return validatePattern(pattern)
}

func validatePattern(pattern string) bool {
	for _, section := range strings.Split(pattern, ".") {
		if section != "*" && !sectionRegexp.MatchString(section) {
			return false
		}
	}
	return true
}

// buildRegexFromPattern turns a valid pattern into an anchored regexp. A `*` section matches
// any run of characters, dots included.
func buildRegexFromPattern(pattern string) string {
	sections := strings.Split(pattern, ".")
	for i, section := range sections {
		if section == "*" {
			sections[i] = ".*"
		} else {
			sections[i] = regexp.QuoteMeta(section)
		}
	}
	return "^" + strings.Join(sections, `\.`) + "$"
}
