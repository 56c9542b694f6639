// Package slug implements the Session Router's workspace-folder
// slugification rule (spec.md §4.B): lowercase, drop anything outside
// [a-z0-9 _-], turn runs of whitespace and underscores into a dash, collapse
// repeated dashes, trim, and cap at 50 characters. The result contains only
// [a-z0-9-].
package slug

import (
	"regexp"
	"strings"
)

const maxLen = 50

var (
	disallowed  = regexp.MustCompile(`[^a-z0-9 _-]`)
	whitespace  = regexp.MustCompile(`[\s_]+`)
	repeatDash  = regexp.MustCompile(`-+`)
)

// Make converts s into a slug. It is idempotent: Make(Make(x)) == Make(x).
func Make(s string) string {
	s = strings.ToLower(s)
	s = disallowed.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, "-")
	s = repeatDash.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxLen {
		s = s[:maxLen]
		s = strings.Trim(s, "-")
	}
	return s
}
