package transform

import (
	"regexp"
	"strings"
)

// at least four commas on a single line
var razonSocialPattern = regexp.MustCompile(`.*,.*,.*,.*,.*`)

// ParseRazonSocial turns a registry name of the form
// "surname1,surname2,surname3,given1,given2" into "given1 given2 surname1
// surname2 surname3", skipping empty optional parts. Only the first five
// segments are used. It reports false when the name has fewer than five
// segments.
func ParseRazonSocial(name string) (string, bool) {
	if !razonSocialPattern.MatchString(name) {
		return "", false
	}
	parts := strings.Split(name, ",")
	surname1, surname2, surname3, given1, given2 := parts[0], parts[1], parts[2], parts[3], parts[4]

	var b strings.Builder
	b.WriteString(given1)
	if given2 != "" {
		b.WriteString(" " + given2)
	}
	b.WriteString(" " + surname1)
	if surname2 != "" {
		b.WriteString(" " + surname2)
	}
	if surname3 != "" {
		b.WriteString(" " + surname3)
	}
	return b.String(), true
}
