// Package jsonpath evaluates JSONPath expressions against decoded JSON values.
//
// Expressions are compiled once and evaluated many times. Evaluation never
// fails: a path that selects nothing yields an empty result.
package jsonpath

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"
	"github.com/pkg/errors"
)

// ErrInvalidPath is returned when an expression cannot be parsed
var ErrInvalidPath = errors.New("invalid path expression")

var language = gval.Full(jsonpath.PlaceholderExtension())

// Path is a compiled JSONPath expression
type Path struct {
	expr     string
	definite bool
	eval     gval.Evaluable
}

// Compile parses expr. Expressions without a leading "$" are rooted at the
// document, so "id" is the same as "$.id". Keys may be written as .name,
// ["name"] or ['name'].
func Compile(expr string) (*Path, error) {
	normalized := normalize(expr)
	if normalized == "" {
		return nil, errors.Wrap(ErrInvalidPath, "empty expression")
	}

	definite := isDefinite(normalized)
	source := normalized
	if !definite {
		// every match keyed by its location, e.g. $["parties"]["0"]
		source = "{#: " + normalized + "}"
	}

	eval, err := language.NewEvaluable(source)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPath, "%q: %v", expr, err)
	}

	return &Path{
		expr:     expr,
		definite: definite,
		eval:     eval,
	}, nil
}

// MustCompile is like Compile but panics on a bad expression
func MustCompile(expr string) *Path {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the expression as given to Compile
func (p *Path) String() string {
	return p.expr
}

// Definite reports whether the path can select at most one value
func (p *Path) Definite() bool {
	return p.definite
}

// Extract returns every value selected by the path in document order:
// arrays by index, objects by key, a node before its descendants. Object
// keys that are integers sort numerically ahead of the others.
func (p *Path) Extract(value interface{}) []interface{} {
	result, err := p.eval(context.Background(), value)
	if err != nil {
		// unknown key, index out of bounds, non-container value
		return []interface{}{}
	}

	if p.definite {
		return []interface{}{result}
	}

	byLocation, ok := result.(map[string]interface{})
	if !ok || len(byLocation) == 0 {
		return []interface{}{}
	}

	type match struct {
		location []string
		value    interface{}
	}
	matches := make([]match, 0, len(byLocation))
	for key, v := range byLocation {
		matches = append(matches, match{location: splitLocation(key), value: v})
	}
	sort.Slice(matches, func(i, j int) bool {
		return lessLocation(matches[i].location, matches[j].location)
	})

	out := make([]interface{}, len(matches))
	for i, m := range matches {
		out[i] = m.value
	}
	return out
}

// splitLocation turns $["a"]["0"] into [a 0]. A key it cannot split is kept
// whole so ordering stays total.
func splitLocation(key string) []string {
	rest := strings.TrimPrefix(key, "$")
	var segments []string
	for rest != "" {
		if rest[0] != '[' {
			return []string{key}
		}
		quoted, err := strconv.QuotedPrefix(rest[1:])
		if err != nil {
			return []string{key}
		}
		segment, err := strconv.Unquote(quoted)
		if err != nil {
			return []string{key}
		}
		rest = rest[1+len(quoted):]
		if !strings.HasPrefix(rest, "]") {
			return []string{key}
		}
		rest = rest[1:]
		segments = append(segments, segment)
	}
	return segments
}

func lessLocation(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return lessSegment(a[i], b[i])
		}
	}
	return len(a) < len(b)
}

// lessSegment orders integers numerically before any other key, then the
// rest lexically. Siblings are either all array indexes or all object keys.
func lessSegment(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		if ai != bi {
			return ai < bi
		}
		return a < b
	case aErr == nil:
		return true
	case bErr == nil:
		return false
	}
	return a < b
}

func normalize(expr string) string {
	expr = strings.TrimSpace(expr)
	switch {
	case expr == "":
		return ""
	case strings.HasPrefix(expr, "$"):
	case strings.HasPrefix(expr, "@"):
		expr = "$" + expr[1:]
	case strings.HasPrefix(expr, "["), strings.HasPrefix(expr, "."):
		expr = "$" + expr
	default:
		expr = "$." + expr
	}
	return canonical(expr)
}

// canonical rewrites 'key' as "key", ..name as ..["name"], and .name as
// ["name"] when name is not an identifier (tax-id, 2nd). Text inside
// brackets other than quotes is left alone.
func canonical(expr string) string {
	var b strings.Builder
	depth := 0
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == '"' || c == '\'':
			end := closingQuote(expr, i)
			if end > len(expr) {
				// unterminated, let the parser report it
				b.WriteString(expr[i:])
				return b.String()
			}
			if c == '"' {
				b.WriteString(expr[i:end])
			} else {
				b.WriteString(strconv.Quote(unescapeSingle(expr[i+1 : end-1])))
			}
			i = end
		case c == '[':
			depth++
			b.WriteByte(c)
			i++
		case c == ']':
			depth--
			b.WriteByte(c)
			i++
		case c == '.' && depth == 0:
			dots := "."
			i++
			if i < len(expr) && expr[i] == '.' {
				dots = ".."
				i++
			}
			j := i
			for j < len(expr) && !strings.ContainsRune(".[]()'\" \t", rune(expr[j])) {
				j++
			}
			name := expr[i:j]
			switch {
			case name == "" || name == "*":
				b.WriteString(dots + name)
			case dots == "..":
				// matches are then located at the key, as with ..[*]
				b.WriteString(`..[` + strconv.Quote(name) + `]`)
			case isIdent(name):
				b.WriteString(dots + name)
			default:
				b.WriteString(`[` + strconv.Quote(name) + `]`)
			}
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// closingQuote returns the index just past the quote closing the one at
// start, or len(expr)+1 when there is none.
func closingQuote(expr string, start int) int {
	quote := expr[start]
	for i := start + 1; i < len(expr); i++ {
		switch expr[i] {
		case '\\':
			i++
		case quote:
			return i + 1
		}
	}
	return len(expr) + 1
}

func unescapeSingle(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isIdent(name string) bool {
	for i, r := range name {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return name != ""
}

// isDefinite scans the expression outside of quoted keys for selectors that
// can produce more than one match: wildcards, recursive descent, filters,
// placeholders, and unions or slices inside brackets.
func isDefinite(expr string) bool {
	depth := 0
	var quote byte
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}

		switch c {
		case '\'', '"':
			quote = c
		case '[':
			depth++
		case ']':
			depth--
		case '*', '?', '#':
			return false
		case '.':
			if i+1 < len(expr) && expr[i+1] == '.' {
				return false
			}
		case ',', ':':
			if depth > 0 {
				return false
			}
		}
	}
	return true
}
