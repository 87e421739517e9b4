package filter

import (
	"regexp"
	"strings"
)

// token is one compiled include entry.
//
// A leading "/" makes the token fixed-position: it must equal the whole
// first segment of the relative path. Other tokens match anywhere in the
// relative path. "*" stands for any run of characters and "?" for exactly
// one; a backslash before either keeps it literal.
type token struct {
	raw   string
	fixed bool

	literal string
	re      *regexp.Regexp
}

func compileToken(name string) *token {
	t := &token{raw: name}
	if strings.HasPrefix(name, "/") {
		t.fixed = true
		name = name[1:]
	}

	if !strings.ContainsAny(name, "*?") {
		t.literal = name
		return t
	}

	var b strings.Builder
	if t.fixed {
		b.WriteString("^(?:")
	}
	escaped := false
	for _, r := range name {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '*':
			b.WriteString(".*")
		case r == '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	if escaped {
		b.WriteString(`\\`)
	}
	if t.fixed {
		b.WriteString(")$")
	}

	// Every rune is quoted or a known metacharacter, so this cannot fail.
	t.re = regexp.MustCompile(b.String())
	return t
}

// match reports whether the token matches the relative path segments.
// segments is never empty; the relative path of a rule's own directory is
// a single empty segment.
func (t *token) match(segments []string) bool {
	if t.fixed {
		return t.matchString(segments[0])
	}
	return t.matchString(strings.Join(segments, "/"))
}

// matchDocument tests a default document candidate, given as the relative
// path with the document name appended. Fixed tokens never match here.
func (t *token) matchDocument(candidate string) bool {
	if t.fixed {
		return false
	}
	return t.matchString(candidate)
}

func (t *token) matchString(s string) bool {
	if t.re != nil {
		return t.re.MatchString(s)
	}
	if t.fixed {
		return s == t.literal
	}
	return strings.Contains(s, t.literal)
}
