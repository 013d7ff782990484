package storage

import (
	"strings"

	"github.com/gobwas/glob"
)

// compilePattern builds a matcher for a KEYS style glob: '*', '?', character
// classes with ranges and '^' or '!' negation, and '\' escapes.
// A pattern gobwas rejects only matches itself
func compilePattern(pattern string) func(string) bool {
	if pattern == "*" {
		return func(string) bool { return true }
	}

	g, err := glob.Compile(translatePattern(pattern))
	if err != nil {
		return func(s string) bool { return s == pattern }
	}

	return g.Match
}

// translatePattern rewrites the Redis glob dialect into the one understood by gobwas/glob:
// braces are literal and a class is negated with '!'
func translatePattern(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern) + 4)

	inClass := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]

		switch {
		case c == '\\' && i+1 < len(pattern):
			b.WriteByte(c)
			b.WriteByte(pattern[i+1])
			i++
		case c == '\\':
			// a trailing backslash is literal
			b.WriteString(`\\`)
		case inClass:
			if c == ']' {
				inClass = false
			}
			b.WriteByte(c)
		case c == '[':
			inClass = true
			b.WriteByte(c)
			if i+1 < len(pattern) && pattern[i+1] == '^' {
				b.WriteByte('!')
				i++
			}
		case c == '{' || c == '}':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}
