package erp

import (
	"fmt"
	"strings"
)

// Escape sanitizes free text before it is interpolated into a filter
// expression. Single quotes are doubled, the characters the store's parser
// chokes on are stripped, and surrounding whitespace is trimmed. The trim
// runs last so whitespace uncovered by stripping a leading or trailing
// character is removed too. Every call site that puts user input into a
// filter must go through here; it is the only injection defense this
// protocol has.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '<', '>', '{', '}', '|', '\\', '^', '~', '[', ']', '`':
			// stripped
		case '\'':
			b.WriteString("''")
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Eq builds a string equality predicate with the value escaped.
func Eq(field, value string) string {
	return fmt.Sprintf("%s eq '%s'", field, Escape(value))
}

// EqInt builds an integer equality predicate.
func EqInt(field string, value int) string {
	return fmt.Sprintf("%s eq %d", field, value)
}

// Contains builds a substring predicate with the value escaped.
func Contains(field, value string) string {
	return fmt.Sprintf("contains(%s,'%s')", field, Escape(value))
}

// Between builds a closed time-window predicate using the store's local
// wall-clock literals.
func Between(field string, from, to string) string {
	return fmt.Sprintf("%s ge '%s' and %s le '%s'", field, from, field, to)
}

// And joins predicates, skipping empty ones.
func And(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " and ")
}
