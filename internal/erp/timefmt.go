package erp

import "time"

// The store exchanges timestamps as fixed literals with a trailing "Z" that,
// by backend convention, carry local wall-clock time rather than UTC. The
// codec below therefore formats and parses with local components and treats
// the "Z" as punctuation, not as an offset.
const wireTimeLayout = "2006-01-02T15:04:05Z"

// FormatTime renders t's local wall-clock components as a store literal.
func FormatTime(t time.Time) string {
	return t.Local().Format(wireTimeLayout)
}

// ParseTime reads a store literal back into a local time.
func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(wireTimeLayout, s, time.Local)
}
