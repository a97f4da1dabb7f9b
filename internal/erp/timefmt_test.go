package erp

import (
	"strings"
	"testing"
	"time"
)

func TestFormatTimeUsesLocalWallClock(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	in := time.Date(2026, 3, 14, 9, 30, 0, 0, loc)

	got := FormatTime(in)
	want := in.Local().Format("2006-01-02T15:04:05") + "Z"
	if got != want {
		t.Errorf("FormatTime = %q, want %q", got, want)
	}
	if !strings.HasSuffix(got, "Z") {
		t.Errorf("FormatTime must end with the literal Z, got %q", got)
	}
}

func TestParseTimeRoundTrip(t *testing.T) {
	in := time.Date(2026, 3, 14, 9, 30, 15, 0, time.Local)

	parsed, err := ParseTime(FormatTime(in))
	if err != nil {
		t.Fatalf("ParseTime: %v", err)
	}
	if !parsed.Equal(in) {
		t.Errorf("round trip changed the instant: got %v, want %v", parsed, in)
	}
	if parsed.Location() != time.Local {
		t.Errorf("parsed location = %v, want local", parsed.Location())
	}
}

func TestParseTimeRejectsGarbage(t *testing.T) {
	if _, err := ParseTime("14/03/2026"); err == nil {
		t.Error("expected error for non-wire format")
	}
	if _, err := ParseTime(""); err == nil {
		t.Error("expected error for empty string")
	}
}
