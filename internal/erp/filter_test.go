package erp

import "testing"

func TestEscape(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Jane Doe", "Jane Doe"},
		{"trims whitespace", "  Jane \n", "Jane"},
		{"doubles single quotes", "O'Brien", "O''Brien"},
		{"doubles every quote", "a'b'c", "a''b''c"},
		{"strips parser-breaking chars", "a<b>c{d}e|f\\g^h~i[j]k`l", "abcdefghijkl"},
		{"trims whitespace uncovered by stripping", "< O'Brien", "O''Brien"},
		{"trims trailing uncovered whitespace", "O'Brien >", "O''Brien"},
		{"keeps safe punctuation", "12-34.56/78", "12-34.56/78"},
		{"empty", "", ""},
		{"only stripped chars", "<>{}", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Escape(tt.in); got != tt.want {
				t.Errorf("Escape(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPredicates(t *testing.T) {
	if got := Eq("Name", "O'Brien"); got != "Name eq 'O''Brien'" {
		t.Errorf("Eq = %q", got)
	}
	if got := EqInt("S_Resource_ID", 42); got != "S_Resource_ID eq 42" {
		t.Errorf("EqInt = %q", got)
	}
	if got := Contains("Name", "QUEUE_"); got != "contains(Name,'QUEUE_')" {
		t.Errorf("Contains = %q", got)
	}
	want := "AssignDateFrom ge '2026-03-01T00:00:00Z' and AssignDateFrom le '2026-03-02T00:00:00Z'"
	if got := Between("AssignDateFrom", "2026-03-01T00:00:00Z", "2026-03-02T00:00:00Z"); got != want {
		t.Errorf("Between = %q, want %q", got, want)
	}
}

func TestAnd(t *testing.T) {
	if got := And("a eq 1", "", "b eq 2"); got != "a eq 1 and b eq 2" {
		t.Errorf("And skipped empties wrong: %q", got)
	}
	if got := And("", ""); got != "" {
		t.Errorf("And of empties = %q, want empty", got)
	}
	if got := And("a eq 1"); got != "a eq 1" {
		t.Errorf("And single = %q", got)
	}
}
