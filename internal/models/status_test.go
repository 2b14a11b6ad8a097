package models

import "testing"

// TestNormalizeStatusCanonical verifies that canonical names pass through unchanged.
func TestNormalizeStatusCanonical(t *testing.T) {
	for _, st := range []Status{StatusInProgress, StatusPaused, StatusCompleted, StatusAbandoned, StatusCancelled} {
		got, ok := NormalizeStatus(string(st))
		if !ok {
			t.Errorf("NormalizeStatus(%q): expected known=true", st)
		}
		if got != st {
			t.Errorf("NormalizeStatus(%q) = %q", st, got)
		}
	}
}

// TestNormalizeStatusLegacy verifies that spellings written by older clients
// map onto the canonical statuses.
func TestNormalizeStatusLegacy(t *testing.T) {
	cases := []struct {
		input string
		want  Status
	}{
		{"active", StatusInProgress},
		{"In-Progress", StatusInProgress},
		{" started ", StatusInProgress},
		{"finished", StatusCompleted},
		{"canceled", StatusCancelled},
		{"ABANDONED", StatusAbandoned},
	}
	for _, tc := range cases {
		got, ok := NormalizeStatus(tc.input)
		if !ok || got != tc.want {
			t.Errorf("NormalizeStatus(%q) = %q, %v; want %q", tc.input, got, ok, tc.want)
		}
	}
}

// TestParseStatusUnknown verifies that unknown values are rejected.
func TestParseStatusUnknown(t *testing.T) {
	if _, err := ParseStatus("sleeping"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

// TestStatusTerminal verifies the terminal set is exactly completed/abandoned/cancelled.
func TestStatusTerminal(t *testing.T) {
	cases := map[Status]bool{
		StatusInProgress: false,
		StatusPaused:     false,
		StatusCompleted:  true,
		StatusAbandoned:  true,
		StatusCancelled:  true,
	}
	for st, want := range cases {
		if got := st.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", st, got, want)
		}
	}
}
