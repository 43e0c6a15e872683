package ui

import (
	"strings"
	"testing"
	"time"
)

func TestTruncate(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"  hello  ", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"héllo wörld", 8, "héllo..."},
		{"abcd", 2, "ab"},
		{"abc", 0, "abc"},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.limit); got != tc.want {
			t.Fatalf("truncate(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
		}
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("\n first \nsecond"); got != "first" {
		t.Fatalf("firstLine = %q, want first", got)
	}
}

func TestFormatTime(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	orig := nowFunc
	nowFunc = func() time.Time { return now }
	t.Cleanup(func() { nowFunc = orig })

	if got := formatTime(time.Time{}, false); got != "" {
		t.Fatalf("formatTime(zero) = %q, want empty", got)
	}
	if got := formatTime(now.Add(-3*time.Minute), false); got != "3 minutes ago" {
		t.Fatalf("formatTime relative = %q, want %q", got, "3 minutes ago")
	}
	abs := formatTime(now, true)
	if !strings.HasPrefix(abs, "2026-03-0") {
		t.Fatalf("formatTime absolute = %q, want a 2026-03 date", abs)
	}
}

func TestFormatCount(t *testing.T) {
	if got := formatCount(1234567); got != "1,234,567" {
		t.Fatalf("formatCount = %q, want 1,234,567", got)
	}
}
