package ui

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// truncate shortens a string to the given limit, adding ellipsis if needed.
func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

// firstLine returns the first line of s.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// formatTime renders t relative to now ("3 minutes ago") or as a local date.
func formatTime(t time.Time, absolute bool) string {
	if t.IsZero() {
		return ""
	}
	if absolute {
		return t.Local().Format("2006-01-02 15:04")
	}
	return humanize.RelTime(t, nowFunc(), "ago", "from now")
}

// formatCount renders a like or comment count with thousands separators.
func formatCount(n int) string {
	return humanize.Comma(int64(n))
}

// wrap soft-wraps s to width columns.
func wrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}
