package ui

import (
	"strings"
	"time"

	"github.com/five82/threadline/internal/interaction"
)

const (
	toastTTL        = 6 * time.Second
	sessionToastTTL = time.Hour
	maxToasts       = 3
)

var nowFunc = time.Now

// toast is a transient message about an interaction outcome.
type toast struct {
	text    string
	kind    interaction.EventKind
	expires time.Time
}

// addToast appends a toast, dropping the oldest beyond maxToasts. A repeat
// of the newest toast only extends it.
func (m *Model) addToast(text string, kind interaction.EventKind, now time.Time) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	ttl := toastTTL
	if kind == interaction.EventSessionInvalid {
		ttl = sessionToastTTL
	}
	if n := len(m.toasts); n > 0 && m.toasts[n-1].text == text {
		m.toasts[n-1].expires = now.Add(ttl)
		return
	}
	m.toasts = append(m.toasts, toast{text: text, kind: kind, expires: now.Add(ttl)})
	if len(m.toasts) > maxToasts {
		m.toasts = m.toasts[len(m.toasts)-maxToasts:]
	}
}

func (m *Model) expireToasts(now time.Time) {
	kept := m.toasts[:0]
	for _, t := range m.toasts {
		if now.Before(t.expires) {
			kept = append(kept, t)
		}
	}
	m.toasts = kept
}

func (m Model) renderToasts() string {
	if len(m.toasts) == 0 {
		return ""
	}
	styles := m.theme.Styles()
	lines := make([]string, 0, len(m.toasts))
	for _, t := range m.toasts {
		style := styles.DangerText
		switch t.kind {
		case interaction.EventUnconfirmed, interaction.EventNotPersisted:
			style = styles.WarningText
		}
		lines = append(lines, style.Render("! ")+styles.Text.Render(truncate(t.text, m.width-4)))
	}
	return strings.Join(lines, "\n")
}
