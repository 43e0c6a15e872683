package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// renderHeader renders the status bar: user, session and refresh health.
func (m Model) renderHeader() string {
	styles := m.theme.Styles().WithBackground(m.theme.Surface)
	bg := NewBgStyle(m.theme.Surface)
	sep := bg.Spaces(2)

	parts := []string{bg.Render("threadline", styles.Logo)}

	if m.session != nil {
		user := "@" + string(m.session.UserID())
		if m.session.Valid() {
			parts = append(parts, bg.Render(user, styles.AccentText))
		} else {
			parts = append(parts, bg.Render(user, styles.MutedText), bg.Render("SIGNED OUT", styles.DangerText))
		}
	}

	parts = append(parts,
		bg.Render("Posts:", styles.MutedText)+bg.Space()+bg.Render(formatCount(len(m.feed)), styles.Text))

	switch {
	case m.status.LastUpdated.IsZero():
		parts = append(parts, bg.Render("Connecting...", styles.WarningText.Bold(true)))
	case m.status.IsOffline():
		parts = append(parts,
			bg.Render("OFFLINE", styles.DangerText)+bg.Space()+
				bg.Render(fmt.Sprintf("(%d failed polls)", m.status.ConsecutiveFailures), styles.MutedText))
	default:
		parts = append(parts, bg.Render("Updated "+formatTime(m.status.LastUpdated, false), styles.MutedText))
	}

	if m.status.LastError != nil {
		limit := 60
		if m.width < 100 {
			limit = 30
		}
		parts = append(parts,
			bg.Render("ERROR", styles.DangerText)+bg.Space()+
				bg.Render(truncate(m.status.LastError.Error(), limit), styles.DangerText.Bold(false)))
	}

	return styles.Header.Width(m.width).Render(bg.Join(parts, sep))
}

// renderFooter shows the composer, a pending confirmation, toasts and the
// short key help.
func (m Model) renderFooter() string {
	var rows []string
	if t := m.renderToasts(); t != "" {
		rows = append(rows, t)
	}
	switch {
	case m.editor != nil:
		rows = append(rows, m.renderEditor())
	case m.confirm != nil:
		rows = append(rows, m.renderConfirm())
	default:
		rows = append(rows, m.renderShortHelp())
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderShortHelp() string {
	styles := m.theme.Styles().WithBackground(m.theme.Surface)
	bg := NewBgStyle(m.theme.Surface)

	bindings := m.keys.ShortHelp()
	if m.focus == paneDetail {
		bindings = append([]keyBinding{m.keys.CommentLike, m.keys.CommentDislike, m.keys.Edit, m.keys.Delete}, bindings...)
	} else {
		bindings = append([]keyBinding{m.keys.Open}, bindings...)
	}

	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, bg.Render(h.Key, styles.WarningText)+bg.Space()+bg.Render(h.Desc, styles.MutedText))
	}
	return lipgloss.NewStyle().
		Background(lipgloss.Color(m.theme.Surface)).
		Width(m.width).
		Render(bg.Join(parts, bg.Spaces(2)))
}
