package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/five82/threadline/internal/state"
)

// feedItemHeight is the number of lines one post takes in the feed list.
const feedItemHeight = 3

// paneWidths splits the screen between feed and detail. Extra wide
// terminals give the detail pane 70%.
func (m Model) paneWidths() (feed, detail int) {
	if m.width >= 160 {
		feed = m.width * 30 / 100
	} else {
		feed = m.width * 40 / 100
	}
	return feed, m.width - feed
}

func (m Model) detailWidth() int {
	_, w := m.paneWidths()
	return max(w-2, 10)
}

func (m Model) contentHeight() int {
	return max(m.height-1-lipgloss.Height(m.renderFooter()), 3)
}

// renderContent renders the feed list and, when a post is open, its detail.
func (m Model) renderContent() string {
	styles := m.theme.Styles()
	height := m.contentHeight()

	if len(m.feed) == 0 && m.detail == nil {
		msg := styles.MutedText.Render("No posts yet")
		return lipgloss.Place(m.width, height, lipgloss.Center, lipgloss.Center, msg)
	}

	if m.detail == nil {
		return m.renderFeed(m.width, height)
	}

	feedWidth, detailWidth := m.paneWidths()
	border := m.theme.Border
	if m.focus == paneDetail {
		border = m.theme.BorderFocus
	}
	detail := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), false, false, false, true).
		BorderForeground(lipgloss.Color(border)).
		PaddingLeft(1).
		Width(detailWidth - 1).
		Height(height).
		Render(m.detailViewport.View())
	return lipgloss.JoinHorizontal(lipgloss.Top, m.renderFeed(feedWidth, height), detail)
}

// renderFeed renders as many posts as fit, keeping the selection visible.
func (m Model) renderFeed(width, height int) string {
	styles := m.theme.Styles()
	visible := max(height/feedItemHeight, 1)
	start := 0
	if m.selected >= visible {
		start = m.selected - visible + 1
	}
	end := min(start+visible, len(m.feed))

	user := m.engine.User()
	var lines []string
	for i := start; i < end; i++ {
		pv := m.feed[i]
		selected := i == m.selected && m.focus == paneFeed

		heart := styles.MutedText.Render("♡")
		if pv.LikedBy(user) {
			heart = styles.LikedText.Render("♥")
		}
		meta := styles.AccentText.Render(authorName(pv.Author)) + " " +
			styles.FaintText.Render(formatTime(pv.CreatedAt, m.absoluteTimes))
		body := styles.Text.Render(truncate(firstLine(pv.Content), width-4))
		counts := heart + " " + styles.Text.Render(formatCount(len(pv.Likes))) +
			m.stateBadge(pv.LikesState) + "  " +
			styles.MutedText.Render(fmt.Sprintf("%s comments", formatCount(len(pv.Comments))))

		item := []string{" " + meta, "  " + body, "  " + counts}
		for j, line := range item {
			if selected {
				line = styles.Selected.Width(width).Render(line)
			} else {
				line = lipgloss.NewStyle().Width(width).Render(line)
			}
			item[j] = line
		}
		lines = append(lines, item...)
	}
	return lipgloss.NewStyle().Width(width).Height(height).Render(strings.Join(lines, "\n"))
}

// updateDetailViewport re-renders the open post into the viewport and keeps
// the selected comment in view.
func (m *Model) updateDetailViewport() {
	if !m.ready {
		return
	}
	m.detailViewport.Width = m.detailWidth()
	m.detailViewport.Height = m.contentHeight()
	if m.detail == nil {
		m.detailViewport.SetContent("")
		return
	}

	content, selLine := m.renderDetailContent(m.detailViewport.Width)
	m.detailViewport.SetContent(content)
	if selLine < 0 {
		return
	}
	switch {
	case selLine < m.detailViewport.YOffset:
		m.detailViewport.SetYOffset(selLine)
	case selLine+feedItemHeight > m.detailViewport.YOffset+m.detailViewport.Height:
		m.detailViewport.SetYOffset(selLine + feedItemHeight - m.detailViewport.Height)
	}
}

// renderDetailContent returns the detail text and the line the selected
// comment starts on, or -1.
func (m Model) renderDetailContent(width int) (string, int) {
	styles := m.theme.Styles()
	pv := m.detail
	user := m.engine.User()

	var b strings.Builder
	b.WriteString(styles.AccentText.Bold(true).Render(authorName(pv.Author)))
	b.WriteString(" ")
	b.WriteString(styles.FaintText.Render(formatTime(pv.CreatedAt, m.absoluteTimes)))
	if pv.Edited {
		b.WriteString(styles.FaintText.Render(" (edited)"))
	}
	b.WriteString("\n\n")
	b.WriteString(wrap(pv.Content, width))
	b.WriteString("\n")
	for _, media := range pv.Media {
		b.WriteString(styles.InfoText.Render("[media] " + truncate(media, width-8)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	likeLabel := styles.MutedText.Render("♡ Like")
	if pv.LikedBy(user) {
		likeLabel = styles.LikedText.Render("♥ Liked")
	}
	b.WriteString(likeLabel)
	b.WriteString(styles.Text.Render(fmt.Sprintf("  %s likes", formatCount(len(pv.Likes)))))
	b.WriteString(m.stateBadge(pv.LikesState))
	b.WriteString("\n\n")

	b.WriteString(styles.Text.Bold(true).Render(fmt.Sprintf("Comments (%s)", formatCount(len(pv.Comments)))))
	b.WriteString(m.stateBadge(pv.CommentState))
	if m.detailLoading {
		b.WriteString(" " + m.spinner.View())
	}
	b.WriteString("\n\n")

	selLine := -1
	for i, cv := range pv.Comments {
		marker := "  "
		if i == m.commentSel && m.focus == paneDetail {
			marker = styles.AccentText.Render("› ")
			selLine = strings.Count(b.String(), "\n")
		}

		b.WriteString(marker)
		b.WriteString(styles.AccentText.Render(authorName(cv.Author)))
		b.WriteString(" ")
		b.WriteString(styles.FaintText.Render(formatTime(cv.CreatedAt, m.absoluteTimes)))
		if cv.Body.Edited {
			b.WriteString(styles.FaintText.Render(" (edited)"))
		}
		if cv.Local {
			b.WriteString(" ")
			b.WriteString(styles.StateStyle("local").Render("posting"))
		}
		b.WriteString("\n")

		for _, line := range strings.Split(wrap(cv.Body.Content, width-4), "\n") {
			b.WriteString("    ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("    ")
		b.WriteString(m.renderReactions(cv))
		b.WriteString(m.stateBadge(cv.BodyState))
		b.WriteString("\n\n")
	}
	return b.String(), selLine
}

func (m Model) renderReactions(cv state.CommentView) string {
	styles := m.theme.Styles()
	user := m.engine.User()

	up := styles.MutedText.Render("▲ " + formatCount(len(cv.Reactions.Likes)))
	if cv.Reactions.Likes.Has(user) {
		up = styles.LikedText.Render("▲ " + formatCount(len(cv.Reactions.Likes)))
	}
	down := styles.MutedText.Render("▼ " + formatCount(len(cv.Reactions.Dislikes)))
	if cv.Reactions.Dislikes.Has(user) {
		down = styles.Disliked.Render("▼ " + formatCount(len(cv.Reactions.Dislikes)))
	}
	return up + "  " + down + m.stateBadge(cv.ReactionsState)
}

// stateBadge marks a field that is not yet confirmed by the server.
func (m Model) stateBadge(c state.Confirmation) string {
	styles := m.theme.Styles()
	switch c {
	case state.Pending:
		return " " + styles.InfoText.Render(m.spinner.View())
	case state.Unconfirmed:
		return " " + styles.StateStyle(c.String()).Render("not confirmed")
	default:
		return ""
	}
}

func authorName(u state.UserRef) string {
	if u.Name != "" {
		return u.Name
	}
	if u.ID != "" {
		return "@" + string(u.ID)
	}
	return "unknown"
}
