package ui

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/five82/threadline/internal/interaction"
	"github.com/five82/threadline/internal/retry"
	"github.com/five82/threadline/internal/state"
)

// editorState is the single-line comment composer. An empty commentID
// creates a comment; otherwise the comment is edited.
type editorState struct {
	input     textinput.Model
	postID    state.EntityID
	commentID state.EntityID
	err       string
}

// confirmState asks before a comment is deleted.
type confirmState struct {
	postID    state.EntityID
	commentID state.EntityID
}

func newEditor(postID, commentID state.EntityID, content string) *editorState {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Write a comment"
	ti.SetValue(content)
	ti.CursorEnd()
	return &editorState{input: ti, postID: postID, commentID: commentID}
}

func (e *editorState) action() interaction.Action {
	if e.commentID == "" {
		return interaction.CreateComment(e.postID, e.input.Value())
	}
	return interaction.EditComment(e.postID, e.commentID, e.input.Value())
}

func (e *editorState) title() string {
	if e.commentID == "" {
		return "New comment"
	}
	return "Edit comment"
}

// handleEditorKey sends on enter and keeps the editor open when the input
// is rejected, so the user can fix it.
func (m Model) handleEditorKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Type == tea.KeyCtrlC:
		return m, tea.Quit
	case msg.Type == tea.KeyEsc:
		m.editor = nil
		return m, nil
	case key.Matches(msg, m.keys.Confirm):
		_, err := m.engine.Dispatch(m.ctx, m.editor.action())
		var ve *retry.ValidationError
		switch {
		case err == nil:
			m.editor = nil
		case errors.As(err, &ve):
			m.editor.err = ve.Message
			return m, nil
		case errors.Is(err, interaction.ErrInFlight):
			m.editor.err = "Still sending the previous change."
			return m, nil
		default:
			m.editor = nil
			m.addToast(dispatchErrorText(err), interaction.EventFailed, nowFunc())
		}
		m.reload()
		return m, nil
	}

	var cmd tea.Cmd
	m.editor.input, cmd = m.editor.input.Update(msg)
	m.editor.err = ""
	return m, cmd
}

func (m Model) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Type == tea.KeyCtrlC:
		return m, tea.Quit
	case key.Matches(msg, m.keys.Yes):
		c := m.confirm
		m.confirm = nil
		m.dispatch(interaction.DeleteComment(c.postID, c.commentID))
	case key.Matches(msg, m.keys.No):
		m.confirm = nil
	}
	return m, nil
}

// renderEditor renders the composer bar shown above the footer.
func (m Model) renderEditor() string {
	styles := m.theme.Styles()
	count := utf8.RuneCountInString(strings.TrimSpace(m.editor.input.Value()))
	countStyle := styles.FaintText
	if count > interaction.MaxCommentRunes {
		countStyle = styles.DangerText
	}

	var b strings.Builder
	b.WriteString(styles.AccentText.Bold(true).Render(m.editor.title()))
	b.WriteString("  ")
	b.WriteString(countStyle.Render(fmt.Sprintf("%d/%d", count, interaction.MaxCommentRunes)))
	b.WriteString("\n")
	b.WriteString(m.editor.input.View())
	if m.editor.err != "" {
		b.WriteString("\n")
		b.WriteString(styles.DangerText.Render(m.editor.err))
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(m.theme.BorderFocus)).
		Width(max(m.width-2, 10)).
		Render(b.String())
}

func (m Model) renderConfirm() string {
	styles := m.theme.Styles()
	return styles.WarningText.Bold(true).Render("Delete this comment?") + "  " +
		styles.MutedText.Render("y/n")
}
