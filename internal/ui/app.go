package ui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/threadline/internal/feedapi"
	"github.com/five82/threadline/internal/interaction"
	"github.com/five82/threadline/internal/prefs"
	"github.com/five82/threadline/internal/retry"
	"github.com/five82/threadline/internal/session"
	"github.com/five82/threadline/internal/state"
)

// pane is the focused half of the screen.
type pane int

const (
	paneFeed pane = iota
	paneDetail
)

// Loader fetches a full post for the detail pane.
type Loader interface {
	FetchPost(ctx context.Context, postID string) (feedapi.PostResponse, error)
}

// Options configures the UI.
type Options struct {
	Context       context.Context
	Engine        *interaction.Engine
	Session       *session.Session
	Loader        Loader
	PollTick      time.Duration
	ThemeName     string
	AbsoluteTimes bool
	PrefsPath     string
}

// Model is the root application state for Bubble Tea.
type Model struct {
	// Configuration
	ctx       context.Context
	engine    *interaction.Engine
	cache     *state.Cache
	session   *session.Session
	loader    Loader
	keys      keyMap
	prefsPath string
	pollTick  time.Duration

	// UI state
	theme         Theme
	absoluteTimes bool
	width         int
	height        int
	ready         bool
	focus         pane
	showHelp      bool

	// Data state
	feed     []state.PostView
	selected int
	status   state.Status

	// Detail state
	detailID       state.EntityID
	detail         *state.PostView
	commentSel     int
	detailLoading  bool
	detailViewport viewport.Model

	spinner spinner.Model
	editor  *editorState
	confirm *confirmState
	toasts  []toast

	subs *subscriptions
}

type subscriptions struct {
	events  chan interaction.Event
	feed    <-chan state.Change
	detail  <-chan state.Change
	cancels []func()
}

func (s *subscriptions) close() {
	for _, cancel := range s.cancels {
		cancel()
	}
}

// New creates a Bubble Tea model subscribed to the engine and cache.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	pollTick := opts.PollTick
	if pollTick <= 0 || pollTick > time.Second {
		pollTick = time.Second
	}

	prefsPath := opts.PrefsPath
	if prefsPath == "" {
		prefsPath = prefs.DefaultPath()
	}

	cache := opts.Engine.Cache()
	subs := &subscriptions{events: make(chan interaction.Event, 64)}
	subs.cancels = append(subs.cancels, opts.Engine.Subscribe(func(ev interaction.Event) {
		select {
		case subs.events <- ev:
		default:
		}
	}))
	feedCh, cancelFeed := cache.Subscribe(state.LocationFeed)
	detailCh, cancelDetail := cache.Subscribe(state.LocationDetail)
	subs.feed, subs.detail = feedCh, detailCh
	subs.cancels = append(subs.cancels, cancelFeed, cancelDetail)

	m := Model{
		ctx:           ctx,
		engine:        opts.Engine,
		cache:         cache,
		session:       opts.Session,
		loader:        opts.Loader,
		keys:          DefaultKeyMap(),
		prefsPath:     prefsPath,
		pollTick:      pollTick,
		theme:         GetTheme(opts.ThemeName),
		absoluteTimes: opts.AbsoluteTimes,
		spinner:       spinner.New(spinner.WithSpinner(spinner.Dot)),
		subs:          subs,
	}
	m.reload()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tea.EnterAltScreen,
		tickCmd(m.pollTick),
		m.spinner.Tick,
		waitForEvent(m.ctx, m.subs.events),
		waitForChange(m.subs.feed),
		waitForChange(m.subs.detail),
	)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.detailViewport = viewport.New(m.detailWidth(), m.contentHeight())
		}
		m.ready = true
		m.detailViewport.Width = m.detailWidth()
		m.detailViewport.Height = m.contentHeight()
		m.reload()
		return m, nil

	case tickMsg:
		m.expireToasts(time.Time(msg))
		m.reload()
		return m, tickCmd(m.pollTick)

	case changeMsg:
		m.reload()
		if msg.loc == state.LocationDetail {
			return m, waitForChange(m.subs.detail)
		}
		return m, waitForChange(m.subs.feed)

	case eventMsg:
		m.handleEvent(interaction.Event(msg))
		m.reload()
		return m, waitForEvent(m.ctx, m.subs.events)

	case detailLoadedMsg:
		m.handleDetailLoaded(msg)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.hasPending() {
			m.updateDetailViewport()
		}
		return m, cmd
	}

	if m.editor != nil {
		var cmd tea.Cmd
		m.editor.input, cmd = m.editor.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}
	return m.renderHeader() + "\n" + m.renderContent() + "\n" + m.renderFooter()
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		m.showHelp = false
		return m, nil
	}
	if m.editor != nil {
		return m.handleEditorKey(msg)
	}
	if m.confirm != nil {
		return m.handleConfirmKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, m.keys.CycleTheme):
		m.theme = GetTheme(NextTheme(m.theme.Name))
		m.savePrefs()
		m.updateDetailViewport()
		return m, nil

	case key.Matches(msg, m.keys.ToggleTime):
		m.absoluteTimes = !m.absoluteTimes
		m.savePrefs()
		m.updateDetailViewport()
		return m, nil

	case key.Matches(msg, m.keys.Tab):
		if m.detail != nil {
			m.focus = 1 - m.focus
		}
		return m, nil

	case key.Matches(msg, m.keys.Escape):
		m.closeDetail()
		return m, nil

	case key.Matches(msg, m.keys.Open):
		if m.focus == paneFeed {
			if pv := m.selectedPost(); pv != nil {
				return m, m.openDetail(pv.ID)
			}
		}
		return m, nil

	case key.Matches(msg, m.keys.Like):
		if pv := m.targetPost(); pv != nil {
			m.dispatch(interaction.Like(pv.ID))
		}
		return m, nil

	case key.Matches(msg, m.keys.CommentLike):
		if cv := m.selectedComment(); cv != nil {
			m.dispatch(interaction.CommentLike(cv.PostID, cv.ID))
		}
		return m, nil

	case key.Matches(msg, m.keys.CommentDislike):
		if cv := m.selectedComment(); cv != nil {
			m.dispatch(interaction.CommentDislike(cv.PostID, cv.ID))
		}
		return m, nil

	case key.Matches(msg, m.keys.Compose):
		if m.detail != nil {
			m.editor = newEditor(m.detail.ID, "", "")
			return m, m.editor.input.Focus()
		}
		return m, nil

	case key.Matches(msg, m.keys.Edit):
		if cv := m.ownComment(); cv != nil {
			m.editor = newEditor(cv.PostID, cv.ID, cv.Body.Content)
			return m, m.editor.input.Focus()
		}
		return m, nil

	case key.Matches(msg, m.keys.Delete):
		if cv := m.ownComment(); cv != nil {
			m.confirm = &confirmState{postID: cv.PostID, commentID: cv.ID}
		}
		return m, nil
	}

	m.navigate(msg)
	return m, nil
}

// navigate moves the selection of the focused pane.
func (m *Model) navigate(msg tea.KeyMsg) {
	if m.focus == paneDetail && m.detail != nil {
		n := len(m.detail.Comments)
		m.commentSel = moveSelection(m.commentSel, n, msg, m.keys)
		m.updateDetailViewport()
		return
	}
	m.selected = moveSelection(m.selected, len(m.feed), msg, m.keys)
}

func moveSelection(cur, n int, msg tea.KeyMsg, keys keyMap) int {
	if n == 0 {
		return 0
	}
	switch {
	case key.Matches(msg, keys.Down):
		if cur < n-1 {
			cur++
		}
	case key.Matches(msg, keys.Up):
		if cur > 0 {
			cur--
		}
	case key.Matches(msg, keys.Top):
		cur = 0
	case key.Matches(msg, keys.Bottom):
		cur = n - 1
	}
	return cur
}

// dispatch starts an interaction. A duplicate while the first is pending is
// ignored; rejected input is reported as a toast.
func (m *Model) dispatch(a interaction.Action) error {
	_, err := m.engine.Dispatch(m.ctx, a)
	switch {
	case err == nil:
	case errors.Is(err, interaction.ErrInFlight):
		return err
	default:
		m.addToast(dispatchErrorText(err), interaction.EventFailed, nowFunc())
	}
	m.reload()
	return err
}

func dispatchErrorText(err error) string {
	var ve *retry.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Message
	case errors.Is(err, interaction.ErrNotDisplayed):
		return "That item is no longer on screen."
	default:
		return err.Error()
	}
}

func (m *Model) handleEvent(ev interaction.Event) {
	if ev.Kind == interaction.EventSucceeded || ev.Message == "" {
		return
	}
	m.addToast(ev.Message, ev.Kind, nowFunc())
}

func (m *Model) openDetail(id state.EntityID) tea.Cmd {
	m.detailID = id
	m.focus = paneDetail
	m.commentSel = 0
	m.reload()
	if m.loader == nil {
		return nil
	}
	m.detailLoading = true
	return loadDetailCmd(m.ctx, m.loader, id)
}

func (m *Model) handleDetailLoaded(msg detailLoadedMsg) {
	if msg.id != m.detailID {
		return
	}
	m.detailLoading = false
	if msg.err != nil {
		m.addToast(fmt.Sprintf("Could not load post: %v", msg.err), interaction.EventFailed, nowFunc())
		return
	}
	m.engine.Apply(state.LocationDetail, []feedapi.Post{msg.resp.Post}, msg.resp.Comments)
	m.reload()
}

func (m *Model) closeDetail() {
	if m.detailID == "" {
		return
	}
	m.engine.Apply(state.LocationDetail, nil, nil)
	m.detailID = ""
	m.detail = nil
	m.detailLoading = false
	m.focus = paneFeed
}

// reload re-reads the projections the views render.
func (m *Model) reload() {
	m.feed = m.cache.Feed(state.LocationFeed)
	m.status = m.cache.Status()
	if m.selected >= len(m.feed) {
		m.selected = max(len(m.feed)-1, 0)
	}

	m.detail = nil
	if m.detailID != "" {
		if pv, ok := m.cache.Post(m.detailID); ok {
			m.detail = &pv
			if m.commentSel >= len(pv.Comments) {
				m.commentSel = max(len(pv.Comments)-1, 0)
			}
		}
	}
	m.updateDetailViewport()
}

func (m Model) selectedPost() *state.PostView {
	if m.selected < 0 || m.selected >= len(m.feed) {
		return nil
	}
	pv := m.feed[m.selected]
	return &pv
}

// targetPost is the post the like key acts on.
func (m Model) targetPost() *state.PostView {
	if m.focus == paneDetail && m.detail != nil {
		return m.detail
	}
	return m.selectedPost()
}

func (m Model) selectedComment() *state.CommentView {
	if m.focus != paneDetail || m.detail == nil {
		return nil
	}
	if m.commentSel < 0 || m.commentSel >= len(m.detail.Comments) {
		return nil
	}
	cv := m.detail.Comments[m.commentSel]
	if cv.Local {
		return nil
	}
	return &cv
}

// ownComment returns the selected comment when the user wrote it.
func (m Model) ownComment() *state.CommentView {
	cv := m.selectedComment()
	if cv == nil || cv.Author.ID != m.engine.User() {
		return nil
	}
	return cv
}

func (m Model) hasPending() bool {
	for _, pv := range m.feed {
		if pv.LikesState == state.Pending {
			return true
		}
	}
	return m.detail != nil
}

func (m Model) savePrefs() {
	if m.prefsPath == "" {
		return
	}
	_ = prefs.Save(m.prefsPath, prefs.Prefs{Theme: m.theme.Name, AbsoluteTimes: m.absoluteTimes})
}

// Messages

type tickMsg time.Time

type changeMsg struct {
	loc state.Location
}

type eventMsg interaction.Event

type detailLoadedMsg struct {
	id   state.EntityID
	resp feedapi.PostResponse
	err  error
}

// Commands

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForEvent(ctx context.Context, ch <-chan interaction.Event) tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-ch:
			return eventMsg(ev)
		case <-ctx.Done():
			return nil
		}
	}
}

func waitForChange(ch <-chan state.Change) tea.Cmd {
	return func() tea.Msg {
		c, ok := <-ch
		if !ok {
			return nil
		}
		return changeMsg{loc: c.Location}
	}
}

func loadDetailCmd(ctx context.Context, loader Loader, id state.EntityID) tea.Cmd {
	return func() tea.Msg {
		resp, err := loader.FetchPost(ctx, string(id))
		return detailLoadedMsg{id: id, resp: resp, err: err}
	}
}

// Run starts the Bubble Tea program.
func Run(opts Options) error {
	if opts.Engine == nil {
		return fmt.Errorf("ui requires an interaction engine")
	}
	m := New(opts)
	defer m.subs.close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(m.ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && m.ctx.Err() != nil {
		return nil
	}
	return err
}
