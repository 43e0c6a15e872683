package interaction

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/threadline/internal/feedapi"
	"github.com/five82/threadline/internal/marks"
	"github.com/five82/threadline/internal/retry"
	"github.com/five82/threadline/internal/state"
)

const me = state.UserID("me")

// remoteCall is one request seen by fakeRemote. The test answers it through
// reply, so settlement order is under test control.
type remoteCall struct {
	op      string
	post    string
	comment string
	content string
	reply   chan remoteResult
}

type remoteResult struct {
	likes    []string
	dislikes []string
	comment  feedapi.Comment
	err      error
}

func (c *remoteCall) ok(r remoteResult) { c.reply <- r }
func (c *remoteCall) fail(err error)    { c.reply <- remoteResult{err: err} }

type fakeRemote struct {
	calls chan *remoteCall
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{calls: make(chan *remoteCall, 16)}
}

func (f *fakeRemote) do(ctx context.Context, c *remoteCall) (remoteResult, error) {
	c.reply = make(chan remoteResult, 1)
	select {
	case f.calls <- c:
	case <-ctx.Done():
		return remoteResult{}, ctx.Err()
	}
	select {
	case r := <-c.reply:
		return r, r.err
	case <-ctx.Done():
		return remoteResult{}, ctx.Err()
	}
}

func (f *fakeRemote) next(t *testing.T) *remoteCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no remote call issued")
		return nil
	}
}

func (f *fakeRemote) assertIdle(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected remote call %s", c.op)
	case <-time.After(20 * time.Millisecond):
	}
}

func (f *fakeRemote) FetchFeed(context.Context) (feedapi.FeedResponse, error) {
	return feedapi.FeedResponse{}, nil
}

func (f *fakeRemote) FetchPost(context.Context, string) (feedapi.PostResponse, error) {
	return feedapi.PostResponse{}, nil
}

func (f *fakeRemote) ToggleLike(ctx context.Context, postID string) (feedapi.LikesResponse, error) {
	r, err := f.do(ctx, &remoteCall{op: "like", post: postID})
	return feedapi.LikesResponse{Likes: r.likes}, err
}

func (f *fakeRemote) ToggleCommentLike(ctx context.Context, postID, commentID string) (feedapi.ReactionsResponse, error) {
	r, err := f.do(ctx, &remoteCall{op: "comment_like", post: postID, comment: commentID})
	return feedapi.ReactionsResponse{Likes: r.likes, Dislikes: r.dislikes}, err
}

func (f *fakeRemote) ToggleCommentDislike(ctx context.Context, postID, commentID string) (feedapi.ReactionsResponse, error) {
	r, err := f.do(ctx, &remoteCall{op: "comment_dislike", post: postID, comment: commentID})
	return feedapi.ReactionsResponse{Likes: r.likes, Dislikes: r.dislikes}, err
}

func (f *fakeRemote) CreateComment(ctx context.Context, postID, content string) (feedapi.Comment, error) {
	r, err := f.do(ctx, &remoteCall{op: "create", post: postID, content: content})
	return r.comment, err
}

func (f *fakeRemote) EditComment(ctx context.Context, postID, commentID, content string) (feedapi.Comment, error) {
	r, err := f.do(ctx, &remoteCall{op: "edit", post: postID, comment: commentID, content: content})
	return r.comment, err
}

func (f *fakeRemote) DeleteComment(ctx context.Context, postID, commentID string) error {
	_, err := f.do(ctx, &remoteCall{op: "delete", post: postID, comment: commentID})
	return err
}

type memMarks struct {
	mu sync.Mutex
	m  map[state.Key]marks.Mark
}

func newMemMarks() *memMarks { return &memMarks{m: make(map[state.Key]marks.Mark)} }

func (s *memMarks) Put(m marks.Mark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[m.Key()] = m
	return nil
}

func (s *memMarks) Get(key state.Key) (marks.Mark, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.m[key]
	return m, ok, nil
}

func (s *memMarks) Delete(key state.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}
	}
	return r.events[len(r.events)-1]
}

type harness struct {
	engine  *Engine
	remote  *fakeRemote
	marks   *memMarks
	events  *recorder
	metrics *Metrics
	// invalid counts OnSessionInvalid calls.
	invalid int
	mu      sync.Mutex
}

func seedPosts() ([]feedapi.Post, []feedapi.Comment) {
	return []feedapi.Post{
			{ID: "p1", Content: "hello", Comments: []string{"c1"}},
			{ID: "p2", Content: "world"},
		}, []feedapi.Comment{
			{ID: "c1", PostID: "p1", Content: "first"},
		}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		remote:  newFakeRemote(),
		marks:   newMemMarks(),
		events:  &recorder{},
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	e, err := New(Options{
		Cache:  state.NewCache(),
		Remote: h.remote,
		User:   me,
		Retry: retry.Config{
			MaxRetries:     2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			BackoffFactor:  1,
		},
		Marks:   h.marks,
		Metrics: h.metrics,
		OnSessionInvalid: func(error) {
			h.mu.Lock()
			h.invalid++
			h.mu.Unlock()
		},
	})
	require.NoError(t, err)
	t.Cleanup(e.Subscribe(h.events.add))
	h.engine = e

	posts, comments := seedPosts()
	e.Apply(state.LocationFeed, posts, comments)
	return h
}

func (h *harness) dispatch(t *testing.T, a Action) *Pending {
	t.Helper()
	p, err := h.engine.Dispatch(context.Background(), a)
	require.NoError(t, err)
	return p
}

func wait(t *testing.T, p *Pending) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out := p.Wait(ctx)
	require.NotEqual(t, StatusPending, out.Status, "mutation did not settle")
	return out
}

func (h *harness) post(t *testing.T, id state.EntityID) state.PostView {
	t.Helper()
	ent, ok := h.engine.VisibleState(id)
	require.True(t, ok, "post %s not visible", id)
	require.NotNil(t, ent.Post)
	return *ent.Post
}

func (h *harness) comment(t *testing.T, id state.EntityID) state.CommentView {
	t.Helper()
	ent, ok := h.engine.VisibleState(id)
	require.True(t, ok, "comment %s not visible", id)
	require.NotNil(t, ent.Comment)
	return *ent.Comment
}

func apiErr(status int, msg string) error {
	return &feedapi.APIError{Status: status, Path: "/api/test", Message: msg}
}

func reset() error {
	return fmt.Errorf("execute request: %w", syscall.ECONNRESET)
}

func TestDispatch_LikeFailsThenSucceeds(t *testing.T) {
	h := newHarness(t)

	p := h.dispatch(t, Like("p1"))
	pv := h.post(t, "p1")
	assert.Equal(t, state.NewUserSet(me), pv.Likes)
	assert.Equal(t, state.Pending, pv.LikesState)

	h.remote.next(t).fail(reset())
	out := wait(t, p)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, retry.ClassTransient, out.Class)
	assert.True(t, out.RolledBack)
	assert.Equal(t, 1, out.Attempts, "toggles are not retried")

	pv = h.post(t, "p1")
	assert.Empty(t, pv.Likes)
	assert.Equal(t, state.Confirmed, pv.LikesState)

	p = h.dispatch(t, Like("p1"))
	h.remote.next(t).ok(remoteResult{likes: []string{"me"}})
	out = wait(t, p)
	assert.Equal(t, StatusSucceeded, out.Status)

	pv = h.post(t, "p1")
	assert.Equal(t, state.NewUserSet(me), pv.Likes)
	assert.Equal(t, state.Confirmed, pv.LikesState)
	assert.Equal(t, []EventKind{EventFailed, EventSucceeded}, h.events.kinds())
}

func TestDispatch_SuccessAppliesOnce(t *testing.T) {
	h := newHarness(t)

	p := h.dispatch(t, Like("p1"))
	h.remote.next(t).ok(remoteResult{likes: []string{"me"}})
	wait(t, p)

	assert.Equal(t, state.NewUserSet(me), h.post(t, "p1").Likes)
	assert.Equal(t, StatusIdle, h.engine.InteractionState("p1", ActionLike).Status)
}

func TestDispatch_DoubleSubmitIsDropped(t *testing.T) {
	h := newHarness(t)

	p := h.dispatch(t, Like("p1"))
	st := h.engine.InteractionState("p1", ActionLike)
	assert.Equal(t, StatusPending, st.Status)
	assert.Equal(t, p.Sequence(), st.Sequence)

	_, err := h.engine.Dispatch(context.Background(), Like("p1"))
	assert.ErrorIs(t, err, ErrInFlight)
	assert.Equal(t, state.NewUserSet(me), h.post(t, "p1").Likes, "dropped dispatch must not toggle back")

	h.remote.next(t).ok(remoteResult{likes: []string{"me"}})
	wait(t, p)
	h.remote.assertIdle(t)
}

func TestDispatch_ConcurrentEntitiesDoNotInterfere(t *testing.T) {
	h := newHarness(t)

	p1 := h.dispatch(t, Like("p1"))
	p2 := h.dispatch(t, Like("p2"))

	calls := map[string]*remoteCall{}
	for range 2 {
		c := h.remote.next(t)
		calls[c.post] = c
	}
	calls["p2"].ok(remoteResult{likes: []string{"me"}})
	calls["p1"].fail(apiErr(http.StatusBadRequest, "nope"))
	wait(t, p1)
	wait(t, p2)

	assert.Empty(t, h.post(t, "p1").Likes)
	assert.Equal(t, state.NewUserSet(me), h.post(t, "p2").Likes)
}

func TestReactions_DislikeThenLike(t *testing.T) {
	orders := []struct {
		name      string
		likeFirst bool
	}{
		{name: "responses in order", likeFirst: false},
		{name: "responses reversed", likeFirst: true},
	}
	for _, tt := range orders {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			dislike := h.dispatch(t, CommentDislike("p1", "c1"))
			cv := h.comment(t, "c1")
			assert.Equal(t, state.NewUserSet(me), cv.Reactions.Dislikes)

			like := h.dispatch(t, CommentLike("p1", "c1"))
			cv = h.comment(t, "c1")
			assert.Equal(t, state.NewUserSet(me), cv.Reactions.Likes)
			assert.Empty(t, cv.Reactions.Dislikes)

			dislikeCall := h.remote.next(t)
			likeCall := h.remote.next(t)
			if dislikeCall.op != "comment_dislike" {
				dislikeCall, likeCall = likeCall, dislikeCall
			}

			var dOut, lOut Outcome
			if tt.likeFirst {
				likeCall.ok(remoteResult{likes: []string{"me"}})
				lOut = wait(t, like)
				dislikeCall.ok(remoteResult{dislikes: []string{"me"}})
				dOut = wait(t, dislike)
			} else {
				dislikeCall.ok(remoteResult{dislikes: []string{"me"}})
				dOut = wait(t, dislike)
				likeCall.ok(remoteResult{likes: []string{"me"}})
				lOut = wait(t, like)
			}

			assert.True(t, dOut.Stale)
			assert.False(t, lOut.Stale)
			cv = h.comment(t, "c1")
			assert.Equal(t, state.NewUserSet(me), cv.Reactions.Likes)
			assert.Empty(t, cv.Reactions.Dislikes)
			assert.Equal(t, state.Confirmed, cv.ReactionsState)
		})
	}
}

func TestReactions_StaleFailureKeepsNewerValue(t *testing.T) {
	h := newHarness(t)

	dislike := h.dispatch(t, CommentDislike("p1", "c1"))
	like := h.dispatch(t, CommentLike("p1", "c1"))
	dislikeCall, likeCall := h.remote.next(t), h.remote.next(t)
	if dislikeCall.op != "comment_dislike" {
		dislikeCall, likeCall = likeCall, dislikeCall
	}

	dislikeCall.fail(reset())
	out := wait(t, dislike)
	assert.True(t, out.Stale)
	assert.False(t, out.RolledBack)

	cv := h.comment(t, "c1")
	assert.Equal(t, state.NewUserSet(me), cv.Reactions.Likes, "newer optimistic value overwritten")
	assert.Empty(t, cv.Reactions.Dislikes)

	// The like now fails too: the field must go back to before both actions.
	likeCall.fail(reset())
	out = wait(t, like)
	assert.True(t, out.RolledBack)
	cv = h.comment(t, "c1")
	assert.Empty(t, cv.Reactions.Likes)
	assert.Empty(t, cv.Reactions.Dislikes)
	assert.Equal(t, state.Confirmed, cv.ReactionsState)
}

func TestReactions_NewerFailureHandsBackToOlder(t *testing.T) {
	h := newHarness(t)

	dislike := h.dispatch(t, CommentDislike("p1", "c1"))
	like := h.dispatch(t, CommentLike("p1", "c1"))
	dislikeCall, likeCall := h.remote.next(t), h.remote.next(t)
	if dislikeCall.op != "comment_dislike" {
		dislikeCall, likeCall = likeCall, dislikeCall
	}

	likeCall.fail(apiErr(http.StatusBadRequest, "cannot like"))
	out := wait(t, like)
	assert.True(t, out.RolledBack)
	cv := h.comment(t, "c1")
	assert.Equal(t, state.NewUserSet(me), cv.Reactions.Dislikes)
	assert.Equal(t, state.Pending, cv.ReactionsState)

	dislikeCall.ok(remoteResult{dislikes: []string{"me"}})
	out = wait(t, dislike)
	assert.False(t, out.Stale)
	cv = h.comment(t, "c1")
	assert.Equal(t, state.NewUserSet(me), cv.Reactions.Dislikes)
	assert.Empty(t, cv.Reactions.Likes)
	assert.Equal(t, state.Confirmed, cv.ReactionsState)
}

func TestReactions_NeverInBothSets(t *testing.T) {
	h := newHarness(t)
	check := func() {
		cv := h.comment(t, "c1")
		for _, u := range cv.Reactions.Likes {
			assert.False(t, cv.Reactions.Dislikes.Has(u), "user %s in both sets", u)
		}
	}

	steps := []struct {
		action Action
		result remoteResult
	}{
		{CommentLike("p1", "c1"), remoteResult{err: reset()}},
		{CommentDislike("p1", "c1"), remoteResult{dislikes: []string{"me"}}},
		{CommentLike("p1", "c1"), remoteResult{err: apiErr(http.StatusInternalServerError, "")}},
		{CommentDislike("p1", "c1"), remoteResult{likes: []string{"me"}}},
	}
	for _, step := range steps {
		p := h.dispatch(t, step.action)
		check()
		h.remote.next(t).reply <- step.result
		wait(t, p)
		check()
	}
}

func TestToggleServerFault_KeepsUnconfirmedAndResolvesOnRefresh(t *testing.T) {
	h := newHarness(t)

	p := h.dispatch(t, Like("p1"))
	h.remote.next(t).fail(apiErr(http.StatusBadGateway, "upstream"))
	out := wait(t, p)
	assert.True(t, out.Unconfirmed)
	assert.False(t, out.RolledBack)
	assert.Equal(t, retry.ClassServerFault, out.Class)
	h.remote.assertIdle(t)

	pv := h.post(t, "p1")
	assert.Equal(t, state.NewUserSet(me), pv.Likes)
	assert.Equal(t, state.Unconfirmed, pv.LikesState)
	assert.Equal(t, EventUnconfirmed, h.events.last().Kind)
	assert.Contains(t, h.events.last().Message, "may not have been saved")

	mark, ok, _ := h.marks.Get(state.Key{Entity: "p1", Field: state.FieldLikes})
	require.True(t, ok)
	assert.True(t, mark.Value().Equal(state.NewUserSet(me)))

	posts, comments := seedPosts()
	h.engine.Apply(state.LocationFeed, posts, comments)

	pv = h.post(t, "p1")
	assert.Empty(t, pv.Likes)
	assert.Equal(t, state.Confirmed, pv.LikesState)
	assert.Equal(t, EventNotPersisted, h.events.last().Kind)
	_, ok, _ = h.marks.Get(state.Key{Entity: "p1", Field: state.FieldLikes})
	assert.False(t, ok)
}

func TestToggleServerFault_MarkClearsWhenServerAgrees(t *testing.T) {
	h := newHarness(t)

	p := h.dispatch(t, Like("p1"))
	h.remote.next(t).fail(apiErr(http.StatusInternalServerError, ""))
	wait(t, p)

	posts, comments := seedPosts()
	posts[0].Likes = []string{"me"}
	h.engine.Apply(state.LocationFeed, posts, comments)

	assert.Equal(t, state.Confirmed, h.post(t, "p1").LikesState)
	assert.Equal(t, []EventKind{EventUnconfirmed}, h.events.kinds())
	_, ok, _ := h.marks.Get(state.Key{Entity: "p1", Field: state.FieldLikes})
	assert.False(t, ok)
}

func TestAuthFailure_RollsBackAndInvalidatesSession(t *testing.T) {
	h := newHarness(t)

	p := h.dispatch(t, Like("p1"))
	h.remote.next(t).fail(apiErr(http.StatusUnauthorized, "expired"))
	out := wait(t, p)

	assert.Equal(t, retry.ClassAuth, out.Class)
	assert.True(t, out.RolledBack)
	assert.Empty(t, h.post(t, "p1").Likes)
	assert.Equal(t, []EventKind{EventFailed, EventSessionInvalid}, h.events.kinds())

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, 1, h.invalid)
}

func TestValidationFailure_SurfacesMessageVerbatim(t *testing.T) {
	h := newHarness(t)

	p := h.dispatch(t, EditComment("p1", "c1", "changed"))
	assert.Equal(t, "changed", h.comment(t, "c1").Body.Content)

	h.remote.next(t).fail(apiErr(http.StatusUnprocessableEntity, "Comment contains a banned word"))
	out := wait(t, p)

	assert.Equal(t, retry.ClassValidation, out.Class)
	assert.Equal(t, "Comment contains a banned word", h.events.last().Message)
	assert.Equal(t, state.CommentBody{Content: "first"}, h.comment(t, "c1").Body)
}

func TestEdit_RetriesTransientFailures(t *testing.T) {
	h := newHarness(t)

	p := h.dispatch(t, EditComment("p1", "c1", "  changed  "))
	c := h.remote.next(t)
	assert.Equal(t, "changed", c.content)
	c.fail(reset())
	h.remote.next(t).ok(remoteResult{comment: feedapi.Comment{ID: "c1", PostID: "p1", Content: "changed", Edited: true}})

	out := wait(t, p)
	assert.Equal(t, StatusSucceeded, out.Status)
	assert.Equal(t, 2, out.Attempts)

	cv := h.comment(t, "c1")
	assert.Equal(t, state.CommentBody{Content: "changed", Edited: true}, cv.Body)
	assert.Equal(t, state.Confirmed, cv.BodyState)
}

func TestEdit_GivesUpAfterTwoRetries(t *testing.T) {
	h := newHarness(t)

	p := h.dispatch(t, EditComment("p1", "c1", "changed"))
	for range 3 {
		h.remote.next(t).fail(reset())
	}
	out := wait(t, p)
	assert.Equal(t, 3, out.Attempts)
	assert.True(t, out.RolledBack)
	assert.Equal(t, "first", h.comment(t, "c1").Body.Content)
	h.remote.assertIdle(t)
}

func TestCreateComment_ReplacesTemporaryComment(t *testing.T) {
	h := newHarness(t)

	p := h.dispatch(t, CreateComment("p1", "hi there"))
	pv := h.post(t, "p1")
	require.Len(t, pv.Comments, 2)
	tmp := pv.Comments[1]
	assert.True(t, tmp.Local)
	assert.True(t, strings.HasPrefix(string(tmp.ID), localIDPrefix))
	assert.Equal(t, "hi there", tmp.Body.Content)
	assert.Equal(t, state.Pending, pv.CommentState)

	h.remote.next(t).ok(remoteResult{comment: feedapi.Comment{ID: "c9", PostID: "p1", Content: "hi there"}})
	out := wait(t, p)
	assert.Equal(t, state.EntityID("c9"), out.CommentID)

	pv = h.post(t, "p1")
	require.Len(t, pv.Comments, 2)
	assert.Equal(t, state.EntityID("c9"), pv.Comments[1].ID)
	assert.False(t, pv.Comments[1].Local)
	assert.Equal(t, state.Confirmed, pv.CommentState)
	_, ok := h.engine.VisibleState(tmp.ID)
	assert.False(t, ok, "temporary comment still present")
}

func TestCreateComment_FailureRemovesTemporaryComment(t *testing.T) {
	h := newHarness(t)

	p := h.dispatch(t, CreateComment("p1", "hi there"))
	tmp := h.post(t, "p1").Comments[1].ID

	h.remote.next(t).fail(apiErr(http.StatusServiceUnavailable, ""))
	out := wait(t, p)
	assert.True(t, out.RolledBack)
	assert.False(t, out.Unconfirmed, "create is not a toggle")

	pv := h.post(t, "p1")
	require.Len(t, pv.Comments, 1)
	assert.Equal(t, state.EntityID("c1"), pv.Comments[0].ID)
	_, ok := h.engine.VisibleState(tmp)
	assert.False(t, ok)
}

func TestDeleteComment(t *testing.T) {
	t.Run("success removes record", func(t *testing.T) {
		h := newHarness(t)
		p := h.dispatch(t, DeleteComment("p1", "c1"))
		assert.Empty(t, h.post(t, "p1").Comments)

		h.remote.next(t).ok(remoteResult{})
		wait(t, p)
		assert.Empty(t, h.post(t, "p1").Comments)
		_, ok := h.engine.VisibleState("c1")
		assert.False(t, ok)
	})

	t.Run("server fault restores", func(t *testing.T) {
		h := newHarness(t)
		p := h.dispatch(t, DeleteComment("p1", "c1"))
		h.remote.next(t).fail(apiErr(http.StatusInternalServerError, ""))
		out := wait(t, p)

		assert.Equal(t, 1, out.Attempts, "server faults are not retried for mutations")
		pv := h.post(t, "p1")
		require.Len(t, pv.Comments, 1)
		assert.Equal(t, "first", pv.Comments[0].Body.Content)
	})
}

func TestDispatch_RejectsBadInputWithoutWriting(t *testing.T) {
	h := newHarness(t)
	before := h.engine.Cache().Version()

	tests := []struct {
		name string
		a    Action
	}{
		{"empty comment", CreateComment("p1", "   ")},
		{"too long", CreateComment("p1", strings.Repeat("é", MaxCommentRunes+1))},
		{"missing comment id", Action{Kind: ActionCommentLike, PostID: "p1"}},
		{"unknown kind", Action{Kind: "share", PostID: "p1"}},
	}
	for _, tt := range tests {
		_, err := h.engine.Dispatch(context.Background(), tt.a)
		var ve *retry.ValidationError
		assert.ErrorAs(t, err, &ve, tt.name)
	}

	assert.Equal(t, before, h.engine.Cache().Version(), "rejected actions wrote to the cache")

	p, err := h.engine.Dispatch(context.Background(), CreateComment("p1", strings.Repeat("é", MaxCommentRunes)))
	require.NoError(t, err, "limit counts characters, not bytes")
	h.remote.next(t).fail(reset())
	wait(t, p)
}

func TestDispatch_NotDisplayed(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Dispatch(context.Background(), Like("p404"))
	assert.ErrorIs(t, err, ErrNotDisplayed)
	_, err = h.engine.Dispatch(context.Background(), CommentLike("p1", "c404"))
	assert.ErrorIs(t, err, ErrNotDisplayed)
	h.remote.assertIdle(t)
}

func TestSettlementAfterTeardownIsNoop(t *testing.T) {
	h := newHarness(t)

	p := h.dispatch(t, Like("p1"))
	h.engine.Apply(state.LocationFeed, nil, nil)
	_, ok := h.engine.VisibleState("p1")
	require.False(t, ok)

	h.remote.next(t).ok(remoteResult{likes: []string{"me"}})
	out := wait(t, p)
	assert.Equal(t, StatusSucceeded, out.Status)
	_, ok = h.engine.VisibleState("p1")
	assert.False(t, ok)
}

func TestRefreshSkipsPendingFields(t *testing.T) {
	h := newHarness(t)

	p := h.dispatch(t, Like("p1"))
	posts, comments := seedPosts()
	posts[0].Likes = []string{"someone"}
	posts[0].Content = "hello again"
	h.engine.Apply(state.LocationFeed, posts, comments)

	pv := h.post(t, "p1")
	assert.Equal(t, state.NewUserSet(me), pv.Likes, "refresh overwrote a pending value")
	assert.Equal(t, "hello again", pv.Content)

	h.remote.next(t).ok(remoteResult{likes: []string{"me", "someone"}})
	wait(t, p)
	assert.Equal(t, state.NewUserSet(me, "someone"), h.post(t, "p1").Likes)
}

func TestLocationsStayInSync(t *testing.T) {
	h := newHarness(t)
	h.engine.Cache().Show(state.LocationDetail, "p1")

	feedCh, cancel := h.engine.Cache().Subscribe(state.LocationDetail)
	defer cancel()

	p := h.dispatch(t, Like("p1"))
	select {
	case <-feedCh:
	case <-time.After(time.Second):
		t.Fatal("detail location not notified")
	}
	feed := h.engine.Cache().Feed(state.LocationFeed)[0]
	detail := h.engine.Cache().Feed(state.LocationDetail)[0]
	assert.Equal(t, feed.Likes, detail.Likes)

	h.remote.next(t).fail(reset())
	wait(t, p)
	feed = h.engine.Cache().Feed(state.LocationFeed)[0]
	detail = h.engine.Cache().Feed(state.LocationDetail)[0]
	assert.Equal(t, feed.Likes, detail.Likes)
	assert.Empty(t, detail.Likes)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{Remote: newFakeRemote()})
	assert.Error(t, err)
	_, err = New(Options{Cache: state.NewCache()})
	assert.Error(t, err)
	_, err = New(Options{Cache: state.NewCache(), Remote: newFakeRemote(), Retry: retry.Config{MaxRetries: -1}})
	assert.ErrorIs(t, err, retry.ErrInvalidConfig)
}

// pair takes the next two calls and returns the one named op first.
func (f *fakeRemote) pair(t *testing.T, op string) (*remoteCall, *remoteCall) {
	t.Helper()
	a, b := f.next(t), f.next(t)
	if a.op != op {
		a, b = b, a
	}
	require.Equal(t, op, a.op)
	return a, b
}

func commentIDs(pv state.PostView) []state.EntityID {
	ids := make([]state.EntityID, 0, len(pv.Comments))
	for _, c := range pv.Comments {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestComments_FailedDeleteUnderNewerCreate(t *testing.T) {
	orders := []struct {
		name        string
		deleteFirst bool
	}{
		{name: "delete settles first", deleteFirst: true},
		{name: "create settles first", deleteFirst: false},
	}
	for _, tt := range orders {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			del := h.dispatch(t, DeleteComment("p1", "c1"))
			create := h.dispatch(t, CreateComment("p1", "hi"))
			pv := h.post(t, "p1")
			require.Len(t, pv.Comments, 1)
			tmp := pv.Comments[0].ID
			assert.True(t, pv.Comments[0].Local)

			delCall, createCall := h.remote.pair(t, "delete")
			created := remoteResult{comment: feedapi.Comment{ID: "c9", PostID: "p1", Content: "hi"}}
			if tt.deleteFirst {
				delCall.fail(apiErr(http.StatusBadRequest, "cannot delete"))
				out := wait(t, del)
				assert.True(t, out.Stale)
				assert.Equal(t, []state.EntityID{"c1", tmp}, commentIDs(h.post(t, "p1")), "failed delete must put the comment back")

				createCall.ok(created)
				wait(t, create)
			} else {
				createCall.ok(created)
				wait(t, create)
				delCall.fail(apiErr(http.StatusBadRequest, "cannot delete"))
				wait(t, del)
			}

			pv = h.post(t, "p1")
			assert.Equal(t, []state.EntityID{"c1", "c9"}, commentIDs(pv))
			assert.Equal(t, state.Confirmed, pv.CommentState)
			assert.Equal(t, "first", h.comment(t, "c1").Body.Content)
		})
	}
}

func TestComments_FailedCreateUnderNewerDelete(t *testing.T) {
	orders := []struct {
		name        string
		createFirst bool
	}{
		{name: "create settles first", createFirst: true},
		{name: "delete settles first", createFirst: false},
	}
	for _, tt := range orders {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			create := h.dispatch(t, CreateComment("p1", "hi"))
			tmp := h.post(t, "p1").Comments[1].ID
			del := h.dispatch(t, DeleteComment("p1", "c1"))

			createCall, delCall := h.remote.pair(t, "create")
			if tt.createFirst {
				createCall.fail(apiErr(http.StatusBadRequest, "cannot comment"))
				out := wait(t, create)
				assert.True(t, out.Stale)
				assert.Empty(t, h.post(t, "p1").Comments, "failed create left its comment behind")

				delCall.ok(remoteResult{})
				wait(t, del)
			} else {
				delCall.ok(remoteResult{})
				wait(t, del)
				createCall.fail(apiErr(http.StatusBadRequest, "cannot comment"))
				wait(t, create)
			}

			pv := h.post(t, "p1")
			assert.Empty(t, pv.Comments)
			assert.Equal(t, state.Confirmed, pv.CommentState)

			fs, ok := h.engine.Cache().Read(state.Key{Entity: "p1", Field: state.FieldComments})
			require.True(t, ok)
			assert.Empty(t, fs.Value)
			assert.Equal(t, state.Confirmed, fs.Confirmation)
			_, ok = h.engine.VisibleState(tmp)
			assert.False(t, ok)
		})
	}
}

func TestRefreshRecreatesPendingFieldAfterTeardown(t *testing.T) {
	key := state.Key{Entity: "p1", Field: state.FieldLikes}
	reshow := func(h *harness, likes ...string) {
		h.engine.Apply(state.LocationFeed, nil, nil)
		posts, comments := seedPosts()
		posts[0].Likes = likes
		h.engine.Apply(state.LocationFeed, posts, comments)
	}

	t.Run("success lands", func(t *testing.T) {
		h := newHarness(t)

		p := h.dispatch(t, Like("p1"))
		reshow(h)
		fs, ok := h.engine.Cache().Read(key)
		require.True(t, ok, "refresh did not load the field back")
		assert.Empty(t, fs.Value)
		assert.Equal(t, state.Confirmed, fs.Confirmation)

		h.remote.next(t).ok(remoteResult{likes: []string{"me"}})
		assert.Equal(t, StatusSucceeded, wait(t, p).Status)
		pv := h.post(t, "p1")
		assert.Equal(t, state.NewUserSet(me), pv.Likes)
		assert.Equal(t, state.Confirmed, pv.LikesState)

		p = h.dispatch(t, Like("p1"))
		h.remote.next(t).ok(remoteResult{})
		wait(t, p)
		assert.Empty(t, h.post(t, "p1").Likes)
	})

	t.Run("failure does not restore over the new load", func(t *testing.T) {
		h := newHarness(t)

		p := h.dispatch(t, Like("p1"))
		reshow(h, "someone")

		h.remote.next(t).fail(apiErr(http.StatusBadRequest, "nope"))
		out := wait(t, p)
		assert.False(t, out.RolledBack)
		pv := h.post(t, "p1")
		assert.Equal(t, state.NewUserSet("someone"), pv.Likes)
		assert.Equal(t, state.Confirmed, pv.LikesState)
	})
}

func TestReactions_KeptToggleReturnsWithItsMark(t *testing.T) {
	h := newHarness(t)
	key := state.Key{Entity: "c1", Field: state.FieldReactions}

	dislike := h.dispatch(t, CommentDislike("p1", "c1"))
	like := h.dispatch(t, CommentLike("p1", "c1"))
	dislikeCall, likeCall := h.remote.pair(t, "comment_dislike")

	dislikeCall.fail(apiErr(http.StatusBadGateway, "upstream"))
	out := wait(t, dislike)
	assert.True(t, out.Stale)
	assert.True(t, out.Unconfirmed)
	_, ok, _ := h.marks.Get(key)
	assert.False(t, ok, "hidden value must not be marked yet")

	likeCall.fail(apiErr(http.StatusBadRequest, "cannot like"))
	out = wait(t, like)
	assert.True(t, out.RolledBack)

	cv := h.comment(t, "c1")
	assert.Equal(t, state.NewUserSet(me), cv.Reactions.Dislikes)
	assert.Empty(t, cv.Reactions.Likes)
	assert.Equal(t, state.Unconfirmed, cv.ReactionsState)

	mark, ok, _ := h.marks.Get(key)
	require.True(t, ok)
	assert.Equal(t, string(ActionCommentDislike), mark.Action)
	assert.True(t, mark.Value().Equal(cv.Reactions))

	posts, comments := seedPosts()
	h.engine.Apply(state.LocationFeed, posts, comments)

	cv = h.comment(t, "c1")
	assert.Empty(t, cv.Reactions.Dislikes)
	assert.Equal(t, state.Confirmed, cv.ReactionsState)
	last := h.events.last()
	assert.Equal(t, EventNotPersisted, last.Kind)
	assert.Equal(t, ActionCommentDislike, last.Action)
	_, ok, _ = h.marks.Get(key)
	assert.False(t, ok)
}

func TestMetrics_CountOutcomes(t *testing.T) {
	h := newHarness(t)
	m := h.metrics

	p := h.dispatch(t, Like("p1"))
	h.remote.next(t).ok(remoteResult{likes: []string{"me"}})
	wait(t, p)

	p = h.dispatch(t, Like("p2"))
	h.remote.next(t).fail(apiErr(http.StatusBadRequest, "nope"))
	wait(t, p)

	p = h.dispatch(t, Like("p1"))
	h.remote.next(t).fail(apiErr(http.StatusBadGateway, "upstream"))
	wait(t, p)

	dislike := h.dispatch(t, CommentDislike("p1", "c1"))
	like := h.dispatch(t, CommentLike("p1", "c1"))
	dislikeCall, likeCall := h.remote.pair(t, "comment_dislike")
	dislikeCall.ok(remoteResult{dislikes: []string{"me"}})
	wait(t, dislike)
	likeCall.ok(remoteResult{likes: []string{"me"}})
	wait(t, like)

	p = h.dispatch(t, EditComment("p1", "c1", "changed"))
	h.remote.next(t).fail(reset())
	h.remote.next(t).ok(remoteResult{comment: feedapi.Comment{ID: "c1", PostID: "p1", Content: "changed", Edited: true}})
	wait(t, p)

	assert.Equal(t, 6, testutil.CollectAndCount(m.mutations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("like", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("like", "rolled_back")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("like", "unconfirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("comment_dislike", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("comment_like", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("comment_edit", "succeeded")))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.stale.WithLabelValues("comment_dislike")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.stale.WithLabelValues("comment_like")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("comment_edit")))
	assert.Equal(t, 4, testutil.CollectAndCount(m.duration))
}
