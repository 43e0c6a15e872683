package state

import (
	"slices"
	"time"
)

// EntityID identifies a post or a comment.
type EntityID string

// UserID identifies a user.
type UserID string

// Field names one interaction field of an entity.
type Field string

const (
	// FieldLikes is a post's liking users.
	FieldLikes Field = "likes"
	// FieldComments is a post's ordered comment ids. Comment create and delete share it.
	FieldComments Field = "comments"
	// FieldReactions is a comment's likes/dislikes pair. Comment like and dislike share it.
	FieldReactions Field = "reactions"
	// FieldBody is a comment's content and edited flag.
	FieldBody Field = "body"
)

// Key addresses one canonical value.
type Key struct {
	Entity EntityID
	Field  Field
}

func (k Key) String() string {
	return string(k.Entity) + "/" + string(k.Field)
}

// Confirmation tags how far a value has been confirmed by the server.
type Confirmation int

const (
	Confirmed Confirmation = iota
	Pending
	// Unconfirmed marks a value kept after a failure that could not be safely retried.
	Unconfirmed
)

func (c Confirmation) String() string {
	switch c {
	case Pending:
		return "pending"
	case Unconfirmed:
		return "unconfirmed"
	default:
		return "confirmed"
	}
}

// Value is a canonical interaction value. Implementations are immutable once
// written; Clone exists for callers that want to build a modified copy.
type Value interface {
	Clone() Value
	Equal(Value) bool
}

// UserSet is a sorted set of user ids.
type UserSet []UserID

// NewUserSet returns a normalized set of ids.
func NewUserSet(ids ...UserID) UserSet {
	out := make(UserSet, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Has reports membership.
func (s UserSet) Has(id UserID) bool {
	_, found := slices.BinarySearch(s, id)
	return found
}

// With returns a copy of s containing id.
func (s UserSet) With(id UserID) UserSet {
	if s.Has(id) {
		return slices.Clone(s)
	}
	return NewUserSet(append(slices.Clone(s), id)...)
}

// Without returns a copy of s without id.
func (s UserSet) Without(id UserID) UserSet {
	out := make(UserSet, 0, len(s))
	for _, v := range s {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Toggle flips membership of id.
func (s UserSet) Toggle(id UserID) UserSet {
	if s.Has(id) {
		return s.Without(id)
	}
	return s.With(id)
}

func (s UserSet) Clone() Value { return slices.Clone(s) }

func (s UserSet) Equal(v Value) bool {
	o, ok := v.(UserSet)
	return ok && slices.Equal(s, o)
}

// Reactions is a comment's likes and dislikes. A user appears in at most one of them.
type Reactions struct {
	Likes    UserSet
	Dislikes UserSet
}

// Like toggles id in Likes and clears it from Dislikes.
func (r Reactions) Like(id UserID) Reactions {
	return Reactions{Likes: r.Likes.Toggle(id), Dislikes: r.Dislikes.Without(id)}
}

// Dislike toggles id in Dislikes and clears it from Likes.
func (r Reactions) Dislike(id UserID) Reactions {
	return Reactions{Likes: r.Likes.Without(id), Dislikes: r.Dislikes.Toggle(id)}
}

func (r Reactions) Clone() Value {
	return Reactions{Likes: slices.Clone(r.Likes), Dislikes: slices.Clone(r.Dislikes)}
}

func (r Reactions) Equal(v Value) bool {
	o, ok := v.(Reactions)
	return ok && slices.Equal(r.Likes, o.Likes) && slices.Equal(r.Dislikes, o.Dislikes)
}

// CommentList is an ordered list of comment ids.
type CommentList []EntityID

// Contains reports whether id is present.
func (l CommentList) Contains(id EntityID) bool {
	return slices.Contains(l, id)
}

// Append returns a copy with id at the end.
func (l CommentList) Append(id EntityID) CommentList {
	return append(slices.Clone(l), id)
}

// Remove returns a copy without id.
func (l CommentList) Remove(id EntityID) CommentList {
	out := make(CommentList, 0, len(l))
	for _, v := range l {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// InsertAfter returns a copy with id placed right after the id after. An
// empty or missing after falls back to index at, clamped to the list. A list
// that already holds id is returned unchanged.
func (l CommentList) InsertAfter(id, after EntityID, at int) CommentList {
	if l.Contains(id) {
		return slices.Clone(l)
	}
	if after != "" {
		if i := slices.Index(l, after); i >= 0 {
			at = i + 1
		}
	} else {
		at = 0
	}
	at = min(max(at, 0), len(l))
	return slices.Insert(slices.Clone(l), at, id)
}

// Replace returns a copy with old swapped for repl in place. When old is
// missing, repl is appended unless already present.
func (l CommentList) Replace(old, repl EntityID) CommentList {
	out := slices.Clone(l)
	for i, v := range out {
		if v == old {
			out[i] = repl
			return out
		}
	}
	if out.Contains(repl) {
		return out
	}
	return append(out, repl)
}

func (l CommentList) Clone() Value { return slices.Clone(l) }

func (l CommentList) Equal(v Value) bool {
	o, ok := v.(CommentList)
	return ok && slices.Equal(l, o)
}

// CommentBody is a comment's editable content.
type CommentBody struct {
	Content string
	Edited  bool
}

func (b CommentBody) Clone() Value { return b }

func (b CommentBody) Equal(v Value) bool {
	o, ok := v.(CommentBody)
	return ok && o == b
}

// UserRef is a post or comment author.
type UserRef struct {
	ID   UserID
	Name string
}

// Post holds the read-only parts of a post.
type Post struct {
	ID        EntityID
	Author    UserRef
	Content   string
	Media     []string
	Edited    bool
	CreatedAt time.Time
}

// Comment holds the read-only parts of a comment.
type Comment struct {
	ID        EntityID
	PostID    EntityID
	Author    UserRef
	CreatedAt time.Time
	// Local marks a comment created optimistically that has no server id yet.
	Local bool
}
