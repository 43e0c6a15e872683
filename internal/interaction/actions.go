package interaction

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/five82/threadline/internal/feedapi"
	"github.com/five82/threadline/internal/retry"
	"github.com/five82/threadline/internal/state"
)

// ActionKind names a user interaction.
type ActionKind string

const (
	ActionLike           ActionKind = "like"
	ActionCommentLike    ActionKind = "comment_like"
	ActionCommentDislike ActionKind = "comment_dislike"
	ActionCommentCreate  ActionKind = "comment_create"
	ActionCommentEdit    ActionKind = "comment_edit"
	ActionCommentDelete  ActionKind = "comment_delete"
)

// MaxCommentRunes bounds comment content.
const MaxCommentRunes = 2000

// Action is one user intent. PostID is always set; CommentID is set for
// actions on an existing comment; Content for create and edit.
type Action struct {
	Kind      ActionKind
	PostID    state.EntityID
	CommentID state.EntityID
	Content   string
}

// Like toggles the user's like on a post.
func Like(postID state.EntityID) Action {
	return Action{Kind: ActionLike, PostID: postID}
}

// CommentLike toggles the user's like on a comment.
func CommentLike(postID, commentID state.EntityID) Action {
	return Action{Kind: ActionCommentLike, PostID: postID, CommentID: commentID}
}

// CommentDislike toggles the user's dislike on a comment.
func CommentDislike(postID, commentID state.EntityID) Action {
	return Action{Kind: ActionCommentDislike, PostID: postID, CommentID: commentID}
}

// CreateComment adds a comment to a post.
func CreateComment(postID state.EntityID, content string) Action {
	return Action{Kind: ActionCommentCreate, PostID: postID, Content: content}
}

// EditComment replaces a comment's content.
func EditComment(postID, commentID state.EntityID, content string) Action {
	return Action{Kind: ActionCommentEdit, PostID: postID, CommentID: commentID, Content: content}
}

// DeleteComment removes a comment.
func DeleteComment(postID, commentID state.EntityID) Action {
	return Action{Kind: ActionCommentDelete, PostID: postID, CommentID: commentID}
}

// reply folds a remote response into the field it settles.
type reply struct {
	// authority maps a value of the field to its server-confirmed form.
	authority func(state.Value) state.Value
	// comment is the server record returned by create and edit.
	comment *feedapi.Comment
}

type actionRule struct {
	policy retry.Policy
	field  state.Field
	// needsComment is true for actions that target an existing comment.
	needsComment bool
	// onPost is true when the mutated field belongs to the post.
	onPost bool
	apply  func(m *mutation, cur state.Value) (state.Value, error)
	call   func(ctx context.Context, r feedapi.Remote, m *mutation) (reply, error)
	// undo takes this action's own change back out of v. It is set for
	// fields that different action kinds write.
	undo func(m *mutation, v state.Value) state.Value
}

var rules = map[ActionKind]*actionRule{
	ActionLike: {
		policy: retry.Policy{Name: string(ActionLike), Toggle: true},
		field:  state.FieldLikes,
		onPost: true,
		apply: func(m *mutation, cur state.Value) (state.Value, error) {
			set, err := asUserSet(cur)
			if err != nil {
				return nil, err
			}
			return set.Toggle(m.user), nil
		},
		call: func(ctx context.Context, r feedapi.Remote, m *mutation) (reply, error) {
			resp, err := r.ToggleLike(ctx, string(m.action.PostID))
			if err != nil {
				return reply{}, err
			}
			likes := userSet(resp.Likes)
			return reply{authority: constant(likes)}, nil
		},
	},
	ActionCommentLike: {
		policy:       retry.Policy{Name: string(ActionCommentLike), Toggle: true},
		field:        state.FieldReactions,
		needsComment: true,
		apply: func(m *mutation, cur state.Value) (state.Value, error) {
			r, err := asReactions(cur)
			if err != nil {
				return nil, err
			}
			return r.Like(m.user), nil
		},
		call: func(ctx context.Context, r feedapi.Remote, m *mutation) (reply, error) {
			resp, err := r.ToggleCommentLike(ctx, string(m.action.PostID), string(m.action.CommentID))
			if err != nil {
				return reply{}, err
			}
			return reply{authority: constant(reactions(resp.Likes, resp.Dislikes))}, nil
		},
	},
	ActionCommentDislike: {
		policy:       retry.Policy{Name: string(ActionCommentDislike), Toggle: true},
		field:        state.FieldReactions,
		needsComment: true,
		apply: func(m *mutation, cur state.Value) (state.Value, error) {
			r, err := asReactions(cur)
			if err != nil {
				return nil, err
			}
			return r.Dislike(m.user), nil
		},
		call: func(ctx context.Context, r feedapi.Remote, m *mutation) (reply, error) {
			resp, err := r.ToggleCommentDislike(ctx, string(m.action.PostID), string(m.action.CommentID))
			if err != nil {
				return reply{}, err
			}
			return reply{authority: constant(reactions(resp.Likes, resp.Dislikes))}, nil
		},
	},
	ActionCommentCreate: {
		policy: retry.Policy{Name: string(ActionCommentCreate)},
		field:  state.FieldComments,
		onPost: true,
		apply: func(m *mutation, cur state.Value) (state.Value, error) {
			list, err := asCommentList(cur)
			if err != nil {
				return nil, err
			}
			return list.Append(m.tempID), nil
		},
		undo: func(m *mutation, v state.Value) state.Value {
			list, _ := v.(state.CommentList)
			return list.Remove(m.tempID)
		},
		call: func(ctx context.Context, r feedapi.Remote, m *mutation) (reply, error) {
			cm, err := r.CreateComment(ctx, string(m.action.PostID), m.action.Content)
			if err != nil {
				return reply{}, err
			}
			tmp, id := m.tempID, state.EntityID(cm.ID)
			return reply{
				authority: func(v state.Value) state.Value {
					list, _ := v.(state.CommentList)
					return list.Replace(tmp, id)
				},
				comment: &cm,
			}, nil
		},
	},
	ActionCommentEdit: {
		policy:       retry.Policy{Name: string(ActionCommentEdit), Idempotent: true},
		field:        state.FieldBody,
		needsComment: true,
		apply: func(m *mutation, cur state.Value) (state.Value, error) {
			if _, ok := cur.(state.CommentBody); !ok {
				return nil, fmt.Errorf("%w: body is %T", errFieldType, cur)
			}
			return state.CommentBody{Content: m.action.Content, Edited: true}, nil
		},
		call: func(ctx context.Context, r feedapi.Remote, m *mutation) (reply, error) {
			cm, err := r.EditComment(ctx, string(m.action.PostID), string(m.action.CommentID), m.action.Content)
			if err != nil {
				return reply{}, err
			}
			return reply{
				authority: constant(state.CommentBody{Content: cm.Content, Edited: cm.Edited}),
				comment:   &cm,
			}, nil
		},
	},
	ActionCommentDelete: {
		policy:       retry.Policy{Name: string(ActionCommentDelete), Idempotent: true},
		field:        state.FieldComments,
		needsComment: true,
		onPost:       true,
		apply: func(m *mutation, cur state.Value) (state.Value, error) {
			list, err := asCommentList(cur)
			if err != nil {
				return nil, err
			}
			m.removedAt = slices.Index(list, m.action.CommentID)
			if m.removedAt > 0 {
				m.removedAfter = list[m.removedAt-1]
			}
			return list.Remove(m.action.CommentID), nil
		},
		undo: func(m *mutation, v state.Value) state.Value {
			list, _ := v.(state.CommentList)
			if m.removedAt < 0 {
				return list.Clone()
			}
			return list.InsertAfter(m.action.CommentID, m.removedAfter, m.removedAt)
		},
		call: func(ctx context.Context, r feedapi.Remote, m *mutation) (reply, error) {
			if err := r.DeleteComment(ctx, string(m.action.PostID), string(m.action.CommentID)); err != nil {
				return reply{}, err
			}
			id := m.action.CommentID
			return reply{authority: func(v state.Value) state.Value {
				list, _ := v.(state.CommentList)
				return list.Remove(id)
			}}, nil
		},
	},
}

// target is the entity owning the mutated field.
func (s *actionRule) target(a Action) state.EntityID {
	if s.onPost {
		return a.PostID
	}
	return a.CommentID
}

// guardEntity scopes the in-flight guard.
func (s *actionRule) guardEntity(a Action) state.EntityID {
	if s.needsComment {
		return a.CommentID
	}
	return a.PostID
}

type commentInput struct {
	Content string `validate:"required,max=2000"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateAction(a Action) error {
	rule, ok := rules[a.Kind]
	if !ok {
		return &retry.ValidationError{Message: fmt.Sprintf("unknown action %q", a.Kind)}
	}
	if a.PostID == "" {
		return &retry.ValidationError{Message: "post id is required"}
	}
	if rule.needsComment && a.CommentID == "" {
		return &retry.ValidationError{Message: "comment id is required"}
	}
	if a.Kind != ActionCommentCreate && a.Kind != ActionCommentEdit {
		return nil
	}

	err := validate.Struct(commentInput{Content: strings.TrimSpace(a.Content)})
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Tag() {
		case "required":
			return &retry.ValidationError{Message: "comment cannot be empty", Err: err}
		case "max":
			return &retry.ValidationError{Message: fmt.Sprintf("comment is longer than %d characters", MaxCommentRunes), Err: err}
		}
	}
	return &retry.ValidationError{Message: err.Error(), Err: err}
}

func constant(v state.Value) func(state.Value) state.Value {
	return func(state.Value) state.Value { return v }
}

func asUserSet(v state.Value) (state.UserSet, error) {
	set, ok := v.(state.UserSet)
	if !ok {
		return nil, fmt.Errorf("%w: likes is %T", errFieldType, v)
	}
	return set, nil
}

func asReactions(v state.Value) (state.Reactions, error) {
	r, ok := v.(state.Reactions)
	if !ok {
		return state.Reactions{}, fmt.Errorf("%w: reactions is %T", errFieldType, v)
	}
	return r, nil
}

func asCommentList(v state.Value) (state.CommentList, error) {
	list, ok := v.(state.CommentList)
	if !ok {
		return nil, fmt.Errorf("%w: comments is %T", errFieldType, v)
	}
	return list, nil
}
