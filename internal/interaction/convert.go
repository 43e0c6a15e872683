package interaction

import (
	"github.com/five82/threadline/internal/feedapi"
	"github.com/five82/threadline/internal/state"
)

func userSet(ids []string) state.UserSet {
	out := make([]state.UserID, 0, len(ids))
	for _, id := range ids {
		out = append(out, state.UserID(id))
	}
	return state.NewUserSet(out...)
}

func reactions(likes, dislikes []string) state.Reactions {
	return state.Reactions{Likes: userSet(likes), Dislikes: userSet(dislikes)}
}

func commentList(ids []string) state.CommentList {
	out := make(state.CommentList, 0, len(ids))
	for _, id := range ids {
		out = append(out, state.EntityID(id))
	}
	return out
}

func postRecord(p feedapi.Post) state.Post {
	return state.Post{
		ID:        state.EntityID(p.ID),
		Author:    state.UserRef{ID: state.UserID(p.Author.ID), Name: p.Author.Name},
		Content:   p.Content,
		Media:     p.Media,
		Edited:    p.Edited,
		CreatedAt: p.ParsedCreatedAt(),
	}
}

func commentRecord(c feedapi.Comment) (state.Comment, state.Reactions, state.CommentBody) {
	return state.Comment{
			ID:        state.EntityID(c.ID),
			PostID:    state.EntityID(c.PostID),
			Author:    state.UserRef{ID: state.UserID(c.Author.ID), Name: c.Author.Name},
			CreatedAt: c.ParsedCreatedAt(),
		},
		reactions(c.Likes, c.Dislikes),
		state.CommentBody{Content: c.Content, Edited: c.Edited}
}
