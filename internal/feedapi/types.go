package feedapi

import (
	"time"
)

const legacyTimestampLayout = "2006-01-02 15:04:05"

// User mirrors an author reference.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Post mirrors a post as returned by /api/feed and /api/posts/{id}.
type Post struct {
	ID        string   `json:"id"`
	Author    User     `json:"author"`
	Content   string   `json:"content"`
	Media     []string `json:"media"`
	Likes     []string `json:"likes"`
	Comments  []string `json:"comments"`
	Edited    bool     `json:"edited"`
	CreatedAt string   `json:"createdAt"`
}

// Comment mirrors a comment.
type Comment struct {
	ID        string   `json:"id"`
	PostID    string   `json:"postId"`
	Author    User     `json:"author"`
	Content   string   `json:"content"`
	Likes     []string `json:"likes"`
	Dislikes  []string `json:"dislikes"`
	Edited    bool     `json:"edited"`
	CreatedAt string   `json:"createdAt"`
}

// FeedResponse mirrors /api/feed.
type FeedResponse struct {
	Posts    []Post    `json:"posts"`
	Comments []Comment `json:"comments"`
}

// PostResponse mirrors /api/posts/{id}.
type PostResponse struct {
	Post     Post      `json:"post"`
	Comments []Comment `json:"comments"`
}

// LikesResponse is the reply to a post like toggle.
type LikesResponse struct {
	Likes []string `json:"likes"`
}

// ReactionsResponse is the reply to a comment like or dislike toggle.
type ReactionsResponse struct {
	Likes    []string `json:"likes"`
	Dislikes []string `json:"dislikes"`
}

type commentRequest struct {
	Content string `json:"content"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ParsedCreatedAt returns the parsed CreatedAt timestamp.
func (p Post) ParsedCreatedAt() time.Time {
	return parseTime(p.CreatedAt)
}

// ParsedCreatedAt returns the parsed CreatedAt timestamp.
func (c Comment) ParsedCreatedAt() time.Time {
	return parseTime(c.CreatedAt)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	if t, err := time.ParseInLocation(legacyTimestampLayout, value, time.Local); err == nil {
		return t
	}
	return time.Time{}
}
