package state

// PostView is the projection of a post every location renders.
type PostView struct {
	Post
	Likes        UserSet
	LikesState   Confirmation
	Comments     []CommentView
	CommentState Confirmation
}

// CommentView is the projection of a comment.
type CommentView struct {
	Comment
	Reactions      Reactions
	ReactionsState Confirmation
	Body           CommentBody
	BodyState      Confirmation
}

// LikedBy reports whether user likes the post.
func (p PostView) LikedBy(user UserID) bool {
	return p.Likes.Has(user)
}

// Post projects one post with its comments, in list order.
func (c *Cache) Post(id EntityID) (PostView, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.postView(id)
}

// Comment projects one comment.
func (c *Cache) Comment(id EntityID) (CommentView, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.commentView(id)
}

// Feed projects the posts of a location in display order.
func (c *Cache) Feed(loc Location) []PostView {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.shown[loc]
	out := make([]PostView, 0, len(ids))
	for _, id := range ids {
		if pv, ok := c.postView(id); ok {
			out = append(out, pv)
		}
	}
	return out
}

func (c *Cache) postView(id EntityID) (PostView, bool) {
	p, ok := c.posts[id]
	if !ok {
		return PostView{}, false
	}
	pv := PostView{Post: p}
	if fs, ok := c.fields[Key{id, FieldLikes}]; ok {
		pv.Likes, _ = fs.Value.(UserSet)
		pv.LikesState = fs.Confirmation
	}
	if fs, ok := c.fields[Key{id, FieldComments}]; ok {
		list, _ := fs.Value.(CommentList)
		pv.CommentState = fs.Confirmation
		for _, cid := range list {
			if cv, ok := c.commentView(cid); ok {
				pv.Comments = append(pv.Comments, cv)
			}
		}
	}
	return pv, true
}

func (c *Cache) commentView(id EntityID) (CommentView, bool) {
	cm, ok := c.comments[id]
	if !ok {
		return CommentView{}, false
	}
	cv := CommentView{Comment: cm}
	if fs, ok := c.fields[Key{id, FieldReactions}]; ok {
		cv.Reactions, _ = fs.Value.(Reactions)
		cv.ReactionsState = fs.Confirmation
	}
	if fs, ok := c.fields[Key{id, FieldBody}]; ok {
		cv.Body, _ = fs.Value.(CommentBody)
		cv.BodyState = fs.Confirmation
	}
	return cv, true
}

// Entity is the projection of either a post or a comment.
type Entity struct {
	Post    *PostView
	Comment *CommentView
}

// Entity projects id as whichever kind of entity it is.
func (c *Cache) Entity(id EntityID) (Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if pv, ok := c.postView(id); ok {
		return Entity{Post: &pv}, true
	}
	if cv, ok := c.commentView(id); ok {
		return Entity{Comment: &cv}, true
	}
	return Entity{}, false
}
