package state

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Location identifies one place where entities are rendered.
type Location string

const (
	LocationFeed   Location = "feed"
	LocationDetail Location = "detail"
)

// FieldState is the canonical value of one field plus its bookkeeping.
type FieldState struct {
	Value        Value
	Confirmation Confirmation
	// Commit stamps the last authoritative write. Stamps come from one
	// counter for the whole cache, so a field dropped and loaded again never
	// repeats an earlier stamp.
	Commit uint64
}

// Change is delivered to location subscribers after a write.
type Change struct {
	Location Location
	Key      Key
	Version  uint64
}

// Status describes the health of the last refresh.
type Status struct {
	LastUpdated         time.Time
	LastError           error
	ConsecutiveFailures int
}

// IsOffline returns true when the API has been unreachable for multiple polls.
func (s Status) IsOffline() bool {
	return s.ConsecutiveFailures >= 2
}

// Cache is the single source of truth for everything the views render. All
// interaction writes go through Write, Commit or CompareAndWrite; views only
// read projections.
type Cache struct {
	mu       sync.RWMutex
	posts    map[EntityID]Post
	comments map[EntityID]Comment
	fields   map[Key]FieldState
	shown    map[Location][]EntityID
	subs     map[Location]map[int]chan Change
	nextSub  int
	version  uint64
	commits  uint64
	status   Status
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		posts:    make(map[EntityID]Post),
		comments: make(map[EntityID]Comment),
		fields:   make(map[Key]FieldState),
		shown:    make(map[Location][]EntityID),
		subs:     make(map[Location]map[int]chan Change),
	}
}

// Show replaces the posts a location displays. Entities no longer shown by
// any location are dropped together with their fields.
func (c *Cache) Show(loc Location, posts ...EntityID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(posts) == 0 {
		delete(c.shown, loc)
	} else {
		c.shown[loc] = slices.Clone(posts)
	}
	c.prune()
	c.version++
	c.notify(loc, Key{}, c.version)
}

// Shown returns the posts a location displays, in order.
func (c *Cache) Shown(loc Location) []EntityID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.shown[loc])
}

// Holders returns the locations currently displaying an entity.
func (c *Cache) Holders(id EntityID) []Location {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.holders(id)
}

// PutPost stores a post record and its fields as server-confirmed values.
// Fields for which skip returns true keep their current value; a skipped
// field that does not exist yet is still loaded. It returns the keys
// actually written. Posts not shown anywhere are ignored.
func (c *Cache) PutPost(p Post, likes UserSet, comments CommentList, skip func(Key) bool) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.holders(p.ID)) == 0 {
		return nil
	}
	c.posts[p.ID] = p
	var written []Key
	for _, kv := range []struct {
		key Key
		val Value
	}{
		{Key{p.ID, FieldLikes}, likes},
		{Key{p.ID, FieldComments}, comments},
	} {
		if c.skipLocked(kv.key, skip) {
			continue
		}
		c.commitLocked(kv.key, kv.val)
		written = append(written, kv.key)
	}
	return written
}

// PutComment stores a comment record and its fields. Server comments are
// committed; local comments are written as pending. skip behaves as in
// PutPost.
func (c *Cache) PutComment(cm Comment, reactions Reactions, body CommentBody, skip func(Key) bool) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.holders(cm.PostID)) == 0 {
		return nil
	}
	c.comments[cm.ID] = cm
	var written []Key
	for _, kv := range []struct {
		key Key
		val Value
	}{
		{Key{cm.ID, FieldReactions}, reactions},
		{Key{cm.ID, FieldBody}, body},
	} {
		if c.skipLocked(kv.key, skip) {
			continue
		}
		if cm.Local {
			c.writeLocked(kv.key, kv.val, Pending)
		} else {
			c.commitLocked(kv.key, kv.val)
		}
		written = append(written, kv.key)
	}
	return written
}

// RemoveComment drops a comment record and its fields.
func (c *Cache) RemoveComment(id EntityID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cm, ok := c.comments[id]
	if !ok {
		return
	}
	delete(c.comments, id)
	delete(c.fields, Key{id, FieldReactions})
	delete(c.fields, Key{id, FieldBody})
	c.version++
	for _, loc := range c.holders(cm.PostID) {
		c.notify(loc, Key{Entity: id}, c.version)
	}
}

// Read returns the canonical state of a field.
func (c *Cache) Read(key Key) (FieldState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fs, ok := c.fields[key]
	return fs, ok
}

// Write sets a tentative value and broadcasts it to every location holding
// the entity. It returns the number of locations written; zero means the
// entity is no longer displayed and nothing changed.
func (c *Cache) Write(key Key, v Value, conf Confirmation) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(key, v, conf)
}

// Commit sets an authoritative value and advances the field's commit count.
func (c *Cache) Commit(key Key, v Value) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitLocked(key, v)
}

// CompareAndWrite writes v only when the field's commit count still equals
// commit. It reports whether the write happened.
func (c *Cache) CompareAndWrite(key Key, commit uint64, v Value, conf Confirmation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	fs, ok := c.fields[key]
	if !ok || fs.Commit != commit {
		return false
	}
	return c.writeLocked(key, v, conf) > 0
}

// Confirm retags a field without changing its value.
func (c *Cache) Confirm(key Key, conf Confirmation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fs, ok := c.fields[key]
	if !ok || fs.Confirmation == conf {
		return
	}
	fs.Confirmation = conf
	c.fields[key] = fs
	c.broadcast(key)
}

// Version increases on every change.
func (c *Cache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Subscribe delivers changes for a location until cancel is called. Slow
// readers miss intermediate changes; the latest state is always readable.
func (c *Cache) Subscribe(loc Location) (<-chan Change, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Change, 16)
	id := c.nextSub
	c.nextSub++
	if c.subs[loc] == nil {
		c.subs[loc] = make(map[int]chan Change)
	}
	c.subs[loc][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs[loc], id)
			close(ch)
		})
	}
}

// RecordRefresh notes the outcome of a refresh. When err is non-nil the
// cached data is kept but the error is recorded for visibility.
func (c *Cache) RecordRefresh(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.status.LastUpdated = time.Now()
	if err != nil {
		c.status.LastError = err
		c.status.ConsecutiveFailures++
		return
	}
	c.status.LastError = nil
	c.status.ConsecutiveFailures = 0
}

// Status returns a copy of the refresh status.
func (c *Cache) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := c.status
	if st.LastError != nil {
		st.LastError = fmt.Errorf("%w", st.LastError)
	}
	return st
}

// skipLocked reports whether a load must leave key alone. Only fields that
// exist can be skipped.
func (c *Cache) skipLocked(key Key, skip func(Key) bool) bool {
	if skip == nil || !skip(key) {
		return false
	}
	_, ok := c.fields[key]
	return ok
}

func (c *Cache) writeLocked(key Key, v Value, conf Confirmation) int {
	holders := c.holders(key.Entity)
	if len(holders) == 0 {
		return 0
	}
	fs := c.fields[key]
	fs.Value = v.Clone()
	fs.Confirmation = conf
	c.fields[key] = fs
	c.broadcast(key)
	return len(holders)
}

func (c *Cache) commitLocked(key Key, v Value) int {
	holders := c.holders(key.Entity)
	if len(holders) == 0 {
		return 0
	}
	fs := c.fields[key]
	fs.Value = v.Clone()
	fs.Confirmation = Confirmed
	c.commits++
	fs.Commit = c.commits
	c.fields[key] = fs
	c.broadcast(key)
	return len(holders)
}

func (c *Cache) broadcast(key Key) {
	c.version++
	for _, loc := range c.holders(key.Entity) {
		c.notify(loc, key, c.version)
	}
}

func (c *Cache) notify(loc Location, key Key, version uint64) {
	for _, ch := range c.subs[loc] {
		select {
		case ch <- Change{Location: loc, Key: key, Version: version}:
		default:
		}
	}
}

// holders resolves comments through their parent post.
func (c *Cache) holders(id EntityID) []Location {
	if cm, ok := c.comments[id]; ok {
		id = cm.PostID
	}
	var out []Location
	for loc, ids := range c.shown {
		if slices.Contains(ids, id) {
			out = append(out, loc)
		}
	}
	slices.Sort(out)
	return out
}

func (c *Cache) prune() {
	for id := range c.posts {
		if len(c.holders(id)) > 0 {
			continue
		}
		delete(c.posts, id)
		delete(c.fields, Key{id, FieldLikes})
		delete(c.fields, Key{id, FieldComments})
	}
	for id, cm := range c.comments {
		if len(c.holders(cm.PostID)) > 0 {
			continue
		}
		delete(c.comments, id)
		delete(c.fields, Key{id, FieldReactions})
		delete(c.fields, Key{id, FieldBody})
	}
}
