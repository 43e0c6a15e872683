package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/five82/threadline/internal/feedapi"
	"github.com/five82/threadline/internal/interaction"
	"github.com/five82/threadline/internal/state"
)

const (
	defaultPollInterval = 5 * time.Second
	maxBackoff          = 30 * time.Second
)

// FeedSource is the read side of the feed API.
type FeedSource interface {
	FetchFeed(ctx context.Context) (feedapi.FeedResponse, error)
	FetchPost(ctx context.Context, postID string) (feedapi.PostResponse, error)
}

// StartPoller launches a background goroutine that refreshes the cache at a
// fixed cadence, backing off while the API is unreachable. It returns
// immediately.
func StartPoller(ctx context.Context, engine *interaction.Engine, source FeedSource, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	go func() {
		failures := 0
		for {
			timer := time.NewTimer(calculateBackoff(failures, interval))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if err := Refresh(ctx, engine, source, logger); err != nil {
				failures++
			} else {
				failures = 0
			}
		}
	}()
}

// Refresh fetches the feed and, when a post is open in the detail location,
// that post, then loads both into the engine.
func Refresh(ctx context.Context, engine *interaction.Engine, source FeedSource, logger *zap.Logger) error {
	cache := engine.Cache()

	var (
		feed     feedapi.FeedResponse
		detail   feedapi.PostResponse
		detailID state.EntityID
		gone     bool
	)
	if shown := cache.Shown(state.LocationDetail); len(shown) > 0 {
		detailID = shown[0]
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resp, err := source.FetchFeed(gctx)
		if err != nil {
			return fmt.Errorf("fetch feed: %w", err)
		}
		feed = resp
		return nil
	})
	if detailID != "" {
		g.Go(func() error {
			resp, err := source.FetchPost(gctx, string(detailID))
			var apiErr *feedapi.APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
				gone = true
				return nil
			}
			if err != nil {
				return fmt.Errorf("fetch post %s: %w", detailID, err)
			}
			detail = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		cache.RecordRefresh(err)
		logger.Warn("refresh_failed", zap.Error(err))
		return err
	}

	engine.Apply(state.LocationFeed, feed.Posts, feed.Comments)
	switch {
	case gone:
		logger.Info("detail_post_gone", zap.String("post", string(detailID)))
	case detailID != "":
		// Merge leaves the detail location alone in case it was closed meanwhile.
		engine.Merge([]feedapi.Post{detail.Post}, detail.Comments)
	}
	cache.RecordRefresh(nil)
	logger.Debug("refresh_ok", zap.Int("posts", len(feed.Posts)), zap.Bool("detail", detailID != "" && !gone))
	return nil
}

// calculateBackoff doubles the base interval per consecutive failure, capped
// at maxBackoff.
func calculateBackoff(failures int, base time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}
	wait := base
	for i := 0; i < failures; i++ {
		wait *= 2
		if wait >= maxBackoff {
			return maxBackoff
		}
	}
	return wait
}
