package feedapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/five82/threadline/internal/retry"
)

// Remote is the set of feed API operations the client core depends on.
// It is implemented by *Client and can be faked in tests.
type Remote interface {
	FetchFeed(ctx context.Context) (FeedResponse, error)
	FetchPost(ctx context.Context, postID string) (PostResponse, error)
	ToggleLike(ctx context.Context, postID string) (LikesResponse, error)
	ToggleCommentLike(ctx context.Context, postID, commentID string) (ReactionsResponse, error)
	ToggleCommentDislike(ctx context.Context, postID, commentID string) (ReactionsResponse, error)
	CreateComment(ctx context.Context, postID, content string) (Comment, error)
	EditComment(ctx context.Context, postID, commentID, content string) (Comment, error)
	DeleteComment(ctx context.Context, postID, commentID string) error
}

// Ensure Client implements Remote at compile time.
var _ Remote = (*Client)(nil)

// APIError is returned for responses with status >= 400.
type APIError struct {
	Status  int
	Path    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %s returned status %d: %s", e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("api %s returned status %d", e.Path, e.Status)
}

// StatusCode returns the HTTP status.
func (e *APIError) StatusCode() int { return e.Status }

// UserMessage returns the server-provided message, if any.
func (e *APIError) UserMessage() string { return e.Message }

// Options configure a Client.
type Options struct {
	BaseURL string
	// Token returns the bearer token for each request. Empty means anonymous.
	Token func() string
	// RequestsPerSecond paces outgoing requests; zero disables pacing.
	RequestsPerSecond float64
	Timeout           time.Duration
	Logger            *zap.Logger
}

// Client talks to the feed HTTP API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	token     func() string
	limiter   *rate.Limiter
	log       *zap.Logger
}

const (
	defaultBaseURL   = "http://127.0.0.1:8080"
	defaultUserAgent = "threadline/0.1"
	requestTimeout   = 10 * time.Second
)

// NewClient builds a Client from opts.
func NewClient(opts Options) (*Client, error) {
	base, err := parseBaseURL(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = requestTimeout
	}
	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = max(1, int(opts.RequestsPerSecond))
	}
	token := opts.Token
	if token == nil {
		token = func() string { return "" }
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: timeout},
		userAgent: defaultUserAgent,
		token:     token,
		limiter:   rate.NewLimiter(limit, burst),
		log:       logger,
	}, nil
}

// FetchFeed retrieves the home feed with the comments of its posts.
func (c *Client) FetchFeed(ctx context.Context) (FeedResponse, error) {
	var payload FeedResponse
	if err := c.do(ctx, http.MethodGet, "/api/feed", nil, &payload); err != nil {
		return FeedResponse{}, err
	}
	return payload, nil
}

// FetchPost retrieves a single post and its comments.
func (c *Client) FetchPost(ctx context.Context, postID string) (PostResponse, error) {
	var payload PostResponse
	if err := c.do(ctx, http.MethodGet, postPath(postID), nil, &payload); err != nil {
		return PostResponse{}, err
	}
	return payload, nil
}

// ToggleLike flips the current user's like on a post.
func (c *Client) ToggleLike(ctx context.Context, postID string) (LikesResponse, error) {
	var payload LikesResponse
	if err := c.do(ctx, http.MethodPost, postPath(postID)+"/like", nil, &payload); err != nil {
		return LikesResponse{}, err
	}
	return payload, nil
}

// ToggleCommentLike flips the current user's like on a comment.
func (c *Client) ToggleCommentLike(ctx context.Context, postID, commentID string) (ReactionsResponse, error) {
	var payload ReactionsResponse
	if err := c.do(ctx, http.MethodPost, commentPath(postID, commentID)+"/like", nil, &payload); err != nil {
		return ReactionsResponse{}, err
	}
	return payload, nil
}

// ToggleCommentDislike flips the current user's dislike on a comment.
func (c *Client) ToggleCommentDislike(ctx context.Context, postID, commentID string) (ReactionsResponse, error) {
	var payload ReactionsResponse
	if err := c.do(ctx, http.MethodPost, commentPath(postID, commentID)+"/dislike", nil, &payload); err != nil {
		return ReactionsResponse{}, err
	}
	return payload, nil
}

// CreateComment adds a comment to a post.
func (c *Client) CreateComment(ctx context.Context, postID, content string) (Comment, error) {
	var payload Comment
	if err := c.do(ctx, http.MethodPost, postPath(postID)+"/comments", commentRequest{Content: content}, &payload); err != nil {
		return Comment{}, err
	}
	return payload, nil
}

// EditComment replaces a comment's content.
func (c *Client) EditComment(ctx context.Context, postID, commentID, content string) (Comment, error) {
	var payload Comment
	if err := c.do(ctx, http.MethodPatch, commentPath(postID, commentID), commentRequest{Content: content}, &payload); err != nil {
		return Comment{}, err
	}
	return payload, nil
}

// DeleteComment removes a comment.
func (c *Client) DeleteComment(ctx context.Context, postID, commentID string) error {
	return c.do(ctx, http.MethodDelete, commentPath(postID, commentID), nil, nil)
}

func postPath(postID string) string {
	return "/api/posts/" + url.PathEscape(postID)
}

func commentPath(postID, commentID string) string {
	return postPath(postID) + "/comments/" + url.PathEscape(commentID)
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		// Nothing was sent.
		return &retry.TransientNetworkError{Err: fmt.Errorf("wait for rate limiter: %w", err)}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	reqURL := c.baseURL.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(c.token()); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("api_request_failed", zap.String("method", method), zap.String("path", path),
			zap.String("request_id", requestID), zap.Error(err))
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug("api_request", zap.String("method", method), zap.String("path", path),
		zap.String("request_id", requestID), zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 400 {
		return &APIError{Status: resp.StatusCode, Path: path, Message: readErrorMessage(resp.Body)}
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		if msg := strings.TrimSpace(body.Error); msg != "" {
			return msg
		}
		return strings.TrimSpace(body.Message)
	}
	return strings.TrimSpace(string(raw))
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse api_url %q: %w", raw, err)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
