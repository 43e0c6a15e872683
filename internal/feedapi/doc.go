// Package feedapi provides an HTTP client for the social feed API.
//
// # Overview
//
// The client covers the read endpoints the poller uses to refresh the cache
// and the mutation endpoints the interaction engine issues after applying an
// optimistic update. Every request carries a bearer token, a User-Agent and a
// fresh X-Request-ID so server logs can be matched against client logs.
//
// # Architecture
//
//   - client.go: Remote interface, Client, request plumbing and APIError
//   - types.go: Data structures mirroring the API schema
//
// # Endpoints
//
//	GET    /api/feed
//	GET    /api/posts/{id}
//	POST   /api/posts/{id}/like
//	POST   /api/posts/{id}/comments
//	PATCH  /api/posts/{id}/comments/{cid}
//	DELETE /api/posts/{id}/comments/{cid}
//	POST   /api/posts/{id}/comments/{cid}/like
//	POST   /api/posts/{id}/comments/{cid}/dislike
//
// # Errors
//
// Responses with status >= 400 are returned as *APIError. It implements
// StatusCode and UserMessage so the retry package can classify it without
// importing this package. Transport failures are returned wrapped.
//
// # Pacing
//
// Requests pass through a golang.org/x/time/rate limiter before they are
// sent. Options.RequestsPerSecond of zero disables pacing.
package feedapi
