// Package app provides the orchestration layer for the threadline client.
//
// # Overview
//
// This package wires together configuration, the session, the feed API
// client, the interaction engine, polling and the UI. It is the composition
// root: Open builds the shared services, Run adds the poller and the TUI on
// top of them. The one-shot commands in cmd/threadline reuse Open and Refresh
// without the TUI.
//
// # Architecture
//
//  1. Load config from ~/.config/threadline/config.toml (plus .env overrides)
//  2. Open the JSON log file
//  3. Read the token and derive the signed-in user from it
//  4. Create the rate-limited feed API client
//  5. Open the marks database for unconfirmed interactions
//  6. Build the interaction engine over a fresh cache
//  7. Serve metrics when metrics_addr is set
//  8. Refresh once, start the poller, run the TUI until exit
//
// # Data Flow
//
//	┌──────────────┐
//	│   Run()      │
//	└──────┬───────┘
//	       │
//	       ├─────> Open()              config, logger, session, client, engine
//	       ├─────> serveMetrics()      optional /metrics endpoint
//	       ├─────> Refresh()           first load
//	       ├─────> StartPoller()       background refresh
//	       └─────> ui.Run()            TUI (blocks)
//
//	Poller loop:
//	┌─────────────────────────────────────────┐
//	│ StartPoller() goroutine                 │
//	│  ├─> FetchFeed()      ┐ errgroup        │
//	│  ├─> FetchPost()      ┘ (detail open)   │
//	│  ├─> engine.Apply(feed)                 │
//	│  ├─> engine.Merge(detail post)          │
//	│  └─> cache.RecordRefresh()              │
//	└─────────────────────────────────────────┘
//
// # Polling Behavior
//
// The poller refreshes at the configured interval (default 5 seconds). After
// consecutive failures the wait doubles up to 30 seconds; the cache keeps
// the last good data and records the error for the header. Fields with a
// mutation in flight are never overwritten by a refresh.
//
// A detail post that no longer exists (404) is not a refresh failure.
//
// # Error Handling
//
// Fatal errors (returned from Open or Run):
//   - invalid config or retry settings
//   - missing or unparseable token
//   - marks database that cannot be opened
//
// Recoverable errors (logged, polling continues):
//   - feed or post fetch failures
//   - metrics listener failures
package app
