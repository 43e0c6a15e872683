// Package ui provides the threadline terminal interface built on Bubble Tea.
//
// # Layout
//
// The screen has a one-line header, the content area and a footer:
//
//	┌ threadline  @me  Posts: 20  Updated 3 seconds ago ───────────┐
//	│ feed list (40%)          │ open post + comments (60%)        │
//	│                          │                                   │
//	└ toasts / composer / key hints ───────────────────────────────┘
//
// The detail pane appears after enter on a post and closes with esc. Both
// panes render projections of the same state.Cache, so a like in one shows
// in the other at once.
//
// # Interactions
//
// Keys dispatch actions to the interaction engine, which writes the
// optimistic value before the request starts. Fields still waiting on the
// server show a spinner; values kept after a server failure show a
// "not confirmed" badge until a refresh resolves them. Engine events become
// toasts; validation messages are shown verbatim in the composer.
//
// # Files
//
//   - app.go: Model, Update loop, commands and Run
//   - feed.go: feed list and detail rendering
//   - editor.go: comment composer and delete confirmation
//   - header.go: status bar and footer
//   - toast.go: transient outcome messages
//   - keys.go, help.go: key bindings and the help overlay
//   - theme.go, style_helpers.go: palettes and lipgloss helpers
package ui
