// Package config loads the threadline client configuration.
//
// Load reads ~/.config/threadline/config.toml (or an explicit path), then a
// .env file next to it, then the process environment. Later sources win.
// A missing config file is not an error; every field has a default:
//
//	api_url = "http://127.0.0.1:8080"
//	token_file = "~/.config/threadline/token"
//	state_dir = "~/.local/share/threadline"
//	log_file = "~/.local/share/threadline/threadline.log"
//	log_level = "info"
//	poll_seconds = 5
//	requests_per_second = 10
//	metrics_addr = ""
//
//	[retry]
//	max_retries = 2
//	initial_backoff_ms = 300
//	max_backoff_ms = 2000
//
// THREADLINE_API_URL overrides api_url and THREADLINE_TOKEN supplies the
// bearer token directly. Paths accept a leading ~.
package config
