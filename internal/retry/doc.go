// Package retry classifies feed API failures and decides, per action, whether
// to retry, roll back, keep an unconfirmed value, or escalate to the session.
//
// Every transport error is reduced to one of four classes:
//
//   - TransientNetworkError: timeouts, resets, refused connections, 408/429
//   - ServerFault: 5xx or an unreadable reply
//   - ValidationError: any other 4xx, message shown verbatim
//   - AuthError: 401/403
//
// A Policy describes the action (idempotent, safe read, toggle) and Decide
// maps a class to a Verdict. Do drives one request through
// issued -> retrying -> succeeded|failed with backoff between attempts.
package retry
