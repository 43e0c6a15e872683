// Package logtail reads the tail of the threadline log file and renders its
// JSON entries for a terminal.
//
// Read keeps a ring buffer of the last N lines so large logs are scanned
// once without being held in memory. Format turns a zap JSON entry into
//
//	2026-01-02T10:00:00.000Z INFO  mutation_settled action=like entity=p1
//
// with fields sorted by key. Lines that are not JSON objects, such as a
// panic trace, are passed through unchanged.
package logtail
