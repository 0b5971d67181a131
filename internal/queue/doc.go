// Package queue implements the durable job registry and priority work queue.
//
// One SQLite store is both the authoritative job record and the queue itself:
// visibility rules (lane, scheduled_at, lease expiry) are expressed as SQL
// predicates over the same rows clients read for status. All status
// transitions are single-row compare-and-set updates so concurrent workers
// never observe a half-applied transition.
package queue
