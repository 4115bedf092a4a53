// Package broadcast fans session lifecycle events out to real-time subscribers.
//
// The Hub owns the subscriber set behind a mutex that is never held during a
// send: Broadcast snapshots the set, sends unlocked, then evicts the
// subscribers whose send failed. Delivery is best-effort and at-most-once per
// subscriber per call; nothing is queued or replayed. The Announcer turns
// domain events into JSON and broadcasts them off the caller's goroutine.
package broadcast
