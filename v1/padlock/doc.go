// Package padlock serializes callback-style work whose completion order would
// otherwise race. A Lock has at most one holder; requests that find it held
// wait in a FIFO queue and are replayed, one grant at a time, on the next
// turn of the owning loop after each release.
//
// A Lock is not safe for concurrent use. Every method must be called from the
// goroutine that runs its Scheduler (see package loop), including the
// completions that eventually call Release.
//
// Holders that never release stall the queue forever unless a timeout is
// configured; on expiry the holder is reported through the timeout event and
// released automatically.
package padlock
