// Package loop provides a single-goroutine executor used as the deferred
// execution layer for padlock. Tasks submitted from any goroutine run one at a
// time on the loop goroutine; NextTick queues work to run right after the
// current task, and AfterFunc posts work back onto the loop once a timer
// fires. Code that only ever runs on the loop needs no further locking.
package loop
