// Package mirror publishes the transitions of a padlock.Lock onto a
// syncbus.Bus so that other processes can observe them.
//
// Mirroring is one-way: remote observers see locked, unlocked and timeout
// events but cannot acquire the lock. Handlers never block the loop that
// owns the Lock; when the publish buffer is full the event is dropped and
// counted.
package mirror
