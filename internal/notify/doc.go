// Package notify pushes JSON events to connected supervisors and caller sessions.
//
// Each registered connection gets its own bounded queue and a single writer
// goroutine, so frames to one connection arrive in the order they were queued
// and a broken connection never keeps an event from the others. A full queue
// gets up to the write timeout to drain, which absorbs bursts to a healthy
// reader. A connection whose write fails or whose queue stays full is evicted
// and closed.
package notify
