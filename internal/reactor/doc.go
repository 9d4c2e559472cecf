// Package reactor provides the single-goroutine event loop that drives
// resumable tasks.
//
// An EventLoop accepts work from any goroutine through Post and runs it on
// its own goroutine. A Task is a computation that runs only while the loop
// hands it control, so every task spawned on one loop is logically
// single-threaded with respect to state it shares with other tasks on that
// loop. Tasks suspend at exactly two kinds of points: waiting for an
// external completion (a network reply, a timer) and waiting for work
// offloaded to a worker pool. Both are expressed through Suspender.Await,
// whose resolution is single-shot: the first resolver wins and any later
// one is ignored.
//
// Stopping the loop runs every callback already posted, then steps each task
// still suspended one last time so it unwinds through its deferred calls on
// the loop goroutine.
package reactor
