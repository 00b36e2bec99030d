// Package faceq decouples callers of the face engine from the engine itself.
//
// A Subsystem owns two bounded queues that share one lock, a counting wake-up
// signal, and a single worker goroutine:
//
//	caller -> Submit -> request queue -> wake -> worker -> Backend
//	                                               |
//	caller <- Poll/Next <- result queue <----------+
//
// Submit never blocks: a full request queue is reported immediately with
// ErrQueueFull. The worker executes requests one at a time in submission order
// and hands each success back through the result queue, waiting for space if
// the result queue is full. Failed operations produce no result unless
// Config.ReportFailures is set.
//
// The worker is the only consumer of the request queue. Results may be taken
// by any number of goroutines.
//
// Shutdown enqueues a terminate sentinel behind any pending work, waits for the
// worker to acknowledge it, returns whatever results were never collected, and
// releases both queues. A Subsystem cannot be restarted; build a new one.
package faceq
