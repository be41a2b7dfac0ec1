// Package engine implements the reconciliation engine: it keeps at most
// one service reminder per job, with a due date matching the job's
// service due date field.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Every input (a job seen in traffic, a saved field value, navigation,
// an elapsed timer, a finished remote call) is an Event on a FIFO queue.
// Engine.Run dequeues them one at a time and is the only writer of
// per-job state. Remote work runs in goroutines that post their result
// back as another event.
//
// Per-job contexts:
//   - job: the latest snapshot, replaced wholesale
//   - pending reminder: what the last search or cycle found
//   - one debounce timer; a newer field change stops and replaces it
//   - running/rerun: a cycle never runs concurrently with itself; a
//     debounce that elapses mid-cycle queues exactly one rerun
//   - generation: bumped on Left; older results are journaled, not shown
//
// Cycle:
//  1. load the job if it was never observed
//  2. search for its reminder
//  3. wait the settle delay
//  4. re-read the cached job and value
//  5. apply the decision table (Decide)
//  6. create, update, delete or nothing
//
// A failed cycle is reported and abandoned; the next field change or job
// observation starts over. Transport retries have already happened by the
// time a cycle sees an error.
package engine
