// Package jobs runs named background jobs on a bounded worker pool.
//
// Jobs are persisted before they are queued, so the runner's own state
// (pending, started, finished, failed) survives restarts and stays the
// source of truth for completion. Incremental detail comes from the
// [progress.Channel] the handlers publish to.
//
// Enqueue never blocks: a full queue fails the job immediately with
// [shared.ErrQueueFull].
package jobs
