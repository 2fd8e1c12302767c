// Package dispatch is the shared retry/backoff execution engine for background tasks.
//
// A Task pairs a scheduling Policy with a WorkFunc. Dispatch detaches the
// task's loop onto an Executor and returns immediately; the loop asks the
// policy whether work is due, runs it with bounded retries and a fixed
// backoff, and stops silently on cancellation, retry exhaustion or when the
// policy has nothing left to fire.
//
// A failed attempt waits out the backoff and then polls the policy again, so
// a retry runs when the policy next reports work due, never earlier.
//
// Outcomes are never returned to the caller. Attach an Observer to see them.
package dispatch
