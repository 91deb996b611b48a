// Package syncer replays queued mutations in strict FIFO order whenever
// connectivity allows.
//
// A drain pass takes the oldest pending mutation, marks it in flight, replays
// it with a bounded per-item timeout, and applies the outcome: success removes
// the item, a 4xx parks it as failed immediately, and a transient failure
// requeues it and halts the pass until a backoff timer or the next
// connectivity transition resumes draining. Triggers are coalesced so only one
// pass is ever active.
package syncer
