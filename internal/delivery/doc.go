// Package delivery turns a fast stream of "current best text" updates into a
// slow, ordered sequence of create and edit calls on a chat surface.
//
// # Coordinator
//
// A Coordinator serves one generation in one channel. It is Idle or Sending:
//
//   - Push records the newest content and, when Idle, starts the send loop.
//     While Sending it only replaces the pending content, so intermediate
//     updates collapse into the next send (trailing-edge coalescing).
//   - The loop snapshots pending content, creates the message on the first
//     send and edits it afterwards, then waits Interval before looking again.
//   - Finalize waits for the loop to go idle and delivers the final content,
//     moving oversize answers into an attached file.
//
// At most one network operation is in flight per Coordinator, and a newer
// snapshot is never followed by an older one. Failures inside the loop are
// logged and retried with the latest content on the next tick; only Finalize
// and Discard report errors to the caller.
package delivery
