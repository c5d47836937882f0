// Package conversation owns per-conversation state and the generation loop.
//
// A conversation is identified by an ID derived from a scope and a channel
// (a room, or a thread root inside a room). Three keys hang off it in the
// KV store: a lock, the ordered message history, and an optional system
// prompt override.
//
// # Lock
//
// Lock is a mutual exclusion built on SetIfAbsent with a TTL. At most one
// generation runs per conversation; a second caller gets ErrBusy instead of
// waiting. Each acquisition stores its own token, so release and refresh only
// touch the entry they created. The TTL bounds how long a crashed holder can
// block the conversation, and a running generation refreshes it until done.
//
// # History
//
// History appends turns as JSON list entries and reads them back in order.
// TrimAfter drops everything after the last user turn, which is what
// regeneration needs.
//
// # Service
//
// Service ties lock, history, completion and tools together:
//
//	svc := conversation.New(lock, history, completer, tools, opts, logger)
//	res, err := svc.Reply(ctx, &conversation.ReplyRequest{...})
//
// Reply appends the user turn and runs the generation loop. Each round
// streams one completion into a fragment.Aggregate, pushing text to the
// Deliverer as it grows. Rounds that end in tool calls run the tools,
// record their results and continue; a stop ends the loop. The loop gives
// up after Options.MaxRounds with ErrTooManyRounds.
//
// Regenerate trims history back to the last user turn and runs the loop
// again. AddTurn and Reset take the lock for their single write.
package conversation
