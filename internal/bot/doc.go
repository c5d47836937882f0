// Package bot routes inbound chat messages to the conversation service.
//
// # Routing
//
// Every inbound message passes through, in order:
//
//  1. Dedupe: redelivered event IDs are dropped
//  2. Room policy: rooms outside the allow list are ignored
//  3. Dispatch: commands, text files, or a plain message to answer
//
// Work runs on its own goroutine so the sync loop is never blocked.
//
// # Commands
//
// Commands start with the configured prefix (default "?"):
//
//   - ?            Show help
//   - ?system      Show the system prompt; "?system <text>" sets it, "?system clear" removes it
//   - ?retry       Answer the last message again
//   - ?new         Forget the conversation
//
// # Conversations
//
// A conversation is the room, or the thread when the message is inside one.
// While an answer is being generated, new messages get a short "busy" notice
// that is redacted, together with the message, after a few seconds.
package bot
