// Package matrix connects the bot to a Matrix homeserver.
//
// A Client wraps a mautrix client. It runs the sync loop that feeds inbound
// room messages to a Handler, and it hands out Surface values that the
// delivery coordinator uses to post, edit, redact and upload into a room.
// Outgoing text is rendered from markdown into the HTML formatted body.
//
// End-to-end encryption is optional and lives in crypto.go.
package matrix
