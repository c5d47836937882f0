// Package dedupe drops chat events that were already handled.
//
// Homeservers can redeliver the same event after a reconnect or a sync
// retry. A Filter remembers event IDs for a window and reports repeats so
// the bot answers each message once.
package dedupe
