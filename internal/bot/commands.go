// ABOUTME: Chat commands: help, system prompt, retry, and new conversation
// ABOUTME: Parsed from messages that start with the configured prefix

package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/YubinMoon/servant-bot/internal/conversation"
	"github.com/YubinMoon/servant-bot/internal/matrix"
)

type command struct {
	name    string
	usage   string
	summary string
	run     func(b *Bot, ctx context.Context, conv conversation.ID, msg matrix.Message, args string)
}

var commands = []command{
	{"system", "system [text|clear]", "show, set or clear the system prompt", (*Bot).cmdSystem},
	{"retry", "retry", "answer the last message again", (*Bot).cmdRetry},
	{"new", "new", "forget this conversation", (*Bot).cmdNew},
}

func (b *Bot) handleCommand(ctx context.Context, conv conversation.ID, msg matrix.Message) {
	name, args := parseCommand(msg.Body, b.cfg.CommandPrefix)
	b.logger.Info("received command", "room", msg.RoomID.String(), "sender", msg.Sender.String(), "command", name)

	if name == "" {
		b.notice(ctx, msg, b.helpText())
		return
	}
	for _, c := range commands {
		if c.name == name {
			c.run(b, ctx, conv, msg, args)
			return
		}
	}
	b.notice(ctx, msg, fmt.Sprintf("Unknown command %q. Send %s to list commands.", name, b.cfg.CommandPrefix))
}

// parseCommand splits "?name args" into its lower-cased name and the
// trimmed remainder.
func parseCommand(body, prefix string) (name, args string) {
	rest := strings.TrimSpace(strings.TrimPrefix(body, prefix))
	name, args, _ = strings.Cut(rest, " ")
	return strings.ToLower(name), strings.TrimSpace(args)
}

func (b *Bot) helpText() string {
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	fmt.Fprintf(&sb, "%s - show this help\n", b.cfg.CommandPrefix)
	for _, c := range commands {
		fmt.Fprintf(&sb, "%s%s - %s\n", b.cfg.CommandPrefix, c.usage, c.summary)
	}
	sb.WriteString("Any other message is answered. Text files are added to the conversation.")
	return sb.String()
}

func (b *Bot) cmdSystem(ctx context.Context, conv conversation.ID, msg matrix.Message, args string) {
	history := b.service.History()

	switch {
	case args == "":
		current, err := history.SystemOverride(ctx, conv)
		if err != nil {
			b.reportError(ctx, msg, err)
			return
		}
		if current == "" {
			b.notice(ctx, msg, "No system prompt is set for this conversation.")
			return
		}
		b.notice(ctx, msg, "System prompt:\n"+current)
	case strings.EqualFold(args, "clear"):
		if err := history.SetSystemOverride(ctx, conv, ""); err != nil {
			b.reportError(ctx, msg, err)
			return
		}
		b.notice(ctx, msg, "System prompt cleared.")
	default:
		if err := history.SetSystemOverride(ctx, conv, args); err != nil {
			b.reportError(ctx, msg, err)
			return
		}
		b.notice(ctx, msg, "System prompt updated.")
	}
}

func (b *Bot) cmdRetry(ctx context.Context, conv conversation.ID, msg matrix.Message, _ string) {
	b.generate(ctx, msg, func(d conversation.Deliverer) (*conversation.Result, error) {
		return b.service.Regenerate(ctx, conv, d)
	})
}

func (b *Bot) cmdNew(ctx context.Context, conv conversation.ID, msg matrix.Message, _ string) {
	if err := b.service.Reset(ctx, conv); err != nil {
		b.reportError(ctx, msg, err)
		return
	}
	b.notice(ctx, msg, "Started a new conversation.")
}
