// ABOUTME: Inbound message routing: dedupe, room policy, and dispatch to commands or replies
// ABOUTME: Each message is handled on its own goroutine with typing and streamed delivery

package bot

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix/id"

	"github.com/YubinMoon/servant-bot/internal/conversation"
	"github.com/YubinMoon/servant-bot/internal/dedupe"
	"github.com/YubinMoon/servant-bot/internal/delivery"
	"github.com/YubinMoon/servant-bot/internal/matrix"
	"github.com/YubinMoon/servant-bot/internal/metrics"
)

// Chat is what the bot needs from the chat network.
type Chat interface {
	Notice(ctx context.Context, roomID id.RoomID, thread id.EventID, text string) (id.EventID, error)
	Redact(ctx context.Context, roomID id.RoomID, eventID id.EventID) error
	SetTyping(ctx context.Context, roomID id.RoomID, typing bool)
	Download(ctx context.Context, att *matrix.Attachment) ([]byte, error)
	Surface(thread id.EventID) delivery.Surface
}

// Config tunes the bot.
type Config struct {
	CommandPrefix string
	// Scope namespaces conversation keys in the store.
	Scope string
	// AllowedRooms limits the rooms the bot answers in; empty allows all.
	AllowedRooms  []string
	BusyNoticeTTL time.Duration
	MaxFileBytes  int
	Delivery      delivery.Config
}

func (c Config) withDefaults() Config {
	if c.CommandPrefix == "" {
		c.CommandPrefix = "?"
	}
	if c.Scope == "" {
		c.Scope = "servant"
	}
	if c.BusyNoticeTTL <= 0 {
		c.BusyNoticeTTL = 10 * time.Second
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = 64 << 10
	}
	return c
}

// Bot handles inbound messages.
type Bot struct {
	cfg     Config
	chat    Chat
	service *conversation.Service
	seen    *dedupe.Filter
	rooms   map[id.RoomID]bool
	logger  *slog.Logger

	wg sync.WaitGroup
}

// New creates a Bot.
func New(cfg Config, chat Chat, service *conversation.Service, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	rooms := make(map[id.RoomID]bool, len(cfg.AllowedRooms))
	for _, r := range cfg.AllowedRooms {
		rooms[id.RoomID(r)] = true
	}
	return &Bot{
		cfg:     cfg,
		chat:    chat,
		service: service,
		seen:    dedupe.New(dedupe.DefaultWindow, dedupe.DefaultCapacity),
		rooms:   rooms,
		logger:  logger.With("component", "bot"),
	}
}

// AllowRoom reports whether the bot serves roomID.
func (b *Bot) AllowRoom(roomID id.RoomID) bool {
	return len(b.rooms) == 0 || b.rooms[roomID]
}

// Handle accepts an inbound message and processes it in the background. It
// has the matrix.Handler signature.
func (b *Bot) Handle(ctx context.Context, msg matrix.Message) {
	if b.seen.Seen(msg.EventID.String()) {
		metrics.InboundEventsTotal.WithLabelValues("duplicate").Inc()
		b.logger.Debug("dropping duplicate event", "event", msg.EventID.String())
		return
	}
	if !b.AllowRoom(msg.RoomID) {
		metrics.InboundEventsTotal.WithLabelValues("ignored").Inc()
		b.logger.Debug("ignoring message from non-allowed room", "room", msg.RoomID.String())
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.process(ctx, msg)
	}()
}

// Wait blocks until every in-flight message has been handled.
func (b *Bot) Wait() {
	b.wg.Wait()
}

func (b *Bot) process(ctx context.Context, msg matrix.Message) {
	conv := b.conversationOf(msg)

	switch {
	case msg.Attachment != nil:
		metrics.InboundEventsTotal.WithLabelValues("file").Inc()
		b.handleFile(ctx, conv, msg)
	case strings.HasPrefix(msg.Body, b.cfg.CommandPrefix):
		metrics.InboundEventsTotal.WithLabelValues("command").Inc()
		b.handleCommand(ctx, conv, msg)
	case strings.TrimSpace(msg.Body) == "":
		metrics.InboundEventsTotal.WithLabelValues("ignored").Inc()
	default:
		metrics.InboundEventsTotal.WithLabelValues("message").Inc()
		b.handleMessage(ctx, conv, msg)
	}
}

// conversationOf keys the conversation on the thread when there is one.
func (b *Bot) conversationOf(msg matrix.Message) conversation.ID {
	channel := msg.RoomID.String()
	if msg.ThreadRoot != "" {
		channel = msg.ThreadRoot.String()
	}
	return conversation.NewID(b.cfg.Scope, channel)
}

func (b *Bot) handleMessage(ctx context.Context, conv conversation.ID, msg matrix.Message) {
	b.logger.Info("received message",
		"room", msg.RoomID.String(),
		"sender", msg.Sender.String(),
		"conversation", conv.String(),
		"content", truncate(msg.Body, 50),
	)

	b.generate(ctx, msg, func(d conversation.Deliverer) (*conversation.Result, error) {
		return b.service.Reply(ctx, &conversation.ReplyRequest{
			Conversation: conv,
			Content:      msg.Body,
			MessageID:    msg.EventID.String(),
			Delivery:     d,
		})
	})
}

// generate runs one answer with a fresh coordinator and the typing
// indicator, then reports the outcome.
func (b *Bot) generate(ctx context.Context, msg matrix.Message, run func(conversation.Deliverer) (*conversation.Result, error)) {
	coord := delivery.New(ctx, b.chat.Surface(msg.ThreadRoot), msg.RoomID.String(), b.cfg.Delivery, b.logger)

	b.chat.SetTyping(ctx, msg.RoomID, true)
	res, err := run(coord)
	b.chat.SetTyping(ctx, msg.RoomID, false)

	if err != nil {
		b.reportError(ctx, msg, err)
		return
	}
	b.logger.Info("answered",
		"room", msg.RoomID.String(),
		"rounds", res.Rounds,
		"prompt_tokens", res.Usage.PromptTokens,
		"completion_tokens", res.Usage.CompletionTokens,
	)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
