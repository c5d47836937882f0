// ABOUTME: Matrix client wrapper: login state, sync loop, and inbound message parsing
// ABOUTME: Dispatches text messages and text attachments to a Handler without blocking sync

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/YubinMoon/servant-bot/internal/delivery"
)

const (
	typingTimeout  = 30 * time.Second
	networkTimeout = 10 * time.Second
)

// Config holds the credentials of the bot account.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	DeviceID    string
}

// Attachment is a file sent to the bot.
type Attachment struct {
	Name     string
	MimeType string
	Size     int
	URL      id.ContentURIString

	encrypted *event.EncryptedFileInfo
}

// Message is an inbound room message addressed to the bot.
type Message struct {
	RoomID     id.RoomID
	EventID    id.EventID
	Sender     id.UserID
	ThreadRoot id.EventID
	Body       string
	Attachment *Attachment
}

// Handler receives inbound messages. It is called on the sync goroutine and
// must not block.
type Handler func(ctx context.Context, msg Message)

// Client is a connected bot account.
type Client struct {
	mx     *mautrix.Client
	logger *slog.Logger
}

// NewClient creates a client for the configured account. It does not
// contact the homeserver.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mx, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if cfg.DeviceID != "" {
		mx.DeviceID = id.DeviceID(cfg.DeviceID)
	}
	return &Client{
		mx:     mx,
		logger: logger.With("component", "matrix"),
	}, nil
}

// UserID is the bot's own user ID.
func (c *Client) UserID() id.UserID {
	return c.mx.UserID
}

// Run syncs until ctx is cancelled. Events from before startup are skipped.
// Invites are accepted when accept returns true for the room.
func (c *Client) Run(ctx context.Context, handler Handler, accept func(id.RoomID) bool) error {
	syncer, ok := c.mx.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", c.mx.Syncer)
	}
	syncer.OnSync(c.mx.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		msg, ok := parseMessage(evt, c.mx.UserID)
		if !ok {
			return
		}
		handler(ctx, msg)
	})
	syncer.OnEventType(event.StateMember, func(ctx context.Context, evt *event.Event) {
		c.handleInvite(ctx, evt, accept)
	})

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- c.mx.SyncWithContext(ctx)
	}()

	c.logger.Info("matrix sync started", "user", c.mx.UserID.String())

	select {
	case <-ctx.Done():
		c.mx.StopSync()
		return nil
	case err := <-syncErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("matrix sync: %w", err)
		}
		return nil
	}
}

func (c *Client) handleInvite(ctx context.Context, evt *event.Event, accept func(id.RoomID) bool) {
	member, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok || member.Membership != event.MembershipInvite {
		return
	}
	if evt.GetStateKey() != c.mx.UserID.String() {
		return
	}
	if accept != nil && !accept(evt.RoomID) {
		c.logger.Info("ignoring invite", "room", evt.RoomID.String(), "inviter", evt.Sender.String())
		return
	}

	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := c.mx.JoinRoomByID(ctx, evt.RoomID); err != nil {
		c.logger.Warn("failed to join room", "room", evt.RoomID.String(), "error", err)
		return
	}
	c.logger.Info("joined room", "room", evt.RoomID.String())
}

// SetTyping toggles the typing indicator. Failures are logged only.
func (c *Client) SetTyping(ctx context.Context, roomID id.RoomID, typing bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), networkTimeout)
	defer cancel()

	timeout := time.Duration(0)
	if typing {
		timeout = typingTimeout
	}
	if _, err := c.mx.UserTyping(ctx, roomID, typing, timeout); err != nil {
		c.logger.Debug("failed to set typing", "room", roomID.String(), "typing", typing, "error", err)
	}
}

// Notice posts a plain m.notice and returns its event ID.
func (c *Client) Notice(ctx context.Context, roomID id.RoomID, thread id.EventID, text string) (id.EventID, error) {
	content := &event.MessageEventContent{MsgType: event.MsgNotice, Body: text}
	inThread(content, thread)
	resp, err := c.mx.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		return "", fmt.Errorf("sending notice: %w", err)
	}
	return resp.EventID, nil
}

// Redact removes an event.
func (c *Client) Redact(ctx context.Context, roomID id.RoomID, eventID id.EventID) error {
	if _, err := c.mx.RedactEvent(ctx, roomID, eventID); err != nil {
		return fmt.Errorf("redacting %s: %w", eventID, err)
	}
	return nil
}

// Download fetches an attachment, decrypting it when it came from an
// encrypted room.
func (c *Client) Download(ctx context.Context, att *Attachment) ([]byte, error) {
	uri, err := att.URL.Parse()
	if err != nil {
		return nil, fmt.Errorf("parsing content uri: %w", err)
	}
	data, err := c.mx.DownloadBytes(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", att.Name, err)
	}
	if att.encrypted != nil {
		if err := att.encrypted.DecryptInPlace(data); err != nil {
			return nil, fmt.Errorf("decrypting %s: %w", att.Name, err)
		}
	}
	return data, nil
}

// Surface returns a delivery surface that posts into thread when set.
func (c *Client) Surface(thread id.EventID) delivery.Surface {
	return &Surface{client: c, thread: thread}
}

// parseMessage extracts the parts of a room message the bot acts on. Own
// messages, edits, notices and media other than files are dropped.
func parseMessage(evt *event.Event, self id.UserID) (Message, bool) {
	if evt.Sender == self {
		return Message{}, false
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return Message{}, false
	}
	if content.NewContent != nil || content.RelatesTo.GetReplaceID() != "" {
		return Message{}, false
	}

	msg := Message{
		RoomID:     evt.RoomID,
		EventID:    evt.ID,
		Sender:     evt.Sender,
		ThreadRoot: content.RelatesTo.GetThreadParent(),
	}

	switch content.MsgType {
	case event.MsgText:
		msg.Body = content.Body
	case event.MsgFile:
		att := &Attachment{
			Name: content.FileName,
			URL:  content.URL,
		}
		if att.Name == "" {
			att.Name = content.Body
		}
		if content.Info != nil {
			att.MimeType = content.Info.MimeType
			att.Size = content.Info.Size
		}
		if content.File != nil {
			att.URL = content.File.URL
			att.encrypted = content.File
		}
		if att.URL == "" {
			return Message{}, false
		}
		msg.Attachment = att
	default:
		return Message{}, false
	}
	return msg, true
}

func inThread(content *event.MessageEventContent, thread id.EventID) {
	if thread == "" {
		return
	}
	content.RelatesTo = (&event.RelatesTo{}).SetThread(thread, thread)
}
