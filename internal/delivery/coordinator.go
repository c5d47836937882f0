// ABOUTME: Trailing-edge coalescing delivery of streamed text to one chat message
// ABOUTME: One send loop per coordinator, bounded by a minimum interval between operations

package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/YubinMoon/servant-bot/internal/metrics"
)

// Config tunes a Coordinator.
type Config struct {
	// Interval is the minimum wait between two operations of the send loop.
	Interval time.Duration
	// MaxInline is the longest content, in runes, delivered as message text.
	MaxInline int
	// OversizeNotice replaces the message when the answer goes to a file.
	OversizeNotice string
	// AttachmentName is the file name of oversize answers.
	AttachmentName string
	// OpTimeout bounds each operation made by the send loop.
	OpTimeout time.Duration
}

// DefaultConfig returns the settings used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		Interval:       500 * time.Millisecond,
		MaxInline:      4000,
		OversizeNotice: "The answer is too long to show inline, see the attached file.",
		AttachmentName: "answer.md",
		OpTimeout:      10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MaxInline <= 0 {
		c.MaxInline = d.MaxInline
	}
	if c.OversizeNotice == "" {
		c.OversizeNotice = d.OversizeNotice
	}
	if c.AttachmentName == "" {
		c.AttachmentName = d.AttachmentName
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = d.OpTimeout
	}
	return c
}

// Coordinator delivers one generation's text to one channel.
type Coordinator struct {
	surface Surface
	channel string
	cfg     Config
	base    context.Context
	logger  *slog.Logger

	mu         sync.Mutex
	pending    string
	pendingVer uint64
	lastSent   string
	sentVer    uint64
	handle     string
	running    bool
	closing    bool
	done       chan struct{}
}

// New creates a coordinator for channel. ctx bounds the background send loop;
// cancelling it stops in-flight operations.
func New(ctx context.Context, surface Surface, channel string, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		surface: surface,
		channel: channel,
		cfg:     cfg.withDefaults(),
		base:    ctx,
		logger:  logger.With("component", "delivery", "channel", channel),
	}
}

// Handle returns the message currently being edited, or "".
func (c *Coordinator) Handle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Push records content as the newest state. It never blocks on the network.
func (c *Coordinator) Push(content string) {
	content = truncate(content, c.cfg.MaxInline)

	c.mu.Lock()
	defer c.mu.Unlock()

	if content != c.pending {
		c.pending = content
		c.pendingVer++
	}
	if c.running || c.closing || c.pending == c.lastSent {
		return
	}

	c.running = true
	c.done = make(chan struct{})
	go c.loop(c.pending, c.pendingVer, c.done)
}

// loop sends snapshots until the pending content has been delivered.
func (c *Coordinator) loop(snapshot string, ver uint64, done chan struct{}) {
	defer close(done)

	for {
		err := c.send(snapshot)

		c.mu.Lock()
		if err == nil {
			if ver > c.sentVer+1 {
				metrics.DeliveryCoalescedTotal.Add(float64(ver - c.sentVer - 1))
			}
			c.lastSent = snapshot
			c.sentVer = ver
		}
		c.mu.Unlock()

		time.Sleep(c.cfg.Interval)

		c.mu.Lock()
		if c.closing || c.pending == c.lastSent || c.base.Err() != nil {
			c.running = false
			c.mu.Unlock()
			return
		}
		snapshot, ver = c.pending, c.pendingVer
		c.mu.Unlock()
	}
}

// send creates the message on first use and edits it afterwards.
func (c *Coordinator) send(content string) error {
	ctx, cancel := context.WithTimeout(c.base, c.cfg.OpTimeout)
	defer cancel()

	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()

	if handle == "" {
		h, err := c.create(ctx, content)
		if err != nil {
			c.logger.Warn("create failed, retrying on next tick", "error", err)
			return err
		}
		c.mu.Lock()
		c.handle = h
		c.mu.Unlock()
		return nil
	}
	if err := c.edit(ctx, handle, content); err != nil {
		c.logger.Warn("edit failed, retrying on next tick", "handle", handle, "error", err)
		return err
	}
	return nil
}

// waitIdle stops new loops from starting and waits for a running one to exit.
func (c *Coordinator) waitIdle(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	done := c.done
	running := c.running
	c.mu.Unlock()

	if !running || done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finalize delivers the final content once the loop is idle and returns the
// message handle. Content longer than MaxInline is uploaded as a file and the
// message shows OversizeNotice instead. Empty content removes the message.
// Once the loop is idle the coordinator is reset for the next round, even
// when the final operation fails.
func (c *Coordinator) Finalize(ctx context.Context, content string) (string, error) {
	if err := c.waitIdle(ctx); err != nil {
		return "", &DeliveryError{Op: "finalize", Err: err}
	}
	defer c.reset()

	c.mu.Lock()
	handle, lastSent := c.handle, c.lastSent
	c.mu.Unlock()

	switch {
	case content == "":
		if handle != "" {
			if err := c.remove(ctx, handle); err != nil {
				return "", err
			}
		}
		return "", nil

	case utf8.RuneCountInString(content) > c.cfg.MaxInline:
		h, err := c.put(ctx, handle, lastSent, c.cfg.OversizeNotice)
		if err != nil {
			return "", err
		}
		fileHandle, err := c.surface.UploadAttachment(ctx, c.channel, []byte(content), c.cfg.AttachmentName)
		metrics.DeliveryOpsTotal.WithLabelValues("upload", metrics.Status(err)).Inc()
		if err != nil {
			return h, &DeliveryError{Op: "upload", Err: err}
		}
		c.logger.Info("oversize answer delivered as attachment",
			"runes", utf8.RuneCountInString(content),
			"message", h,
			"attachment", fileHandle)
		return h, nil

	default:
		return c.put(ctx, handle, lastSent, content)
	}
}

// put makes the message show content, creating it when there is none.
func (c *Coordinator) put(ctx context.Context, handle, lastSent, content string) (string, error) {
	if handle == "" {
		return c.create(ctx, content)
	}
	if content == lastSent {
		return handle, nil
	}
	if err := c.edit(ctx, handle, content); err != nil {
		return "", err
	}
	return handle, nil
}

// Discard waits for the loop to go idle and deletes the in-progress message.
func (c *Coordinator) Discard(ctx context.Context) error {
	if err := c.waitIdle(ctx); err != nil {
		return &DeliveryError{Op: "discard", Err: err}
	}
	defer c.reset()

	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()
	if handle == "" {
		return nil
	}
	return c.remove(ctx, handle)
}

// Delete removes an earlier message of this channel.
func (c *Coordinator) Delete(ctx context.Context, handle string) error {
	return c.remove(ctx, handle)
}

func (c *Coordinator) create(ctx context.Context, content string) (string, error) {
	h, err := c.surface.CreateMessage(ctx, c.channel, content)
	metrics.DeliveryOpsTotal.WithLabelValues("create", metrics.Status(err)).Inc()
	if err != nil {
		return "", &DeliveryError{Op: "create", Err: err}
	}
	return h, nil
}

func (c *Coordinator) edit(ctx context.Context, handle, content string) error {
	err := c.surface.EditMessage(ctx, c.channel, handle, content)
	metrics.DeliveryOpsTotal.WithLabelValues("edit", metrics.Status(err)).Inc()
	if err != nil {
		return &DeliveryError{Op: "edit", Err: err}
	}
	return nil
}

func (c *Coordinator) remove(ctx context.Context, handle string) error {
	err := c.surface.DeleteMessage(ctx, c.channel, handle)
	metrics.DeliveryOpsTotal.WithLabelValues("delete", metrics.Status(err)).Inc()
	if err != nil {
		return &DeliveryError{Op: "delete", Err: err}
	}
	return nil
}

// reset returns the coordinator to Idle with no target message.
func (c *Coordinator) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending, c.lastSent, c.handle = "", "", ""
	c.pendingVer, c.sentVer = 0, 0
	c.running, c.closing = false, false
	c.done = nil
}

// truncate shortens s to maxLen runes, marking the cut with "...".
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
