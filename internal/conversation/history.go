// ABOUTME: Ordered, append-only turn log per conversation on the shared KV store
// ABOUTME: Supports retry rollback via TrimAfter and an optional system override

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/YubinMoon/servant-bot/internal/fragment"
	"github.com/YubinMoon/servant-bot/internal/store"
)

// Role of a turn in the conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one role-tagged entry of a conversation.
type Turn struct {
	ID         string              `json:"id"`
	Role       Role                `json:"role"`
	Content    string              `json:"content"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	ToolCalls  []fragment.ToolCall `json:"tool_calls,omitempty"`
	// MessageID is the remote message this turn was delivered as, if any.
	MessageID string    `json:"message_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn creates a turn with a fresh ID.
func NewTurn(role Role, content string) Turn {
	return Turn{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// History stores conversation turns in append order.
type History struct {
	kv     store.KV
	logger *slog.Logger
}

// NewHistory creates a history on kv.
func NewHistory(kv store.KV, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.Default()
	}
	return &History{
		kv:     kv,
		logger: logger.With("component", "history"),
	}
}

// Append adds turn to the end of the conversation.
func (h *History) Append(ctx context.Context, id ID, turn Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encoding turn: %w", err)
	}
	n, err := h.kv.Append(ctx, id.messagesKey(), string(data))
	if err != nil {
		return fmt.Errorf("appending turn: %w", err)
	}
	h.logger.Debug("turn appended",
		"conversation", id.String(),
		"role", turn.Role,
		"turn_id", turn.ID,
		"length", n)
	return nil
}

// List returns every turn in append order.
func (h *History) List(ctx context.Context, id ID) ([]Turn, error) {
	raw, err := h.kv.Range(ctx, id.messagesKey(), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("listing turns: %w", err)
	}
	turns := make([]Turn, 0, len(raw))
	for i, r := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, fmt.Errorf("decoding turn %d: %w", i, err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// LastUserIndex returns the position of the last user turn.
func LastUserIndex(turns []Turn) (int, error) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			return i, nil
		}
	}
	return -1, ErrNoHistory
}

// TrimAfter removes every turn strictly after lastUserIndex and returns the
// removed turns so their delivered messages can be cleaned up.
// lastUserIndex must point at a user turn; otherwise ErrNoHistory is returned.
func (h *History) TrimAfter(ctx context.Context, id ID, lastUserIndex int) ([]Turn, error) {
	turns, err := h.List(ctx, id)
	if err != nil {
		return nil, err
	}
	if lastUserIndex < 0 || lastUserIndex >= len(turns) || turns[lastUserIndex].Role != RoleUser {
		return nil, ErrNoHistory
	}

	removed := turns[lastUserIndex+1:]
	if len(removed) == 0 {
		return nil, nil
	}
	if err := h.kv.Trim(ctx, id.messagesKey(), 0, int64(lastUserIndex)); err != nil {
		return nil, fmt.Errorf("trimming turns: %w", err)
	}
	h.logger.Info("history trimmed",
		"conversation", id.String(),
		"kept", lastUserIndex+1,
		"removed", len(removed))
	return removed, nil
}

// SystemOverride returns the conversation's system prompt, or "" if unset.
func (h *History) SystemOverride(ctx context.Context, id ID) (string, error) {
	v, err := h.kv.Get(ctx, id.systemKey())
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading system override: %w", err)
	}
	return v, nil
}

// SetSystemOverride replaces the system prompt. An empty text clears it.
func (h *History) SetSystemOverride(ctx context.Context, id ID, text string) error {
	if text == "" {
		if err := h.kv.Delete(ctx, id.systemKey()); err != nil {
			return fmt.Errorf("clearing system override: %w", err)
		}
		return nil
	}
	if err := h.kv.Set(ctx, id.systemKey(), text, 0); err != nil {
		return fmt.Errorf("setting system override: %w", err)
	}
	return nil
}

// Clear forgets the conversation: every turn and the system override.
func (h *History) Clear(ctx context.Context, id ID) error {
	if err := h.kv.Delete(ctx, id.messagesKey(), id.systemKey()); err != nil {
		return fmt.Errorf("clearing conversation: %w", err)
	}
	h.logger.Info("history cleared", "conversation", id.String())
	return nil
}
