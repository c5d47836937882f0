// ABOUTME: Generation loop tying lock, history, fragment merging and delivery together
// ABOUTME: Record first, then generate; the lock is always released on the way out

package conversation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/YubinMoon/servant-bot/internal/completion"
	"github.com/YubinMoon/servant-bot/internal/delivery"
	"github.com/YubinMoon/servant-bot/internal/fragment"
	"github.com/YubinMoon/servant-bot/internal/metrics"
)

var tracer = otel.Tracer("github.com/YubinMoon/servant-bot/internal/conversation")

// Completer defines what the service needs from the completion service
type Completer interface {
	Stream(ctx context.Context, req completion.Request) iter.Seq2[fragment.Fragment, error]
}

// ToolRunner defines what the service needs from the tool layer
type ToolRunner interface {
	Definitions() []completion.Tool
	Call(ctx context.Context, name, arguments string) (string, error)
}

// Deliverer defines what the service needs from the remote message surface.
// One Deliverer serves one generation; Finalize resets it for the next round.
type Deliverer interface {
	Push(content string)
	Finalize(ctx context.Context, content string) (string, error)
	Discard(ctx context.Context) error
	Delete(ctx context.Context, handle string) error
}

// Options tune the generation loop.
type Options struct {
	// MaxRounds caps completion calls per generation (tool and length rounds).
	MaxRounds int
	// Placeholder is shown while waiting for the first fragment of a round.
	Placeholder string
	// StoreTimeout bounds lock release and cleanup after the caller is gone.
	StoreTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRounds <= 0 {
		o.MaxRounds = 8
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	return o
}

// Result describes a finished generation.
type Result struct {
	Content   string
	MessageID string
	Rounds    int
	Usage     fragment.Usage
}

// Service runs generations. It is safe for concurrent use; conversations are
// serialized by Lock.
type Service struct {
	lock      *Lock
	history   *History
	completer Completer
	tools     ToolRunner
	opts      Options
	logger    *slog.Logger
}

// New creates a Service. tools may be nil.
func New(lock *Lock, history *History, completer Completer, tools ToolRunner, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		lock:      lock,
		history:   history,
		completer: completer,
		tools:     tools,
		opts:      opts.withDefaults(),
		logger:    logger.With("component", "conversation"),
	}
}

// History exposes the underlying turn store for commands.
func (s *Service) History() *History {
	return s.history
}

// IsBusy reports whether a generation is running for id.
func (s *Service) IsBusy(ctx context.Context, id ID) (bool, error) {
	return s.lock.IsHeld(ctx, id)
}

// ReplyRequest is an inbound user turn.
type ReplyRequest struct {
	Conversation ID
	Content      string
	// MessageID is the user's own remote message.
	MessageID string
	Delivery  Deliverer
}

// Reply records the user turn and generates an answer. It returns ErrBusy
// without touching history when another generation owns the conversation.
func (s *Service) Reply(ctx context.Context, req *ReplyRequest) (*Result, error) {
	if req.Delivery == nil {
		return nil, errors.New("delivery is required")
	}
	ctx, span := tracer.Start(ctx, "conversation.reply")
	defer span.End()
	span.SetAttributes(attribute.String("conversation", req.Conversation.String()))

	ctx, release, err := s.acquire(ctx, req.Conversation)
	if err != nil {
		return nil, s.finish(span, time.Now(), err)
	}
	defer release()

	start := time.Now()
	turn := NewTurn(RoleUser, req.Content)
	turn.MessageID = req.MessageID
	if err := s.history.Append(ctx, req.Conversation, turn); err != nil {
		return nil, s.finish(span, start, lockLost(ctx, fmt.Errorf("recording user turn: %w", err)))
	}

	res, err := s.generate(ctx, req.Conversation, req.Delivery)
	return res, s.finish(span, start, lockLost(ctx, err))
}

// AddTurn records a user turn without answering it.
func (s *Service) AddTurn(ctx context.Context, id ID, content, messageID string) error {
	ctx, release, err := s.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	turn := NewTurn(RoleUser, content)
	turn.MessageID = messageID
	if err := s.history.Append(ctx, id, turn); err != nil {
		return lockLost(ctx, fmt.Errorf("recording user turn: %w", err))
	}
	return nil
}

// Reset drops the turns and system override of a conversation.
func (s *Service) Reset(ctx context.Context, id ID) error {
	ctx, release, err := s.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	return lockLost(ctx, s.history.Clear(ctx, id))
}

// Regenerate rolls the conversation back to its last user turn, deletes the
// messages of the removed turns, and generates a new answer.
func (s *Service) Regenerate(ctx context.Context, id ID, d Deliverer) (*Result, error) {
	if d == nil {
		return nil, errors.New("delivery is required")
	}
	ctx, span := tracer.Start(ctx, "conversation.regenerate")
	defer span.End()
	span.SetAttributes(attribute.String("conversation", id.String()))

	ctx, release, err := s.acquire(ctx, id)
	if err != nil {
		return nil, s.finish(span, time.Now(), err)
	}
	defer release()

	start := time.Now()
	turns, err := s.history.List(ctx, id)
	if err != nil {
		return nil, s.finish(span, start, err)
	}
	idx, err := LastUserIndex(turns)
	if err != nil {
		return nil, s.finish(span, start, err)
	}
	removed, err := s.history.TrimAfter(ctx, id, idx)
	if err != nil {
		return nil, s.finish(span, start, err)
	}
	for _, t := range removed {
		if t.MessageID == "" {
			continue
		}
		if err := d.Delete(ctx, t.MessageID); err != nil {
			s.logger.Warn("failed to delete message of removed turn",
				"conversation", id.String(),
				"message_id", t.MessageID,
				"error", err)
		}
	}

	res, err := s.generate(ctx, id, d)
	return res, s.finish(span, start, lockLost(ctx, err))
}

// acquire takes the conversation lock and returns its release func. While
// held, the lease is refreshed every third of the lock TTL; the returned
// context is cancelled with ErrLockLost if another holder took over. Release
// runs on a fresh context so a cancelled caller cannot leak the lock.
func (s *Service) acquire(ctx context.Context, id ID) (context.Context, func(), error) {
	lease, ok, err := s.lock.TryAcquire(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		metrics.LockContentionTotal.Inc()
		return nil, nil, ErrBusy
	}

	ctx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	if ttl := s.lock.TTL(); ttl > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.keepAlive(ctx, lease, max(ttl/3, time.Millisecond), stop, cancel)
		}()
	}

	return ctx, func() {
		close(stop)
		wg.Wait()
		cancel(nil)

		rctx, rcancel := context.WithTimeout(context.Background(), s.opts.StoreTimeout)
		defer rcancel()
		if err := s.lock.Release(rctx, lease); err != nil {
			s.logger.Error("failed to release lock", "conversation", id.String(), "error", err)
		}
	}, nil
}

// keepAlive refreshes lease until stop closes. A failed refresh is retried on
// the next tick since the entry still has time left; a lease that is no
// longer owned cancels the work.
func (s *Service) keepAlive(ctx context.Context, lease Lease, every time.Duration, stop <-chan struct{}, lost context.CancelCauseFunc) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rctx, cancel := context.WithTimeout(context.Background(), s.opts.StoreTimeout)
		held, err := s.lock.Refresh(rctx, lease)
		cancel()
		if err != nil {
			s.logger.Warn("failed to refresh lock", "conversation", lease.Conversation.String(), "error", err)
			continue
		}
		if !held {
			s.logger.Error("conversation lock lost during generation", "conversation", lease.Conversation.String())
			lost(ErrLockLost)
			return
		}
	}
}

// lockLost reports ErrLockLost for work cut short by a lost lease.
func lockLost(ctx context.Context, err error) error {
	if err != nil && errors.Is(context.Cause(ctx), ErrLockLost) {
		return ErrLockLost
	}
	return err
}

func (s *Service) finish(span trace.Span, start time.Time, err error) error {
	outcome := outcomeOf(err)
	metrics.GenerationsTotal.WithLabelValues(outcome).Inc()
	if outcome != "busy" {
		metrics.GenerationDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil && !errors.Is(err, ErrBusy) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "stop"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrLockLost):
		return "lock_lost"
	case errors.Is(err, ErrContentFilter):
		return "content_filter"
	case errors.Is(err, ErrTooManyRounds):
		return "too_many_rounds"
	case errors.Is(err, ErrNoHistory):
		return "no_history"
	default:
		return "error"
	}
}

// generate runs completion rounds until the model stops. The caller holds the lock.
func (s *Service) generate(ctx context.Context, id ID, d Deliverer) (*Result, error) {
	res := &Result{}
	for res.Rounds < s.opts.MaxRounds {
		res.Rounds++

		req, err := s.buildRequest(ctx, id)
		if err != nil {
			return nil, err
		}

		var agg fragment.Aggregate
		if err := s.stream(ctx, req, &agg, d); err != nil {
			s.discard(d, id)
			return nil, err
		}
		resp := agg.Response()
		s.recordUsage(resp, &res.Usage)
		metrics.RoundsTotal.WithLabelValues(agg.FinishReason().String()).Inc()

		switch agg.FinishReason() {
		case fragment.FinishStop:
			turn := NewTurn(RoleAssistant, resp.Delta.Content)
			handle, err := s.record(ctx, id, d, agg.Text(), turn)
			if err != nil {
				return nil, err
			}
			res.Content = resp.Delta.Content
			res.MessageID = handle
			return res, nil

		case fragment.FinishToolCalls:
			turn := NewTurn(RoleAssistant, resp.Delta.Content)
			turn.ToolCalls = resp.Delta.ToolCalls
			if _, err := s.record(ctx, id, d, agg.Text(), turn); err != nil && !isDelivery(err) {
				return nil, err
			}
			if err := s.runTools(ctx, id, resp.Delta.ToolCalls); err != nil {
				return nil, err
			}

		case fragment.FinishLength:
			turn := NewTurn(RoleAssistant, resp.Delta.Content)
			if _, err := s.record(ctx, id, d, agg.Text(), turn); err != nil && !isDelivery(err) {
				return nil, err
			}
			s.logger.Warn("completion truncated, requesting continuation",
				"conversation", id.String(),
				"round", res.Rounds)

		case fragment.FinishContentFilter:
			s.discard(d, id)
			return nil, ErrContentFilter

		case fragment.FinishNone:
			s.discard(d, id)
			return nil, ErrIncomplete

		default:
			s.discard(d, id)
			return nil, fmt.Errorf("unhandled finish reason %v", agg.FinishReason())
		}
	}
	return nil, ErrTooManyRounds
}

// record finalizes the round's message and appends turn with its handle. The
// turn is appended even when delivery fails, without a message ID, so history
// never ends on a user turn the model already answered. The delivery error is
// returned after the append.
func (s *Service) record(ctx context.Context, id ID, d Deliverer, text string, turn Turn) (string, error) {
	handle, derr := d.Finalize(ctx, text)
	if derr != nil {
		s.logger.Warn("failed to deliver round", "conversation", id.String(), "error", derr)
	}
	turn.MessageID = handle
	if err := s.history.Append(ctx, id, turn); err != nil {
		return "", fmt.Errorf("recording %s turn: %w", turn.Role, err)
	}
	if derr != nil {
		return "", derr
	}
	return handle, nil
}

// isDelivery reports whether err came from the remote surface. Such errors
// end the generation only on its final round.
func isDelivery(err error) bool {
	var derr *delivery.DeliveryError
	return errors.As(err, &derr)
}

// stream feeds one completion round into agg and pushes its projection.
func (s *Service) stream(ctx context.Context, req completion.Request, agg *fragment.Aggregate, d Deliverer) error {
	if s.opts.Placeholder != "" {
		d.Push(s.opts.Placeholder)
	}
	for f, err := range s.completer.Stream(ctx, req) {
		if err != nil {
			return fmt.Errorf("completion stream: %w", err)
		}
		metrics.FragmentsTotal.Inc()
		if err := agg.Add(f); err != nil {
			if errors.Is(err, fragment.ErrAggregateFrozen) {
				s.logger.Warn("ignoring fragment after finish", "id", f.ID)
				continue
			}
			return fmt.Errorf("merging fragment: %w", err)
		}
		if text := agg.Text(); text != "" {
			d.Push(text)
		}
	}
	return nil
}

// runTools invokes every call in order and records one tool turn per call.
// Tool failures become the turn text so the model can react to them.
func (s *Service) runTools(ctx context.Context, id ID, calls []fragment.ToolCall) error {
	for _, call := range calls {
		var out string
		var err error
		start := time.Now()
		if s.tools == nil {
			err = fmt.Errorf("tool %q is not available", call.Name)
		} else {
			out, err = s.tools.Call(ctx, call.Name, call.Arguments)
		}
		metrics.ToolCallsTotal.WithLabelValues(call.Name, metrics.Status(err)).Inc()
		metrics.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
		if err != nil {
			s.logger.Warn("tool call failed", "conversation", id.String(), "tool", call.Name, "error", err)
			out = "error: " + err.Error()
		}

		turn := NewTurn(RoleTool, out)
		turn.ToolCallID = call.ID
		if err := s.history.Append(ctx, id, turn); err != nil {
			return fmt.Errorf("recording tool result: %w", err)
		}
	}
	return nil
}

// discard removes the in-progress message on a fresh context.
func (s *Service) discard(d Deliverer, id ID) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StoreTimeout)
	defer cancel()
	if err := d.Discard(ctx); err != nil {
		s.logger.Warn("failed to discard in-progress message", "conversation", id.String(), "error", err)
	}
}

func (s *Service) recordUsage(resp fragment.Fragment, total *fragment.Usage) {
	if resp.Usage == nil {
		return
	}
	total.PromptTokens += resp.Usage.PromptTokens
	total.CompletionTokens += resp.Usage.CompletionTokens
	total.TotalTokens += resp.Usage.TotalTokens
	metrics.TokensTotal.WithLabelValues(resp.Model, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.TokensTotal.WithLabelValues(resp.Model, "completion").Add(float64(resp.Usage.CompletionTokens))
	s.logger.Info("token usage",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)
}

// buildRequest turns the system override and history into a prompt.
func (s *Service) buildRequest(ctx context.Context, id ID) (completion.Request, error) {
	system, err := s.history.SystemOverride(ctx, id)
	if err != nil {
		return completion.Request{}, err
	}
	turns, err := s.history.List(ctx, id)
	if err != nil {
		return completion.Request{}, err
	}

	req := completion.Request{Messages: make([]completion.Message, 0, len(turns)+1)}
	if system != "" {
		req.Messages = append(req.Messages, completion.Message{Role: "system", Content: system})
	}
	for _, t := range turns {
		req.Messages = append(req.Messages, toMessage(t))
	}
	if s.tools != nil {
		req.Tools = s.tools.Definitions()
	}
	return req, nil
}

func toMessage(t Turn) completion.Message {
	m := completion.Message{
		Role:       string(t.Role),
		Content:    t.Content,
		ToolCallID: t.ToolCallID,
	}
	for _, tc := range t.ToolCalls {
		typ := tc.Type
		if typ == "" {
			typ = "function"
		}
		m.ToolCalls = append(m.ToolCalls, completion.ToolCall{
			ID:   tc.ID,
			Type: typ,
			Function: completion.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return m
}
