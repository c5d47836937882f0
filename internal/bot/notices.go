// ABOUTME: User-facing notices for failed turns and the self-cleaning busy notice
// ABOUTME: Maps pipeline errors to short explanations posted as m.notice

package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"maunium.net/go/mautrix/id"

	"github.com/YubinMoon/servant-bot/internal/completion"
	"github.com/YubinMoon/servant-bot/internal/conversation"
	"github.com/YubinMoon/servant-bot/internal/matrix"
)

const (
	busyText         = "Still answering the previous message. Send it again once the answer is done."
	noHistoryText    = "There is no earlier message to retry. Start by sending a message."
	contentFilterTxt = "The answer was blocked by the content filter. Please rephrase the question."
	tooManyRoundsTxt = "The answer needed too many steps and was stopped."
	storeDownText    = "Conversation storage is unavailable right now. Please try again later."
	timeoutText      = "The completion service took too long to answer. Please try again."
	lockLostText     = "The answer took too long and another request took over the conversation. It was stopped."
)

// errorText returns the notice for err, or "" when nothing should be said.
func errorText(err error) string {
	var lockErr *conversation.LockUnavailableError
	var apiErr *completion.APIError

	switch {
	case errors.Is(err, context.Canceled):
		return ""
	case errors.Is(err, conversation.ErrBusy):
		return busyText
	case errors.Is(err, conversation.ErrNoHistory):
		return noHistoryText
	case errors.Is(err, conversation.ErrContentFilter):
		return contentFilterTxt
	case errors.Is(err, conversation.ErrTooManyRounds):
		return tooManyRoundsTxt
	case errors.Is(err, conversation.ErrLockLost):
		return lockLostText
	case errors.As(err, &lockErr):
		return storeDownText
	case completion.IsTimeout(err):
		return timeoutText
	case errors.As(err, &apiErr):
		return fmt.Sprintf("The completion service returned an error (%d): %s", apiErr.StatusCode, apiErr.Message)
	default:
		return fmt.Sprintf("Something went wrong while answering: %v", err)
	}
}

// reportError posts the notice for err. A busy conversation gets a notice
// that is redacted, with the user's message, after BusyNoticeTTL.
func (b *Bot) reportError(ctx context.Context, msg matrix.Message, err error) {
	text := errorText(err)
	if text == "" {
		b.logger.Debug("turn canceled", "room", msg.RoomID.String(), "error", err)
		return
	}

	if errors.Is(err, conversation.ErrBusy) {
		b.logger.Info("conversation busy", "room", msg.RoomID.String(), "event", msg.EventID.String())
		b.busyNotice(ctx, msg)
		return
	}

	b.logger.Error("turn failed", "room", msg.RoomID.String(), "event", msg.EventID.String(), "error", err)
	b.notice(ctx, msg, text)
}

func (b *Bot) notice(ctx context.Context, msg matrix.Message, text string) id.EventID {
	evt, err := b.chat.Notice(ctx, msg.RoomID, msg.ThreadRoot, text)
	if err != nil {
		b.logger.Warn("failed to send notice", "room", msg.RoomID.String(), "error", err)
		return ""
	}
	return evt
}

func (b *Bot) busyNotice(ctx context.Context, msg matrix.Message) {
	noticeID := b.notice(ctx, msg, busyText)

	timer := time.NewTimer(b.cfg.BusyNoticeTTL)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	for _, evt := range []id.EventID{noticeID, msg.EventID} {
		if evt == "" {
			continue
		}
		if err := b.chat.Redact(ctx, msg.RoomID, evt); err != nil {
			b.logger.Warn("failed to redact busy exchange", "room", msg.RoomID.String(), "event", evt.String(), "error", err)
		}
	}
}
