// ABOUTME: Text file attachments become user turns in the conversation
// ABOUTME: Only small UTF-8 text files are accepted

package bot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/YubinMoon/servant-bot/internal/conversation"
	"github.com/YubinMoon/servant-bot/internal/matrix"
)

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true, ".json": true,
	".yaml": true, ".yml": true, ".toml": true, ".log": true, ".go": true,
	".py": true, ".js": true, ".ts": true, ".html": true, ".xml": true,
}

func isTextFile(att *matrix.Attachment) bool {
	if strings.HasPrefix(att.MimeType, "text/") {
		return true
	}
	return textExtensions[strings.ToLower(filepath.Ext(att.Name))]
}

func (b *Bot) handleFile(ctx context.Context, conv conversation.ID, msg matrix.Message) {
	att := msg.Attachment
	if !isTextFile(att) {
		b.logger.Debug("ignoring non-text attachment", "room", msg.RoomID.String(), "name", att.Name, "mime", att.MimeType)
		return
	}
	if att.Size > b.cfg.MaxFileBytes {
		b.notice(ctx, msg, fmt.Sprintf("%s is too large to read (limit %d KiB).", att.Name, b.cfg.MaxFileBytes>>10))
		return
	}

	data, err := b.chat.Download(ctx, att)
	if err != nil {
		b.logger.Warn("failed to download attachment", "room", msg.RoomID.String(), "name", att.Name, "error", err)
		b.notice(ctx, msg, fmt.Sprintf("Could not read %s.", att.Name))
		return
	}
	if len(data) > b.cfg.MaxFileBytes {
		b.notice(ctx, msg, fmt.Sprintf("%s is too large to read (limit %d KiB).", att.Name, b.cfg.MaxFileBytes>>10))
		return
	}
	if !utf8.Valid(data) {
		b.notice(ctx, msg, fmt.Sprintf("%s is not a UTF-8 text file.", att.Name))
		return
	}

	content := fmt.Sprintf("Attached file %s:\n\n%s", att.Name, string(data))
	if err := b.service.AddTurn(ctx, conv, content, msg.EventID.String()); err != nil {
		b.reportError(ctx, msg, err)
		return
	}
	b.logger.Info("attachment added", "room", msg.RoomID.String(), "conversation", conv.String(), "name", att.Name, "bytes", len(data))
	b.notice(ctx, msg, fmt.Sprintf("Added %s to the conversation.", att.Name))
}
