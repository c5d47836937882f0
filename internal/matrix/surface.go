// ABOUTME: delivery.Surface implementation over Matrix room events
// ABOUTME: Create sends m.text, edit sends m.replace, delete redacts, upload posts an m.file

package matrix

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Surface posts into one room, optionally inside a thread. The channelID
// argument of every method is the room ID.
type Surface struct {
	client *Client
	thread id.EventID
}

func (s *Surface) CreateMessage(ctx context.Context, channelID, content string) (string, error) {
	msg := textContent(content)
	inThread(msg, s.thread)
	resp, err := s.client.mx.SendMessageEvent(ctx, id.RoomID(channelID), event.EventMessage, msg)
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	return resp.EventID.String(), nil
}

func (s *Surface) EditMessage(ctx context.Context, channelID, handle, content string) error {
	msg := textContent(content)
	msg.SetEdit(id.EventID(handle))
	if _, err := s.client.mx.SendMessageEvent(ctx, id.RoomID(channelID), event.EventMessage, msg); err != nil {
		return fmt.Errorf("editing %s: %w", handle, err)
	}
	return nil
}

func (s *Surface) DeleteMessage(ctx context.Context, channelID, handle string) error {
	return s.client.Redact(ctx, id.RoomID(channelID), id.EventID(handle))
}

func (s *Surface) UploadAttachment(ctx context.Context, channelID string, data []byte, filename string) (string, error) {
	mimeType := mime.TypeByExtension(filepath.Ext(filename))
	if mimeType == "" || filepath.Ext(filename) == ".md" {
		mimeType = "text/markdown"
	}

	upload, err := s.client.mx.UploadBytes(ctx, data, mimeType)
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", filename, err)
	}

	msg := &event.MessageEventContent{
		MsgType:  event.MsgFile,
		Body:     filename,
		FileName: filename,
		URL:      upload.ContentURI.CUString(),
		Info: &event.FileInfo{
			MimeType: mimeType,
			Size:     len(data),
		},
	}
	inThread(msg, s.thread)
	resp, err := s.client.mx.SendMessageEvent(ctx, id.RoomID(channelID), event.EventMessage, msg)
	if err != nil {
		return "", fmt.Errorf("sending %s: %w", filename, err)
	}
	return resp.EventID.String(), nil
}
