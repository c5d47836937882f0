// ABOUTME: Remote message surface the coordinator delivers to
// ABOUTME: Declares the Surface interface and the DeliveryError wrapper

package delivery

import (
	"context"
	"fmt"
)

// Surface is a chat platform that can post, edit and delete messages.
type Surface interface {
	CreateMessage(ctx context.Context, channelID, content string) (string, error)
	EditMessage(ctx context.Context, channelID, handle, content string) error
	DeleteMessage(ctx context.Context, channelID, handle string) error
	UploadAttachment(ctx context.Context, channelID string, data []byte, filename string) (string, error)
}

// DeliveryError is a failed surface operation.
type DeliveryError struct {
	Op  string
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery %s: %v", e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
