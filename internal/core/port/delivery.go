package port

import (
	"context"
	"io"
)

// MailMessage is a plain-text email.
type MailMessage struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers transactional email.
type Mailer interface {
	Send(ctx context.Context, msg MailMessage) error
}

// AvatarStorage stores uploaded avatar images and returns their public URL.
type AvatarStorage interface {
	Save(ctx context.Context, key string, contentType string, body io.Reader, size int64) (string, error)
}
