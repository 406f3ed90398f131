package domain

import (
	"context"
	"time"
)

type InboundMessage struct {
	ID         string // relay-assigned request id
	Channel    string
	ChatID     string
	SenderID   string
	MessageID  string // platform message id, used to quote the reply
	FromSelf   bool
	Content    string
	Attachment *Attachment
	Timestamp  time.Time
}

// UserKey is the conversation key used for history and per-user ordering.
func (m InboundMessage) UserKey() string {
	sender := m.SenderID
	if sender == "" {
		sender = m.ChatID
	}
	return m.Channel + ":" + sender
}

// HasAttachment reports whether the message carries media.
func (m InboundMessage) HasAttachment() bool {
	return m.Attachment != nil
}

// Attachment describes inbound media. MimeType is what the platform declared
// and may be empty; Fetch downloads the bytes.
type Attachment struct {
	MimeType string
	Filename string
	Fetch    func(ctx context.Context) (*Media, error)
}

// Media is a downloaded attachment. It is owned by the call that fetched it.
type Media struct {
	MimeType string
	Filename string
	Data     []byte
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	ReplyTo string // platform message id being answered, optional
	Content string
	Format  string // text | markdown
}
