/*
Package chat contains the real-time relay core: the Session Registry, the Message Log, the
Delivery Status, Presence and Typing trackers, and the Hub that serializes every event and fans
messages out to connected clients.

This file defines the Message model and its delivery status.
*/
package chat

import (
	"fmt"
	"unicode/utf8"

	"relaychat/internal/pkg/errs"
)

// Status is the delivery status of a message. Values are ordered: sent < delivered < read.
type Status uint8

const (
	StatusSent Status = iota + 1
	StatusDelivered
	StatusRead
)

var statusNames = map[Status]string{
	StatusSent:      "sent",
	StatusDelivered: "delivered",
	StatusRead:      "read",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// MarshalText encodes the status as its lowercase name.
func (s Status) MarshalText() ([]byte, error) {
	name, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("invalid message status %d", uint8(s))
	}
	return []byte(name), nil
}

// UnmarshalText decodes a lowercase status name.
func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("invalid message status %q", text)
}

// ContentKind is the kind of message body.
type ContentKind string

const (
	KindText  ContentKind = "text"
	KindImage ContentKind = "image"
	KindFile  ContentKind = "file"
	KindVoice ContentKind = "voice"
)

// Content is a message body: plain text or an attachment descriptor with a display label.
type Content struct {
	Kind       ContentKind `json:"kind" validate:"required,oneof=text image file voice"`
	Text       string      `json:"text,omitempty"`
	Label      string      `json:"label,omitempty" validate:"max=256"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Validate checks the cross-field rules that struct tags cannot express.
// Text bodies must be non-empty and at most maxBytes; attachment bodies need a valid descriptor.
func (c *Content) Validate(maxBytes int) *errs.CustomError {
	if len(c.Text) > maxBytes {
		return errs.NewError(errs.ErrMessageContentTooLong, maxBytes)
	}
	if !utf8.ValidString(c.Text) || !utf8.ValidString(c.Label) {
		return errs.NewError(errs.ErrInvalidParams)
	}

	if c.Kind == KindText {
		if c.Text == "" {
			return errs.NewError(errs.ErrMessageContentEmpty)
		}
		if c.Attachment != nil {
			return errs.NewError(errs.ErrAttachmentInvalid)
		}
		return nil
	}

	if c.Attachment == nil {
		return errs.NewError(errs.ErrAttachmentInvalid)
	}
	if err := c.Attachment.Validate(c.Kind); err != nil {
		return err
	}
	if c.Label == "" {
		c.Label = c.Attachment.Name
	}
	return nil
}

// Message is an entry of the Message Log. Everything except Status is immutable once appended.
type Message struct {
	ID  string `json:"id"`
	Seq uint64 `json:"seq"`

	// Sender fields are a snapshot taken at send time.
	SenderID     string `json:"senderId"`
	SenderName   string `json:"senderName"`
	SenderAvatar string `json:"senderAvatar,omitempty"`

	Content Content `json:"content"`

	// CreatedAt is a unix timestamp in milliseconds.
	CreatedAt int64 `json:"createdAt"`

	Status Status `json:"status"`
}
