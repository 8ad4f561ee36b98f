package models

import (
	"fmt"
	"time"
)

// Origin identifies which party authored a message.
type Origin string

const (
	OriginUser     Origin = "user"
	OriginOperator Origin = "operator"
	OriginDoctor   Origin = "doctor"
)

// Valid reports whether o is one of the known origins.
func (o Origin) Valid() bool {
	switch o {
	case OriginUser, OriginOperator, OriginDoctor:
		return true
	}
	return false
}

// ParseOrigin converts a stored or claimed role into an Origin.
func ParseOrigin(s string) (Origin, error) {
	o := Origin(s)
	if !o.Valid() {
		return "", fmt.Errorf("unknown origin %q", s)
	}
	return o, nil
}

// ReplyRef points at an earlier message. Excerpt is a copy of that message's
// body taken when the reply was written and is never refreshed.
type ReplyRef struct {
	MessageID string `json:"message_id"`
	Excerpt   string `json:"excerpt"`
}

// Message is a persisted chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Body           string    `json:"body"`
	Origin         Origin    `json:"origin"`
	Seen           bool      `json:"seen"`
	UserError      bool      `json:"user_error"`
	ReplyTo        *ReplyRef `json:"reply_to,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewMessage describes a message before the store assigns id and timestamp.
type NewMessage struct {
	ConversationID string
	Body           string
	Origin         Origin
	ReplyTo        *ReplyRef
	UserError      bool
}
