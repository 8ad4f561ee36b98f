// Package replythread encodes the compact reply reference carried inside a
// message text field.
//
// The wire form is body#replyMessageId#replyExcerpt. The separator is not
// escaped anywhere, so it must not appear inside message bodies; a body that
// contains it is split as if it carried a reply.
package replythread

import (
	"strings"

	"coach-chat/internal/models"
)

// DefaultSeparator is the field separator used on the wire.
const DefaultSeparator = "#"

// Thread is the decoded form of an inbound message text.
type Thread struct {
	Body    string
	ReplyTo *models.ReplyRef
}

// Codec converts between raw message text and Thread, and joins server
// assigned fields onto outbound text.
type Codec interface {
	Decode(raw string) Thread
	Encode(body string, ref *models.ReplyRef) string
	Join(fields ...string) string
}

// HashCodec is the separator-joined codec used by existing clients.
type HashCodec struct {
	Sep string
}

// NewHashCodec returns a codec using DefaultSeparator.
func NewHashCodec() HashCodec {
	return HashCodec{Sep: DefaultSeparator}
}

func (c HashCodec) sep() string {
	if c.Sep == "" {
		return DefaultSeparator
	}
	return c.Sep
}

// Decode splits raw into at most three parts. Without a separator the whole
// text is the body.
func (c HashCodec) Decode(raw string) Thread {
	parts := strings.SplitN(raw, c.sep(), 3)
	if len(parts) == 1 {
		return Thread{Body: raw}
	}
	ref := &models.ReplyRef{MessageID: parts[1]}
	if len(parts) == 3 {
		ref.Excerpt = parts[2]
	}
	return Thread{Body: parts[0], ReplyTo: ref}
}

// Encode appends the reply reference to body when there is one.
func (c HashCodec) Encode(body string, ref *models.ReplyRef) string {
	if ref == nil {
		return body
	}
	return c.Join(body, ref.MessageID, ref.Excerpt)
}

// Join concatenates fields with the separator.
func (c HashCodec) Join(fields ...string) string {
	return strings.Join(fields, c.sep())
}
