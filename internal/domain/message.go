package domain

import (
	"strings"
	"time"
)

const MaxContentLength = 500

// Message Invariants:
// 1. Identity: ID is assigned only by persistence; ClientID is the client-side
//    correlation token and exists only on client-originated records.
// 2. A client log holds at most one record per logical message, keyed by ID if
//    present, else by ClientID.
// 3. Immutability: content never changes after creation. Seen only flips false->true.
type Message struct {
	ID        string    `json:"id,omitempty"`
	ClientID  string    `json:"clientId,omitempty"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content,omitempty"`
	Seen      bool      `json:"seen"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// ValidateSend checks the send_message preconditions: a recipient and a
// non-empty trimmed content within the size limit. It returns the trimmed
// content on success.
func ValidateSend(recipient, content string) (string, error) {
	if recipient == "" {
		return "", ErrMissingRecipient
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if len(trimmed) > MaxContentLength {
		return "", ErrContentTooLarge
	}
	return trimmed, nil
}

// InConversation reports whether the message belongs to the unordered pair
// (a, b). A conversation is not a stored entity, only this predicate.
func (m Message) InConversation(a, b string) bool {
	return (m.Sender == a && m.Recipient == b) || (m.Sender == b && m.Recipient == a)
}

// Merge shallow-merges incoming onto base: fields present on incoming
// overwrite, fields absent on incoming keep their prior value. Presence means
// a non-zero value; Seen merges monotonically so a partial echo never clears
// an already-known receipt. Pure and total; merging the same incoming twice
// yields the same record.
func Merge(base, incoming Message) Message {
	out := base
	if incoming.ID != "" {
		out.ID = incoming.ID
	}
	if incoming.ClientID != "" {
		out.ClientID = incoming.ClientID
	}
	if incoming.Sender != "" {
		out.Sender = incoming.Sender
	}
	if incoming.Recipient != "" {
		out.Recipient = incoming.Recipient
	}
	if incoming.Content != "" {
		out.Content = incoming.Content
	}
	if incoming.Seen {
		out.Seen = true
	}
	if !incoming.CreatedAt.IsZero() {
		out.CreatedAt = incoming.CreatedAt
	}
	return out
}

// ConversationKey returns a canonical key for the unordered pair (a, b).
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
