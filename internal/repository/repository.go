// Package repository defines the durable message store contract shared by the
// real-time relay and the REST surface. Create is append-only and MarkSeen is
// a monotonic predicate-scoped update, so concurrent callers need no
// coordination at this layer.
package repository

import (
	"context"

	"pairchat/internal/domain"
)

type MessageStore interface {
	// Create persists a new message with a generated id, seen=false and
	// createdAt set at persistence time.
	Create(ctx context.Context, sender, recipient, content string) (domain.Message, error)

	// MarkSeen flips seen=false->true for every message from senderID to
	// recipientID and returns how many rows changed. Idempotent: a second
	// call with nothing left unseen returns 0, never an error.
	MarkSeen(ctx context.Context, senderID, recipientID string) (int64, error)

	// ListForUser returns messages sent or received by userID, oldest first.
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]domain.Message, error)

	// Conversation returns the messages between the unordered pair (userA,
	// userB), oldest first.
	Conversation(ctx context.Context, userA, userB string) ([]domain.Message, error)

	// CountUnseen returns, per sender, how many unseen messages recipientID has.
	CountUnseen(ctx context.Context, recipientID string) (map[string]int64, error)
}
