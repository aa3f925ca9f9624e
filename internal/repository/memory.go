package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pairchat/internal/domain"
)

// Memory is an in-process MessageStore used by tests and when no database is
// configured. Same contract as Postgres, including MarkSeen idempotence.
type Memory struct {
	mu       sync.RWMutex
	messages []domain.Message
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Create(ctx context.Context, sender, recipient, content string) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg := domain.Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *Memory) MarkSeen(ctx context.Context, senderID, recipientID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for i := range m.messages {
		if m.messages[i].Sender == senderID && m.messages[i].Recipient == recipientID && !m.messages[i].Seen {
			m.messages[i].Seen = true
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListForUser(ctx context.Context, userID string, limit, offset int) ([]domain.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Message
	for _, msg := range m.messages {
		if msg.Sender == userID || msg.Recipient == userID {
			out = append(out, msg)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Conversation(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Message
	for _, msg := range m.messages {
		if msg.InConversation(userA, userB) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *Memory) CountUnseen(ctx context.Context, recipientID string) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int64)
	for _, msg := range m.messages {
		if msg.Recipient == recipientID && !msg.Seen {
			counts[msg.Sender]++
		}
	}
	return counts, nil
}
