// Package store holds the client-side ordered message log. It reconciles the
// optimistic local copy of a message with the server's authoritative echo,
// whichever arrives first, and tracks the ephemeral per-conversation typing
// signal. One Store is constructed per session and passed by reference; there
// is no package-level state.
package store

import (
	"iter"
	"sync"

	"pairchat/internal/domain"
)

type Store struct {
	mu       sync.RWMutex
	messages []domain.Message

	// positional indexes into messages, so reconciliation does not rescan the log
	byID       map[string]int
	byClientID map[string]int

	// conversation key -> user currently typing in that conversation
	typing map[string]string
}

func New() *Store {
	return &Store{
		byID:       make(map[string]int),
		byClientID: make(map[string]int),
		typing:     make(map[string]string),
	}
}

// Add reconciles an incoming message into the log and returns the record now
// occupying its slot. Matching is by ID first, then by ClientID; a match is
// shallow-merged in place so the record keeps its position and its
// earlier-known fields. With no usable key the message is appended as new.
// Applying the optimistic local copy and the server echo in either order, or
// the echo twice, converges to exactly one record.
func (s *Store) Add(incoming domain.Message) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if incoming.ID != "" {
		if pos, ok := s.byID[incoming.ID]; ok {
			return s.mergeAt(pos, incoming)
		}
	}
	if incoming.ClientID != "" {
		if pos, ok := s.byClientID[incoming.ClientID]; ok {
			return s.mergeAt(pos, incoming)
		}
	}

	pos := len(s.messages)
	s.messages = append(s.messages, incoming)
	s.index(pos, incoming)
	return incoming
}

func (s *Store) mergeAt(pos int, incoming domain.Message) domain.Message {
	merged := domain.Merge(s.messages[pos], incoming)
	s.messages[pos] = merged
	s.index(pos, merged)
	return merged
}

func (s *Store) index(pos int, m domain.Message) {
	if m.ID != "" {
		s.byID[m.ID] = pos
	}
	if m.ClientID != "" {
		s.byClientID[m.ClientID] = pos
	}
}

// MarkSeenFromSender flips seen on every message sent by senderID to myID.
// All other records, including the opposite direction, are untouched.
func (s *Store) MarkSeenFromSender(senderID, myID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].Sender == senderID && s.messages[i].Recipient == myID {
			s.messages[i].Seen = true
		}
	}
}

// MarkMineSeen flips seen on every message myID sent to recipientID, applied
// when the remote party's read receipt arrives.
func (s *Store) MarkMineSeen(myID, recipientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].Sender == myID && s.messages[i].Recipient == recipientID {
			s.messages[i].Seen = true
		}
	}
}

// SetTyping records typerID as the active typer in the conversation between
// typerID and otherID. Each pair is tracked independently, so two contacts
// typing concurrently do not clobber each other.
func (s *Store) SetTyping(typerID, otherID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing[domain.ConversationKey(typerID, otherID)] = typerID
}

// ClearTyping removes the typing signal for the pair, but only if typerID is
// the current holder. A stale stop signal from someone else never erases an
// active one.
func (s *Store) ClearTyping(typerID, otherID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := domain.ConversationKey(typerID, otherID)
	if s.typing[key] == typerID {
		delete(s.typing, key)
	}
}

// TypingIn returns who is typing in the conversation between a and b, if anyone.
func (s *Store) TypingIn(a, b string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	who, ok := s.typing[domain.ConversationKey(a, b)]
	return who, ok
}

// Conversation returns a lazy, restartable, order-preserving view of the
// messages between otherID and myID. The sequence iterates a snapshot, so it
// is safe to range over while the store keeps mutating.
func (s *Store) Conversation(otherID, myID string) iter.Seq[domain.Message] {
	all := s.Messages()
	return func(yield func(domain.Message) bool) {
		for _, m := range all {
			if !m.InConversation(otherID, myID) {
				continue
			}
			if !yield(m) {
				return
			}
		}
	}
}

// Messages returns a copy of the full ordered log.
func (s *Store) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
