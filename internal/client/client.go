// Package client is the connecting half of the sync protocol: it dials the
// relay with a bearer credential, adds outgoing messages to its store
// optimistically, and feeds every inbound event through the store's
// reconciliation mutators so the local log converges with the server's.
package client

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pairchat/internal/domain"
	"pairchat/internal/relay"
	"pairchat/internal/store"
)

// Options carries the optional notification hooks; the store itself is always
// kept current regardless of which hooks are set.
type Options struct {
	OnReceive func(msg domain.Message)
	OnTyping  func(senderID string, active bool)
	OnSeen    func(readerID, senderID string)
	OnError   func(code, reason, clientID string)
}

type Client struct {
	selfID string
	store  *store.Store
	conn   *websocket.Conn
	opts   Options

	send chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	pending map[string]string // correlation id -> clientId ("" for non-send requests)
}

// Dial connects and authenticates, then starts the read and write pumps.
// A refused handshake surfaces as the dial error.
func Dial(ctx context.Context, rawURL, token, selfID string, st *store.Store, opts Options) (*Client, error) {
	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, err
	}

	c := &Client{
		selfID:  selfID,
		store:   st,
		conn:    conn,
		opts:    opts,
		send:    make(chan []byte, 64),
		done:    make(chan struct{}),
		pending: make(map[string]string),
	}
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

func (c *Client) Store() *store.Store { return c.store }

func (c *Client) SelfID() string { return c.selfID }

// Done is closed when the connection is gone. Missed ephemeral signals are
// lost; missed persisted messages come back through the history path.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// SendMessage adds the message to the local log immediately and asks the
// relay to persist it. The returned record carries the correlation token the
// server echo will reconcile against.
func (c *Client) SendMessage(receiverID, content string) domain.Message {
	local := domain.Message{
		ClientID:  uuid.NewString(),
		Sender:    c.selfID,
		Recipient: receiverID,
		Content:   strings.TrimSpace(content),
	}
	c.store.Add(local)

	correlationID := uuid.NewString()
	c.track(correlationID, local.ClientID)
	c.request(relay.EventSendMessage, correlationID, relay.SendMessagePayload{
		ReceiverID: receiverID,
		Content:    content,
		ClientID:   local.ClientID,
	})
	return local
}

func (c *Client) Typing(receiverID string) {
	c.request(relay.EventTyping, "", relay.TargetPayload{ReceiverID: receiverID})
}

func (c *Client) StopTyping(receiverID string) {
	c.request(relay.EventStopTyping, "", relay.TargetPayload{ReceiverID: receiverID})
}

// MarkSeen flips the local receipts optimistically and reports the read to
// the relay, which persists it and notifies the other party.
func (c *Client) MarkSeen(otherID string) {
	c.store.MarkSeenFromSender(otherID, c.selfID)

	correlationID := uuid.NewString()
	c.track(correlationID, "")
	c.request(relay.EventSeen, correlationID, relay.TargetPayload{ReceiverID: otherID})
}

func (c *Client) track(correlationID, clientID string) {
	c.mu.Lock()
	c.pending[correlationID] = clientID
	c.mu.Unlock()
}

func (c *Client) untrack(correlationID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clientID, ok := c.pending[correlationID]
	if ok {
		delete(c.pending, correlationID)
	}
	return clientID, ok
}

func (c *Client) request(event, correlationID string, payload any) {
	raw, err := relay.EncodeEnvelope(event, correlationID, payload)
	if err != nil {
		return
	}
	select {
	case c.send <- raw:
	case <-c.done:
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case raw := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				log.Printf("client: write error: %v", err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env relay.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		c.handle(env)
	}
}

func (c *Client) handle(env relay.Envelope) {
	switch env.Event {
	case relay.EventReceiveMessage:
		var msg domain.Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return
		}
		merged := c.store.Add(msg)
		if c.opts.OnReceive != nil {
			c.opts.OnReceive(merged)
		}

	case relay.EventTyping, relay.EventStopTyping:
		var te relay.TypingEvent
		if err := json.Unmarshal(env.Payload, &te); err != nil {
			return
		}
		active := env.Event == relay.EventTyping
		if active {
			c.store.SetTyping(te.SenderID, c.selfID)
		} else {
			c.store.ClearTyping(te.SenderID, c.selfID)
		}
		if c.opts.OnTyping != nil {
			c.opts.OnTyping(te.SenderID, active)
		}

	case relay.EventSeen:
		var se relay.SeenEvent
		if err := json.Unmarshal(env.Payload, &se); err != nil {
			return
		}
		if se.ReaderID == c.selfID {
			// Another of our sessions read these; converge this log too
			c.store.MarkSeenFromSender(se.SenderID, c.selfID)
		}
		if se.SenderID == c.selfID {
			// The other party read what we sent them
			c.store.MarkMineSeen(c.selfID, se.ReaderID)
		}
		if c.opts.OnSeen != nil {
			c.opts.OnSeen(se.ReaderID, se.SenderID)
		}

	case relay.EventAck:
		clientID, ok := c.untrack(env.CorrelationID)
		if !ok {
			return
		}
		if clientID != "" {
			// Ack of a send: merge the persisted record onto the optimistic one
			var msg domain.Message
			if err := json.Unmarshal(env.Payload, &msg); err != nil {
				return
			}
			c.store.Add(msg)
		}

	case relay.EventError:
		var e relay.ErrorEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return
		}
		clientID, _ := c.untrack(env.CorrelationID)
		if c.opts.OnError != nil {
			c.opts.OnError(e.Code, e.Reason, clientID)
		} else {
			log.Printf("client: request failed code=%s reason=%s", e.Code, e.Reason)
		}
	}
}
