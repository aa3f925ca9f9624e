package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pairchat/internal/auth"
	"pairchat/internal/domain"
	"pairchat/internal/events"
	"pairchat/internal/repository"
)

const testSecret = "test-secret"

func newTestRelay(t *testing.T) (*httptest.Server, *repository.Memory) {
	t.Helper()

	store := repository.NewMemory()
	registry := NewRegistry()
	h := NewHandler(
		registry,
		auth.NewJWT(testSecret, "", ""),
		store,
		NewFanout(registry, nil, "test"),
		events.Noop{},
		"test",
	)

	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		registry.CloseAll()
		srv.Close()
	})
	return srv, store
}

func dialAs(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()

	token, err := auth.GenerateAccess(testSecret, userID, "", "", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{
		"Authorization": {"Bearer " + token},
	})
	if err != nil {
		t.Fatalf("dial as %s: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event, correlationID string, payload any) {
	t.Helper()
	raw, err := EncodeEnvelope(event, correlationID, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatal(err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, raw, err := conn.ReadMessage(); err == nil {
		t.Fatalf("Expected no event, got %s", raw)
	}
}

func TestHandshake_RefusedWithoutCredentials(t *testing.T) {
	srv, _ := newTestRelay(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial without credentials must fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 refusal, got %+v", resp)
	}
}

func TestHandshake_RefusedWithBadToken(t *testing.T) {
	srv, _ := newTestRelay(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{
		"Authorization": {"Bearer garbage"},
	})
	if err == nil {
		t.Fatal("Dial with an invalid token must fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 refusal, got %+v", resp)
	}
}

func TestSendMessage_DeliveredToBothGroups(t *testing.T) {
	srv, store := newTestRelay(t)

	sender := dialAs(t, srv, "u1")
	receiver := dialAs(t, srv, "u2")

	send(t, sender, EventSendMessage, "corr-1", SendMessagePayload{
		ReceiverID: "u2",
		Content:    "  hi  ",
		ClientID:   "c1",
	})

	// Receiver gets the persisted record
	env := readEnvelope(t, receiver)
	if env.Event != EventReceiveMessage {
		t.Fatalf("Expected receive_message, got %s", env.Event)
	}
	var msg domain.Message
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.ID == "" {
		t.Error("Broadcast record must carry the persisted id")
	}
	if msg.ClientID != "c1" {
		t.Errorf("Broadcast record must carry the client token, got %q", msg.ClientID)
	}
	if msg.Content != "hi" {
		t.Errorf("Content should be trimmed, got %q", msg.Content)
	}
	if msg.Sender != "u1" || msg.Recipient != "u2" {
		t.Errorf("Wrong addressing: %+v", msg)
	}

	// Sender's own group gets the echo, then the correlated ack
	got := map[string]Envelope{}
	for i := 0; i < 2; i++ {
		e := readEnvelope(t, sender)
		got[e.Event] = e
	}
	if _, ok := got[EventReceiveMessage]; !ok {
		t.Error("Sender's group should receive the echo")
	}
	ackEnv, ok := got[EventAck]
	if !ok {
		t.Fatal("Sender should receive an ack for corr-1")
	}
	if ackEnv.CorrelationID != "corr-1" {
		t.Errorf("Ack must carry the request correlation id, got %q", ackEnv.CorrelationID)
	}

	// Persisted exactly once
	stored, err := store.Conversation(context.Background(), "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Errorf("Expected 1 persisted message, got %d", len(stored))
	}
}

func TestSendMessage_FanOutToEverySession(t *testing.T) {
	srv, _ := newTestRelay(t)

	sender := dialAs(t, srv, "u1")
	receiverA := dialAs(t, srv, "u2")
	receiverB := dialAs(t, srv, "u2") // second device, same delivery group

	send(t, sender, EventSendMessage, "", SendMessagePayload{ReceiverID: "u2", Content: "hi"})

	for _, conn := range []*websocket.Conn{receiverA, receiverB} {
		env := readEnvelope(t, conn)
		if env.Event != EventReceiveMessage {
			t.Fatalf("Expected receive_message on every session, got %s", env.Event)
		}
	}
	// Exactly once per session
	expectSilence(t, receiverA)
}

func TestSendMessage_ValidationNack(t *testing.T) {
	srv, store := newTestRelay(t)

	sender := dialAs(t, srv, "u1")
	receiver := dialAs(t, srv, "u2")

	send(t, sender, EventSendMessage, "corr-2", SendMessagePayload{ReceiverID: "u2", Content: "   "})

	env := readEnvelope(t, sender)
	if env.Event != EventError {
		t.Fatalf("Expected error envelope, got %s", env.Event)
	}
	if env.CorrelationID != "corr-2" {
		t.Errorf("Nack must carry the correlation id, got %q", env.CorrelationID)
	}
	var e ErrorEvent
	if err := json.Unmarshal(env.Payload, &e); err != nil {
		t.Fatal(err)
	}
	if e.Code != "validation_failed" {
		t.Errorf("Expected validation_failed, got %q", e.Code)
	}

	// Nothing broadcast, nothing persisted
	expectSilence(t, receiver)
	stored, err := store.Conversation(context.Background(), "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 0 {
		t.Errorf("Rejected send must not be persisted, got %d", len(stored))
	}
}

func TestTyping_ReceiverGroupOnly(t *testing.T) {
	srv, _ := newTestRelay(t)

	typer := dialAs(t, srv, "u1")
	receiver := dialAs(t, srv, "u2")

	send(t, typer, EventTyping, "", TargetPayload{ReceiverID: "u2"})

	env := readEnvelope(t, receiver)
	if env.Event != EventTyping {
		t.Fatalf("Expected typing, got %s", env.Event)
	}
	var te TypingEvent
	if err := json.Unmarshal(env.Payload, &te); err != nil {
		t.Fatal(err)
	}
	if te.SenderID != "u1" {
		t.Errorf("Typing payload should be the typer's id, got %q", te.SenderID)
	}

	// The typer's own group is not notified
	expectSilence(t, typer)

	send(t, typer, EventStopTyping, "", TargetPayload{ReceiverID: "u2"})
	env = readEnvelope(t, receiver)
	if env.Event != EventStopTyping {
		t.Fatalf("Expected stop_typing, got %s", env.Event)
	}
}

func TestSeen_FlowAndIdempotence(t *testing.T) {
	srv, store := newTestRelay(t)
	ctx := context.Background()

	// u2 sent two messages to u1 while u1 was away
	if _, err := store.Create(ctx, "u2", "u1", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(ctx, "u2", "u1", "b"); err != nil {
		t.Fatal(err)
	}

	reader := dialAs(t, srv, "u1")
	sender := dialAs(t, srv, "u2")

	// u1 reports having read u2's messages
	send(t, reader, EventSeen, "corr-3", TargetPayload{ReceiverID: "u2"})

	// Both groups learn about it
	for name, conn := range map[string]*websocket.Conn{"reader": reader, "sender": sender} {
		env := readEnvelope(t, conn)
		if env.Event != EventSeen {
			t.Fatalf("%s: expected seen, got %s", name, env.Event)
		}
		var se SeenEvent
		if err := json.Unmarshal(env.Payload, &se); err != nil {
			t.Fatal(err)
		}
		if se.ReaderID != "u1" || se.SenderID != "u2" {
			t.Errorf("%s: wrong seen payload: %+v", name, se)
		}
	}

	// The reader's ack reports how many receipts flipped
	env := readEnvelope(t, reader)
	if env.Event != EventAck || env.CorrelationID != "corr-3" {
		t.Fatalf("Expected correlated ack, got %+v", env)
	}
	var ack SeenAck
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if ack.Updated != 2 {
		t.Errorf("Expected 2 receipts flipped, got %d", ack.Updated)
	}

	// Replaying seen is harmless: nothing left unseen
	send(t, reader, EventSeen, "corr-4", TargetPayload{ReceiverID: "u2"})
	readEnvelope(t, reader) // seen broadcast
	env = readEnvelope(t, reader)
	if env.Event != EventAck {
		t.Fatalf("Expected ack, got %s", env.Event)
	}
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if ack.Updated != 0 {
		t.Errorf("Second seen should flip 0 receipts, got %d", ack.Updated)
	}
}

func TestUnknownEvent_Nacked(t *testing.T) {
	srv, _ := newTestRelay(t)

	conn := dialAs(t, srv, "u1")
	send(t, conn, "subscribe", "corr-5", nil)

	env := readEnvelope(t, conn)
	if env.Event != EventError || env.CorrelationID != "corr-5" {
		t.Fatalf("Expected correlated error, got %+v", env)
	}
	var e ErrorEvent
	if err := json.Unmarshal(env.Payload, &e); err != nil {
		t.Fatal(err)
	}
	if e.Code != "unknown_event" {
		t.Errorf("Expected unknown_event, got %q", e.Code)
	}
}
