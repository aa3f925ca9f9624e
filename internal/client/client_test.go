package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pairchat/internal/auth"
	"pairchat/internal/events"
	"pairchat/internal/relay"
	"pairchat/internal/repository"
	"pairchat/internal/store"
)

const testSecret = "test-secret"

func newTestRelay(t *testing.T) string {
	t.Helper()

	st := repository.NewMemory()
	registry := relay.NewRegistry()
	h := relay.NewHandler(
		registry,
		auth.NewJWT(testSecret, "", ""),
		st,
		relay.NewFanout(registry, nil, "test"),
		events.Noop{},
		"test",
	)

	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		registry.CloseAll()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialAs(t *testing.T, url, userID string, opts Options) *Client {
	t.Helper()

	token, err := auth.GenerateAccess(testSecret, userID, "", "", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	c, err := Dial(context.Background(), url, token, userID, store.New(), opts)
	if err != nil {
		t.Fatalf("dial as %s: %v", userID, err)
	}
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestClient_OptimisticSendConverges(t *testing.T) {
	url := newTestRelay(t)

	u1 := dialAs(t, url, "u1", Options{})
	u2 := dialAs(t, url, "u2", Options{})

	local := u1.SendMessage("u2", "hello")
	if local.ID != "" {
		t.Error("Optimistic record must not carry a server id yet")
	}
	if local.ClientID == "" {
		t.Fatal("Optimistic record needs a correlation token")
	}
	if u1.Store().Len() != 1 {
		t.Fatal("Optimistic record should be in the log immediately")
	}

	// The echo and the ack both land on u1; the log must still hold one
	// record, now server-confirmed.
	waitFor(t, func() bool {
		msgs := u1.Store().Messages()
		return len(msgs) == 1 && msgs[0].ID != ""
	}, "sender's log did not converge to one confirmed record")

	msgs := u1.Store().Messages()
	if msgs[0].ClientID != local.ClientID {
		t.Errorf("Confirmed record should keep the client token, got %+v", msgs[0])
	}
	if msgs[0].CreatedAt.IsZero() {
		t.Error("Confirmed record should carry the persistence timestamp")
	}

	// The receiver sees exactly one record too
	waitFor(t, func() bool {
		return u2.Store().Len() == 1
	}, "receiver never got the message")
	if got := u2.Store().Messages()[0]; got.ID == "" || got.Sender != "u1" {
		t.Errorf("Receiver's record is wrong: %+v", got)
	}
}

func TestClient_SendRejectionSurfaces(t *testing.T) {
	url := newTestRelay(t)

	errs := make(chan string, 1)
	u1 := dialAs(t, url, "u1", Options{
		OnError: func(code, reason, clientID string) {
			errs <- code
		},
	})

	u1.SendMessage("u2", "   ")

	select {
	case code := <-errs:
		if code != "validation_failed" {
			t.Errorf("Expected validation_failed, got %q", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Rejected send must surface through the error hook")
	}
}

func TestClient_SeenPropagatesBothWays(t *testing.T) {
	url := newTestRelay(t)

	u1 := dialAs(t, url, "u1", Options{})
	u2 := dialAs(t, url, "u2", Options{})

	u2.SendMessage("u1", "are you there?")

	waitFor(t, func() bool { return u1.Store().Len() == 1 }, "u1 never received the message")

	// u1 reads the conversation
	u1.MarkSeen("u2")

	// u1's optimistic receipt flip
	if got := u1.Store().Messages()[0]; !got.Seen {
		t.Error("Reader's log should flip immediately")
	}

	// u2 learns their message was read
	waitFor(t, func() bool {
		msgs := u2.Store().Messages()
		return len(msgs) == 1 && msgs[0].Seen
	}, "sender never learned about the read receipt")
}

func TestClient_TypingSignals(t *testing.T) {
	url := newTestRelay(t)

	typing := make(chan bool, 2)
	u1 := dialAs(t, url, "u1", Options{})
	u2 := dialAs(t, url, "u2", Options{
		OnTyping: func(senderID string, active bool) {
			typing <- active
		},
	})

	u1.Typing("u2")

	select {
	case active := <-typing:
		if !active {
			t.Error("Expected an active typing signal first")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Typing signal never arrived")
	}
	if who, ok := u2.Store().TypingIn("u1", "u2"); !ok || who != "u1" {
		t.Errorf("u2's store should track u1 typing, got %q ok=%v", who, ok)
	}

	u1.StopTyping("u2")
	select {
	case active := <-typing:
		if active {
			t.Error("Expected a stop signal")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop signal never arrived")
	}
	if _, ok := u2.Store().TypingIn("u1", "u2"); ok {
		t.Error("Typing should be cleared")
	}
}

func TestClient_MultiSessionConvergence(t *testing.T) {
	url := newTestRelay(t)

	// The same user from two devices; both logs must converge
	deviceA := dialAs(t, url, "u1", Options{})
	deviceB := dialAs(t, url, "u1", Options{})
	peer := dialAs(t, url, "u2", Options{})

	deviceA.SendMessage("u2", "from device A")

	waitFor(t, func() bool { return peer.Store().Len() == 1 }, "peer never got the message")
	waitFor(t, func() bool { return deviceB.Store().Len() == 1 }, "second session never got the echo")

	got := deviceB.Store().Messages()[0]
	if got.ID == "" || got.Sender != "u1" || got.Recipient != "u2" {
		t.Errorf("Second session's record is wrong: %+v", got)
	}

	// And exactly one record everywhere, despite echo+ack on device A
	if deviceA.Store().Len() != 1 {
		t.Errorf("Sender's log should hold one record, got %d", deviceA.Store().Len())
	}
}
