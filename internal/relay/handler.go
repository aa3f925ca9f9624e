package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pairchat/internal/auth"
	"pairchat/internal/domain"
	"pairchat/internal/events"
	"pairchat/internal/observability"
	"pairchat/internal/repository"
)

const persistTimeout = 5 * time.Second

// Handler owns the real-time side: it authenticates the handshake, joins the
// connection to its user's delivery group and dispatches the event contract.
// Every handler run re-derives truth from the message store; there is no
// shared per-conversation state to lock.
type Handler struct {
	registry    *Registry
	auth        auth.Authenticator
	store       repository.MessageStore
	broadcaster Broadcaster
	producer    events.Producer
	serviceName string
}

func NewHandler(registry *Registry, authenticator auth.Authenticator, store repository.MessageStore,
	broadcaster Broadcaster, producer events.Producer, serviceName string) *Handler {
	return &Handler{
		registry:    registry,
		auth:        authenticator,
		store:       store,
		broadcaster: broadcaster,
		producer:    producer,
		serviceName: serviceName,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := observability.GetLogger(r.Context())

	// The only authentication checkpoint for the real-time path. Failure
	// refuses the connection before the upgrade; the event phase is never
	// entered.
	token, err := auth.ExtractToken(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	userID, err := h.auth.Authenticate(token)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("upgrade error", zap.Error(err))
		return
	}

	session := NewSession(uuid.NewString(), userID, conn)
	h.registry.Add(session)
	session.Start()

	log.Info("connected", zap.String("user_id", userID), zap.String("session_id", session.ID))
	observability.WebSocketConnectionsActive.WithLabelValues(h.serviceName).Inc()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go h.readLoop(session)
}

func (h *Handler) readLoop(s *Session) {
	defer func() {
		h.registry.Remove(s)
		s.Close()
		log := observability.GetLogger(context.Background())
		log.Info("disconnected", zap.String("user_id", s.UserID), zap.String("session_id", s.ID))
		observability.WebSocketConnectionsActive.WithLabelValues(h.serviceName).Dec()
	}()

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				observability.Log.Error("read loop error", zap.String("user_id", s.UserID), zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			h.nack(s, "", "invalid_envelope", "malformed event envelope")
			continue
		}
		h.dispatch(context.Background(), s, env)
	}
}

func (h *Handler) dispatch(ctx context.Context, s *Session, env Envelope) {
	switch env.Event {
	case EventSendMessage:
		h.handleSend(ctx, s, env)
	case EventTyping, EventStopTyping:
		h.handleTyping(ctx, s, env)
	case EventSeen:
		h.handleSeen(ctx, s, env)
	default:
		observability.RelayEventsTotal.WithLabelValues(h.serviceName, env.Event, "unknown").Inc()
		h.nack(s, env.CorrelationID, "unknown_event", "unsupported event: "+env.Event)
	}
}

// handleSend persists the message and re-broadcasts it to the delivery groups
// of both parties, carrying through the client correlation token so each
// party's log can reconcile its optimistic copy.
func (h *Handler) handleSend(ctx context.Context, s *Session, env Envelope) {
	log := observability.GetLogger(ctx)

	var p SendMessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		observability.RelayEventsTotal.WithLabelValues(h.serviceName, EventSendMessage, "rejected").Inc()
		h.nack(s, env.CorrelationID, "invalid_payload", "malformed send_message payload")
		return
	}

	content, err := domain.ValidateSend(p.ReceiverID, p.Content)
	if err != nil {
		observability.RelayEventsTotal.WithLabelValues(h.serviceName, EventSendMessage, "rejected").Inc()
		h.nack(s, env.CorrelationID, "validation_failed", err.Error())
		return
	}

	persistCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	msg, err := h.store.Create(persistCtx, s.UserID, p.ReceiverID, content)
	if err != nil {
		log.Error("send_message: persistence failed",
			zap.String("user_id", s.UserID), zap.String("receiver_id", p.ReceiverID), zap.Error(err))
		observability.RelayEventsTotal.WithLabelValues(h.serviceName, EventSendMessage, "failed").Inc()
		h.nack(s, env.CorrelationID, "persistence_failed", "message not stored")
		return
	}
	observability.MessagesPersistedTotal.WithLabelValues(h.serviceName).Inc()

	// The persisted record plus the client's correlation token; the token
	// itself is never stored.
	msg.ClientID = p.ClientID

	payload, err := EncodeEnvelope(EventReceiveMessage, "", msg)
	if err != nil {
		log.Error("send_message: encode failed", zap.Error(err))
		return
	}
	h.broadcaster.Broadcast(ctx, []string{p.ReceiverID, s.UserID}, payload)
	h.producer.MessageSent(ctx, msg)

	observability.RelayEventsTotal.WithLabelValues(h.serviceName, EventSendMessage, "ok").Inc()
	h.ack(s, env.CorrelationID, msg)
}

// handleTyping relays the ephemeral signal to the receiver's group only.
// Nothing is persisted, nothing is echoed back to the typer.
func (h *Handler) handleTyping(ctx context.Context, s *Session, env Envelope) {
	var p TargetPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.ReceiverID == "" {
		observability.RelayEventsTotal.WithLabelValues(h.serviceName, env.Event, "dropped").Inc()
		return
	}

	payload, err := EncodeEnvelope(env.Event, "", TypingEvent{SenderID: s.UserID})
	if err != nil {
		return
	}
	h.broadcaster.Broadcast(ctx, []string{p.ReceiverID}, payload)
	observability.RelayEventsTotal.WithLabelValues(h.serviceName, env.Event, "ok").Inc()
}

// handleSeen flips the unseen messages from the addressed party to the reader
// and notifies both groups: the reader's other sessions converge, and the
// original sender learns their messages were read.
func (h *Handler) handleSeen(ctx context.Context, s *Session, env Envelope) {
	log := observability.GetLogger(ctx)

	var p TargetPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.ReceiverID == "" {
		observability.RelayEventsTotal.WithLabelValues(h.serviceName, EventSeen, "rejected").Inc()
		h.nack(s, env.CorrelationID, "invalid_payload", "malformed seen payload")
		return
	}

	persistCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	updated, err := h.store.MarkSeen(persistCtx, p.ReceiverID, s.UserID)
	if err != nil {
		log.Error("seen: persistence failed",
			zap.String("reader_id", s.UserID), zap.String("sender_id", p.ReceiverID), zap.Error(err))
		observability.RelayEventsTotal.WithLabelValues(h.serviceName, EventSeen, "failed").Inc()
		h.nack(s, env.CorrelationID, "persistence_failed", "receipts not stored")
		return
	}

	payload, err := EncodeEnvelope(EventSeen, "", SeenEvent{ReaderID: s.UserID, SenderID: p.ReceiverID})
	if err != nil {
		return
	}
	h.broadcaster.Broadcast(ctx, []string{s.UserID, p.ReceiverID}, payload)
	h.producer.SeenUpdated(ctx, s.UserID, p.ReceiverID, updated)

	observability.RelayEventsTotal.WithLabelValues(h.serviceName, EventSeen, "ok").Inc()
	h.ack(s, env.CorrelationID, SeenAck{Updated: updated})
}

// ack replies to the originating session only, and only when the request
// carried a correlation id; uncorrelated requests stay fire-and-forget.
func (h *Handler) ack(s *Session, correlationID string, result any) {
	if correlationID == "" {
		return
	}
	payload, err := EncodeEnvelope(EventAck, correlationID, result)
	if err != nil {
		return
	}
	s.TrySend(payload)
}

// nack is always sent: a failed request must be observable even without a
// correlation id.
func (h *Handler) nack(s *Session, correlationID, code, reason string) {
	payload, err := EncodeEnvelope(EventError, correlationID, ErrorEvent{Code: code, Reason: reason})
	if err != nil {
		return
	}
	s.TrySend(payload)
}
