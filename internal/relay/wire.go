package relay

import "encoding/json"

// Event names on the real-time channel. Inbound: send_message, typing,
// stop_typing, seen. Outbound: receive_message, typing, stop_typing, seen,
// plus ack/error replies to the originating session.
const (
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventStopTyping  = "stop_typing"
	EventSeen        = "seen"

	EventReceiveMessage = "receive_message"
	EventAck            = "ack"
	EventError          = "error"
)

// Envelope frames every event in both directions. CorrelationID is chosen by
// the sender of a request; replies carry it back so a dropped or rejected
// send_message is observable instead of vanishing.
type Envelope struct {
	Event         string          `json:"event"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

type SendMessagePayload struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	ClientID   string `json:"clientId,omitempty"`
}

// TargetPayload addresses typing, stop_typing and seen requests.
type TargetPayload struct {
	ReceiverID string `json:"receiverId"`
}

type TypingEvent struct {
	SenderID string `json:"senderId"`
}

type SeenEvent struct {
	ReaderID string `json:"readerId"`
	SenderID string `json:"senderId"`
}

type SeenAck struct {
	Updated int64 `json:"updated"`
}

type ErrorEvent struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// EncodeEnvelope marshals an event with its payload into wire form.
func EncodeEnvelope(event, correlationID string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{
		Event:         event,
		CorrelationID: correlationID,
		Payload:       raw,
	})
}
