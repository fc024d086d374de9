package ws

import (
	"time"

	"github.com/aussiebroadwan/rollcall/internal/attendance/domain"
)

// Message types handled or emitted by the hub besides domain events.
const (
	TypeConnectionEstablished   = "connection_established"
	TypeSubscriptionConfirmed   = "subscription_confirmed"
	TypeUnsubscriptionConfirmed = "unsubscription_confirmed"
	TypePong                    = "pong"
	TypeError                   = "error"

	TypeSubscribeSession   = "subscribe_session"
	TypeUnsubscribeSession = "unsubscribe_session"
	TypePing               = "ping"
)

// Message is the server to client frame.
type Message struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// inbound is the client to server frame.
type inbound struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

func newMessage(typ, sessionID, text string) Message {
	return Message{
		Type:      typ,
		SessionID: sessionID,
		Message:   text,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func messageFromEvent(ev domain.Event) Message {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return Message{
		Type:      ev.Type,
		SessionID: ev.SessionID,
		Message:   ev.Message,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		Data:      ev.Data,
	}
}
