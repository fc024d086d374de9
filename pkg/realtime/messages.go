package realtime

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Kind is the type discriminator of a realtime message.
type Kind string

// System kinds are handled by the notifier itself.
const (
	KindConnectionEstablished   Kind = "connection_established"
	KindSubscriptionConfirmed   Kind = "subscription_confirmed"
	KindUnsubscriptionConfirmed Kind = "unsubscription_confirmed"
	KindPong                    Kind = "pong"
	KindError                   Kind = "error"
)

// Domain kinds carry attendance events.
const (
	KindAttendanceMarked Kind = "attendance_marked"
	KindQRGenerated      Kind = "qr_generated"
	KindQRRevoked        Kind = "qr_revoked"
)

// Client to server kinds.
const (
	KindSubscribeSession   Kind = "subscribe_session"
	KindUnsubscribeSession Kind = "unsubscribe_session"
	KindPing               Kind = "ping"
)

// IsSystem reports whether k is handled internally for bookkeeping.
func (k Kind) IsSystem() bool {
	switch k {
	case KindConnectionEstablished, KindSubscriptionConfirmed, KindUnsubscriptionConfirmed, KindPong, KindError:
		return true
	}
	return false
}

// IsKnown reports whether k is a system or domain kind this package models.
// Unknown kinds are still delivered to handlers as passthrough.
func (k Kind) IsKnown() bool {
	switch k {
	case KindAttendanceMarked, KindQRGenerated, KindQRRevoked:
		return true
	}
	return k.IsSystem()
}

// Envelope is one message received from the server. Raw holds the full
// message so handlers can decode fields this type does not model.
type Envelope struct {
	Type      Kind            `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ErrEmptyPayload is returned by Decode when the envelope carries no data.
var ErrEmptyPayload = errors.New("realtime: envelope has no payload")

// Decode unmarshals the envelope's data field into T. Messages without a
// data object are decoded from the whole message instead.
func Decode[T any](env Envelope) (T, error) {
	var out T

	src := env.Data
	if len(src) == 0 || string(src) == "null" {
		src = env.Raw
	}
	if len(src) == 0 {
		return out, ErrEmptyPayload
	}

	if err := json.Unmarshal(src, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return out, nil
}

func parseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, errors.New("missing type")
	}
	env.Raw = append(json.RawMessage(nil), data...)
	return env, nil
}

// AttendanceMarked is the payload of an attendance_marked event.
type AttendanceMarked struct {
	AttendanceID string `json:"attendance_id"`
	SessionID    string `json:"session_id"`
	StudentID    string `json:"student_id"`
	CheckInTime  string `json:"check_in_time"`
	IsLate       bool   `json:"is_late"`
}

// QRGenerated is the payload of a qr_generated event.
type QRGenerated struct {
	SessionID string `json:"session_id"`
	ExpiresAt string `json:"expires_at"`
}

// QRRevoked is the payload of a qr_revoked event.
type QRRevoked struct {
	SessionID string `json:"session_id"`
}

// outbound is a client to server message.
type outbound struct {
	Type      Kind   `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}
