package scan

import (
	"errors"

	"github.com/aussiebroadwan/rollcall/pkg/attendsdk"
	"github.com/aussiebroadwan/rollcall/pkg/qrpayload"
)

// State is the scanner's position in the check-in flow.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateParsing
	StateValidating
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateParsing:
		return "parsing"
	case StateValidating:
		return "validating"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reason classifies a failed attempt.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonCamera         Reason = "camera"
	ReasonMalformed      Reason = "malformed"
	ReasonUnexpectedType Reason = "unexpected_type"
	ReasonMissingToken   Reason = "missing_token"
	ReasonExpired        Reason = "expired"
	ReasonRejected       Reason = "rejected"
	ReasonNetwork        Reason = "network"
)

// Retryable reports whether the user can retry after this failure without
// reopening the camera.
func (r Reason) Retryable() bool {
	return r != ReasonCamera && r != ReasonNone
}

// Source records where the raw code came from.
type Source string

const (
	SourceCamera Source = "camera"
	SourceManual Source = "manual"
)

// Attempt is one decode-to-outcome round trip. It is never persisted.
type Attempt struct {
	ID     string
	Source Source
	Raw    string

	Token *qrpayload.Token
	State State

	Reason  Reason
	Message string
	Err     error

	// Result is set when the server accepted the check-in.
	Result *attendsdk.ValidateQRResponse
}

// Terminal reports whether the attempt has an outcome.
func (a Attempt) Terminal() bool {
	return a.State == StateSucceeded || a.State == StateFailed
}

var messages = map[Reason]string{
	ReasonCamera:         "Camera is unavailable. Allow camera access and try again, or enter the code manually.",
	ReasonMalformed:      "This is not an attendance QR code.",
	ReasonUnexpectedType: "This QR code is not for attendance check-in.",
	ReasonMissingToken:   "This QR code is incomplete.",
	ReasonExpired:        "This QR code has expired. Ask your teacher for a new one.",
	ReasonNetwork:        "Network error, please check your connection and try again.",
}

// classifyParse maps a qrpayload error to a failure reason.
func classifyParse(err error) Reason {
	switch {
	case errors.Is(err, qrpayload.ErrUnexpectedType):
		return ReasonUnexpectedType
	case errors.Is(err, qrpayload.ErrMissingToken):
		return ReasonMissingToken
	default:
		return ReasonMalformed
	}
}

// classifyValidate maps a validate error to a reason and display message.
// Server rejections keep the server's text.
func classifyValidate(err error) (Reason, string) {
	var apiErr *attendsdk.APIError
	switch {
	case errors.Is(err, attendsdk.ErrRetryBudgetExhausted):
		return ReasonNetwork, attendsdk.UserMessage(err)
	case attendsdk.IsNetwork(err):
		return ReasonNetwork, messages[ReasonNetwork]
	case errors.As(err, &apiErr):
		return ReasonRejected, apiErr.Message
	default:
		return ReasonRejected, err.Error()
	}
}
