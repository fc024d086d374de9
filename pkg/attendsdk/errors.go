package attendsdk

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// ErrRetryBudgetExhausted is returned when a request kept failing with
// network errors until the retry policy gave up. Callers should stop
// offering a retry and point the user at support instead.
var ErrRetryBudgetExhausted = errors.New("attendsdk: retry budget exhausted")

// APIError is a failure reported by the attendance server. Message is the
// server's own text and is meant to be shown to the user verbatim.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("attendsdk: %s (HTTP %d, %s)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("attendsdk: %s (HTTP %d)", e.Message, e.StatusCode)
}

// NetworkError wraps transport failures: refused connections, timeouts,
// connections dropped mid-call. It is the only class that is retried.
type NetworkError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("attendsdk: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *NetworkError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsNetwork reports whether err is a transport-level failure.
func IsNetwork(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// UserMessage returns the text a UI should show for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	switch {
	case errors.Is(err, ErrRetryBudgetExhausted):
		return "The attendance service could not be reached. Please contact support if this keeps happening."
	case errors.As(err, &apiErr):
		return apiErr.Message
	case IsNetwork(err):
		return "Network error, please check your connection and try again."
	default:
		return err.Error()
	}
}

// parseErrorResponse turns a non-success response into an *APIError.
// Returns nil if the response indicates success (2xx status code).
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		msg := errResp.Message
		if msg == "" {
			msg = errResp.Error
		}
		if msg != "" {
			return &APIError{
				StatusCode: resp.StatusCode,
				Code:       errResp.Code,
				Message:    msg,
			}
		}
	}

	// Fallback: create generic error from status code
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
