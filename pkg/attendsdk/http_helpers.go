package attendsdk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
)

// url builds a complete URL by appending the path to the base URL.
func (c *Client) url(path string) string {
	return c.BaseURL + path
}

// doRequest performs an HTTP request, attaching the bearer token when a
// TokenSource is configured. Transport failures come back as *NetworkError.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.Token != nil {
		token, err := c.Token.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain access token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}

	return resp, nil
}

// decodeJSON decodes a JSON response into the target.
// Returns an *APIError if the status differs from expectedStatus or the body
// reports success=false.
func decodeJSON(resp *http.Response, target any, expectedStatus int) error {
	defer resp.Body.Close()

	// Read body once for both error parsing and success decoding
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: "read response", Err: err}
	}

	if resp.StatusCode != expectedStatus {
		if err := parseErrorResponse(resp, bodyBytes); err != nil {
			return err
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}

	// A 2xx with success=false is still a rejection.
	var envelope struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(bodyBytes, &envelope); err == nil && envelope.Success != nil && !*envelope.Success {
		var errResp ErrorResponse
		_ = json.Unmarshal(bodyBytes, &errResp)
		msg := errResp.Message
		if msg == "" {
			msg = errResp.Error
		}
		if msg == "" {
			msg = "request was not successful"
		}
		return &APIError{StatusCode: resp.StatusCode, Code: errResp.Code, Message: msg}
	}

	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
