package attendsdk

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// GenerateQR issues a new attendance token for a session. Any token the
// session already had is superseded server-side.
func (c *Client) GenerateQR(ctx context.Context, req GenerateQRRequest) (*GenerateQRResponse, error) {
	if req.SessionID == "" {
		return nil, errors.New("attendsdk: session id is required")
	}

	var out GenerateQRResponse
	err := c.withRetry(ctx, "generate_qr", func() error {
		resp, err := c.doRequest(ctx, http.MethodPost, "/attendance/generate-qr/", req)
		if err != nil {
			return err
		}
		return decodeJSON(resp, &out, http.StatusOK)
	})
	if err != nil {
		return nil, err
	}

	return &out, nil
}

// ValidateQR submits a scanned token for the given student. This call
// records attendance server-side and is never retried by the client.
func (c *Client) ValidateQR(ctx context.Context, req ValidateQRRequest) (*ValidateQRResponse, error) {
	if req.QRToken == "" {
		return nil, errors.New("attendsdk: qr token is required")
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/attendance/validate-qr/", req)
	if err != nil {
		return nil, err
	}

	var out ValidateQRResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}

	return &out, nil
}

// QRStatus reports whether the session currently has an active token.
// A session the server does not know resolves to an inactive status.
func (c *Client) QRStatus(ctx context.Context, sessionID string) (*QRStatusResponse, error) {
	if sessionID == "" {
		return nil, errors.New("attendsdk: session id is required")
	}

	var out QRStatusResponse
	err := c.withRetry(ctx, "qr_status", func() error {
		resp, err := c.doRequest(ctx, http.MethodGet, "/attendance/qr-status/"+url.PathEscape(sessionID)+"/", nil)
		if err != nil {
			return err
		}
		return decodeJSON(resp, &out, http.StatusOK)
	})
	if IsNotFound(err) {
		return &QRStatusResponse{
			Success:     true,
			SessionInfo: SessionInfo{ID: ID(sessionID)},
		}, nil
	}
	if err != nil {
		return nil, err
	}

	return &out, nil
}

// RevokeQR invalidates the session's current token.
func (c *Client) RevokeQR(ctx context.Context, sessionID string) (*RevokeQRResponse, error) {
	if sessionID == "" {
		return nil, errors.New("attendsdk: session id is required")
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/attendance/revoke-qr/"+url.PathEscape(sessionID)+"/", nil)
	if err != nil {
		return nil, err
	}

	var out RevokeQRResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}

	return &out, nil
}

// ListAttendance returns the check-ins recorded for a session.
func (c *Client) ListAttendance(ctx context.Context, sessionID string) (*AttendanceListResponse, error) {
	if sessionID == "" {
		return nil, errors.New("attendsdk: session id is required")
	}

	var out AttendanceListResponse
	err := c.withRetry(ctx, "list_attendance", func() error {
		resp, err := c.doRequest(ctx, http.MethodGet, "/attendance/sessions/"+url.PathEscape(sessionID)+"/attendance/", nil)
		if err != nil {
			return err
		}
		return decodeJSON(resp, &out, http.StatusOK)
	})
	if err != nil {
		return nil, err
	}

	return &out, nil
}
