package attendsdk_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/rollcall/pkg/attendsdk"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

var fastRetry = attendsdk.RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
}

func newTestClient(t *testing.T, h http.HandlerFunc) *attendsdk.Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return attendsdk.NewClient(srv.URL,
		attendsdk.WithToken(attendsdk.StaticToken("test-token")),
		attendsdk.WithRetry(fastRetry),
	)
}

func TestGenerateQR(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/attendance/generate-qr/", r.URL.Path)
			require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

			var req attendsdk.GenerateQRRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "42", req.SessionID)

			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"success":true,"qr_code":"aGVsbG8=","token":"tok",`+
				`"session_id":42,"expires_in_minutes":1,"session_info":{"id":42,"name":"Physics"}}`)
		})

		resp, err := client.GenerateQR(context.Background(), attendsdk.GenerateQRRequest{SessionID: "42"})
		require.NoError(t, err)
		require.Equal(t, "tok", resp.Token)
		require.Equal(t, attendsdk.ID("42"), resp.SessionID)
		require.Equal(t, float64(1), resp.ExpiresInMinutes)
		require.Equal(t, "Physics", resp.SessionInfo.Name)
	})

	t.Run("requires session id", func(t *testing.T) {
		t.Parallel()

		client := attendsdk.NewClient("http://unused.invalid")
		_, err := client.GenerateQR(context.Background(), attendsdk.GenerateQRRequest{})
		require.Error(t, err)
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"success":false,"message":"Only the session teacher can issue codes"}`)
		})

		_, err := client.GenerateQR(context.Background(), attendsdk.GenerateQRRequest{SessionID: "1"})
		require.Error(t, err)
		require.Equal(t, int32(1), calls.Load())

		var apiErr *attendsdk.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusForbidden, apiErr.StatusCode)
		require.Equal(t, "Only the session teacher can issue codes", attendsdk.UserMessage(err))
	})

	t.Run("network errors exhaust the retry budget", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		client := attendsdk.NewClient(url, attendsdk.WithRetry(fastRetry))
		_, err := client.GenerateQR(context.Background(), attendsdk.GenerateQRRequest{SessionID: "1"})
		require.ErrorIs(t, err, attendsdk.ErrRetryBudgetExhausted)
		require.True(t, attendsdk.IsNetwork(err))
		require.Contains(t, attendsdk.UserMessage(err), "contact support")
	})
}

func TestValidateQR(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/attendance/validate-qr/", r.URL.Path)

			var req attendsdk.ValidateQRRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "tok", req.QRToken)
			require.Equal(t, "s-1", req.StudentID)

			_, _ = io.WriteString(w, `{"success":true,"message":"Checked in","attendance_id":"01J","is_late":true,`+
				`"check_in_time":"2026-10-19T09:01:00Z","session_info":{"id":"7"}}`)
		})

		resp, err := client.ValidateQR(context.Background(), attendsdk.ValidateQRRequest{QRToken: "tok", StudentID: "s-1"})
		require.NoError(t, err)
		require.True(t, resp.IsLate)
		require.Equal(t, attendsdk.ID("01J"), resp.AttendanceID)
		require.Equal(t, "7", resp.SessionInfo.ID.String())
	})

	t.Run("rejection surfaces server message", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"success":false,"message":"Already checked in for this session"}`)
		})

		_, err := client.ValidateQR(context.Background(), attendsdk.ValidateQRRequest{QRToken: "tok", StudentID: "s-1"})
		require.Error(t, err)
		require.Equal(t, "Already checked in for this session", attendsdk.UserMessage(err))
	})

	t.Run("success false in 200 body", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"success":false,"error":"QR code expired"}`)
		})

		_, err := client.ValidateQR(context.Background(), attendsdk.ValidateQRRequest{QRToken: "tok", StudentID: "s-1"})
		var apiErr *attendsdk.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, "QR code expired", apiErr.Message)
	})

	t.Run("network errors are not retried", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			_ = conn.Close()
		})

		_, err := client.ValidateQR(context.Background(), attendsdk.ValidateQRRequest{QRToken: "tok", StudentID: "s-1"})
		require.True(t, attendsdk.IsNetwork(err))
		require.False(t, errors.Is(err, attendsdk.ErrRetryBudgetExhausted))
		require.Equal(t, int32(1), calls.Load())
	})
}

func TestQRStatus(t *testing.T) {
	t.Parallel()

	t.Run("active", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodGet, r.Method)
			require.Equal(t, "/attendance/qr-status/42/", r.URL.Path)
			_, _ = io.WriteString(w, `{"success":true,"qr_status":{"active":true,"remaining_seconds":30},"session_info":{"id":42}}`)
		})

		resp, err := client.QRStatus(context.Background(), "42")
		require.NoError(t, err)
		require.True(t, resp.QRStatus.Active)
		require.Equal(t, 30, resp.QRStatus.RemainingSeconds)
	})

	t.Run("not found resolves to inactive without retry", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"success":false,"message":"Session not found"}`)
		})

		resp, err := client.QRStatus(context.Background(), "99")
		require.NoError(t, err)
		require.False(t, resp.QRStatus.Active)
		require.Equal(t, attendsdk.ID("99"), resp.SessionInfo.ID)
		require.Equal(t, int32(1), calls.Load())
	})

	t.Run("retries transient network failure", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) == 1 {
				hj := w.(http.Hijacker)
				conn, _, _ := hj.Hijack()
				_ = conn.Close()
				return
			}
			_, _ = io.WriteString(w, `{"success":true,"qr_status":{"active":false}}`)
		})

		resp, err := client.QRStatus(context.Background(), "1")
		require.NoError(t, err)
		require.False(t, resp.QRStatus.Active)
		require.Equal(t, int32(2), calls.Load())
	})
}

func TestRevokeQR(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/attendance/revoke-qr/42/", r.URL.Path)
		_, _ = io.WriteString(w, `{"success":true,"message":"QR code revoked"}`)
	})

	resp, err := client.RevokeQR(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "QR code revoked", resp.Message)
}

func TestListAttendance(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/attendance/sessions/42/attendance/", r.URL.Path)
		_, _ = io.WriteString(w, `{"success":true,"session_info":{"id":"42"},"count":1,`+
			`"attendance":[{"id":"a1","student_id":"alice","check_in_time":"2026-03-02T09:01:00Z","is_late":false}]}`)
	})

	resp, err := client.ListAttendance(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, 1, resp.Count)
	require.Len(t, resp.Attendance, 1)
	require.Equal(t, "alice", resp.Attendance[0].StudentID)
}

func TestIDUnmarshal(t *testing.T) {
	t.Parallel()

	var v struct {
		A attendsdk.ID `json:"a"`
		B attendsdk.ID `json:"b"`
		C attendsdk.ID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"x1","b":17,"c":null}`), &v))
	require.Equal(t, attendsdk.ID("x1"), v.A)
	require.Equal(t, attendsdk.ID("17"), v.B)
	require.Empty(t, v.C)

	n, ok := v.B.Int()
	require.True(t, ok)
	require.Equal(t, int64(17), n)
}
