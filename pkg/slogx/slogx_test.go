package slogx_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/rollcall/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	require.Equal(t, slog.LevelDebug, slogx.ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, slogx.ParseLevel("warning"))
	require.Equal(t, slog.LevelError, slogx.ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, slogx.ParseLevel("nonsense"))
}

func TestFromContextDefault(t *testing.T) {
	t.Parallel()

	require.Same(t, slog.Default(), slogx.FromContext(context.Background()))

	l := slogx.Discard()
	require.Same(t, l, slogx.FromContext(slogx.WithContext(context.Background(), l)))
}

func TestHTTPMiddleware(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	h := slogx.HTTPMiddleware(base, "/livez")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slogx.FromContext(r.Context()).Info("inside")
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/attendance/qr-status/1/", nil)
	req.Header.Set(slogx.RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "req-123", rec.Header().Get(slogx.RequestIDHeader))
	require.Contains(t, buf.String(), `"msg":"inside"`)
	require.Contains(t, buf.String(), `"req_id":"req-123"`)
	require.Contains(t, buf.String(), `"status":418`)

	buf.Reset()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	require.NotEmpty(t, rec.Header().Get(slogx.RequestIDHeader))
	require.NotContains(t, buf.String(), "http_request", "quiet paths log at debug")
}
