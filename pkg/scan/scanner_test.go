package scan_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/rollcall/pkg/attendsdk"
	"github.com/aussiebroadwan/rollcall/pkg/qrpayload"
	"github.com/aussiebroadwan/rollcall/pkg/scan"
	"github.com/stretchr/testify/require"
)

type fakeCamera struct {
	mu      sync.Mutex
	frames  chan string
	openErr error
	opens   int
	closes  int
}

func newCamera() *fakeCamera {
	return &fakeCamera{frames: make(chan string, 8)}
}

func (c *fakeCamera) Open(context.Context) (<-chan string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	if c.openErr != nil {
		return nil, c.openErr
	}
	return c.frames, nil
}

func (c *fakeCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeCamera) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type fakeValidator struct {
	mu    sync.Mutex
	calls []attendsdk.ValidateQRRequest
	err   error
}

func (v *fakeValidator) ValidateQR(_ context.Context, req attendsdk.ValidateQRRequest) (*attendsdk.ValidateQRResponse, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, req)
	if v.err != nil {
		return nil, v.err
	}
	return &attendsdk.ValidateQRResponse{Success: true, Message: "Checked in", AttendanceID: "1"}, nil
}

func (v *fakeValidator) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.calls)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var issuedAt = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func payload(t *testing.T, token string, ttl time.Duration) string {
	t.Helper()
	data, err := qrpayload.Encode(qrpayload.New(token, "42", "Physics", issuedAt, issuedAt.Add(ttl)))
	require.NoError(t, err)
	return string(data)
}

func openScanner(t *testing.T, v scan.Validator, opts ...scan.Option) (*scan.Scanner, *fakeCamera, *clock) {
	t.Helper()

	clk := &clock{now: issuedAt}
	cam := newCamera()
	opts = append([]scan.Option{scan.WithClock(clk.Now)}, opts...)
	s := scan.New(cam, v, "student-1", opts...)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(s.Close)
	return s, cam, clk
}

func TestScanFreshToken(t *testing.T) {
	t.Parallel()

	v := &fakeValidator{}
	s, _, _ := openScanner(t, v)
	require.Equal(t, scan.StateScanning, s.State())

	a, ok := s.HandleDecoded(context.Background(), payload(t, "tok-a", time.Minute))
	require.True(t, ok)
	require.Equal(t, scan.StateSucceeded, a.State)
	require.NotEmpty(t, a.ID)
	require.Equal(t, "Checked in", a.Message)
	require.Equal(t, 1, v.Calls())
	require.Equal(t, "tok-a", v.calls[0].QRToken)
	require.Equal(t, "student-1", v.calls[0].StudentID)

	// Later frames of the same code are ignored.
	_, ok = s.HandleDecoded(context.Background(), payload(t, "tok-a", time.Minute))
	require.False(t, ok)
	require.Equal(t, 1, v.Calls())
}

func TestScanExpiredToken(t *testing.T) {
	t.Parallel()

	v := &fakeValidator{}
	s, _, clk := openScanner(t, v)
	clk.Advance(2 * time.Minute)

	a, ok := s.HandleDecoded(context.Background(), payload(t, "tok-a", time.Minute))
	require.True(t, ok)
	require.Equal(t, scan.StateFailed, a.State)
	require.Equal(t, scan.ReasonExpired, a.Reason)
	require.NotNil(t, a.Token)
	require.Zero(t, v.Calls())
}

func TestScanForeignPayload(t *testing.T) {
	t.Parallel()

	v := &fakeValidator{}
	s, _, _ := openScanner(t, v)

	a, ok := s.HandleDecoded(context.Background(), `{"type":"other_kind","token":"abc"}`)
	require.True(t, ok)
	require.Equal(t, scan.ReasonUnexpectedType, a.Reason)
	require.ErrorIs(t, a.Err, qrpayload.ErrUnexpectedType)
	require.Nil(t, a.Token)
	require.Zero(t, v.Calls())
}

func TestScanLocalFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		raw    string
		reason scan.Reason
	}{
		{"malformed", "hello world", scan.ReasonMalformed},
		{"missing token", `{"type":"attendance_checkin","token":""}`, scan.ReasonMissingToken},
		{"unparseable expiry", `{"type":"attendance_checkin","token":"t","expires_at":"soon"}`, scan.ReasonExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v := &fakeValidator{}
			s, _, _ := openScanner(t, v)

			a, ok := s.HandleDecoded(context.Background(), tt.raw)
			require.True(t, ok)
			require.Equal(t, tt.reason, a.Reason)
			require.True(t, a.Reason.Retryable())
			require.Zero(t, v.Calls())
		})
	}
}

func TestScanServerRejection(t *testing.T) {
	t.Parallel()

	v := &fakeValidator{err: &attendsdk.APIError{StatusCode: 409, Message: "Already checked in"}}
	s, _, clk := openScanner(t, v)

	a, _ := s.HandleDecoded(context.Background(), payload(t, "tok-a", time.Minute))
	require.Equal(t, scan.StateFailed, a.State)
	require.Equal(t, scan.ReasonRejected, a.Reason)
	require.Equal(t, "Already checked in", a.Message)

	require.NoError(t, s.Retry())
	require.Equal(t, scan.StateScanning, s.State())

	// The throttle still applies right after a retry.
	_, ok := s.HandleDecoded(context.Background(), payload(t, "tok-b", time.Minute))
	require.False(t, ok)

	clk.Advance(time.Second)
	v.mu.Lock()
	v.err = nil
	v.mu.Unlock()

	a, ok = s.HandleDecoded(context.Background(), payload(t, "tok-b", 2*time.Minute))
	require.True(t, ok)
	require.Equal(t, scan.StateSucceeded, a.State)
	require.Equal(t, 2, v.Calls())
}

func TestScanNetworkFailure(t *testing.T) {
	t.Parallel()

	v := &fakeValidator{err: &attendsdk.NetworkError{Op: "POST", Err: errors.New("timeout")}}
	s, _, _ := openScanner(t, v)

	a, _ := s.HandleDecoded(context.Background(), payload(t, "tok-a", time.Minute))
	require.Equal(t, scan.ReasonNetwork, a.Reason)
	require.Equal(t, 1, v.Calls())
}

func TestScanDuplicateFrames(t *testing.T) {
	t.Parallel()

	v := &fakeValidator{}
	var mu sync.Mutex
	var outcomes []scan.Attempt
	s, cam, _ := openScanner(t, v, scan.OnOutcome(func(a scan.Attempt) {
		mu.Lock()
		outcomes = append(outcomes, a)
		mu.Unlock()
	}))

	raw := payload(t, "tok-a", time.Minute)
	for range 5 {
		cam.frames <- raw
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(outcomes) == 1 && len(cam.frames) == 0
	}, time.Second, time.Millisecond)

	require.Equal(t, scan.StateSucceeded, s.State())
	require.Equal(t, 1, v.Calls())
}

func TestCameraRelease(t *testing.T) {
	t.Parallel()

	t.Run("on close", func(t *testing.T) {
		t.Parallel()

		cam := newCamera()
		s := scan.New(cam, &fakeValidator{}, "student-1")
		require.NoError(t, s.Open(context.Background()))
		s.Close()

		require.Equal(t, 1, cam.Closes())
		require.Equal(t, scan.StateIdle, s.State())

		s.Close()
		require.Equal(t, 1, cam.Closes())
	})

	t.Run("after success then close", func(t *testing.T) {
		t.Parallel()

		s, cam, _ := openScanner(t, &fakeValidator{})
		_, _ = s.HandleDecoded(context.Background(), payload(t, "tok-a", time.Minute))
		s.Close()
		require.Equal(t, 1, cam.Closes())
	})

	t.Run("when the stream ends", func(t *testing.T) {
		t.Parallel()

		s, cam, _ := openScanner(t, &fakeValidator{})
		close(cam.frames)

		require.Eventually(t, func() bool { return cam.Closes() == 1 }, time.Second, time.Millisecond)
		require.Equal(t, scan.StateFailed, s.State())
		require.Equal(t, scan.ReasonCamera, s.Attempt().Reason)
	})

	t.Run("when the context is cancelled", func(t *testing.T) {
		t.Parallel()

		cam := newCamera()
		s := scan.New(cam, &fakeValidator{}, "student-1")
		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, s.Open(ctx))
		cancel()

		require.Eventually(t, func() bool { return cam.Closes() == 1 }, time.Second, time.Millisecond)
	})
}

func TestCameraUnavailable(t *testing.T) {
	t.Parallel()

	clk := &clock{now: issuedAt}
	cam := newCamera()
	cam.openErr = errors.New("permission denied")
	v := &fakeValidator{}
	s := scan.New(cam, v, "student-1", scan.WithClock(clk.Now))

	err := s.Open(context.Background())
	require.ErrorIs(t, err, scan.ErrCameraUnavailable)
	require.Equal(t, scan.StateFailed, s.State())
	require.Equal(t, scan.ReasonCamera, s.Attempt().Reason)
	require.False(t, s.Attempt().Reason.Retryable())
	require.ErrorIs(t, s.Retry(), scan.ErrCameraUnavailable)
	require.Equal(t, 1, cam.Closes())

	t.Run("manual entry uses the same pipeline", func(t *testing.T) {
		a, err := s.SubmitManual(context.Background(), `{"type":"other_kind","token":"abc"}`)
		require.NoError(t, err)
		require.Equal(t, scan.ReasonUnexpectedType, a.Reason)
		require.Zero(t, v.Calls())

		require.NoError(t, s.Retry())
		require.Equal(t, scan.StateIdle, s.State())

		a, err = s.SubmitManual(context.Background(), "  "+payload(t, "tok-m", time.Minute)+"\n")
		require.NoError(t, err)
		require.Equal(t, scan.StateSucceeded, a.State)
		require.Equal(t, scan.SourceManual, a.Source)
		require.Equal(t, 1, v.Calls())
	})

	t.Run("manual entry is refused after success", func(t *testing.T) {
		_, err := s.SubmitManual(context.Background(), payload(t, "tok-n", time.Minute))
		require.ErrorIs(t, err, scan.ErrBusy)
	})
}
