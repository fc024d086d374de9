package issuance_test

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/rollcall/pkg/attendsdk"
	"github.com/aussiebroadwan/rollcall/pkg/issuance"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu sync.Mutex

	generateCalls int
	revokeCalls   int
	generateErr   error
	revokeErr     error
	status        *attendsdk.QRStatusResponse
	nextToken     string
}

func (f *fakeAPI) GenerateQR(_ context.Context, req attendsdk.GenerateQRRequest) (*attendsdk.GenerateQRResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateCalls++
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	tok := f.nextToken
	if tok == "" {
		tok = "token-" + string(rune('a'+f.generateCalls-1))
	}
	return &attendsdk.GenerateQRResponse{
		Success:          true,
		QRCode:           "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png")),
		Token:            tok,
		SessionID:        attendsdk.ID(req.SessionID),
		ExpiresInMinutes: 1,
		SessionInfo:      attendsdk.SessionInfo{ID: attendsdk.ID(req.SessionID), Name: "Physics"},
	}, nil
}

func (f *fakeAPI) RevokeQR(context.Context, string) (*attendsdk.RevokeQRResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeCalls++
	if f.revokeErr != nil {
		return nil, f.revokeErr
	}
	return &attendsdk.RevokeQRResponse{Success: true, Message: "revoked"}, nil
}

func (f *fakeAPI) QRStatus(_ context.Context, id string) (*attendsdk.QRStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != nil {
		return f.status, nil
	}
	return &attendsdk.QRStatusResponse{Success: true, SessionInfo: attendsdk.SessionInfo{ID: attendsdk.ID(id)}}, nil
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

func newIssuer(api issuance.API, opts ...issuance.Option) (*issuance.Issuer, *clock) {
	clk := &clock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	opts = append([]issuance.Option{issuance.WithClock(clk.Now)}, opts...)
	return issuance.New(api, issuance.Session{ID: "42"}, opts...), clk
}

func TestIssue(t *testing.T) {
	t.Parallel()

	t.Run("populates state", func(t *testing.T) {
		t.Parallel()

		iss, clk := newIssuer(&fakeAPI{})
		require.NoError(t, iss.Issue(context.Background()))

		s := iss.Snapshot()
		require.True(t, s.Active)
		require.NotNil(t, s.Token)
		require.Equal(t, "token-a", s.Token.Token)
		require.Equal(t, "42", s.Token.SessionID)
		require.Equal(t, "Physics", s.Session.Name)
		require.Equal(t, []byte("png"), s.QRImage)
		require.Equal(t, clk.Now().Add(time.Minute), s.ExpiresAt)
		require.Equal(t, time.Minute, s.Remaining)
		require.False(t, s.Token.LocallyValid(clk.Now().Add(2*time.Minute)))
	})

	t.Run("refresh replaces the token", func(t *testing.T) {
		t.Parallel()

		api := &fakeAPI{}
		iss, _ := newIssuer(api)
		require.NoError(t, iss.Issue(context.Background()))
		require.NoError(t, iss.Refresh(context.Background()))

		require.Equal(t, "token-b", iss.Snapshot().Token.Token)
		require.Equal(t, 2, api.generateCalls)
	})

	t.Run("failure keeps previous token", func(t *testing.T) {
		t.Parallel()

		api := &fakeAPI{}
		iss, _ := newIssuer(api)
		require.NoError(t, iss.Issue(context.Background()))

		api.generateErr = &attendsdk.NetworkError{Op: "POST", Err: errors.New("connection refused")}
		err := iss.Issue(context.Background())
		require.Error(t, err)
		require.True(t, attendsdk.IsNetwork(err))

		s := iss.Snapshot()
		require.True(t, s.Active)
		require.Equal(t, "token-a", s.Token.Token)
		require.Error(t, s.LastError)
	})

	t.Run("requires a session", func(t *testing.T) {
		t.Parallel()

		iss := issuance.New(&fakeAPI{}, issuance.Session{})
		require.ErrorIs(t, iss.Issue(context.Background()), issuance.ErrNoSession)
	})
}

func TestRevoke(t *testing.T) {
	t.Parallel()

	t.Run("clears state after server confirms", func(t *testing.T) {
		t.Parallel()

		iss, _ := newIssuer(&fakeAPI{})
		require.NoError(t, iss.Issue(context.Background()))
		require.NoError(t, iss.Revoke(context.Background()))

		s := iss.Snapshot()
		require.False(t, s.Active)
		require.Nil(t, s.Token)
		require.Nil(t, s.QRImage)
		require.Zero(t, s.Remaining)
	})

	t.Run("network failure leaves token active", func(t *testing.T) {
		t.Parallel()

		api := &fakeAPI{}
		iss, _ := newIssuer(api)
		require.NoError(t, iss.Issue(context.Background()))
		before := iss.Snapshot()

		api.revokeErr = &attendsdk.NetworkError{Op: "POST", Err: errors.New("timeout")}
		require.Error(t, iss.Revoke(context.Background()))

		after := iss.Snapshot()
		require.True(t, after.Active)
		require.Equal(t, before.Token, after.Token)
		require.Equal(t, before.ExpiresAt, after.ExpiresAt)
		require.Error(t, after.LastError)
		require.Equal(t, 1, api.revokeCalls)
	})
}

func TestTick(t *testing.T) {
	t.Parallel()

	iss, clk := newIssuer(&fakeAPI{})
	require.NoError(t, iss.Issue(context.Background()))

	clk.Advance(30 * time.Second)
	iss.Tick(clk.Now())
	s := iss.Snapshot()
	require.True(t, s.Active)
	require.Equal(t, 30*time.Second, s.Remaining)

	clk.Advance(31 * time.Second)
	iss.Tick(clk.Now())
	s = iss.Snapshot()
	require.False(t, s.Active)
	require.Zero(t, s.Remaining)
	require.NotNil(t, s.Token)
}

func TestTickWithoutToken(t *testing.T) {
	t.Parallel()

	var changes int
	iss, clk := newIssuer(&fakeAPI{}, issuance.OnChange(func(issuance.State) { changes++ }))
	iss.Tick(clk.Now())
	require.Zero(t, changes)
	require.False(t, iss.Snapshot().Active)
}

func TestSync(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	iss, _ := newIssuer(api)
	require.NoError(t, iss.Issue(context.Background()))

	api.status = &attendsdk.QRStatusResponse{Success: true, QRStatus: attendsdk.QRStatus{Active: false}}
	require.NoError(t, iss.Sync(context.Background()))
	require.False(t, iss.Snapshot().Active)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	ticked := make(chan issuance.State, 16)
	iss, clk := newIssuer(&fakeAPI{},
		issuance.WithTickInterval(5*time.Millisecond),
		issuance.OnChange(func(s issuance.State) {
			select {
			case ticked <- s:
			default:
			}
		}),
	)
	require.NoError(t, iss.Issue(context.Background()))
	<-ticked

	iss.Start()
	clk.Advance(2 * time.Minute)

	require.Eventually(t, func() bool {
		return !iss.Snapshot().Active
	}, time.Second, 5*time.Millisecond)

	iss.Stop()
	iss.Stop()
}
