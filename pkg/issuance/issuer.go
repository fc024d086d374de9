// Package issuance keeps the issuer-side view of a session's attendance QR
// code: the current token, its rendered image and a local countdown.
//
// Server state is authoritative. Local expiry only drives display, and a
// revocation is reflected locally only after the server confirms it.
package issuance

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/rollcall/pkg/attendsdk"
	"github.com/aussiebroadwan/rollcall/pkg/qrpayload"
)

// ErrNoSession is returned when the issuer has no session id to act on.
var ErrNoSession = errors.New("issuance: session id is required")

// API is the part of the attendance client the issuer needs.
type API interface {
	GenerateQR(ctx context.Context, req attendsdk.GenerateQRRequest) (*attendsdk.GenerateQRResponse, error)
	RevokeQR(ctx context.Context, sessionID string) (*attendsdk.RevokeQRResponse, error)
	QRStatus(ctx context.Context, sessionID string) (*attendsdk.QRStatusResponse, error)
}

// Session identifies the class session codes are issued for.
type Session struct {
	ID   string
	Name string
}

// State is a snapshot of the issuer.
type State struct {
	Session Session

	// Token is the current token, or nil before the first issuance and
	// after a revocation.
	Token   *qrpayload.Token
	QRImage []byte

	ExpiresAt time.Time
	Remaining time.Duration
	Active    bool

	// LastError is the error from the most recent failed operation. It is
	// cleared by the next successful one.
	LastError error
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Issuer) { i.logger = l }
}

// WithTickInterval sets the countdown interval used by Start.
func WithTickInterval(d time.Duration) Option {
	return func(i *Issuer) {
		if d > 0 {
			i.interval = d
		}
	}
}

// OnChange registers a function called with a snapshot after every state
// change. It runs on the goroutine that made the change.
func OnChange(fn func(State)) Option {
	return func(i *Issuer) { i.onChange = fn }
}

// Issuer manages the QR code of one session.
type Issuer struct {
	api      API
	logger   *slog.Logger
	now      func() time.Time
	interval time.Duration
	onChange func(State)

	mu    sync.Mutex
	state State

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates an issuer for session.
func New(api API, session Session, opts ...Option) *Issuer {
	i := &Issuer{
		api:      api,
		logger:   slog.Default(),
		now:      time.Now,
		interval: time.Second,
		state:    State{Session: session},
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With("session_id", session.ID)
	return i
}

// Issue requests a new token and replaces the current one on success. On
// failure the previous token and flags are kept and the error is returned.
func (i *Issuer) Issue(ctx context.Context) error {
	session := i.Snapshot().Session
	if session.ID == "" {
		return ErrNoSession
	}

	issuedAt := i.now()
	resp, err := i.api.GenerateQR(ctx, attendsdk.GenerateQRRequest{
		SessionID:   session.ID,
		SessionName: session.Name,
	})
	if err != nil {
		i.fail(err)
		i.logger.Warn("qr issuance failed", "error", err)
		return fmt.Errorf("issue qr: %w", err)
	}

	tok, expiresAt := tokenFromResponse(resp, session, issuedAt)
	img, err := decodeImage(resp.QRCode)
	if err != nil {
		i.logger.Warn("qr image could not be decoded", "error", err)
	}

	i.update(func(s *State) {
		s.Token = &tok
		s.QRImage = img
		s.ExpiresAt = expiresAt
		s.Active = true
		s.LastError = nil
		if resp.SessionInfo.Name != "" {
			s.Session.Name = resp.SessionInfo.Name
		}
		s.Remaining = remaining(expiresAt, i.now())
	})

	i.logger.Info("qr issued", "expires_at", expiresAt)
	return nil
}

// Refresh forces rotation before the current token expires. The server
// supersedes the previous token.
func (i *Issuer) Refresh(ctx context.Context) error {
	return i.Issue(ctx)
}

// Revoke asks the server to invalidate the current token. Local state is
// cleared only once the server confirms; on failure nothing changes.
func (i *Issuer) Revoke(ctx context.Context) error {
	session := i.Snapshot().Session
	if session.ID == "" {
		return ErrNoSession
	}

	if _, err := i.api.RevokeQR(ctx, session.ID); err != nil {
		i.fail(err)
		i.logger.Warn("qr revocation failed", "error", err)
		return fmt.Errorf("revoke qr: %w", err)
	}

	i.update(func(s *State) {
		s.Token = nil
		s.QRImage = nil
		s.ExpiresAt = time.Time{}
		s.Remaining = 0
		s.Active = false
		s.LastError = nil
	})

	i.logger.Info("qr revoked")
	return nil
}

// Sync refreshes Active from the server's view of the session.
func (i *Issuer) Sync(ctx context.Context) error {
	session := i.Snapshot().Session
	if session.ID == "" {
		return ErrNoSession
	}

	resp, err := i.api.QRStatus(ctx, session.ID)
	if err != nil {
		i.fail(err)
		return fmt.Errorf("qr status: %w", err)
	}

	i.update(func(s *State) {
		s.Active = resp.QRStatus.Active
		if exp, err := qrpayload.ParseTimestamp(resp.QRStatus.ExpiresAt); err == nil && s.Token != nil {
			s.ExpiresAt = exp
		}
		s.Remaining = remaining(s.ExpiresAt, i.now())
		if s.Remaining == 0 {
			s.Active = false
		}
		s.LastError = nil
	})
	return nil
}

// Tick recomputes the remaining time. Reaching zero marks the code inactive
// locally; the token itself is kept so it can still be shown as expired.
func (i *Issuer) Tick(now time.Time) {
	i.mu.Lock()
	if i.state.Token == nil {
		i.mu.Unlock()
		return
	}

	rem := remaining(i.state.ExpiresAt, now)
	changed := rem != i.state.Remaining || (rem == 0 && i.state.Active)
	i.state.Remaining = rem
	if rem == 0 && i.state.Active {
		i.state.Active = false
		i.logger.Info("qr expired locally")
	}
	snap := i.snapshotLocked()
	i.mu.Unlock()

	if changed && i.onChange != nil {
		i.onChange(snap)
	}
}

// Start runs Tick on the configured interval until Stop is called.
func (i *Issuer) Start() {
	i.mu.Lock()
	if i.stopCh != nil {
		i.mu.Unlock()
		return
	}
	i.stopCh = make(chan struct{})
	i.doneCh = make(chan struct{})
	stopCh, doneCh := i.stopCh, i.doneCh
	i.mu.Unlock()

	go i.run(stopCh, doneCh)
}

// Stop halts the countdown and waits for it to finish.
func (i *Issuer) Stop() {
	i.mu.Lock()
	stopCh, doneCh := i.stopCh, i.doneCh
	i.stopCh, i.doneCh = nil, nil
	i.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (i *Issuer) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			i.Tick(i.now())
		case <-stopCh:
			return
		}
	}
}

// Snapshot returns a copy of the current state.
func (i *Issuer) Snapshot() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.snapshotLocked()
}

func (i *Issuer) snapshotLocked() State {
	s := i.state
	if s.Token != nil {
		tok := *s.Token
		s.Token = &tok
	}
	if s.QRImage != nil {
		s.QRImage = append([]byte(nil), s.QRImage...)
	}
	return s
}

func (i *Issuer) update(fn func(*State)) {
	i.mu.Lock()
	fn(&i.state)
	snap := i.snapshotLocked()
	i.mu.Unlock()

	if i.onChange != nil {
		i.onChange(snap)
	}
}

func (i *Issuer) fail(err error) {
	i.update(func(s *State) { s.LastError = err })
}

// tokenFromResponse builds the local token. The embedded payload and an
// absolute expires_at win over expires_in_minutes, which is relative to
// when the request was sent.
func tokenFromResponse(resp *attendsdk.GenerateQRResponse, session Session, issuedAt time.Time) (qrpayload.Token, time.Time) {
	expiresAt := issuedAt.Add(time.Duration(resp.ExpiresInMinutes * float64(time.Minute)))
	if exp, err := qrpayload.ParseTimestamp(resp.ExpiresAt); err == nil {
		expiresAt = exp
	}

	if resp.QRData != "" {
		if tok, err := qrpayload.Parse(resp.QRData); err == nil && tok.Token == resp.Token {
			if exp, err := tok.Expiry(); err == nil {
				return tok, exp
			}
			tok.ExpiresAt = expiresAt.UTC().Format(time.RFC3339Nano)
			return tok, expiresAt
		}
	}

	name := resp.SessionInfo.Name
	if name == "" {
		name = session.Name
	}
	sessionID := resp.SessionID.String()
	if sessionID == "" {
		sessionID = session.ID
	}
	return qrpayload.New(resp.Token, sessionID, name, issuedAt, expiresAt), expiresAt
}

// decodeImage accepts raw base64 or a data URI.
func decodeImage(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if idx := strings.Index(s, ","); strings.HasPrefix(s, "data:") && idx >= 0 {
		s = s[idx+1:]
	}
	return base64.StdEncoding.DecodeString(s)
}

func remaining(expiresAt, now time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	if d := expiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
