// Package scan drives the student side of QR check-in: it reads decoded
// codes from a camera, checks them locally and submits at most one
// validation per attempt.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/rollcall/pkg/attendsdk"
	"github.com/aussiebroadwan/rollcall/pkg/idx"
	"github.com/aussiebroadwan/rollcall/pkg/qrpayload"
)

var (
	// ErrBusy is returned when the scanner cannot take input in its
	// current state.
	ErrBusy = errors.New("scan: scanner is not accepting input")

	// ErrAlreadyOpen is returned by Open while a camera is held.
	ErrAlreadyOpen = errors.New("scan: camera already open")

	// ErrCameraUnavailable is returned by Retry after a camera failure;
	// the camera must be reopened explicitly.
	ErrCameraUnavailable = errors.New("scan: camera unavailable")
)

// Camera produces decoded QR strings. Open starts the stream; the channel is
// closed when the camera stops. Close releases the device.
type Camera interface {
	Open(ctx context.Context) (<-chan string, error)
	Close() error
}

// Validator submits a token to the server.
type Validator interface {
	ValidateQR(ctx context.Context, req attendsdk.ValidateQRRequest) (*attendsdk.ValidateQRResponse, error)
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// WithThrottle sets the minimum spacing between accepted decode events and
// the window in which an identical payload is ignored.
func WithThrottle(every, duplicateWindow time.Duration) Option {
	return func(s *Scanner) {
		s.limiter = rate.NewLimiter(rate.Every(every), 1)
		s.dupWindow = duplicateWindow
	}
}

// OnOutcome registers a function called with every terminal attempt.
func OnOutcome(fn func(Attempt)) Option {
	return func(s *Scanner) { s.onOutcome = fn }
}

// Scanner is a single scan dialog. It owns the camera exclusively between
// Open and Close.
type Scanner struct {
	camera    Camera
	validator Validator
	studentID string

	limiter   *rate.Limiter
	dupWindow time.Duration
	now       func() time.Time
	logger    *slog.Logger
	onOutcome func(Attempt)

	mu         sync.Mutex
	state      State
	attempt    Attempt
	cameraOpen bool
	gen        uint64
	cancel     context.CancelFunc
	lastRaw    string
	lastAt     time.Time
}

// New creates a scanner that checks in studentID. camera may be nil when
// only manual entry is available.
func New(camera Camera, validator Validator, studentID string, opts ...Option) *Scanner {
	s := &Scanner{
		camera:    camera,
		validator: validator,
		studentID: studentID,
		limiter:   rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		dupWindow: 3 * time.Second,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempt returns the current or last attempt.
func (s *Scanner) Attempt() Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Open acquires the camera and starts scanning. A camera failure leaves the
// scanner FAILED with ReasonCamera; manual entry stays available.
func (s *Scanner) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.cameraOpen {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	if s.state != StateIdle && !(s.state == StateFailed && s.attempt.Reason == ReasonCamera) {
		s.mu.Unlock()
		return ErrBusy
	}
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	if s.camera == nil {
		err := errors.New("no camera configured")
		s.cameraFailed(gen, err)
		return fmt.Errorf("%w: %w", ErrCameraUnavailable, err)
	}

	scanCtx, cancel := context.WithCancel(ctx)
	frames, err := s.camera.Open(scanCtx)
	if err != nil {
		cancel()
		_ = s.camera.Close()
		s.cameraFailed(gen, err)
		return fmt.Errorf("%w: %w", ErrCameraUnavailable, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		// Closed while the camera was starting.
		s.mu.Unlock()
		cancel()
		_ = s.camera.Close()
		return context.Canceled
	}
	s.cameraOpen = true
	s.cancel = cancel
	s.state = StateScanning
	s.attempt = Attempt{}
	s.mu.Unlock()

	s.logger.Info("scanner opened")
	go s.read(scanCtx, gen, frames)
	return nil
}

// read feeds decode events into the pipeline until the stream ends or the
// scanner is closed, then releases the camera.
func (s *Scanner) read(ctx context.Context, gen uint64, frames <-chan string) {
	defer s.release(gen)

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-frames:
			if !ok {
				return
			}
			s.HandleDecoded(ctx, raw)
		}
	}
}

// HandleDecoded processes one decode event. Events are dropped while an
// attempt is in progress or finished, when they exceed the throttle, or when
// they repeat the previous payload within the duplicate window. It reports
// the resulting attempt and whether the event was accepted.
func (s *Scanner) HandleDecoded(ctx context.Context, raw string) (Attempt, bool) {
	now := s.now()

	s.mu.Lock()
	if s.state != StateScanning {
		s.mu.Unlock()
		return Attempt{}, false
	}
	if raw == s.lastRaw && now.Sub(s.lastAt) < s.dupWindow {
		s.mu.Unlock()
		return Attempt{}, false
	}
	if !s.limiter.AllowN(now, 1) {
		s.mu.Unlock()
		return Attempt{}, false
	}
	s.lastRaw, s.lastAt = raw, now
	a := s.beginLocked(SourceCamera, raw)
	s.mu.Unlock()

	return s.process(ctx, a), true
}

// SubmitManual runs an operator-typed code through the same pipeline as a
// scanned one. It is accepted while scanning, or when no camera is held.
func (s *Scanner) SubmitManual(ctx context.Context, code string) (Attempt, error) {
	s.mu.Lock()
	switch {
	case s.state == StateScanning:
	case s.state == StateIdle:
	case s.state == StateFailed && s.attempt.Reason == ReasonCamera:
	default:
		s.mu.Unlock()
		return Attempt{}, ErrBusy
	}
	a := s.beginLocked(SourceManual, strings.TrimSpace(code))
	s.mu.Unlock()

	return s.process(ctx, a), nil
}

// Retry discards a recoverable failure and returns to scanning. The camera
// is not reacquired.
func (s *Scanner) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateFailed {
		return ErrBusy
	}
	if s.attempt.Reason == ReasonCamera {
		return ErrCameraUnavailable
	}

	s.attempt = Attempt{}
	s.lastRaw = ""
	if s.cameraOpen {
		s.state = StateScanning
	} else {
		s.state = StateIdle
	}
	return nil
}

// Close releases the camera and resets the scanner to IDLE. An in-flight
// validation finishes on the server but its result is discarded.
func (s *Scanner) Close() {
	s.mu.Lock()
	s.gen++
	cancel := s.cancel
	s.cancel = nil
	wasOpen := s.cameraOpen
	s.cameraOpen = false
	s.state = StateIdle
	s.attempt = Attempt{}
	s.lastRaw = ""
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasOpen {
		s.closeCamera()
	}
	s.logger.Info("scanner closed")
}

// release is called when the camera stream ends on its own.
func (s *Scanner) release(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || !s.cameraOpen {
		s.mu.Unlock()
		return
	}
	s.cameraOpen = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	var outcome *Attempt
	if s.state == StateScanning {
		s.state = StateFailed
		s.attempt = Attempt{
			ID:      idx.New().String(),
			State:   StateFailed,
			Reason:  ReasonCamera,
			Message: messages[ReasonCamera],
			Err:     errors.New("camera stream ended"),
		}
		a := s.attempt
		outcome = &a
	}
	s.mu.Unlock()

	s.closeCamera()
	s.logger.Info("camera stream ended")
	if outcome != nil && s.onOutcome != nil {
		s.onOutcome(*outcome)
	}
}

func (s *Scanner) closeCamera() {
	if err := s.camera.Close(); err != nil {
		s.logger.Warn("failed to release camera", "error", err)
	}
}

func (s *Scanner) cameraFailed(gen uint64, err error) {
	s.logger.Warn("camera unavailable", "error", err)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.attempt = Attempt{
		ID:      idx.New().String(),
		State:   StateFailed,
		Reason:  ReasonCamera,
		Message: messages[ReasonCamera],
		Err:     err,
	}
	a := s.attempt
	s.mu.Unlock()

	if s.onOutcome != nil {
		s.onOutcome(a)
	}
}

func (s *Scanner) beginLocked(src Source, raw string) Attempt {
	s.state = StateParsing
	s.attempt = Attempt{
		ID:     idx.New().String(),
		Source: src,
		Raw:    raw,
		State:  StateParsing,
	}
	return s.attempt
}

// process runs parse, expiry check and validation for one attempt, in that
// order. Local failures never reach the network.
func (s *Scanner) process(ctx context.Context, a Attempt) Attempt {
	log := s.logger.With("attempt_id", a.ID, "source", string(a.Source))

	tok, err := qrpayload.Parse(a.Raw)
	if err != nil {
		reason := classifyParse(err)
		log.Info("scan rejected locally", "reason", string(reason), "error", err)
		return s.finish(a, StateFailed, reason, messages[reason], err, nil)
	}
	a.Token = &tok

	if qrpayload.IsExpired(tok, s.now()) {
		log.Info("scan rejected locally", "reason", string(ReasonExpired), "expires_at", tok.ExpiresAt)
		return s.finish(a, StateFailed, ReasonExpired, messages[ReasonExpired], nil, nil)
	}

	if !s.advance(a.ID, StateValidating, &tok) {
		return a
	}

	resp, err := s.validator.ValidateQR(ctx, attendsdk.ValidateQRRequest{
		QRToken:   tok.Token,
		StudentID: s.studentID,
	})
	if err != nil {
		reason, msg := classifyValidate(err)
		log.Warn("check-in failed", "reason", string(reason), "error", err)
		return s.finish(a, StateFailed, reason, msg, err, nil)
	}

	log.Info("check-in recorded", "session_id", tok.SessionID, "is_late", resp.IsLate)
	return s.finish(a, StateSucceeded, ReasonNone, resp.Message, nil, resp)
}

// advance moves the current attempt forward, unless it was superseded by a
// Close in the meantime.
func (s *Scanner) advance(id string, st State, tok *qrpayload.Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attempt.ID != id {
		return false
	}
	s.state = st
	s.attempt.State = st
	s.attempt.Token = tok
	return true
}

func (s *Scanner) finish(a Attempt, st State, reason Reason, msg string, err error, res *attendsdk.ValidateQRResponse) Attempt {
	a.State = st
	a.Reason = reason
	a.Message = msg
	a.Err = err
	a.Result = res

	s.mu.Lock()
	if s.attempt.ID != a.ID {
		s.mu.Unlock()
		return a
	}
	s.state = st
	s.attempt = a
	s.mu.Unlock()

	if s.onOutcome != nil {
		s.onOutcome(a)
	}
	return a
}
