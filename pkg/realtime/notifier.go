// Package realtime maintains the WebSocket channel that pushes attendance
// events to session viewers. A Notifier reconnects with exponential backoff,
// sends heartbeats, tracks session subscriptions and dispatches messages to
// handlers by kind.
//
// A process normally constructs one Notifier at startup and hands it to the
// components that need it.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// DisconnectReason is the close reason sent by Disconnect. Servers and
// tests can use it to tell an intentional close from a dropped connection.
const DisconnectReason = "client disconnect"

var (
	// ErrNotConnected is returned by Subscribe while the channel is down.
	// The call has no other effect.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrReconnectExhausted is reported to connection handlers when the
	// notifier gives up. Call Reconnect to try again.
	ErrReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")
)

// ConnState is the transport state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ConnEvent identifies a connection handler registry.
type ConnEvent int

const (
	EventConnected ConnEvent = iota
	EventDisconnected
	EventError
)

// ConnectionInfo is passed to connection handlers.
type ConnectionInfo struct {
	Event ConnEvent

	// Code and Reason are the close code and text for EventDisconnected.
	// A dropped connection reports websocket.CloseAbnormalClosure.
	Code   int
	Reason string

	Err error

	// Attempt is the reconnect attempt that follows, when one is scheduled.
	Attempt       int
	WillReconnect bool
	NextDelay     time.Duration

	// Terminal is set once reconnecting has been given up.
	Terminal bool
}

// TokenSource supplies the token appended to the connection URL. It is
// asked again before every dial.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config configures a Notifier. Start from DefaultConfig.
type Config struct {
	URL     string
	Channel Channel
	Token   TokenSource

	BaseDelay   time.Duration
	MaxAttempts int

	HeartbeatInterval time.Duration

	// PongTimeout forces a reconnect when no pong arrived for this long.
	// Zero disables the watchdog and leaves failure detection to the
	// transport.
	PongTimeout time.Duration

	// ReplaySubscriptions re-subscribes to every session that was
	// subscribed before a dropped connection, once it is re-established.
	// An intentional Disconnect forgets them.
	ReplaySubscriptions bool

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// DefaultConfig returns the standard settings for url and channel.
func DefaultConfig(url string, channel Channel) Config {
	return Config{
		URL:                 url,
		Channel:             channel,
		BaseDelay:           time.Second,
		MaxAttempts:         5,
		HeartbeatInterval:   30 * time.Second,
		ReplaySubscriptions: true,
	}
}

// MaxReconnectDelay caps the delay returned by ReconnectDelay.
const MaxReconnectDelay = 5 * time.Minute

// ReconnectDelay returns base × 2^(attempt−1), capped at MaxReconnectDelay.
// Attempts below 1 return base.
func ReconnectDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := min(base, MaxReconnectDelay)
	for i := 1; i < attempt; i++ {
		if d >= MaxReconnectDelay/2 {
			return MaxReconnectDelay
		}
		d *= 2
	}
	return d
}

// Notifier is a reconnecting realtime channel. Its methods are safe for
// concurrent use.
type Notifier struct {
	cfg    Config
	logger *slog.Logger

	messages    *registry[Kind, Envelope]
	anyMessages *registry[struct{}, Envelope]
	connections *registry[ConnEvent, ConnectionInfo]

	mu          sync.Mutex
	state       ConnState
	attempts    int
	terminal    bool
	running     bool
	conn        *websocket.Conn
	cancel      context.CancelFunc
	done        chan struct{}
	subs        map[string]struct{}
	remembered  map[string]struct{}
	lastPong    time.Time
	connectedAt time.Time

	writeMu sync.Mutex
}

// New creates a Notifier. Zero durations and attempts in cfg are replaced
// with the defaults.
func New(cfg Config) *Notifier {
	def := DefaultConfig(cfg.URL, cfg.Channel)
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.Channel == "" {
		cfg.Channel = ChannelAttendance
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{
		cfg:         cfg,
		logger:      logger.With("channel", string(cfg.Channel)),
		messages:    newRegistry[Kind, Envelope](),
		anyMessages: newRegistry[struct{}, Envelope](),
		connections: newRegistry[ConnEvent, ConnectionInfo](),
		subs:        make(map[string]struct{}),
		remembered:  make(map[string]struct{}),
	}
}

// State returns the transport state.
func (n *Notifier) State() ConnState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Attempts returns the reconnect attempt counter. It is reset to zero on
// every successful connection.
func (n *Notifier) Attempts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attempts
}

// Terminal reports whether the notifier stopped reconnecting.
func (n *Notifier) Terminal() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.terminal
}

// LastPong returns when the last pong was received.
func (n *Notifier) LastPong() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastPong
}

// Subscriptions returns the sessions subscribed on the current connection.
func (n *Notifier) Subscriptions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]string, 0, len(n.subs))
	for id := range n.subs {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Connect opens the channel and returns the result of the first handshake.
// A refused handshake or a cancelled ctx leaves the notifier stopped, and
// only a later call to Connect dials again. Reconnects with backoff happen
// only after an established connection drops. Calling Connect while already
// running is a no-op.
func (n *Notifier) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = true
	n.terminal = false
	n.attempts = 0

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	n.cancel = cancel
	done := make(chan struct{})
	n.done = done
	n.mu.Unlock()

	first := make(chan error, 1)
	go n.run(runCtx, done, first)

	select {
	case err := <-first:
		if err != nil {
			n.stop(done)
		}
		return err
	case <-ctx.Done():
		n.stop(done)
		return ctx.Err()
	}
}

// stop ends the run started with done and waits for it to exit.
func (n *Notifier) stop(done chan struct{}) {
	n.mu.Lock()
	var cancel context.CancelFunc
	if n.done == done {
		cancel = n.cancel
		n.cancel = nil
	}
	if cancel != nil {
		cancel()
	}
	conn := n.conn
	n.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	<-done
}

// Disconnect closes the channel with a normal close code and DisconnectReason.
// No reconnect is scheduled and all subscriptions are forgotten.
func (n *Notifier) Disconnect() {
	n.mu.Lock()
	cancel, done := n.cancel, n.done
	n.cancel = nil
	n.subs = make(map[string]struct{})
	n.remembered = make(map[string]struct{})
	n.terminal = false
	if cancel != nil {
		// Cancelled under mu so dial cannot publish a conn after we read it.
		cancel()
	}
	conn := n.conn
	n.mu.Unlock()

	if cancel == nil {
		return
	}

	if conn != nil {
		n.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, DisconnectReason),
			time.Now().Add(time.Second),
		)
		n.writeMu.Unlock()
		_ = conn.Close()
	}

	<-done
	n.logger.Info("realtime disconnected by client")
}

// Reconnect drops any current connection and starts over with a fresh
// attempt budget. It is the way out of the terminal state.
func (n *Notifier) Reconnect(ctx context.Context) error {
	n.mu.Lock()
	replay := make([]string, 0, len(n.remembered))
	for id := range n.remembered {
		replay = append(replay, id)
	}
	n.mu.Unlock()

	n.Disconnect()

	if n.cfg.ReplaySubscriptions {
		n.mu.Lock()
		for _, id := range replay {
			n.remembered[id] = struct{}{}
		}
		n.mu.Unlock()
	}
	return n.Connect(ctx)
}

// Subscribe registers interest in a session's events. While disconnected it
// logs a warning and returns ErrNotConnected without queueing anything.
func (n *Notifier) Subscribe(sessionID string) error {
	n.mu.Lock()
	if n.state != StateConnected {
		n.mu.Unlock()
		n.logger.Warn("cannot subscribe while disconnected", "session_id", sessionID)
		return ErrNotConnected
	}
	_, hadSub := n.subs[sessionID]
	_, hadRemembered := n.remembered[sessionID]
	n.subs[sessionID] = struct{}{}
	n.remembered[sessionID] = struct{}{}
	conn := n.conn
	n.mu.Unlock()

	if err := n.send(conn, outbound{Type: KindSubscribeSession, SessionID: sessionID}); err != nil {
		n.mu.Lock()
		if !hadSub {
			delete(n.subs, sessionID)
		}
		if !hadRemembered {
			delete(n.remembered, sessionID)
		}
		n.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe drops a session. Unsubscribing from a session that is not
// subscribed does nothing.
func (n *Notifier) Unsubscribe(sessionID string) error {
	n.mu.Lock()
	_, active := n.subs[sessionID]
	delete(n.subs, sessionID)
	delete(n.remembered, sessionID)
	connected := n.state == StateConnected
	conn := n.conn
	n.mu.Unlock()

	if !active {
		return nil
	}
	if !connected {
		n.logger.Warn("cannot unsubscribe while disconnected", "session_id", sessionID)
		return nil
	}
	return n.send(conn, outbound{Type: KindUnsubscribeSession, SessionID: sessionID})
}

// OnMessage registers h for messages of kind k. Handlers for system kinds
// observe them after internal bookkeeping.
func (n *Notifier) OnMessage(k Kind, h func(Envelope)) *Registration {
	return n.messages.add(k, h)
}

// OnAnyMessage registers h for every non-system message, including kinds
// this package does not know.
func (n *Notifier) OnAnyMessage(h func(Envelope)) *Registration {
	return n.anyMessages.add(struct{}{}, h)
}

// OnAttendanceMarked registers a typed handler for attendance_marked.
func (n *Notifier) OnAttendanceMarked(h func(AttendanceMarked)) *Registration {
	return n.OnMessage(KindAttendanceMarked, func(env Envelope) {
		ev, err := Decode[AttendanceMarked](env)
		if err != nil {
			n.logger.Warn("invalid attendance_marked payload", "error", err)
			return
		}
		if ev.SessionID == "" {
			ev.SessionID = env.SessionID
		}
		h(ev)
	})
}

// OnConnection registers h for a connection event.
func (n *Notifier) OnConnection(ev ConnEvent, h func(ConnectionInfo)) *Registration {
	return n.connections.add(ev, h)
}

// run owns the connection for one Connect..Disconnect span.
func (n *Notifier) run(ctx context.Context, done chan struct{}, first chan<- error) {
	defer close(done)
	defer func() {
		n.mu.Lock()
		n.running = false
		n.state = StateDisconnected
		n.conn = nil
		n.mu.Unlock()
	}()

	reported := false
	report := func(err error) {
		if !reported {
			reported = true
			first <- err
		}
	}

	for {
		conn, err := n.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				report(ctx.Err())
				return
			}
			n.logger.Warn("realtime connect failed", "error", err)
			n.emit(ConnectionInfo{Event: EventError, Err: err})
			if !reported {
				report(err)
				return
			}
		} else {
			report(nil)
			code, reason, readErr := n.serve(ctx, conn)
			if ctx.Err() != nil {
				return
			}
			if code == websocket.CloseNormalClosure {
				n.logger.Info("realtime closed by server", "code", code, "reason", reason)
				n.emit(ConnectionInfo{Event: EventDisconnected, Code: code, Reason: reason, Err: readErr})
				return
			}
			n.logger.Warn("realtime connection lost", "code", code, "reason", reason, "error", readErr)
			if !n.scheduleAfterDrop(ctx, ConnectionInfo{Event: EventDisconnected, Code: code, Reason: reason, Err: readErr}) {
				return
			}
			continue
		}

		if !n.scheduleAfterDrop(ctx, ConnectionInfo{}) {
			return
		}
	}
}

// scheduleAfterDrop counts an attempt and waits out the backoff. It reports
// false when the notifier should stop. When info names a disconnect it is
// emitted with the scheduling decision filled in.
func (n *Notifier) scheduleAfterDrop(ctx context.Context, info ConnectionInfo) bool {
	n.mu.Lock()
	if n.attempts >= n.cfg.MaxAttempts {
		n.terminal = true
		attempts := n.attempts
		n.mu.Unlock()

		if info.Event == EventDisconnected {
			info.Terminal = true
			n.emit(info)
		}
		n.logger.Error("realtime reconnect attempts exhausted", "attempts", attempts)
		n.emit(ConnectionInfo{Event: EventError, Err: ErrReconnectExhausted, Terminal: true})
		return false
	}
	n.attempts++
	attempt := n.attempts
	n.mu.Unlock()

	delay := ReconnectDelay(n.cfg.BaseDelay, attempt)
	if info.Event == EventDisconnected {
		info.WillReconnect = true
		info.Attempt = attempt
		info.NextDelay = delay
		n.emit(info)
	}
	n.logger.Info("realtime reconnect scheduled", "attempt", attempt, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (n *Notifier) dial(ctx context.Context) (*websocket.Conn, error) {
	n.setState(StateConnecting)

	token := ""
	if n.cfg.Token != nil {
		t, err := n.cfg.Token.Token(ctx)
		if err != nil {
			n.setState(StateDisconnected)
			return nil, fmt.Errorf("realtime token: %w", err)
		}
		token = t
	}

	wsURL, err := BuildURL(n.cfg.URL, n.cfg.Channel, token)
	if err != nil {
		n.setState(StateDisconnected)
		return nil, err
	}

	conn, resp, err := n.cfg.Dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		n.setState(StateDisconnected)
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	n.mu.Lock()
	if ctx.Err() != nil {
		n.mu.Unlock()
		_ = conn.Close()
		return nil, ctx.Err()
	}
	n.conn = conn
	n.state = StateConnected
	n.attempts = 0
	n.connectedAt = time.Now()
	n.lastPong = time.Time{}
	var replay []string
	if n.cfg.ReplaySubscriptions {
		for id := range n.remembered {
			n.subs[id] = struct{}{}
			replay = append(replay, id)
		}
	}
	n.mu.Unlock()

	n.logger.Info("realtime connected")
	n.emit(ConnectionInfo{Event: EventConnected})

	slices.Sort(replay)
	for _, id := range replay {
		if err := n.send(conn, outbound{Type: KindSubscribeSession, SessionID: id}); err != nil {
			n.logger.Warn("failed to replay subscription", "session_id", id, "error", err)
		}
	}

	return conn, nil
}

// serve reads from conn until it fails and returns the close code.
func (n *Notifier) serve(ctx context.Context, conn *websocket.Conn) (int, string, error) {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		n.heartbeat(conn, stop)
	}()

	var readErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		n.handle(data)
	}

	close(stop)
	wg.Wait()
	_ = conn.Close()

	n.mu.Lock()
	n.conn = nil
	n.state = StateDisconnected
	n.subs = make(map[string]struct{})
	n.mu.Unlock()

	code, reason := websocket.CloseAbnormalClosure, ""
	var ce *websocket.CloseError
	if errors.As(readErr, &ce) {
		code, reason = ce.Code, ce.Text
	}
	if ctx.Err() != nil {
		n.emit(ConnectionInfo{Event: EventDisconnected, Code: websocket.CloseNormalClosure, Reason: DisconnectReason})
	}
	return code, reason, readErr
}

// heartbeat sends an application ping every interval. With a pong timeout
// configured it also closes a connection whose pongs stopped.
func (n *Notifier) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()

	var watchdog <-chan time.Time
	if n.cfg.PongTimeout > 0 {
		wt := time.NewTicker(max(min(n.cfg.PongTimeout/2, n.cfg.HeartbeatInterval), time.Millisecond))
		defer wt.Stop()
		watchdog = wt.C
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := n.send(conn, outbound{Type: KindPing}); err != nil {
				n.logger.Warn("realtime ping failed", "error", err)
			}
		case <-watchdog:
			n.mu.Lock()
			last := n.lastPong
			if last.IsZero() {
				last = n.connectedAt
			}
			n.mu.Unlock()

			if time.Since(last) > n.cfg.PongTimeout {
				n.logger.Warn("realtime pong timeout, forcing reconnect", "last_pong", last)
				_ = conn.Close()
				return
			}
		}
	}
}

func (n *Notifier) handle(data []byte) {
	env, err := parseEnvelope(data)
	if err != nil {
		n.logger.Warn("invalid realtime message", "error", err)
		return
	}

	switch env.Type {
	case KindConnectionEstablished:
		n.logger.Debug("realtime connection established", "message", env.Message)
	case KindSubscriptionConfirmed:
		n.logger.Debug("realtime subscription confirmed", "session_id", env.SessionID)
	case KindUnsubscriptionConfirmed:
		n.logger.Debug("realtime unsubscription confirmed", "session_id", env.SessionID)
	case KindPong:
		n.mu.Lock()
		n.lastPong = time.Now()
		n.mu.Unlock()
	case KindError:
		n.logger.Warn("realtime server error", "message", env.Message)
		n.emit(ConnectionInfo{Event: EventError, Err: fmt.Errorf("realtime server error: %s", env.Message)})
	}

	n.messages.call(env.Type, env, n.logger)
	if !env.Type.IsSystem() {
		n.anyMessages.call(struct{}{}, env, n.logger)
	}
}

func (n *Notifier) send(conn *websocket.Conn, msg outbound) error {
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (n *Notifier) setState(s ConnState) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

func (n *Notifier) emit(info ConnectionInfo) {
	n.connections.call(info.Event, info, n.logger)
}
