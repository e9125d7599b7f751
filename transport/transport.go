// Package transport maintains a resilient bidirectional connection to the
// board event stream. It owns the connect/reconnect/heartbeat lifecycle and
// forwards recognized session lifecycle events to a dispatch sink; it knows
// nothing about board semantics.
package transport

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

var (
	// ErrNotConnected is returned by Send when no connection is established.
	// Messages are never queued for later delivery.
	ErrNotConnected = errors.New("stream not connected")
	// ErrClosed is returned once the transport has been torn down.
	ErrClosed = errors.New("transport closed")
)

// Conn is a single established connection. ReadMessage must return io.EOF
// when the peer closed the connection cleanly and some other error otherwise;
// it must return an error after Close.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Conn to an endpoint.
type Dialer interface {
	Dial(url string) (Conn, error)
}

// Config carries the transport settings. Endpoint selection (ws vs wss,
// same-origin routing) is resolved by the deployment before the URL lands
// here.
type Config struct {
	URL               string
	HeartbeatInterval time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	Dialer            Dialer
}

// Transport is an explicitly constructed, owned connection handle. Its
// lifecycle is bound to the owning view: Connect on mount, Close on unmount.
type Transport struct {
	cfg      Config
	logger   *log.Logger
	dispatch func(domain.SessionEvent)

	mu            sync.Mutex
	state         domain.ConnectionState
	attempts      int
	conn          Conn
	gen           int
	closed        bool
	retryCancel   chan struct{}
	heartbeatStop chan struct{}
	lastMsg       []byte
	lastMsgAt     time.Time
}

// New creates a Transport. Recognized session events are forwarded to
// dispatch; a nil dispatch drops them.
func New(cfg Config, dispatch func(domain.SessionEvent), logger *log.Logger) *Transport {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &WebsocketDialer{}
	}
	return &Transport{
		cfg:      cfg,
		logger:   logger,
		dispatch: dispatch,
		state:    domain.StateDisconnected,
	}
}

// Connect establishes the connection. It is a no-op when already connected,
// while a dial is in progress, or while a reconnect supervisor is waiting out
// its backoff. A failed dial schedules reconnection with backoff.
func (t *Transport) Connect() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.state == domain.StateConnected || t.state == domain.StateConnecting || t.retryCancel != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := t.dialOnce(nil); err != nil {
		t.scheduleRetry()
		return err
	}
	return nil
}

// Reconnect force-closes any existing connection, resets the attempt counter
// to zero and dials immediately, bypassing backoff.
func (t *Transport) Reconnect() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.teardownConnLocked()
	t.attempts = 0
	conn := t.detachConnLocked()
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	if err := t.dialOnce(nil); err != nil {
		t.scheduleRetry()
		return err
	}
	return nil
}

// Disconnect closes the connection cleanly and cancels any pending reconnect.
// No automatic reconnection follows a clean close.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.teardownConnLocked()
	t.attempts = 0
	conn := t.detachConnLocked()
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Close disconnects and tears the transport down for good. All timers are
// cleared; no dispatch occurs afterwards.
func (t *Transport) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.Disconnect()
}

// Send encodes v and writes it to the stream. When not connected it logs a
// warning and returns ErrNotConnected; nothing is queued or buffered.
func (t *Transport) Send(v any) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.state == domain.StateConnected
	t.mu.Unlock()

	if !connected || conn == nil {
		t.logger.Warn("dropping outbound message, stream not connected")
		return ErrNotConnected
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(data)
}

// State returns the current connection state.
func (t *Transport) State() domain.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Attempts returns the reconnect attempt counter. It resets to zero on a
// successful connect.
func (t *Transport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// LastMessage returns a copy of the most recent well-formed payload and its
// arrival time.
func (t *Transport) LastMessage() ([]byte, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastMsg == nil {
		return nil, time.Time{}
	}
	return append([]byte(nil), t.lastMsg...), t.lastMsgAt
}

// dialOnce performs one dial and, on success, installs the connection. A
// supervisor dial passes its cancel channel as owner; the dial is abandoned,
// before and after dialing, once that supervisor is no longer the current one,
// so a connection cannot come back after an explicit Disconnect.
func (t *Transport) dialOnce(owner chan struct{}) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if owner != nil && t.retryCancel != owner {
		t.mu.Unlock()
		return nil
	}
	if t.state == domain.StateConnected {
		t.mu.Unlock()
		return nil
	}
	if t.attempts > 0 {
		t.state = domain.StateReconnecting
	} else {
		t.state = domain.StateConnecting
	}
	url := t.cfg.URL
	dialer := t.cfg.Dialer
	t.mu.Unlock()

	conn, err := dialer.Dial(url)
	if err != nil {
		t.mu.Lock()
		if t.state != domain.StateConnected {
			t.state = domain.StateDisconnected
		}
		t.mu.Unlock()
		t.logger.WithError(err).WithField("url", url).Warn("stream dial failed")
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	if owner != nil && t.retryCancel != owner {
		// Cancelled while the dial was in flight. Discard the connection.
		t.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	if t.state == domain.StateConnected && t.conn != nil {
		// A concurrent dial already installed its connection.
		t.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	t.gen++
	gen := t.gen
	t.conn = conn
	t.state = domain.StateConnected
	t.attempts = 0
	stop := make(chan struct{})
	t.heartbeatStop = stop
	t.mu.Unlock()

	t.logger.WithField("url", url).Info("stream connected")
	go t.readLoop(conn, gen)
	go t.heartbeat(conn, stop)
	return nil
}

func (t *Transport) readLoop(conn Conn, gen int) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			t.handleClose(gen, errors.Is(err, io.EOF), err)
			return
		}
		t.handleMessage(data)
	}
}

// handleClose runs when the read loop observes the connection ending. Read
// errors surface here too, so reconnect scheduling lives in one place.
func (t *Transport) handleClose(gen int, clean bool, cause error) {
	t.mu.Lock()
	if t.closed || gen != t.gen {
		// The connection was already replaced or deliberately closed.
		t.mu.Unlock()
		return
	}
	if t.heartbeatStop != nil {
		close(t.heartbeatStop)
		t.heartbeatStop = nil
	}
	t.conn = nil
	t.state = domain.StateDisconnected
	t.mu.Unlock()

	if clean {
		t.logger.Info("stream closed cleanly")
		return
	}
	t.logger.WithError(cause).Warn("stream connection lost")
	t.scheduleRetry()
}

func (t *Transport) handleMessage(raw []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := sonic.Unmarshal(raw, &env); err != nil || env.Type == "" {
		t.logger.WithError(err).Warn("dropping malformed stream payload")
		return
	}

	t.mu.Lock()
	t.lastMsg = append(t.lastMsg[:0], raw...)
	t.lastMsgAt = time.Now()
	dispatch := t.dispatch
	if t.closed {
		dispatch = nil
	}
	t.mu.Unlock()

	if !domain.IsSessionEvent(env.Type) {
		t.logger.WithField("type", env.Type).Debug("stream message retained without dispatch")
		return
	}
	var ev domain.SessionEvent
	if err := sonic.Unmarshal(raw, &ev); err != nil {
		t.logger.WithError(err).Warn("dropping malformed session event")
		return
	}
	if dispatch != nil {
		dispatch(ev)
	}
}

func (t *Transport) heartbeat(conn Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			data, err := sonic.Marshal(domain.PingMessage{Type: domain.EventPing, Time: time.Now().UnixMilli()})
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(data); err != nil {
				t.logger.WithError(err).Debug("heartbeat write failed")
				return
			}
		}
	}
}

// scheduleRetry starts the reconnect supervisor unless one is already
// running. Retries continue indefinitely with capped backoff; the only way
// out is a successful connect or an explicit Disconnect.
func (t *Transport) scheduleRetry() {
	t.mu.Lock()
	if t.closed || t.retryCancel != nil {
		t.mu.Unlock()
		return
	}
	cancel := make(chan struct{})
	t.retryCancel = cancel
	t.state = domain.StateReconnecting
	t.mu.Unlock()
	go t.retryLoop(cancel)
}

// retryLoop sleeps out the computed backoff, then re-invokes the dialer. It
// exits when a dial succeeds or the supervisor is cancelled.
func (t *Transport) retryLoop(cancel chan struct{}) {
	for {
		t.mu.Lock()
		t.attempts++
		attempt := t.attempts
		delay := Backoff(attempt, t.cfg.BackoffBase, t.cfg.BackoffMax)
		t.state = domain.StateReconnecting
		t.mu.Unlock()

		t.logger.WithFields(log.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("stream reconnect scheduled")

		timer := time.NewTimer(delay)
		select {
		case <-cancel:
			timer.Stop()
			return
		case <-timer.C:
		}
		select {
		case <-cancel:
			return
		default:
		}

		if err := t.dialOnce(cancel); err == nil {
			t.mu.Lock()
			if t.retryCancel == cancel {
				t.retryCancel = nil
			}
			t.mu.Unlock()
			return
		}

		select {
		case <-cancel:
			return
		default:
		}
	}
}

// teardownConnLocked cancels the retry supervisor and heartbeat. Callers hold
// t.mu.
func (t *Transport) teardownConnLocked() {
	if t.retryCancel != nil {
		close(t.retryCancel)
		t.retryCancel = nil
	}
	if t.heartbeatStop != nil {
		close(t.heartbeatStop)
		t.heartbeatStop = nil
	}
}

// detachConnLocked invalidates the current read loop and returns the
// connection for the caller to close outside the lock.
func (t *Transport) detachConnLocked() Conn {
	conn := t.conn
	t.conn = nil
	t.gen++
	t.state = domain.StateDisconnected
	return conn
}
