package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-status-stream/internal/id/uuid"
	"github.com/JakeFAU/realtime-status-stream/internal/status"
)

// IDGenerator names connection instances for logs.
type IDGenerator interface {
	NewID() (string, error)
}

// Config wires a Manager.
//   - Endpoint: absolute ws:// or wss:// URL of the status channel.
//   - Session: initial scope and credential; may be replaced via Reconcile.
//   - Policy: reconnect backoff (defaults 1s base, 30s cap, 5 attempts).
//   - HistorySize: number of events retained (default 50).
//   - Dialer: transport used to open connections (required).
//   - Clock: schedules reconnect timers (defaults to time.AfterFunc).
//   - Observer: optional sink for internal signals such as dropped messages.
//   - IDs: optional connection id generator (defaults to UUIDv7).
//   - Logger: optional structured logger.
type Config struct {
	Endpoint    string
	Session     Session
	Policy      ReconnectPolicy
	HistorySize int
	Dialer      Dialer
	Clock       Clock
	Observer    Observer
	IDs         IDGenerator
	Logger      *zap.Logger
}

type subscription struct {
	listener Listener
	active   atomic.Bool
}

// Manager owns one push connection and its bounded event history. All
// methods are safe for concurrent use; listener callbacks are serialized.
type Manager struct {
	endpoint string
	policy   ReconnectPolicy
	dialer   Dialer
	clock    Clock
	observer Observer
	ids      IDGenerator
	logger   *zap.Logger
	dispatch dispatcher

	mu         sync.Mutex
	session    Session
	state      ConnectionState
	gen        uint64
	live       bool
	conn       Conn
	cancelDial context.CancelFunc
	connID     string
	attempts   int
	timer      Timer
	timerSeq   uint64
	hist       *history
	latest     *status.Event
	listeners  []*subscription
}

// NewManager validates cfg and returns a disconnected Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("channel: dialer is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("channel: endpoint is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = stdClock{}
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	ids := cfg.IDs
	if ids == nil {
		ids = uuid.New()
	}
	return &Manager{
		endpoint: cfg.Endpoint,
		policy:   cfg.Policy.withDefaults(),
		dialer:   cfg.Dialer,
		clock:    clock,
		observer: observer,
		ids:      ids,
		logger:   logger,
		dispatch: dispatcher{logger: logger},
		session:  cfg.Session,
		state:    StateDisconnected,
		hist:     newHistory(cfg.HistorySize),
	}, nil
}

// Connect starts a connection attempt. It is a logged no-op when the session
// is incomplete or a connection is already dialing or open. Starting a new
// attempt resets the reconnect counter and cancels any pending reconnect.
func (m *Manager) Connect() {
	m.mu.Lock()
	m.connectLocked()
	m.mu.Unlock()
	m.dispatch.drain()
}

// Disconnect cancels any pending reconnect, closes the transport with a
// normal-closure code, and leaves the manager disconnected until the next
// Connect. Late callbacks from the closed connection are ignored.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.teardownLocked()
	m.mu.Unlock()
	m.closeConn(conn, "client disconnect")
	m.dispatch.drain()
}

// Reconcile applies a new (scope, credential) pair: it connects when both are
// present and disconnects otherwise. A changed pair replaces the current
// connection.
func (m *Manager) Reconcile(sess Session) {
	m.mu.Lock()
	changed := sess != m.session
	m.session = sess
	var conn Conn
	switch {
	case !sess.Valid():
		conn = m.teardownLocked()
	case changed:
		if m.live || m.timer != nil {
			conn = m.teardownLocked()
		}
		m.connectLocked()
	case m.timer == nil:
		m.connectLocked()
	}
	m.mu.Unlock()
	m.closeConn(conn, "session changed")
	m.dispatch.drain()
}

// ClearHistory empties the history buffer and the latest event pointer
// without touching the connection.
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hist.reset()
	m.latest = nil
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Latest returns the most recently received event.
func (m *Manager) Latest() (status.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return status.Event{}, false
	}
	return *m.latest, true
}

// History returns a copy of the buffered events, oldest first.
func (m *Manager) History() []status.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hist.snapshot()
}

// Attempts returns the number of reconnects scheduled since the last
// successful connection.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// ScopeID returns the scope of the current session.
func (m *Manager) ScopeID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.ScopeID
}

// Subscribe registers l for future callbacks. The returned func removes it.
func (m *Manager) Subscribe(l Listener) func() {
	return m.Attach(l, false)
}

// Attach registers l and, when replay is set, first delivers the buffered
// history to it. No event is delivered twice or skipped between the replay
// and live delivery.
func (m *Manager) Attach(l Listener, replay bool) func() {
	sub := &subscription{listener: l}
	sub.active.Store(true)

	m.mu.Lock()
	m.listeners = append(m.listeners, sub)
	if replay && m.hist.len() > 0 {
		events := m.hist.snapshot()
		m.dispatch.push(func() {
			for _, evt := range events {
				if !sub.active.Load() {
					return
				}
				l.OnStatusUpdate(evt)
			}
		})
	}
	m.mu.Unlock()
	m.dispatch.drain()

	return func() { m.unsubscribe(sub) }
}

func (m *Manager) unsubscribe(sub *subscription) {
	sub.active.Store(false)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.listeners {
		if s == sub {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return
		}
	}
}

func (m *Manager) connectLocked() {
	if m.live {
		m.logger.Debug("connect ignored; connection already active",
			zap.String("conn_id", m.connID), zap.String("state", string(m.state)))
		return
	}
	target, err := ResolveTarget(m.endpoint, m.session)
	if err != nil {
		m.logger.Info("connect skipped", zap.Error(err), zap.String("scope_id", m.session.ScopeID))
		return
	}
	m.stopTimerLocked()
	m.attempts = 0
	m.startLocked(target)
}

func (m *Manager) startLocked(target Target) {
	m.gen++
	gen := m.gen
	connID, err := m.ids.NewID()
	if err != nil {
		connID = fmt.Sprintf("gen-%d", gen)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	m.connID = connID
	m.live = true
	m.setStateLocked(StateConnecting)
	m.logger.Info("connecting status channel",
		zap.String("scope_id", target.ScopeID),
		zap.String("conn_id", connID),
		zap.Int("attempt", m.attempts),
	)
	go m.run(ctx, gen, target)
}

func (m *Manager) run(ctx context.Context, gen uint64, target Target) {
	conn, err := m.dialer.Dial(ctx, target)
	if err != nil {
		m.handleError(gen, fmt.Errorf("dial status channel: %w", err))
		m.handleClose(gen, CloseAbnormal, err.Error())
		return
	}
	if !m.handleOpen(gen, conn) {
		m.closeConn(conn, "superseded")
		return
	}
	for {
		data, err := conn.Read()
		if err != nil {
			var ce *CloseError
			if !errors.As(err, &ce) {
				m.handleError(gen, fmt.Errorf("read status channel: %w", err))
			}
			m.handleClose(gen, CloseCode(err), err.Error())
			m.closeConn(conn, "")
			return
		}
		m.handleMessage(gen, data)
	}
}

func (m *Manager) handleOpen(gen uint64, conn Conn) bool {
	m.mu.Lock()
	if gen != m.gen || !m.live {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	m.attempts = 0
	m.setStateLocked(StateConnected)
	m.notifyLocked(func(l Listener) { l.OnConnect() })
	m.logger.Info("status channel connected", zap.String("conn_id", m.connID))
	m.mu.Unlock()
	m.dispatch.drain()
	return true
}

func (m *Manager) handleMessage(gen uint64, data []byte) {
	evt, err := status.Parse(data)

	m.mu.Lock()
	if gen != m.gen || !m.live {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.logger.Warn("dropping malformed status message",
			zap.String("conn_id", m.connID), zap.Int("bytes", len(data)), zap.Error(err))
		observer := m.observer
		m.dispatch.push(func() { observer.MessageDropped(err) })
	} else {
		m.hist.push(evt)
		latest := evt
		m.latest = &latest
		m.notifyLocked(func(l Listener) { l.OnStatusUpdate(evt) })
	}
	m.mu.Unlock()
	m.dispatch.drain()
}

func (m *Manager) handleError(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || !m.live {
		m.mu.Unlock()
		return
	}
	m.logger.Warn("status channel error", zap.String("conn_id", m.connID), zap.Error(err))
	m.setStateLocked(StateError)
	m.notifyLocked(func(l Listener) { l.OnError(err) })
	m.mu.Unlock()
	m.dispatch.drain()
}

func (m *Manager) handleClose(gen uint64, code int, reason string) {
	m.mu.Lock()
	if gen != m.gen || !m.live {
		m.mu.Unlock()
		return
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.conn = nil
	m.live = false
	m.logger.Info("status channel closed",
		zap.String("conn_id", m.connID), zap.Int("code", code), zap.String("reason", reason))
	m.setStateLocked(StateDisconnected)
	m.notifyLocked(func(l Listener) { l.OnDisconnect(code) })
	if code != CloseNormal {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()
	m.dispatch.drain()
}

func (m *Manager) scheduleReconnectLocked() {
	observer := m.observer
	if !m.policy.Allow(m.attempts) {
		m.logger.Warn("reconnect attempts exhausted; staying disconnected",
			zap.String("scope_id", m.session.ScopeID), zap.Int("attempts", m.attempts))
		m.dispatch.push(observer.ReconnectExhausted)
		return
	}
	delay := m.policy.Backoff(m.attempts)
	m.attempts++
	attempt := m.attempts
	m.timerSeq++
	seq := m.timerSeq
	m.timer = m.clock.AfterFunc(delay, func() { m.reconnect(seq) })
	m.logger.Info("reconnect scheduled",
		zap.String("scope_id", m.session.ScopeID), zap.Int("attempt", attempt), zap.Duration("delay", delay))
	m.dispatch.push(func() { observer.ReconnectScheduled(attempt, delay) })
}

func (m *Manager) reconnect(seq uint64) {
	m.mu.Lock()
	if seq != m.timerSeq || m.timer == nil {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	if !m.live {
		target, err := ResolveTarget(m.endpoint, m.session)
		if err != nil {
			m.logger.Info("reconnect skipped", zap.Error(err))
		} else {
			m.startLocked(target)
		}
	}
	m.mu.Unlock()
	m.dispatch.drain()
}

// teardownLocked invalidates the current connection instance and returns the
// transport that the caller must close after releasing the lock.
func (m *Manager) teardownLocked() Conn {
	m.stopTimerLocked()
	m.gen++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	conn := m.conn
	m.conn = nil
	m.live = false
	m.attempts = 0
	if m.state != StateDisconnected {
		m.logger.Info("status channel disconnected", zap.String("conn_id", m.connID))
		m.setStateLocked(StateDisconnected)
		m.notifyLocked(func(l Listener) { l.OnDisconnect(CloseNormal) })
	}
	return conn
}

func (m *Manager) stopTimerLocked() {
	m.timerSeq++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) setStateLocked(state ConnectionState) {
	if m.state == state {
		return
	}
	m.state = state
	observer := m.observer
	m.dispatch.push(func() { observer.StateChanged(state) })
}

// notifyLocked queues fn for every listener registered right now, in
// registration order.
func (m *Manager) notifyLocked(fn func(Listener)) {
	subs := append([]*subscription(nil), m.listeners...)
	m.dispatch.push(func() {
		for _, sub := range subs {
			if sub.active.Load() {
				fn(sub.listener)
			}
		}
	})
}

func (m *Manager) closeConn(conn Conn, reason string) {
	if conn == nil {
		return
	}
	if err := conn.Close(CloseNormal, reason); err != nil {
		m.logger.Debug("closing status channel transport", zap.Error(err))
	}
}

type stdClock struct{}

func (stdClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
