package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-status-stream/internal/status"
)

var errConnClosed = errors.New("use of closed connection")

type frame struct {
	data []byte
	err  error
}

type fakeConn struct {
	frames    chan frame
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	closeCode int
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan frame, 256),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) Read() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f.data, f.err
	case <-c.done:
		return nil, errConnClosed
	}
}

func (c *fakeConn) Close(code int, _ string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

func (c *fakeConn) send(payload []byte) {
	c.frames <- frame{data: payload}
}

func (c *fakeConn) peerClose(code int) {
	c.frames <- frame{err: &CloseError{Code: code, Reason: "peer"}}
}

func (c *fakeConn) fail(err error) {
	c.frames <- frame{err: err}
}

func (c *fakeConn) isClosed() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode
}

type fakeDialer struct {
	mu       sync.Mutex
	failures int
	conns    []*fakeConn
	targets  []Target
}

func (d *fakeDialer) Dial(ctx context.Context, target Target) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targets = append(d.targets, target)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}

func (d *fakeDialer) target(i int) Target {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.targets[i]
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) setFailures(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = n
}

type fakeTimer struct {
	clock   *fakeClock
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

// fakeClock records scheduled callbacks; tests fire them explicitly.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, 0, len(c.timers))
	for _, t := range c.timers {
		out = append(out, t.delay)
	}
	return out
}

func (c *fakeClock) stopped(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[i].stopped
}

// fire runs the i-th callback even if it was stopped, mimicking a timer that
// raced with Stop.
func (c *fakeClock) fire(i int) {
	c.mu.Lock()
	fn := c.timers[i].fn
	c.mu.Unlock()
	fn()
}

type recordingListener struct {
	mu          sync.Mutex
	connects    int
	disconnects []int
	errs        []error
	events      []status.Event
}

func (l *recordingListener) OnConnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connects++
}

func (l *recordingListener) OnDisconnect(code int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnects = append(l.disconnects, code)
}

func (l *recordingListener) OnError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *recordingListener) OnStatusUpdate(evt status.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *recordingListener) Events() []status.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]status.Event(nil), l.events...)
}

func (l *recordingListener) Disconnects() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.disconnects...)
}

func (l *recordingListener) Connects() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connects
}

func (l *recordingListener) Errors() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errs)
}

type countingObserver struct {
	mu        sync.Mutex
	dropped   int
	scheduled []int
	exhausted int
	states    []ConnectionState
}

func (o *countingObserver) StateChanged(state ConnectionState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *countingObserver) MessageDropped(error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped++
}

func (o *countingObserver) ReconnectScheduled(attempt int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scheduled = append(o.scheduled, attempt)
}

func (o *countingObserver) ReconnectExhausted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.exhausted++
}

func (o *countingObserver) Dropped() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

func (o *countingObserver) Exhausted() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.exhausted
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "conn-" + string(rune('0'+s.n%10)), nil
}

func eventJSON(entityID string, phase status.Phase, st status.Status, message string) []byte {
	payload, err := json.Marshal(map[string]any{
		"entityId":  entityID,
		"scopeId":   "scope-1",
		"phase":     phase,
		"status":    st,
		"message":   message,
		"timestamp": time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		panic(err)
	}
	return payload
}
