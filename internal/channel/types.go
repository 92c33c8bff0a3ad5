package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/JakeFAU/realtime-status-stream/internal/status"
)

// ConnectionState is the observable state of a Manager.
type ConnectionState string

// Connection states.
const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// Close codes understood by the manager. Any code other than
// CloseNormal is treated as an abnormal closure.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// ErrNoSession is logged when Connect is called without a scope or credential.
var ErrNoSession = errors.New("no authenticated session")

// Session is the (scope, credential) pair handed over by the auth layer.
type Session struct {
	ScopeID string
	Token   string
}

// Valid reports whether both halves of the session are present.
func (s Session) Valid() bool {
	return s.ScopeID != "" && s.Token != ""
}

// Target is a fully resolved connection target.
type Target struct {
	URL     string
	ScopeID string
	Token   string
}

// ResolveTarget appends the scope to the endpoint query. The credential is
// carried separately so transports can send it as a header.
func ResolveTarget(endpoint string, sess Session) (Target, error) {
	if !sess.Valid() {
		return Target{}, ErrNoSession
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return Target{}, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Target{}, fmt.Errorf("endpoint %q must be absolute", endpoint)
	}
	q := u.Query()
	q.Set("scope_id", sess.ScopeID)
	u.RawQuery = q.Encode()
	return Target{URL: u.String(), ScopeID: sess.ScopeID, Token: sess.Token}, nil
}

// CloseError reports a close frame received from the peer.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed: code=%d reason=%q", e.Code, e.Reason)
}

// CloseCode extracts the close code carried by err. Errors that are not a
// CloseError are reported as CloseAbnormal.
func CloseCode(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CloseAbnormal
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context, target Target) (Conn, error)
}

// Conn is one live transport connection. Read blocks until the next data
// message arrives; it returns a *CloseError when the peer closes the channel.
// Close must unblock a pending Read.
type Conn interface {
	Read() ([]byte, error)
	Close(code int, reason string) error
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Clock schedules reconnect callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Listener receives lifecycle and status callbacks. Callbacks are serialized
// and must not block.
type Listener interface {
	OnConnect()
	OnDisconnect(code int)
	OnError(err error)
	OnStatusUpdate(evt status.Event)
}

// ListenerFuncs adapts optional funcs to the Listener interface.
type ListenerFuncs struct {
	Connect      func()
	Disconnect   func(code int)
	Error        func(err error)
	StatusUpdate func(evt status.Event)
}

// OnConnect implements Listener.
func (f ListenerFuncs) OnConnect() {
	if f.Connect != nil {
		f.Connect()
	}
}

// OnDisconnect implements Listener.
func (f ListenerFuncs) OnDisconnect(code int) {
	if f.Disconnect != nil {
		f.Disconnect(code)
	}
}

// OnError implements Listener.
func (f ListenerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// OnStatusUpdate implements Listener.
func (f ListenerFuncs) OnStatusUpdate(evt status.Event) {
	if f.StatusUpdate != nil {
		f.StatusUpdate(evt)
	}
}

// Observer receives manager-internal signals that listeners never see.
type Observer interface {
	StateChanged(state ConnectionState)
	MessageDropped(err error)
	ReconnectScheduled(attempt int, delay time.Duration)
	ReconnectExhausted()
}

type nopObserver struct{}

func (nopObserver) StateChanged(ConnectionState) {}
func (nopObserver) MessageDropped(error) {}
func (nopObserver) ReconnectScheduled(int, time.Duration) {}
func (nopObserver) ReconnectExhausted() {}
