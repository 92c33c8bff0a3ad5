// Package ws implements channel.Dialer on top of github.com/gobwas/ws.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-status-stream/internal/channel"
)

const (
	defaultDialTimeout = 10 * time.Second
	tracerName         = "github.com/JakeFAU/realtime-status-stream/internal/transport/ws"
)

// Config controls the WebSocket handshake.
//   - DialTimeout: bound on TCP connect plus handshake (default 10s).
//   - UserAgent: optional User-Agent header.
//   - Tracer: optional tracer for handshake spans (defaults to the global provider).
//   - Logger: optional structured logger.
type Config struct {
	DialTimeout time.Duration
	UserAgent   string
	Tracer      trace.Tracer
	Logger      *zap.Logger
}

// Dialer opens status channel connections.
type Dialer struct {
	cfg    Config
	tracer trace.Tracer
	logger *zap.Logger
}

// NewDialer builds a Dialer from cfg.
func NewDialer(cfg Config) *Dialer {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Dialer{cfg: cfg, tracer: tracer, logger: logger}
}

// Dial performs the WebSocket handshake against target.URL, forwarding the
// credential as a bearer token.
func (d *Dialer) Dial(ctx context.Context, target channel.Target) (channel.Conn, error) {
	ctx, span := d.tracer.Start(ctx, "ws.dial", trace.WithAttributes(
		attribute.String("status.scope_id", target.ScopeID),
	))
	defer span.End()

	header := http.Header{}
	if target.Token != "" {
		header.Set("Authorization", "Bearer "+target.Token)
	}
	if d.cfg.UserAgent != "" {
		header.Set("User-Agent", d.cfg.UserAgent)
	}
	dialer := ws.Dialer{
		Header:  ws.HandshakeHeaderHTTP(header),
		Timeout: d.cfg.DialTimeout,
	}
	netConn, br, _, err := dialer.Dial(ctx, target.URL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handshake failed")
		return nil, fmt.Errorf("websocket handshake: %w", err)
	}
	// br holds frames that arrived with the handshake response. It stays
	// owned by the connection instead of going back to the gobwas pool,
	// since Close can run while Read is still using it.
	var reader io.Reader = netConn
	if br != nil {
		reader = br
	}
	d.logger.Debug("websocket handshake complete", zap.String("scope_id", target.ScopeID))
	return &Conn{
		conn:   netConn,
		reader: reader,
	}, nil
}

// Conn is a client-side WebSocket connection carrying status messages.
type Conn struct {
	conn   net.Conn
	reader io.Reader

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Read returns the next text or binary message. Control frames are handled
// inline: pings are answered and a close frame is returned as a
// *channel.CloseError.
func (c *Conn) Read() ([]byte, error) {
	rw := struct {
		io.Reader
		io.Writer
	}{c.reader, lockedWriter{c}}
	for {
		data, op, err := wsutil.ReadServerData(rw)
		if err != nil {
			var closed wsutil.ClosedError
			if errors.As(err, &closed) {
				return nil, &channel.CloseError{Code: int(closed.Code), Reason: closed.Reason}
			}
			return nil, fmt.Errorf("read websocket frame: %w", err)
		}
		if op == ws.OpText || op == ws.OpBinary {
			return data, nil
		}
	}
}

// Close sends a close frame with code and closes the socket. It may run
// concurrently with a pending Read, which then returns an error. Subsequent
// calls return the first result.
func (c *Conn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		body := ws.NewCloseFrameBody(ws.StatusCode(code), reason)
		writeErr := c.write(ws.OpClose, body)
		closeErr := c.conn.Close()
		c.closeErr = errors.Join(writeErr, closeErr)
	})
	return c.closeErr
}

func (c *Conn) write(op ws.OpCode, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(c.conn, op, payload); err != nil {
		return fmt.Errorf("write websocket frame: %w", err)
	}
	return nil
}

// lockedWriter serializes control-frame replies with Close.
type lockedWriter struct {
	c *Conn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.writeMu.Lock()
	defer w.c.writeMu.Unlock()
	n, err := w.c.conn.Write(p)
	if err != nil {
		return n, fmt.Errorf("write websocket control frame: %w", err)
	}
	return n, nil
}
