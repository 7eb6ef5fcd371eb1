package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldgate-protocol/fieldgate-go/pkg/log"
)

// FramedTransport opens TCP connections carrying length-prefixed frames.
// Each message is one frame: a 4-byte big-endian length followed by the
// payload.
type FramedTransport struct {
	logger log.Logger
}

// NewFramedTransport creates a framed transport.
// Pass nil to disable logging.
func NewFramedTransport(logger log.Logger) *FramedTransport {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &FramedTransport{logger: logger}
}

// Kind returns KindFramed.
func (t *FramedTransport) Kind() Kind { return KindFramed }

// Open establishes a TCP connection to address.
func (t *FramedTransport) Open(ctx context.Context, address string, opts Options) (Conn, error) {
	opts = opts.withDefaults()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	id := uuid.NewString()
	framer := NewFramerWithMaxSize(conn, opts.MaxMessageSize)
	framer.SetLogger(t.logger, id)

	return &FramedConn{
		conn:    conn,
		framer:  framer,
		id:      id,
		closeCh: make(chan struct{}),
	}, nil
}

// FramedConn is one open framed TCP connection.
type FramedConn struct {
	conn    net.Conn
	framer  *Framer
	id      string
	closeCh chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
}

// ID returns the connection identifier used in log events.
func (c *FramedConn) ID() string { return c.id }

// RemoteAddr returns the remote network address.
func (c *FramedConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Exchange sends one frame and reads one response frame.
func (c *FramedConn) Exchange(request []byte, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	deadline := time.Now().Add(timeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	if err := c.framer.WriteFrame(request); err != nil {
		return nil, c.mapError(err)
	}

	response, err := c.framer.ReadFrame()
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
		}
		return nil, c.mapError(err)
	}
	return response, nil
}

// Close closes the connection. Safe to call concurrently with Exchange.
func (c *FramedConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

func (c *FramedConn) mapError(err error) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
		return err
	}
}
