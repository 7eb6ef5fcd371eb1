package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldgate-protocol/fieldgate-go/pkg/log"
)

// StreamTransport opens raw TCP connections for request/response
// protocols. Response boundaries are found via Options.ResponseComplete;
// with a nil CompleteFunc the response is read until the peer closes the
// connection.
type StreamTransport struct {
	logger log.Logger
}

// NewStreamTransport creates a stream transport.
// Pass nil to disable logging.
func NewStreamTransport(logger log.Logger) *StreamTransport {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &StreamTransport{logger: logger}
}

// Kind returns KindStream.
func (t *StreamTransport) Kind() Kind { return KindStream }

// Open establishes a TCP connection to address.
func (t *StreamTransport) Open(ctx context.Context, address string, opts Options) (Conn, error) {
	opts = opts.withDefaults()

	// Apply timeout from options if context doesn't have one
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

	return &StreamConn{
		conn:    conn,
		opts:    opts,
		id:      uuid.NewString(),
		logger:  t.logger,
		closeCh: make(chan struct{}),
	}, nil
}

// StreamConn is one open TCP connection.
type StreamConn struct {
	conn    net.Conn
	opts    Options
	id      string
	logger  log.Logger
	closeCh chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
}

// ID returns the connection identifier used in log events.
func (c *StreamConn) ID() string { return c.id }

// RemoteAddr returns the remote network address.
func (c *StreamConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Exchange sends a request and reads the response, bounded by timeout.
// One exchange runs at a time; concurrent callers are serialized.
func (c *StreamConn) Exchange(request []byte, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed() {
		return nil, ErrConnectionClosed
	}

	deadline := time.Now().Add(timeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	if _, err := c.conn.Write(request); err != nil {
		return nil, c.mapError(fmt.Errorf("write failed: %w", err))
	}
	c.logFrame(request, log.DirectionOut)

	response, err := c.readResponse()
	if err != nil {
		return nil, c.mapError(err)
	}
	c.logFrame(response, log.DirectionIn)
	return response, nil
}

// readResponse accumulates reads until the response is complete.
func (c *StreamConn) readResponse() ([]byte, error) {
	var buf []byte
	chunk := make([]byte, 4096)

	for {
		n, err := c.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if uint32(len(buf)) > c.opts.MaxMessageSize {
				return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(buf), c.opts.MaxMessageSize)
			}
			if c.opts.ResponseComplete != nil {
				if msgLen, ok := c.opts.ResponseComplete(buf); ok {
					return buf[:msgLen], nil
				}
			}
		}
		if err == nil {
			continue
		}

		// Peer closed the connection: with no delimiter that is the
		// normal end of a response.
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrConnectionClosed
		}
		if isEOF(err) {
			if c.opts.ResponseComplete == nil && len(buf) > 0 {
				return buf, nil
			}
			if len(buf) == 0 {
				return nil, ErrNoResponse
			}
			return nil, ErrFrameTruncated
		}
		if isTimeout(err) && len(buf) == 0 {
			return nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
		}
		return nil, fmt.Errorf("read failed: %w", err)
	}
}

// Close closes the connection. Safe to call concurrently with Exchange;
// an in-flight read fails immediately.
func (c *StreamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

func (c *StreamConn) isClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// mapError converts post-close I/O errors to ErrConnectionClosed so a
// supervised cancellation reads as a clean close, not a socket error.
func (c *StreamConn) mapError(err error) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	return err
}

func (c *StreamConn) logFrame(data []byte, direction log.Direction) {
	frameData := data
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		frameData = data[:MaxLogFrameDataSize]
		truncated = true
	}
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		RemoteAddr:   c.conn.RemoteAddr().String(),
		Frame: &log.FrameEvent{
			Size:      len(data),
			Data:      frameData,
			Truncated: truncated,
		},
	})
}

// isTimeout reports whether err is a network timeout.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isEOF reports whether err indicates the peer closed the stream.
func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
