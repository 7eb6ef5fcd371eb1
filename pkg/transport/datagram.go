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

// DatagramTransport exchanges UDP datagrams, one datagram per message.
// Unicast opens a connected socket; broadcast opens an unconnected socket
// and returns the first response datagram from any peer.
type DatagramTransport struct {
	logger log.Logger
}

// NewDatagramTransport creates a datagram transport.
// Pass nil to disable logging.
func NewDatagramTransport(logger log.Logger) *DatagramTransport {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &DatagramTransport{logger: logger}
}

// Kind returns KindDatagram.
func (t *DatagramTransport) Kind() Kind { return KindDatagram }

// Open prepares a UDP socket toward address.
// Opening a datagram socket does not touch the network; connect timeouts
// only bound local address resolution.
func (t *DatagramTransport) Open(ctx context.Context, address string, opts Options) (Conn, error) {
	opts = opts.withDefaults()

	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve failed: %w", err)
	}

	var conn net.PacketConn
	if opts.Broadcast {
		// Unconnected socket so broadcast responses from any peer are
		// accepted.
		conn, err = net.ListenPacket("udp4", ":0")
	} else {
		var c *net.UDPConn
		c, err = net.DialUDP("udp", nil, raddr)
		if err == nil {
			conn = &connectedPacketConn{c}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("udp open failed: %w", err)
	}

	return &DatagramConn{
		conn:    conn,
		raddr:   raddr,
		opts:    opts,
		id:      uuid.NewString(),
		logger:  t.logger,
		closeCh: make(chan struct{}),
	}, nil
}

// connectedPacketConn adapts a connected UDP socket to net.PacketConn so
// unicast and broadcast share one exchange path.
type connectedPacketConn struct {
	*net.UDPConn
}

func (c *connectedPacketConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	return c.UDPConn.Write(b)
}

// DatagramConn is one open UDP exchange socket.
type DatagramConn struct {
	conn    net.PacketConn
	raddr   *net.UDPAddr
	opts    Options
	id      string
	logger  log.Logger
	closeCh chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
}

// ID returns the connection identifier used in log events.
func (c *DatagramConn) ID() string { return c.id }

// RemoteAddr returns the remote network address.
func (c *DatagramConn) RemoteAddr() net.Addr { return c.raddr }

// Exchange sends one datagram and waits for one response datagram.
func (c *DatagramConn) Exchange(request []byte, timeout time.Duration) ([]byte, error) {
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

	if _, err := c.conn.WriteTo(request, c.raddr); err != nil {
		return nil, c.mapError(fmt.Errorf("send failed: %w", err))
	}
	c.logDatagram(request, log.DirectionOut)

	buf := make([]byte, c.opts.MaxMessageSize)
	n, _, err := c.conn.ReadFrom(buf)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
		}
		return nil, c.mapError(fmt.Errorf("receive failed: %w", err))
	}

	response := buf[:n]
	c.logDatagram(response, log.DirectionIn)
	return response, nil
}

// Close closes the socket. Safe to call concurrently with Exchange.
func (c *DatagramConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

func (c *DatagramConn) mapError(err error) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
		return err
	}
}

func (c *DatagramConn) logDatagram(data []byte, direction log.Direction) {
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
		RemoteAddr:   c.raddr.String(),
		Frame: &log.FrameEvent{
			Size:      len(data),
			Data:      frameData,
			Truncated: truncated,
		},
	})
}
