package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/fieldgate-protocol/fieldgate-go/pkg/log"
)

// Kind identifies a transport kind.
type Kind uint8

const (
	// KindStream is request/response over a raw TCP stream.
	KindStream Kind = iota

	// KindDatagram is UDP unicast or broadcast, one datagram per message.
	KindDatagram

	// KindFramed is a TCP stream carrying length-prefixed frames.
	KindFramed
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindStream:
		return "stream"
	case KindDatagram:
		return "datagram"
	case KindFramed:
		return "framed"
	default:
		return "unknown"
	}
}

// ParseKind parses a transport kind name as used in protocol spec files.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "stream":
		return KindStream, nil
	case "datagram":
		return KindDatagram, nil
	case "framed":
		return KindFramed, nil
	default:
		return 0, fmt.Errorf("unknown transport kind %q", s)
	}
}

// CompleteFunc reports whether buf holds a complete response message.
// When ok is true, n is the length of the complete message in buf.
// Protocol capabilities supply this so stream transports can find message
// boundaries without protocol knowledge leaking into the transport.
type CompleteFunc func(buf []byte) (n int, ok bool)

// Options configures a transport open.
type Options struct {
	// ConnectTimeout bounds connection establishment (default: 10s).
	ConnectTimeout time.Duration

	// MaxMessageSize is the maximum response size (default: 64KB).
	MaxMessageSize uint32

	// ResponseComplete delimits responses on raw streams. Nil means read
	// until the peer closes the connection or the timeout expires.
	// Ignored by datagram and framed transports.
	ResponseComplete CompleteFunc

	// Broadcast enables the SO_BROADCAST style send path on datagram
	// transports. Ignored by stream and framed transports.
	Broadcast bool
}

// Conn is one open connection to a device endpoint.
// Implementations must make Close safe to call concurrently with an
// in-flight Exchange; a supervising timer uses this for cancellation.
type Conn interface {
	// Exchange sends a request and returns the response, bounded by the
	// request timeout.
	Exchange(request []byte, timeout time.Duration) ([]byte, error)

	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr

	// Close closes the connection. Safe to call more than once.
	Close() error
}

// Transport opens connections for one transport kind.
// Implemented by StreamTransport, DatagramTransport and FramedTransport.
type Transport interface {
	// Kind returns the transport kind this implementation serves.
	Kind() Kind

	// Open establishes a connection to address ("host:port").
	Open(ctx context.Context, address string, opts Options) (Conn, error)
}

// Transport errors.
var (
	// ErrConnectionClosed indicates an operation on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNoResponse indicates the peer sent nothing before the timeout.
	ErrNoResponse = errors.New("no response before timeout")
)

// Defaults applied by all transports.
const (
	// DefaultConnectTimeout is used when Options.ConnectTimeout is zero.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultMaxMessageSize is used when Options.MaxMessageSize is zero.
	DefaultMaxMessageSize = 65536
)

// withDefaults fills zero-valued options.
func (o Options) withDefaults() Options {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.MaxMessageSize == 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	return o
}

// Registry maps transport kinds to implementations.
// The set is fixed at construction; lookups are unsynchronized reads.
type Registry struct {
	byKind map[Kind]Transport
}

// NewRegistry creates a registry holding the given transports.
// Later entries replace earlier ones of the same kind.
func NewRegistry(transports ...Transport) *Registry {
	byKind := make(map[Kind]Transport, len(transports))
	for _, tr := range transports {
		byKind[tr.Kind()] = tr
	}
	return &Registry{byKind: byKind}
}

// DefaultRegistry returns a registry with all built-in transports.
func DefaultRegistry(logger log.Logger) *Registry {
	return NewRegistry(
		NewStreamTransport(logger),
		NewDatagramTransport(logger),
		NewFramedTransport(logger),
	)
}

// Lookup returns the transport for kind.
func (r *Registry) Lookup(kind Kind) (Transport, error) {
	tr, ok := r.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("no transport registered for kind %s", kind)
	}
	return tr, nil
}

// Compile-time interface satisfaction checks.
var (
	_ Transport = (*StreamTransport)(nil)
	_ Transport = (*DatagramTransport)(nil)
	_ Transport = (*FramedTransport)(nil)
	_ Conn      = (*StreamConn)(nil)
	_ Conn      = (*DatagramConn)(nil)
	_ Conn      = (*FramedConn)(nil)
)
