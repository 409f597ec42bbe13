package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
)

// Kind names a file-connection transport. Both peers must use the same one.
type Kind string

const (
	KindTCP  Kind = "tcp"
	KindQUIC Kind = "quic"
)

// ParseKind validates a transport name from configuration.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTCP, "":
		return KindTCP, nil
	case KindQUIC:
		return KindQUIC, nil
	default:
		return "", fmt.Errorf("unknown file transport %q (want tcp or quic)", s)
	}
}

// Conn is one file connection: a single byte stream carrying one transfer.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

// Listener accepts inbound file connections.
type Listener interface {
	// Accept blocks until a peer connects or ctx is done.
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// Dialer opens outbound file connections.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// Listen binds a file listener of the given kind on addr.
func Listen(ctx context.Context, kind Kind, addr string, logger *slog.Logger) (Listener, error) {
	switch kind {
	case KindTCP, "":
		return ListenTCP(ctx, addr)
	case KindQUIC:
		return ListenQUIC(addr, DefaultQUICOptions(logger))
	default:
		return nil, fmt.Errorf("unknown file transport %q", kind)
	}
}

// NewDialer returns a dialer for the given kind.
func NewDialer(kind Kind, logger *slog.Logger) (Dialer, error) {
	switch kind {
	case KindTCP, "":
		return TCPDialer{}, nil
	case KindQUIC:
		return QUICDialer{Options: DefaultQUICOptions(logger)}, nil
	default:
		return nil, fmt.Errorf("unknown file transport %q", kind)
	}
}
