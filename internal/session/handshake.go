package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/sheerbytes/peerlink/pkg/protocol"
)

// ListenChat binds the chat port on all interfaces.
func (s *Session) ListenChat(ctx context.Context) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort("", strconv.Itoa(s.chatPort)))
	if err != nil {
		return nil, fmt.Errorf("listen chat port %d: %w", s.chatPort, err)
	}
	return ln, nil
}

// Host accepts exactly one chat connection on ln and verifies the secret it
// sends. ln is closed before Host returns whatever the result.
func (s *Session) Host(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	conn, err := ln.Accept()
	stop()
	_ = ln.Close()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("accept chat connection: %w", err)
	}

	remoteHost := hostOf(conn.RemoteAddr().String())
	s.printf("Connected by %s\n", remoteHost)
	s.logger.Info("chat connection accepted", "remote", conn.RemoteAddr().String())

	stop = context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	buf := make([]byte, protocol.HandshakeBufferSize)
	n, err := conn.Read(buf)
	if n == 0 {
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read secret: %w", err)
		}
		s.printf("Handshake failed: no data from peer\n")
		return ErrNoReply
	}

	if !protocol.SecretMatches(buf[:n], s.secret) {
		_, _ = conn.Write([]byte(protocol.RejectWrongSecret))
		_ = conn.Close()
		s.logger.Warn("handshake rejected", "remote", remoteHost)
		s.printf("Handshake failed: wrong password\n")
		return ErrRejected
	}

	if _, err := conn.Write([]byte(protocol.AckToken)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("write ack: %w", err)
	}
	if err := s.establish(conn, remoteHost); err != nil {
		_ = conn.Close()
		return err
	}
	s.logger.Info("handshake accepted", "remote", remoteHost)
	s.printf("Handshake successful\n")
	return nil
}

// Connect dials a host's chat port, offers secret and waits for the verdict.
func (s *Session) Connect(ctx context.Context, addr, secret string) error {
	if s.connected.Load() {
		return ErrAlreadyConnected
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		s.printf("Connection error: %v\n", err)
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if _, err := conn.Write([]byte(secret)); err != nil {
		_ = conn.Close()
		s.printf("Connection error: %v\n", err)
		return fmt.Errorf("send secret: %w", err)
	}

	buf := make([]byte, protocol.HandshakeBufferSize)
	n, err := conn.Read(buf)
	if n == 0 {
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !errors.Is(err, io.EOF) {
			s.printf("Connection error: %v\n", err)
			return fmt.Errorf("read handshake reply: %w", err)
		}
		s.printf("Handshake failed: no reply\n")
		return ErrNoReply
	}
	reply := buf[:n]
	text := strings.TrimSpace(string(reply))
	switch {
	case protocol.IsAck(reply):
	case protocol.IsReject(reply):
		_ = conn.Close()
		s.logger.Warn("handshake rejected by host", "addr", addr, "reply", text)
		s.printf("Handshake failed: %s\n", text)
		return fmt.Errorf("%w: %s", ErrRejected, text)
	default:
		_ = conn.Close()
		s.logger.Warn("unexpected handshake reply", "addr", addr, "reply", text)
		s.printf("Handshake failed: unexpected reply %q\n", text)
		return fmt.Errorf("%w: %q", ErrUnexpectedReply, text)
	}

	remoteHost := hostOf(addr)
	if err := s.establish(conn, remoteHost); err != nil {
		_ = conn.Close()
		return err
	}
	s.logger.Info("handshake accepted by host", "remote", remoteHost)
	s.printf("Handshake successful\n")
	return nil
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
