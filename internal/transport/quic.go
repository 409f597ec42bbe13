package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPNProtocol identifies the peerlink file channel during the TLS handshake.
const ALPNProtocol = "peerlink-file-v1"

// QUICOptions configure the QUIC file transport.
type QUICOptions struct {
	Config         *quic.Config
	UDPReadBuffer  int
	UDPWriteBuffer int
	Logger         *slog.Logger
}

// DefaultQUICOptions returns the file channel defaults. A nil logger
// discards.
func DefaultQUICOptions(logger *slog.Logger) QUICOptions {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return QUICOptions{
		Config:         quicConfig(64*1024*1024, 16*1024*1024),
		UDPReadBuffer:  8 * 1024 * 1024,
		UDPWriteBuffer: 8 * 1024 * 1024,
		Logger:         logger.With("component", "transport", "kind", "quic"),
	}
}

func (o QUICOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// ServerTLSConfig returns a TLS configuration with a fresh self-signed
// certificate. Peers do not verify it; QUIC only needs TLS to run.
func ServerTLSConfig() (*tls.Config, error) {
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("generate self-signed certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPNProtocol},
	}, nil
}

// ClientTLSConfig returns the dialing side's TLS configuration.
func ClientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPNProtocol},
	}
}

func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"peerlink"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
	}, nil
}

type quicListener struct {
	udp *net.UDPConn
	ln  *quic.Listener
}

// ListenQUIC binds a UDP socket on addr and serves QUIC file connections on it.
func ListenQUIC(addr string, opts QUICOptions) (Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	applyUDPBuffers(opts.logger(), udp, opts.UDPReadBuffer, opts.UDPWriteBuffer)

	tlsConf, err := ServerTLSConfig()
	if err != nil {
		_ = udp.Close()
		return nil, err
	}
	ln, err := quic.Listen(udp, tlsConf, opts.Config)
	if err != nil {
		_ = udp.Close()
		return nil, fmt.Errorf("quic listen: %w", err)
	}
	return &quicListener{udp: udp, ln: ln}, nil
}

// Accept returns as soon as a QUIC connection is established. The transfer
// stream is accepted lazily on first Read so a peer that connects and then
// stalls never holds up the accept loop.
func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &quicConn{conn: conn}, nil
}

func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }

func (l *quicListener) Close() error {
	err := l.ln.Close()
	if uerr := l.udp.Close(); err == nil {
		err = uerr
	}
	return err
}

// QUICDialer opens one QUIC connection, with a single stream, per transfer.
type QUICDialer struct {
	Options QUICOptions
}

func (d QUICDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	udp, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}
	applyUDPBuffers(d.Options.logger(), udp, d.Options.UDPReadBuffer, d.Options.UDPWriteBuffer)

	conn, err := quic.Dial(ctx, udp, remote, ClientTLSConfig(), d.Options.Config)
	if err != nil {
		_ = udp.Close()
		return nil, fmt.Errorf("quic dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		_ = udp.Close()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	c := &quicConn{conn: conn, udp: udp, dialed: true, stream: stream}
	c.streamOnce.Do(func() {})
	return c, nil
}

// quicConn adapts a QUIC connection carrying one bidirectional stream.
type quicConn struct {
	conn   *quic.Conn
	udp    *net.UDPConn // owned by dialed conns only
	dialed bool

	streamOnce sync.Once
	stream     *quic.Stream
	streamErr  error

	closeOnce sync.Once
	closeErr  error
}

func (c *quicConn) getStream() (*quic.Stream, error) {
	c.streamOnce.Do(func() {
		c.stream, c.streamErr = c.conn.AcceptStream(context.Background())
	})
	return c.stream, c.streamErr
}

func (c *quicConn) Read(p []byte) (int, error) {
	s, err := c.getStream()
	if err != nil {
		return 0, err
	}
	return s.Read(p)
}

func (c *quicConn) Write(p []byte) (int, error) {
	s, err := c.getStream()
	if err != nil {
		return 0, err
	}
	return s.Write(p)
}

func (c *quicConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close on the sending side finishes the stream and waits for the receiver
// to hang up, so buffered payload is not discarded by an early connection
// close. On the receiving side it tears the connection down immediately.
func (c *quicConn) Close() error {
	c.closeOnce.Do(func() {
		if c.dialed {
			_ = c.stream.Close()
			_, _ = io.Copy(io.Discard, c.stream)
		}
		c.closeErr = c.conn.CloseWithError(0, "")
		if c.udp != nil {
			if err := c.udp.Close(); c.closeErr == nil {
				c.closeErr = err
			}
		}
	})
	return c.closeErr
}
