// Package session holds one side's view of a two-party peer session: the
// shared secret, the handshake that gates chat, the chat duplex and the
// outbound half of file transfer.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sheerbytes/peerlink/internal/filesrv"
	"github.com/sheerbytes/peerlink/internal/transfer"
	"github.com/sheerbytes/peerlink/internal/transport"
)

var (
	// ErrRejected is returned when the host refuses the offered secret.
	ErrRejected = errors.New("handshake rejected")
	// ErrNoReply is returned when the peer closed before sending anything.
	ErrNoReply = errors.New("handshake failed: no data from peer")
	// ErrUnexpectedReply is returned when the host answers with neither an ack nor a rejection.
	ErrUnexpectedReply = errors.New("unexpected handshake reply")
	// ErrNotConnected is returned by operations that need a live chat connection.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyConnected is returned by a second handshake on one session.
	ErrAlreadyConnected = errors.New("already connected")
)

// DefaultSecretBytes yields an 8 character hex secret.
const DefaultSecretBytes = 4

// ProgressFunc is called when an outbound transfer starts. It returns a
// per-chunk callback and a function called once the transfer ends.
type ProgressFunc func(name string, total int64) (onChunk func(n int), done func())

// Config describes a session.
type Config struct {
	LocalAddr   string
	ChatPort    int
	FilePort    int
	Secret      string // generated when empty
	SecretBytes int
	ChunkSize   int
	Dialer      transport.Dialer // file connections; TCP when nil
	Out         io.Writer        // operator-facing messages
	Logger      *slog.Logger
	Progress    ProgressFunc
}

// Session is one peer's state. Flags are read by several goroutines; each
// connection is owned by the goroutine that created it.
type Session struct {
	localAddr string
	chatPort  int
	filePort  int
	secret    string
	chunkSize int
	dialer    transport.Dialer
	out       io.Writer
	logger    *slog.Logger
	progress  ProgressFunc

	connected atomic.Bool
	running   atomic.Bool

	mu         sync.Mutex
	remoteAddr string
	conn       net.Conn
	files      *filesrv.Server
	filesDone  chan struct{}

	disconnectOnce sync.Once
	done           chan struct{}

	sent       atomic.Int64
	sendFailed atomic.Int64
}

// NewSecret returns a random hex token of 2*nBytes characters.
func NewSecret(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = DefaultSecretBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// New creates a running, not yet connected session. The secret is fixed here
// for the session's lifetime.
func New(cfg Config) (*Session, error) {
	secret := cfg.Secret
	if secret == "" {
		var err error
		secret, err = NewSecret(cfg.SecretBytes)
		if err != nil {
			return nil, err
		}
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = transport.TCPDialer{}
	}
	out := cfg.Out
	if out == nil {
		out = io.Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Session{
		localAddr: cfg.LocalAddr,
		chatPort:  cfg.ChatPort,
		filePort:  cfg.FilePort,
		secret:    secret,
		chunkSize: cfg.ChunkSize,
		dialer:    dialer,
		out:       out,
		logger:    logger.With("component", "session"),
		progress:  cfg.Progress,
		done:      make(chan struct{}),
	}
	s.running.Store(true)
	return s, nil
}

func (s *Session) Secret() string { return s.secret }
func (s *Session) Connected() bool { return s.connected.Load() }
func (s *Session) Running() bool   { return s.running.Load() }

// ChatAddr is the local chat listening address.
func (s *Session) ChatAddr() string {
	return net.JoinHostPort(s.localAddr, strconv.Itoa(s.chatPort))
}

// RemoteAddr returns the peer host, empty until a handshake succeeds.
func (s *Session) RemoteAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteAddr
}

// ServeFiles starts the transfer listener on ln in the background. It keeps
// accepting until the session stops running, independent of chat state. Each
// received file is reported to the operator as it completes.
func (s *Session) ServeFiles(ctx context.Context, ln transport.Listener, dir string, opts filesrv.Options) *filesrv.Server {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = s.chunkSize
	}
	if opts.Logger == nil {
		opts.Logger = s.logger
	}
	notify := opts.OnOutcome
	opts.OnOutcome = func(o transfer.Outcome) {
		if o.Success {
			s.printf("\n[File] %s\n", summary(o))
		} else {
			s.printf("\n[File error] %s\n", o.Message)
		}
		if notify != nil {
			notify(o)
		}
	}
	srv := filesrv.New(ln, dir, opts)
	done := make(chan struct{})

	s.mu.Lock()
	s.files = srv
	s.filesDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := srv.Serve(ctx); err != nil && s.running.Load() {
			s.printf("File server error: %v\n", err)
		}
	}()
	return srv
}

// establish records the authenticated chat connection. The remote address is
// set exactly once per successful handshake.
func (s *Session) establish(conn net.Conn, remote string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return ErrAlreadyConnected
	}
	s.conn = conn
	s.remoteAddr = remote
	s.connected.Store(true)
	return nil
}

func (s *Session) chatConn() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Disconnect ends the session: it clears both flags, closes the chat
// connection and stops the transfer listener. Only the first call has any
// effect.
func (s *Session) Disconnect() {
	s.disconnectOnce.Do(func() {
		s.running.Store(false)
		wasConnected := s.connected.Swap(false)

		s.mu.Lock()
		conn := s.conn
		files := s.files
		s.mu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}
		if files != nil {
			go func() { _ = files.Close() }()
		}
		close(s.done)
		s.logger.Info("session disconnected", "was_connected", wasConnected)
		s.printf("Disconnected.\n")
	})
}

// Close disconnects and waits for the transfer listener and its workers.
func (s *Session) Close() error {
	s.Disconnect()
	s.mu.Lock()
	files, filesDone := s.files, s.filesDone
	s.mu.Unlock()
	if files == nil {
		return nil
	}
	err := files.Close()
	<-filesDone
	return err
}

func (s *Session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}
