// Package filesrv serves inbound file connections. Every accepted connection
// is handled by its own worker so a slow or stalled transfer never delays the
// next accept.
package filesrv

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/sheerbytes/peerlink/internal/transfer"
	"github.com/sheerbytes/peerlink/internal/transport"
)

// Options configure a Server.
type Options struct {
	ChunkSize int
	// MaxConcurrent caps live receive workers. Zero means unbounded;
	// connections beyond the cap are closed unserved.
	MaxConcurrent int
	// OnOutcome receives the outcome of every finished transfer. It is
	// called from worker goroutines and must be safe for concurrent use.
	OnOutcome func(transfer.Outcome)
	Logger    *slog.Logger
}

// Stats counts transfers seen by a Server.
type Stats struct {
	Accepted  int64
	Completed int64
	Failed    int64
	Active    int64
}

// Server is the transfer listener.
type Server struct {
	ln     transport.Listener
	dir    string
	opts   Options
	logger *slog.Logger

	running atomic.Bool
	serving atomic.Bool
	done    chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	conns  map[transport.Conn]struct{}

	accepted  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	active    atomic.Int64
}

// New returns a server that will write received files into dir.
func New(ln transport.Listener, dir string, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		ln:     ln,
		dir:    dir,
		opts:   opts,
		logger: logger.With("component", "filesrv"),
		done:   make(chan struct{}),
		conns:  make(map[transport.Conn]struct{}),
	}
	s.running.Store(true)
	return s
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve accepts connections until Close is called, ctx is cancelled, or
// Accept fails. Errors observed after shutdown began are expected and
// suppressed; any other accept error is logged and returned after live
// workers finish.
func (s *Server) Serve(ctx context.Context) error {
	if !s.serving.CompareAndSwap(false, true) {
		return errors.New("filesrv: Serve called twice")
	}
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	var g errgroup.Group
	if s.opts.MaxConcurrent > 0 {
		g.SetLimit(s.opts.MaxConcurrent)
	}

	s.logger.Info("file listener started", "addr", s.Addr(), "dir", s.dir)

	var serveErr error
	for s.running.Load() {
		conn, err := s.ln.Accept(ctx)
		if err != nil {
			if s.running.Load() && ctx.Err() == nil {
				s.logger.Error("file listener accept failed", "error", err)
				serveErr = err
			}
			break
		}
		s.accepted.Add(1)
		s.track(conn)

		started := g.TryGo(func() error {
			s.handle(ctx, conn)
			return nil
		})
		if !started {
			s.logger.Warn("file listener busy, dropping connection", "remote", conn.RemoteAddr(), "max_concurrent", s.opts.MaxConcurrent)
			s.untrack(conn)
			_ = conn.Close()
		}
	}

	if !s.running.Load() || ctx.Err() != nil {
		s.closeConns()
	}
	_ = g.Wait()
	s.logger.Info("file listener stopped", "accepted", s.accepted.Load())
	return serveErr
}

func (s *Server) handle(ctx context.Context, conn transport.Conn) {
	s.active.Add(1)
	defer s.active.Add(-1)
	defer func() {
		s.untrack(conn)
		_ = conn.Close()
	}()

	out := transfer.Receive(ctx, conn, s.dir, transfer.Options{ChunkSize: s.opts.ChunkSize})

	attrs := []any{
		"transfer_id", out.ID,
		"remote", conn.RemoteAddr(),
		"name", out.Name,
		"bytes", out.Bytes,
		"declared", out.Declared,
		"kind", out.Kind.String(),
	}
	if out.Success {
		s.completed.Add(1)
		s.logger.Info("file received", attrs...)
	} else {
		s.failed.Add(1)
		s.logger.Warn("file receive failed", append(attrs, "error", out.Err)...)
	}

	if s.opts.OnOutcome != nil {
		s.opts.OnOutcome(out)
	}
}

func (s *Server) track(conn transport.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn transport.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	conns := make([]transport.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Running reports whether the server still accepts connections.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Stats returns current transfer counters.
func (s *Server) Stats() Stats {
	return Stats{
		Accepted:  s.accepted.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Active:    s.active.Load(),
	}
}

// Close stops accepting, closes in-flight connections and waits for all
// workers to exit. It is safe to call more than once.
func (s *Server) Close() error {
	if !s.running.CompareAndSwap(true, false) {
		if s.serving.Load() {
			<-s.done
		}
		return nil
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	err := s.ln.Close()
	if s.serving.Load() {
		<-s.done
	}
	return err
}
