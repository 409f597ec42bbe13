package session

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/sheerbytes/peerlink/internal/progress"
	"github.com/sheerbytes/peerlink/internal/transfer"
)

// SendFile transfers path to the peer's file port over a fresh connection.
// The source and its header are checked before anything touches the
// network, so a missing file or an unsendable name never opens a connection. The result is printed and returned.
func (s *Session) SendFile(ctx context.Context, path string) transfer.Outcome {
	remote := s.RemoteAddr()
	if !s.connected.Load() || remote == "" {
		s.printf("Not connected.\n")
		return transfer.Outcome{Kind: transfer.KindIOError, Message: "Not connected.", Path: path, Err: ErrNotConnected}
	}

	h, err := transfer.Prepare(path)
	if err != nil {
		o := transfer.Rejected(path, err)
		s.sendFailed.Add(1)
		s.printf("%s\n", o.Message)
		return o
	}
	size := h.Size

	addr := net.JoinHostPort(remote, strconv.Itoa(s.filePort))
	conn, err := s.dialer.Dial(ctx, addr)
	if err != nil {
		s.sendFailed.Add(1)
		s.logger.Error("file connection failed", "addr", addr, "error", err)
		s.printf("File transfer error: %v\n", err)
		return transfer.Outcome{Kind: transfer.KindIOError, Message: err.Error(), Path: path, Declared: size, Err: err}
	}

	opts := transfer.Options{ChunkSize: s.chunkSize}
	var finish func()
	if s.progress != nil {
		opts.OnProgress, finish = s.progress(path, size)
	}
	o := transfer.Send(ctx, conn, path, opts)
	closeErr := conn.Close()
	if finish != nil {
		finish()
	}
	if o.Success && closeErr != nil {
		o.Success = false
		o.Kind = transfer.KindIOError
		o.Err = closeErr
		o.Message = fmt.Sprintf("close file connection: %v", closeErr)
	}

	if o.Success {
		s.sent.Add(1)
	} else {
		s.sendFailed.Add(1)
	}
	s.logger.Info("file send finished",
		"transfer_id", o.ID,
		"name", o.Name,
		"bytes", o.Bytes,
		"kind", o.Kind.String(),
		"elapsed", o.Elapsed,
	)
	s.printf("%s\n", summary(o))
	return o
}

// summary is the console line for a finished transfer.
func summary(o transfer.Outcome) string {
	if !o.Success {
		return o.String()
	}
	return fmt.Sprintf("%s (%s, %s)", o.String(), progress.FormatBytes(o.Bytes), progress.FormatRate(o.RateBps))
}
