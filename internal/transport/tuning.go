package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	defaultInitialConnWindow = 2 * 1024 * 1024
	minQuicConnWindow        = 1 * 1024 * 1024
	maxQuicConnWindow        = 1024 * 1024 * 1024
	minQuicStreamWindow      = 1 * 1024 * 1024
	maxQuicStreamWindow      = 256 * 1024 * 1024

	minUDPBuffer = 256 * 1024
	maxUDPBuffer = 64 * 1024 * 1024
)

// quicConfig builds the file channel config. A live but silent peer keeps
// its connection; a vanished one is dropped after the idle timeout. Each
// connection carries a single stream.
func quicConfig(connWin, streamWin int) *quic.Config {
	conn := clampInt(connWin, minQuicConnWindow, maxQuicConnWindow)
	stream := clampInt(streamWin, minQuicStreamWindow, maxQuicStreamWindow)
	return &quic.Config{
		KeepAlivePeriod:                10 * time.Second,
		MaxIdleTimeout:                 30 * time.Second,
		DisablePathMTUDiscovery:        true,
		InitialConnectionReceiveWindow: uint64(min(defaultInitialConnWindow, conn)),
		MaxConnectionReceiveWindow:     uint64(conn),
		InitialStreamReceiveWindow:     uint64(stream),
		MaxStreamReceiveWindow:         uint64(stream),
		MaxIncomingStreams:             1,
	}
}

// tuneUDP asks the kernel for larger socket buffers. Sizes are clamped.
func tuneUDP(conn *net.UDPConn, r, w int) error {
	var errs []error
	if err := conn.SetReadBuffer(clampInt(r, minUDPBuffer, maxUDPBuffer)); err != nil {
		errs = append(errs, fmt.Errorf("read buffer: %w", err))
	}
	if err := conn.SetWriteBuffer(clampInt(w, minUDPBuffer, maxUDPBuffer)); err != nil {
		errs = append(errs, fmt.Errorf("write buffer: %w", err))
	}
	return errors.Join(errs...)
}

// applyUDPBuffers tunes conn and reports a refusal; QUIC still works with
// the kernel defaults, only throughput suffers.
func applyUDPBuffers(logger *slog.Logger, conn *net.UDPConn, r, w int) {
	if err := tuneUDP(conn, r, w); err != nil {
		logger.Warn("udp buffer tuning refused",
			"local", conn.LocalAddr(),
			"read_bytes", r,
			"write_bytes", w,
			"error", err,
		)
	}
}

func clampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
