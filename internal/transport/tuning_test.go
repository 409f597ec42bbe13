package transport

import (
	"bytes"
	"log/slog"
	"net"
	"strings"
	"testing"
)

func TestQuicConfigClamps(t *testing.T) {
	cfg := quicConfig(maxQuicConnWindow+1, maxQuicStreamWindow+1)
	if cfg.MaxConnectionReceiveWindow != uint64(maxQuicConnWindow) {
		t.Fatalf("expected conn window clamp, got %d", cfg.MaxConnectionReceiveWindow)
	}
	if cfg.MaxStreamReceiveWindow != uint64(maxQuicStreamWindow) {
		t.Fatalf("expected stream window clamp, got %d", cfg.MaxStreamReceiveWindow)
	}
	if cfg.InitialConnectionReceiveWindow != uint64(defaultInitialConnWindow) {
		t.Fatalf("unexpected initial conn window %d", cfg.InitialConnectionReceiveWindow)
	}
	if cfg.MaxIdleTimeout == 0 || cfg.KeepAlivePeriod == 0 {
		t.Fatalf("expected keepalive and idle timeout to be set")
	}
}

func TestQuicConfigSmallWindows(t *testing.T) {
	cfg := quicConfig(0, 0)
	if cfg.MaxConnectionReceiveWindow != uint64(minQuicConnWindow) || cfg.MaxStreamReceiveWindow != uint64(minQuicStreamWindow) {
		t.Fatalf("expected minimum clamps, got %d/%d", cfg.MaxConnectionReceiveWindow, cfg.MaxStreamReceiveWindow)
	}
	if cfg.InitialConnectionReceiveWindow != uint64(minQuicConnWindow) {
		t.Fatalf("initial conn window should not exceed max, got %d", cfg.InitialConnectionReceiveWindow)
	}
}

func TestClampInt(t *testing.T) {
	if got := clampInt(-1, minUDPBuffer, maxUDPBuffer); got != minUDPBuffer {
		t.Fatalf("expected clamp to min, got %d", got)
	}
	if got := clampInt(maxUDPBuffer+1, minUDPBuffer, maxUDPBuffer); got != maxUDPBuffer {
		t.Fatalf("expected clamp to max, got %d", got)
	}
}

func TestTuneUDPLoopback(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("udp unavailable: %v", err)
	}
	defer conn.Close()

	var buf bytes.Buffer
	applyUDPBuffers(slog.New(slog.NewTextHandler(&buf, nil)), conn, minUDPBuffer, minUDPBuffer)
	if buf.Len() > 0 && !strings.Contains(buf.String(), "udp buffer tuning refused") {
		t.Fatalf("unexpected log output %q", buf.String())
	}
}

func TestTuneUDPRefusalIsLogged(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("udp unavailable: %v", err)
	}
	conn.Close()

	if err := tuneUDP(conn, minUDPBuffer, minUDPBuffer); err == nil {
		t.Fatalf("expected error tuning a closed socket")
	}

	var buf bytes.Buffer
	applyUDPBuffers(slog.New(slog.NewTextHandler(&buf, nil)), conn, minUDPBuffer, minUDPBuffer)
	out := buf.String()
	for _, want := range []string{"level=WARN", "udp buffer tuning refused", "read buffer"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}
