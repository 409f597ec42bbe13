package filesrv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sheerbytes/peerlink/internal/transfer"
	"github.com/sheerbytes/peerlink/internal/transport"
)

func startServer(t *testing.T, dir string, opts Options) (*Server, chan transfer.Outcome, chan error) {
	t.Helper()
	ln, err := transport.ListenTCP(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP error: %v", err)
	}
	outcomes := make(chan transfer.Outcome, 16)
	opts.OnOutcome = func(o transfer.Outcome) { outcomes <- o }
	srv := New(ln, dir, opts)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(context.Background()) }()
	t.Cleanup(func() { _ = srv.Close() })
	return srv, outcomes, serveErr
}

func dialAndWrite(t *testing.T, addr string, payload string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	if _, err := conn.Write([]byte(payload)); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	return conn
}

func waitOutcome(t *testing.T, ch chan transfer.Outcome) transfer.Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transfer outcome")
	}
	return transfer.Outcome{}
}

func TestServer_ReceivesFile(t *testing.T) {
	dir := t.TempDir()
	srv, outcomes, _ := startServer(t, dir, Options{})

	content := strings.Repeat("n", 37)
	conn := dialAndWrite(t, srv.Addr(), "notes.txt|37\n"+content)
	conn.Close()

	out := waitOutcome(t, outcomes)
	if !out.Success {
		t.Fatalf("transfer failed: %v", out)
	}
	got, err := os.ReadFile(filepath.Join(dir, "notes.txt"))
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(got) != content {
		t.Errorf("content = %q, want %q", got, content)
	}
}

func TestServer_ConcurrentTransfersWithStall(t *testing.T) {
	dir := t.TempDir()
	srv, outcomes, _ := startServer(t, dir, Options{})

	// The stalled connection announces 100 bytes and sends only 10, then waits.
	stalled := dialAndWrite(t, srv.Addr(), "stalled.bin|100\n0123456789")
	defer stalled.Close()

	const n = 4
	want := make(map[string][]byte)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("file%d.bin", i)
		payload := bytes.Repeat([]byte{byte('a' + i)}, 5000*(i+1))
		want[name] = payload
		go func() {
			conn, err := net.Dial("tcp", srv.Addr())
			if err != nil {
				return
			}
			defer conn.Close()
			_, _ = fmt.Fprintf(conn, "%s|%d\n", name, len(payload))
			_, _ = conn.Write(payload)
		}()
	}

	for i := 0; i < n; i++ {
		out := waitOutcome(t, outcomes)
		if !out.Success {
			t.Fatalf("transfer %q failed: %v", out.Name, out)
		}
		if out.Name == "stalled.bin" {
			t.Fatal("stalled transfer should not have completed")
		}
		got, err := os.ReadFile(filepath.Join(dir, out.Name))
		if err != nil {
			t.Fatalf("ReadFile(%s) error: %v", out.Name, err)
		}
		if !bytes.Equal(got, want[out.Name]) {
			t.Errorf("%s content mismatch", out.Name)
		}
	}

	// Finished workers decrement Active just after reporting.
	deadline := time.Now().Add(5 * time.Second)
	for srv.Stats().Active != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if stats := srv.Stats(); stats.Active != 1 {
		t.Errorf("Active = %d, want 1 (the stalled transfer)", stats.Active)
	}

	// Closing the stalled sender ends its transfer as incomplete.
	stalled.Close()
	out := waitOutcome(t, outcomes)
	if out.Name != "stalled.bin" || out.Kind != transfer.KindIncomplete {
		t.Errorf("stalled outcome = %+v, want incomplete stalled.bin", out)
	}
	info, err := os.Stat(filepath.Join(dir, "stalled.bin"))
	if err != nil || info.Size() != 10 {
		t.Errorf("stalled.bin should hold exactly 10 bytes, got %v %v", info, err)
	}
}

func TestServer_MalformedHeaderDoesNotStopListener(t *testing.T) {
	dir := t.TempDir()
	srv, outcomes, _ := startServer(t, dir, Options{})

	bad := dialAndWrite(t, srv.Addr(), "garbage-without-delimiter\n")
	out := waitOutcome(t, outcomes)
	bad.Close()
	if out.Success || out.Kind != transfer.KindMalformed {
		t.Fatalf("outcome = %+v, want malformed", out)
	}

	good := dialAndWrite(t, srv.Addr(), "ok.txt|2\nok")
	good.Close()
	out = waitOutcome(t, outcomes)
	if !out.Success {
		t.Fatalf("transfer after malformed header failed: %v", out)
	}

	stats := srv.Stats()
	if stats.Accepted != 2 || stats.Completed != 1 || stats.Failed != 1 {
		t.Errorf("Stats = %+v, want 2 accepted, 1 completed, 1 failed", stats)
	}
}

func TestServer_CloseUnblocksStalledWorkers(t *testing.T) {
	dir := t.TempDir()
	srv, outcomes, serveErr := startServer(t, dir, Options{})

	stalled := dialAndWrite(t, srv.Addr(), "big.bin|1000\n")
	defer stalled.Close()

	// Wait until the worker is live.
	deadline := time.Now().Add(5 * time.Second)
	for srv.Stats().Active == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	closed := make(chan struct{})
	go func() {
		_ = srv.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return while a transfer was stalled")
	}

	out := waitOutcome(t, outcomes)
	if out.Success {
		t.Errorf("stalled transfer should not succeed: %+v", out)
	}
	if err := <-serveErr; err != nil {
		t.Errorf("Serve returned %v after Close, want nil", err)
	}
	if srv.Running() {
		t.Error("Running should be false after Close")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
}

type failingListener struct {
	err error
}

func (l failingListener) Accept(ctx context.Context) (transport.Conn, error) { return nil, l.err }
func (l failingListener) Addr() net.Addr                                      { return &net.TCPAddr{} }
func (l failingListener) Close() error                                        { return nil }

func TestServer_AcceptErrorIsReported(t *testing.T) {
	boom := errors.New("accept exploded")
	srv := New(failingListener{err: boom}, t.TempDir(), Options{})
	if err := srv.Serve(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Serve error = %v, want %v", err, boom)
	}
	if err := srv.Serve(context.Background()); err == nil {
		t.Error("second Serve should fail")
	}
}

func TestServer_AcceptErrorAfterShutdownSuppressed(t *testing.T) {
	srv := New(failingListener{err: errors.New("use of closed network connection")}, t.TempDir(), Options{})
	_ = srv.Close()
	if err := srv.Serve(context.Background()); err != nil {
		t.Errorf("Serve after Close returned %v, want nil", err)
	}
}

func TestServer_MaxConcurrentDropsExcess(t *testing.T) {
	dir := t.TempDir()
	srv, outcomes, _ := startServer(t, dir, Options{MaxConcurrent: 1})

	hold := dialAndWrite(t, srv.Addr(), "hold.bin|10\n")
	defer hold.Close()
	deadline := time.Now().Add(5 * time.Second)
	for srv.Stats().Active == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	extra := dialAndWrite(t, srv.Addr(), "extra.txt|1\nx")
	defer extra.Close()
	extra.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 1)
	if _, err := extra.Read(buf); err == nil {
		t.Error("excess connection should be closed by the server")
	}

	hold.Write([]byte("0123456789"))
	out := waitOutcome(t, outcomes)
	if !out.Success || out.Name != "hold.bin" {
		t.Errorf("outcome = %+v, want hold.bin success", out)
	}
}
