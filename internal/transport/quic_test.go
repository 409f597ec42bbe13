package transport

import (
	"context"
	"io"
	"testing"
	"time"
)

func TestServerTLSConfig(t *testing.T) {
	config, err := ServerTLSConfig()
	if err != nil {
		t.Fatalf("ServerTLSConfig error: %v", err)
	}
	if len(config.Certificates) == 0 {
		t.Fatal("ServerTLSConfig has no certificates")
	}
	cert := config.Certificates[0]
	if cert.PrivateKey == nil {
		t.Error("Certificate has no private key")
	}
	if len(cert.Certificate) == 0 {
		t.Error("Certificate has no certificate bytes")
	}
	if len(config.NextProtos) != 1 || config.NextProtos[0] != ALPNProtocol {
		t.Errorf("NextProtos = %v, want [%s]", config.NextProtos, ALPNProtocol)
	}
}

func TestClientTLSConfig(t *testing.T) {
	config := ClientTLSConfig()
	if !config.InsecureSkipVerify {
		t.Error("ClientTLSConfig InsecureSkipVerify should be true")
	}
	if len(config.NextProtos) != 1 || config.NextProtos[0] != ALPNProtocol {
		t.Errorf("NextProtos = %v, want [%s]", config.NextProtos, ALPNProtocol)
	}
}

func TestQUICLoopbackStream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ln, err := Listen(ctx, KindQUIC, "127.0.0.1:0", nil)
	if err != nil {
		t.Skipf("quic listen unavailable: %v", err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			received <- nil
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	dialer, err := NewDialer(KindQUIC, nil)
	if err != nil {
		t.Fatalf("NewDialer error: %v", err)
	}
	conn, err := dialer.Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	if _, err := conn.Write([]byte("notes.txt|5\nhello")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	closed := make(chan error, 1)
	go func() { closed <- conn.Close() }()

	select {
	case data := <-received:
		if string(data) != "notes.txt|5\nhello" {
			t.Fatalf("received %q", data)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for QUIC payload")
	}

	select {
	case <-closed:
	case <-ctx.Done():
		t.Fatal("sender Close did not return after receiver hung up")
	}
}
