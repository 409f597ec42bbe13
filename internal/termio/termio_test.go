package termio

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"testing"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWriterPreservesOrder(t *testing.T) {
	dst := &lockedBuffer{}
	w := newWriter(dst, nil)

	var want strings.Builder
	for i := 0; i < 2000; i++ {
		line := strings.Repeat("x", i%7) + "\n"
		want.WriteString(line)
		if n, err := w.Write([]byte(line)); err != nil || n != len(line) {
			t.Fatalf("Write = %d, %v", n, err)
		}
	}
	w.flush()
	if dst.String() != want.String() {
		t.Fatalf("output reordered or lost: got %d bytes want %d", len(dst.String()), want.Len())
	}
}

func TestWriterCopiesInput(t *testing.T) {
	dst := &lockedBuffer{}
	w := newWriter(dst, nil)
	p := []byte("first")
	w.Write(p)
	copy(p, "XXXXX")
	w.flush()
	if dst.String() != "first" {
		t.Fatalf("writer kept caller buffer: %q", dst.String())
	}
	if n, _ := w.Write(nil); n != 0 {
		t.Fatalf("empty write returned %d", n)
	}
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	c.Printf("Secret: %s\n", "a1b2c3d4")
	c.Println("Chat port:", 5000)
	want := "Secret: a1b2c3d4\nChat port: 5000\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}

func TestIsTerminal(t *testing.T) {
	if IsTerminal(nil) {
		t.Fatalf("nil file reported as terminal")
	}
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if IsTerminal(f) {
		t.Fatalf("regular file reported as terminal")
	}
}
