// Package termio serializes operator-facing output. Writes are queued and
// drained by one goroutine per stream so protocol goroutines never block on
// a slow terminal.
package termio

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

type item struct {
	buf  []byte
	done chan struct{}
}

type writer struct {
	dst  io.Writer
	file *os.File
	ch   chan item
}

func (w *writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	w.ch <- item{buf: buf}
	return len(p), nil
}

func (w *writer) File() *os.File {
	return w.file
}

// flush returns once everything queued before the call has been written.
func (w *writer) flush() {
	done := make(chan struct{})
	w.ch <- item{done: done}
	<-done
}

type manager struct {
	once   sync.Once
	stdout *writer
	stderr *writer
}

var global manager

func Init() {
	global.once.Do(func() {
		global.stdout = newWriter(os.Stdout, os.Stdout)
		global.stderr = newWriter(os.Stderr, os.Stderr)
	})
}

func newWriter(dst io.Writer, f *os.File) *writer {
	w := &writer{
		dst:  dst,
		file: f,
		ch:   make(chan item, 1024),
	}
	go func() {
		for it := range w.ch {
			if it.done != nil {
				close(it.done)
				continue
			}
			_, _ = w.dst.Write(it.buf)
		}
	}()
	return w
}

func Stdout() io.Writer {
	Init()
	return global.stdout
}

func Stderr() io.Writer {
	Init()
	return global.stderr
}

func StdoutFile() *os.File {
	Init()
	return global.stdout.file
}

func StderrFile() *os.File {
	Init()
	return global.stderr.file
}

// Flush blocks until queued stdout and stderr output has been written.
func Flush() {
	Init()
	global.stdout.flush()
	global.stderr.flush()
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// Console prints operator messages to a writer.
type Console struct {
	w io.Writer
}

// NewConsole wraps w; Stdout() when nil.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = Stdout()
	}
	return &Console{w: w}
}

func (c *Console) Write(p []byte) (int, error) {
	return c.w.Write(p)
}

func (c *Console) Printf(format string, args ...any) {
	fmt.Fprintf(c.w, format, args...)
}

func (c *Console) Println(args ...any) {
	fmt.Fprintln(c.w, args...)
}
