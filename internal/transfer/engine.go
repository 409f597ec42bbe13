package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/sheerbytes/peerlink/internal/bufpool"
	"github.com/sheerbytes/peerlink/internal/progress"
	"github.com/sheerbytes/peerlink/pkg/protocol"
)

// Options tune a single transfer.
type Options struct {
	// ChunkSize is the streaming buffer size. Zero means protocol.DefaultChunkSize.
	ChunkSize int
	// OnProgress, when set, is called with the size of every chunk moved.
	OnProgress func(n int)
}

func (o Options) chunkSize() int {
	if o.ChunkSize <= 0 {
		return protocol.DefaultChunkSize
	}
	return o.ChunkSize
}

// Send streams the file at path to w as "<basename>|<size>\n" followed by its
// bytes. The file is checked before anything is written; a missing file
// yields KindNotFound with w untouched.
//
// Success means the header and payload were handed to w, not that the peer
// received them. If the file shrinks while being read, Send reports success
// for the bytes it did send and leaves the mismatch for the receiver.
func Send(ctx context.Context, w io.Writer, path string, opts Options) Outcome {
	out := Outcome{ID: uuid.NewString(), Path: path, Name: filepath.Base(path)}

	h, err := Prepare(path)
	if err != nil {
		return Rejected(path, err)
	}
	out.Declared = h.Size

	header, err := h.Encode()
	if err != nil {
		return Rejected(path, err)
	}

	file, err := os.Open(path)
	if err != nil {
		return failure(out, KindIOError, err, fmt.Sprintf("failed to open file: %v", err))
	}
	defer file.Close()

	if _, err := w.Write(header); err != nil {
		return failure(out, KindIOError, err, fmt.Sprintf("failed to write header: %v", err))
	}

	pool := bufpool.For(opts.chunkSize())
	bp := pool.Get()
	defer pool.Put(bp)
	buf := *bp

	meter := progress.NewMeter()
	meter.Start()

	remaining := out.Declared
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			out = finishStats(out, meter)
			return failure(out, KindIOError, err, fmt.Sprintf("send cancelled: %v", err))
		}

		chunk := buf
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		n, rerr := file.Read(chunk)
		if n > 0 {
			if _, err := w.Write(chunk[:n]); err != nil {
				out = finishStats(out, meter)
				return failure(out, KindIOError, err, fmt.Sprintf("failed to write to connection: %v", err))
			}
			out.Bytes += int64(n)
			remaining -= int64(n)
			meter.Add(n)
			if opts.OnProgress != nil {
				opts.OnProgress(n)
			}
		}
		if rerr == io.EOF || n == 0 {
			break
		}
		if rerr != nil {
			out = finishStats(out, meter)
			return failure(out, KindIOError, rerr, fmt.Sprintf("failed to read file: %v", rerr))
		}
	}

	out = finishStats(out, meter)
	out.Kind = KindOK
	out.Success = true
	out.Message = fmt.Sprintf("File '%s' sent", out.Name)
	return out
}

// ErrNotFound is returned by Prepare for a path that is not an existing regular file.
var ErrNotFound = errors.New("file not found")

// Prepare checks that path names an existing regular file whose base name
// can be carried in a header, and returns that header. Callers use it to
// refuse a send before opening any connection.
func Prepare(path string) (protocol.Header, error) {
	info, err := os.Stat(path)
	if err != nil {
		return protocol.Header{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if !info.Mode().IsRegular() {
		return protocol.Header{}, fmt.Errorf("%w: %s is not a regular file", ErrNotFound, path)
	}
	h := protocol.Header{Name: filepath.Base(path), Size: info.Size()}
	if _, err := h.Encode(); err != nil {
		return protocol.Header{}, fmt.Errorf("cannot send %q: %w", h.Name, err)
	}
	return h, nil
}

// Rejected builds the outcome of a send refused by Prepare.
func Rejected(path string, err error) Outcome {
	out := Outcome{ID: uuid.NewString(), Path: path, Name: filepath.Base(path)}
	if errors.Is(err, ErrNotFound) {
		return failure(out, KindNotFound, err, "File not found")
	}
	return failure(out, KindMalformed, err, err.Error())
}

// Receive reads one header and payload from r and writes the payload to
// dir/<name>, creating dir if needed and overwriting any existing file.
// It never panics or returns an error: every fault is folded into the Outcome.
func Receive(ctx context.Context, r io.Reader, dir string, opts Options) Outcome {
	out := Outcome{ID: uuid.NewString()}

	pool := bufpool.For(opts.chunkSize())
	bp := pool.Get()
	defer pool.Put(bp)
	buf := *bp

	header, leftover, err := readHeader(r, buf)
	if err != nil {
		if errors.Is(err, errHeaderIO) {
			return failure(out, KindIOError, err, err.Error())
		}
		return failure(out, KindMalformed, err, err.Error())
	}
	out.Name = header.Name
	out.Declared = header.Size

	if err := validateFilename(header.Name); err != nil {
		return failure(out, KindMalformed, err, fmt.Sprintf("rejected file name %q", header.Name))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return failure(out, KindIOError, err, fmt.Sprintf("failed to create directory: %v", err))
	}
	out.Path = filepath.Join(dir, header.Name)

	file, err := os.Create(out.Path)
	if err != nil {
		return failure(out, KindIOError, err, fmt.Sprintf("failed to create file: %v", err))
	}

	meter := progress.NewMeter()
	meter.Start()

	// Bytes beyond the declared size are not part of this payload.
	if int64(len(leftover)) > out.Declared {
		leftover = leftover[:out.Declared]
	}
	if len(leftover) > 0 {
		if _, err := file.Write(leftover); err != nil {
			_ = file.Close()
			return failure(finishStats(out, meter), KindIOError, err, fmt.Sprintf("failed to write file: %v", err))
		}
		out.Bytes += int64(len(leftover))
		meter.Add(len(leftover))
		if opts.OnProgress != nil {
			opts.OnProgress(len(leftover))
		}
	}

	for out.Bytes < out.Declared {
		if err := ctx.Err(); err != nil {
			_ = file.Close()
			return failure(finishStats(out, meter), KindIOError, err, fmt.Sprintf("receive cancelled: %v", err))
		}

		chunk := buf
		if remaining := out.Declared - out.Bytes; int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		n, rerr := r.Read(chunk)
		if n > 0 {
			if _, err := file.Write(chunk[:n]); err != nil {
				_ = file.Close()
				return failure(finishStats(out, meter), KindIOError, err, fmt.Sprintf("failed to write file: %v", err))
			}
			out.Bytes += int64(n)
			meter.Add(n)
			if opts.OnProgress != nil {
				opts.OnProgress(n)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = file.Close()
			return failure(finishStats(out, meter), KindIOError, rerr, fmt.Sprintf("failed to read from connection: %v", rerr))
		}
	}

	if err := file.Close(); err != nil {
		return failure(finishStats(out, meter), KindIOError, err, fmt.Sprintf("failed to close file: %v", err))
	}
	out = finishStats(out, meter)

	if out.Bytes != out.Declared {
		err := fmt.Errorf("%w: got %d of %d bytes", ErrIncomplete, out.Bytes, out.Declared)
		return failure(out, KindIncomplete, err,
			fmt.Sprintf("File transfer incomplete (got %d of %d bytes)", out.Bytes, out.Declared))
	}
	out.Kind = KindOK
	out.Success = true
	out.Message = fmt.Sprintf("File received: %s", out.Name)
	return out
}

// ErrIncomplete wraps the error of a receive that ended short of the declared size.
var ErrIncomplete = errors.New("file transfer incomplete")

var errHeaderIO = errors.New("failed to read header")

// readHeader fills buf until it holds a header terminator and returns the
// parsed header plus any payload bytes that arrived with it. The header must
// fit in one buffer.
func readHeader(r io.Reader, buf []byte) (protocol.Header, []byte, error) {
	filled := 0
	for {
		n, err := r.Read(buf[filled:])
		filled += n
		if line, leftover, ok := protocol.SplitHeader(buf[:filled]); ok {
			h, perr := protocol.ParseHeader(line)
			if perr != nil {
				return protocol.Header{}, nil, perr
			}
			return h, leftover, nil
		}
		if filled == len(buf) {
			return protocol.Header{}, nil, protocol.ErrHeaderTooLong
		}
		if err == io.EOF {
			if filled == 0 {
				return protocol.Header{}, nil, protocol.ErrNoHeader
			}
			return protocol.Header{}, nil, fmt.Errorf("%w: %q", protocol.ErrTruncatedHeader, buf[:filled])
		}
		if err != nil {
			return protocol.Header{}, nil, fmt.Errorf("%w: %w", errHeaderIO, err)
		}
	}
}

func finishStats(o Outcome, m *progress.Meter) Outcome {
	s := m.Snapshot()
	o.Elapsed = s.Elapsed
	o.RateBps = s.AvgBps
	return o
}
