package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNoHeader indicates the stream ended before any header byte arrived.
	ErrNoHeader = errors.New("no data")
	// ErrHeaderTooLong indicates no header terminator was found within one buffer.
	ErrHeaderTooLong = errors.New("header line exceeds buffer")
	// ErrTruncatedHeader indicates the stream ended in the middle of a header line.
	ErrTruncatedHeader = errors.New("header line truncated")
	// ErrMissingDelimiter indicates the header has no name|size separator.
	ErrMissingDelimiter = errors.New("header missing delimiter")
	// ErrInvalidSize indicates the size field is not a non-negative decimal integer.
	ErrInvalidSize = errors.New("header size is not a non-negative integer")
	// ErrInvalidName indicates the name field cannot be represented in a header.
	ErrInvalidName = errors.New("invalid file name")
)

// Header is the metadata line that precedes a file payload.
type Header struct {
	Name string
	Size int64
}

// Encode renders the header as "name|size\n".
// Names containing a newline or the delimiter cannot round-trip and are rejected.
func (h Header) Encode() ([]byte, error) {
	if h.Name == "" || strings.ContainsAny(h.Name, "\n|") {
		return nil, ErrInvalidName
	}
	if h.Size < 0 {
		return nil, ErrInvalidSize
	}
	buf := make([]byte, 0, len(h.Name)+22)
	buf = append(buf, h.Name...)
	buf = append(buf, HeaderDelimiter)
	buf = strconv.AppendInt(buf, h.Size, 10)
	buf = append(buf, HeaderTerminator)
	return buf, nil
}

func (h Header) String() string {
	return fmt.Sprintf("%s|%d", h.Name, h.Size)
}

// ParseHeader decodes a header line without its terminator.
func ParseHeader(line string) (Header, error) {
	name, sizeStr, ok := strings.Cut(line, string(HeaderDelimiter))
	if !ok {
		return Header{}, ErrMissingDelimiter
	}
	if sizeStr == "" || strings.TrimLeft(sizeStr, "0123456789") != "" {
		return Header{}, fmt.Errorf("%w: %q", ErrInvalidSize, sizeStr)
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return Header{}, fmt.Errorf("%w: %q", ErrInvalidSize, sizeStr)
	}
	return Header{Name: name, Size: size}, nil
}

// SplitHeader finds the first terminator in buf and returns the header line
// and whatever payload bytes followed it. ok is false when buf holds no
// terminator yet.
func SplitHeader(buf []byte) (line string, leftover []byte, ok bool) {
	i := bytes.IndexByte(buf, HeaderTerminator)
	if i < 0 {
		return "", nil, false
	}
	return string(buf[:i]), buf[i+1:], true
}
