package transfer

import (
	"fmt"
	"time"
)

// Kind classifies the result of one send or receive.
type Kind int

const (
	KindOK Kind = iota
	// KindNotFound is a local precondition failure: nothing was sent.
	KindNotFound
	// KindMalformed means the header could not be parsed or named an unsafe file.
	KindMalformed
	// KindIncomplete means the stream ended before the declared size arrived.
	KindIncomplete
	// KindIOError is a disk or transport fault.
	KindIOError
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindNotFound:
		return "not_found"
	case KindMalformed:
		return "malformed"
	case KindIncomplete:
		return "incomplete"
	case KindIOError:
		return "io_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of one Send or Receive.
type Outcome struct {
	ID       string
	Kind     Kind
	Success  bool
	Message  string
	Name     string
	Path     string // local source (send) or destination (receive)
	Bytes    int64  // bytes actually moved
	Declared int64  // size announced in the header
	Elapsed  time.Duration
	RateBps  float64
	Err      error
}

func (o Outcome) String() string {
	if o.Success {
		return o.Message
	}
	return "Failed: " + o.Message
}

func failure(o Outcome, kind Kind, err error, msg string) Outcome {
	o.Kind = kind
	o.Success = false
	o.Err = err
	o.Message = msg
	return o
}
