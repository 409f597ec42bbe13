package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"
)

// Lines yields newline-delimited lines from r with "\n" or "\r\n" removed.
// Lines have no length limit. A final line without a terminator is still
// yielded. Iteration stops at EOF or on the first read error.
func Lines(r io.Reader) iter.Seq[string] {
	return func(yield func(string) bool) {
		br := bufio.NewReader(r)
		for {
			line, err := br.ReadString('\n')
			if line != "" {
				line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
				if !yield(line) {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}
}

// Chat runs the chat duplex until the operator quits, the peer goes away or
// ctx is cancelled. Inbound lines are printed as they arrive; operator lines
// from input are parsed as commands or sent verbatim. The session is
// disconnected when Chat returns.
func (s *Session) Chat(ctx context.Context, input io.Reader) error {
	conn := s.chatConn()
	if conn == nil || !s.connected.Load() {
		return ErrNotConnected
	}

	var wg sync.WaitGroup
	inboundDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(inboundDone)
		s.readInbound(conn)
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		for line := range Lines(input) {
			select {
			case lines <- line:
			case <-s.done:
				return
			}
		}
	}()

	s.printf("\n--- Chat ready ---\nCommands: /sendfile <path>  |  /quit\n")

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break loop
		case <-inboundDone:
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if !s.handleLine(ctx, line) {
				break loop
			}
		}
	}

	s.Disconnect()
	wg.Wait()
	return err
}

func (s *Session) readInbound(r io.Reader) {
	for line := range Lines(r) {
		if !s.connected.Load() {
			break
		}
		s.printf("\n[Remote]: %s\n", strings.TrimSpace(line))
	}
	if s.connected.Swap(false) {
		s.logger.Info("remote peer closed chat")
		s.printf("\nDisconnected from remote peer.\n")
	}
}

// handleLine acts on one operator line and reports whether the chat loop
// should continue.
func (s *Session) handleLine(ctx context.Context, line string) bool {
	cmd := ParseCommand(line)
	switch cmd.Kind {
	case CmdQuit:
		return false
	case CmdHelp:
		s.printf("%s", helpText)
	case CmdStatus:
		s.printStatus()
	case CmdSendFileUsage:
		s.printf("Usage: /sendfile <filepath>\n")
	case CmdSendFile:
		s.SendFile(ctx, cmd.Arg)
	case CmdText:
		if err := s.SendText(cmd.Arg); err != nil {
			s.printf("Send error: %v\n", err)
			return false
		}
	}
	return true
}

// SendText writes one chat line to the peer.
func (s *Session) SendText(text string) error {
	conn := s.chatConn()
	if conn == nil || !s.connected.Load() {
		return ErrNotConnected
	}
	if _, err := io.WriteString(conn, text+"\n"); err != nil {
		return fmt.Errorf("write chat line: %w", err)
	}
	return nil
}

func (s *Session) printStatus() {
	s.printf("Peer: %s  connected=%t\n", s.RemoteAddr(), s.connected.Load())
	s.printf("Files sent: %d  failed: %d\n", s.sent.Load(), s.sendFailed.Load())
	s.mu.Lock()
	files := s.files
	s.mu.Unlock()
	if files != nil {
		st := files.Stats()
		s.printf("Files received: %d  failed: %d  active: %d\n", st.Completed, st.Failed, st.Active)
		state := "stopped"
		if files.Running() {
			state = "running"
		}
		s.printf("File listener: %s\n", state)
	}
}
