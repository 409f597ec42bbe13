package session

import (
	"strings"
	"unicode"
)

// CommandKind identifies what an operator line asks for.
type CommandKind int

const (
	CmdText CommandKind = iota
	CmdSendFile
	CmdSendFileUsage
	CmdQuit
	CmdHelp
	CmdStatus
)

// Command is one parsed operator line. Arg carries the chat text or the
// file path.
type Command struct {
	Kind CommandKind
	Arg  string
}

const sendFilePrefix = "/sendfile"

// ParseCommand classifies an operator line. Any line starting with
// "/sendfile" is a send request whose path is everything after the first
// run of whitespace. Other unknown slash words are chat text.
func ParseCommand(line string) Command {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "/quit":
		return Command{Kind: CmdQuit}
	case trimmed == "/help":
		return Command{Kind: CmdHelp}
	case trimmed == "/status":
		return Command{Kind: CmdStatus}
	case strings.HasPrefix(trimmed, sendFilePrefix):
		i := strings.IndexFunc(trimmed, unicode.IsSpace)
		if i < 0 {
			return Command{Kind: CmdSendFileUsage}
		}
		return Command{Kind: CmdSendFile, Arg: strings.TrimSpace(trimmed[i:])}
	}
	return Command{Kind: CmdText, Arg: line}
}

const helpText = `Commands:
  /sendfile <path>  send a file to the peer
  /status           show session state
  /help             show this help
  /quit             end the session
`
