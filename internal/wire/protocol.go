// Package wire holds the REPL line protocol: fixed server lines, command
// classification and the base64 JSON envelope carried by /message.
package wire

import (
	"strings"
)

// Fixed lines written by the server.
const (
	Greeting = "Welcome the the REPL Server"
	Prompt   = "REPL> "
	Farewell = "Bye!"
)

// Command prefixes.
const (
	QuitShort       = "/q"
	QuitLong        = "/quit"
	SessionIDPrefix = "/session_id"
	MessagePrefix   = "/message "
	ResponsePrefix  = "/message_response "
)

// CommandKind identifies how a line is dispatched.
type CommandKind int

const (
	CommandEval CommandKind = iota
	CommandQuit
	CommandSessionID
	CommandMessage
)

func (k CommandKind) String() string {
	switch k {
	case CommandQuit:
		return "quit"
	case CommandSessionID:
		return "session_id"
	case CommandMessage:
		return "message"
	default:
		return "eval"
	}
}

// Command is a classified input line. Payload is the base64 text of a
// message, or the script source of an eval.
type Command struct {
	Kind    CommandKind
	Payload string
}

// Classify applies the dispatch precedence: quit, session id, message, eval.
func Classify(line string) Command {
	switch {
	case line == QuitShort || line == QuitLong:
		return Command{Kind: CommandQuit}
	case strings.HasPrefix(line, SessionIDPrefix):
		return Command{Kind: CommandSessionID}
	case strings.HasPrefix(line, MessagePrefix):
		return Command{Kind: CommandMessage, Payload: line[len(MessagePrefix):]}
	default:
		return Command{Kind: CommandEval, Payload: line}
	}
}

// SessionIDLine is the reply to /session_id.
func SessionIDLine(id string) string {
	return SessionIDPrefix + " " + id
}

// ResponseLine is the reply to /message.
func ResponseLine(encoded string) string {
	return ResponsePrefix + encoded
}

// ParseSessionIDLine extracts the identifier from a /session_id reply.
func ParseSessionIDLine(line string) (string, bool) {
	id, ok := strings.CutPrefix(line, SessionIDPrefix+" ")
	return strings.TrimSpace(id), ok
}

// ParseResponseLine extracts the payload from a /message_response reply.
func ParseResponseLine(line string) (string, bool) {
	return strings.CutPrefix(line, ResponsePrefix)
}
