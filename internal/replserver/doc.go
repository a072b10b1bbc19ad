// Package replserver implements the TCP side of the REPL: a Listener that
// accepts connections, a registry of live Sessions and the per-connection
// line protocol.
//
// # Architecture
//
//   - Server: host-facing facade. Owns the configured port and at most one
//     running Listener.
//   - Listener: binds, runs the accept loop and polls a shutdown flag. It is
//     the only goroutine that adds sessions, and on exit it sweeps the
//     registry and signals every remaining Session to stop.
//   - registry: a goroutine owning the session map. Sessions report their
//     own end over a channel; reports that arrive after the sweep are no-ops.
//   - Session: one connection. Reads lines with a short read deadline so a
//     stop request is noticed without client traffic, and evaluates through
//     an Evaluator (normally the engine gateway).
//
// # Protocol
//
// On connect the server writes a greeting line and a prompt. Each input line
// is one of:
//
//	/q, /quit               "Bye!" and the connection closes
//	/session_id             "/session_id <uuid>"
//	/message <base64 json>  "/message_response <base64 json>"
//	anything else           evaluated, result written as one line
//
// Every reply except the farewell is followed by a new prompt. A /message
// whose payload cannot be decoded is logged and gets no reply at all.
package replserver
