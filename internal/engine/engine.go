// Package engine defines the contract between the REPL and the script runtime
// it drives, and ships a JavaScript implementation.
//
// An Engine is single-threaded: every method except Interrupt must be called
// from the one goroutine that owns it. The gateway package provides that
// goroutine.
package engine

import (
	"fmt"

	"github.com/jolby/TiREPL/internal/logger"
)

// Kind classifies a ScriptError.
type Kind string

const (
	KindSyntax      Kind = "syntax"
	KindRuntime     Kind = "runtime"
	KindInterrupted Kind = "interrupted"
	KindInternal    Kind = "internal"
)

// ScriptError is an error raised by the evaluated script itself, as opposed
// to a failure of the machinery that ran it.
type ScriptError struct {
	Kind    Kind
	Name    string // script-level error class, e.g. "TypeError"
	Message string
	Line    int
	Column  int
}

func (e *ScriptError) Error() string {
	msg := e.Message
	if e.Name != "" {
		msg = e.Name + ": " + msg
	}
	if e.Line > 0 {
		msg = fmt.Sprintf("%s (line %d, column %d)", msg, e.Line, e.Column)
	}
	return msg
}

// Value is the outcome of a successful evaluation.
type Value struct {
	// Text is the rendering sent back on bare REPL lines.
	Text string
	// Export is the value converted to plain Go data, used in structured replies.
	Export any
}

// Reporter receives diagnostics and script output while an evaluation runs.
type Reporter interface {
	Warning(message string, line, column int)
	Error(message string, line, column int)
	Print(level, message string)
}

// Engine evaluates source text against a persistent global scope.
type Engine interface {
	// Evaluate runs src. Script failures are returned as *ScriptError.
	Evaluate(src string, rep Reporter) (Value, error)
	// Interrupt aborts the evaluation in progress. Safe from any goroutine.
	Interrupt(reason string)
	// ClearInterrupt resets a pending interrupt before the next evaluation.
	ClearInterrupt()
}

// LogReporter routes diagnostics to a logger instead of failing the call.
type LogReporter struct {
	Log *logger.Logger
}

func (r LogReporter) target() *logger.Logger {
	if r.Log == nil {
		return logger.Global()
	}
	return r.Log
}

func (r LogReporter) Warning(message string, line, column int) {
	r.target().Warn("Script warning at %d:%d: %s", line, column, message)
}

func (r LogReporter) Error(message string, line, column int) {
	r.target().Error("Script error at %d:%d: %s", line, column, message)
}

func (r LogReporter) Print(level, message string) {
	r.target().Logf(logger.ParseLevel(level), "%s", message)
}
