// Package enginetest provides a scriptable engine.Engine for tests.
package enginetest

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jolby/TiREPL/internal/engine"
)

// Fake understands a tiny language:
//
//	a+b          integer addition
//	a/b          integer division, division by zero is a runtime error
//	sleep(ms)    blocks until the duration passes or Interrupt is called
//	panic(msg)   panics on the calling goroutine
//	syntax(msg)  reports and returns a syntax error
//	anything     echoed back unchanged
//
// It records which goroutines called Evaluate and how many calls overlapped.
type Fake struct {
	mu          sync.Mutex
	sources     []string
	interruptCh chan struct{}

	running    atomic.Int32
	maxRunning atomic.Int32
}

// NewFake returns a ready Fake.
func NewFake() *Fake {
	return &Fake{interruptCh: make(chan struct{})}
}

// Sources returns the evaluated sources in execution order.
func (f *Fake) Sources() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sources...)
}

// MaxConcurrent reports the largest number of overlapping Evaluate calls seen.
func (f *Fake) MaxConcurrent() int {
	return int(f.maxRunning.Load())
}

// Evaluate implements engine.Engine.
func (f *Fake) Evaluate(src string, rep engine.Reporter) (engine.Value, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		peak := f.maxRunning.Load()
		if n <= peak || f.maxRunning.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.sources = append(f.sources, src)
	interruptCh := f.interruptCh
	f.mu.Unlock()

	src = strings.TrimSpace(src)
	switch {
	case strings.HasPrefix(src, "sleep(") && strings.HasSuffix(src, ")"):
		ms, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(src, "sleep("), ")"))
		if err != nil {
			return engine.Value{}, &engine.ScriptError{Kind: engine.KindRuntime, Name: "TypeError", Message: err.Error()}
		}
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
			return engine.Value{Text: "slept", Export: "slept"}, nil
		case <-interruptCh:
			return engine.Value{}, &engine.ScriptError{Kind: engine.KindInterrupted, Name: "InterruptedError", Message: "interrupted"}
		}
	case strings.HasPrefix(src, "panic(") && strings.HasSuffix(src, ")"):
		panic(strings.TrimSuffix(strings.TrimPrefix(src, "panic("), ")"))
	case strings.HasPrefix(src, "syntax(") && strings.HasSuffix(src, ")"):
		msg := strings.TrimSuffix(strings.TrimPrefix(src, "syntax("), ")")
		if rep != nil {
			rep.Error(msg, 1, 1)
		}
		return engine.Value{}, &engine.ScriptError{Kind: engine.KindSyntax, Name: "SyntaxError", Message: msg, Line: 1, Column: 1}
	}

	if a, b, ok := binary(src, "+"); ok {
		return number(a + b), nil
	}
	if a, b, ok := binary(src, "/"); ok {
		if b == 0 {
			return engine.Value{}, &engine.ScriptError{Kind: engine.KindRuntime, Name: "ZeroDivisionError", Message: "division by zero"}
		}
		return number(a / b), nil
	}
	return engine.Value{Text: src, Export: src}, nil
}

// Interrupt implements engine.Engine.
func (f *Fake) Interrupt(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.interruptCh:
	default:
		close(f.interruptCh)
	}
}

// ClearInterrupt implements engine.Engine.
func (f *Fake) ClearInterrupt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.interruptCh:
		f.interruptCh = make(chan struct{})
	default:
	}
}

func binary(src, op string) (int64, int64, bool) {
	left, right, found := strings.Cut(src, op)
	if !found {
		return 0, 0, false
	}
	a, err := strconv.ParseInt(strings.TrimSpace(left), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	b, err := strconv.ParseInt(strings.TrimSpace(right), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return a, b, true
}

func number(n int64) engine.Value {
	return engine.Value{Text: fmt.Sprint(n), Export: n}
}
