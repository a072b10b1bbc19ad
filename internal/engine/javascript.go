package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// JSEngine is an Engine backed by the goja ECMAScript runtime. Globals
// defined by one evaluation stay visible to the next.
type JSEngine struct {
	vm  *goja.Runtime
	rep Reporter // set for the duration of Evaluate

	mu          sync.Mutex
	interruptCh chan struct{} // closed by Interrupt, wakes sleep()
}

// NewJSEngine creates a runtime with console, print and sleep installed.
func NewJSEngine() *JSEngine {
	e := &JSEngine{
		vm:          goja.New(),
		interruptCh: make(chan struct{}),
	}
	e.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	e.installGlobals()
	return e
}

func (e *JSEngine) installGlobals() {
	console := e.vm.NewObject()
	_ = console.Set("log", e.printer("info"))
	_ = console.Set("info", e.printer("info"))
	_ = console.Set("debug", e.printer("debug"))
	_ = console.Set("warn", e.printer("warn"))
	_ = console.Set("error", e.printer("error"))
	_ = e.vm.Set("console", console)
	_ = e.vm.Set("print", e.printer("info"))
	_ = e.vm.Set("sleep", e.sleep)
}

func (e *JSEngine) printer(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		if e.rep != nil {
			e.rep.Print(level, strings.Join(parts, " "))
		}
		return goja.Undefined()
	}
}

// sleep(ms) blocks the script but returns early when interrupted, after
// which the runtime raises the pending interrupt.
func (e *JSEngine) sleep(call goja.FunctionCall) goja.Value {
	d := time.Duration(call.Argument(0).ToInteger()) * time.Millisecond
	if d <= 0 {
		return goja.Undefined()
	}

	e.mu.Lock()
	ch := e.interruptCh
	e.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ch:
	}
	return goja.Undefined()
}

// Evaluate compiles and runs src.
func (e *JSEngine) Evaluate(src string, rep Reporter) (Value, error) {
	if rep == nil {
		rep = LogReporter{}
	}
	e.rep = rep
	defer func() { e.rep = nil }()

	prog, err := goja.Compile("repl", src, false)
	if err != nil {
		se := syntaxError(err)
		rep.Error(se.Message, se.Line, se.Column)
		return Value{}, se
	}

	result, err := e.vm.RunProgram(prog)
	if err != nil {
		return Value{}, runtimeError(err)
	}
	return render(result), nil
}

// Interrupt aborts the running program at its next instruction boundary.
func (e *JSEngine) Interrupt(reason string) {
	e.mu.Lock()
	select {
	case <-e.interruptCh:
	default:
		close(e.interruptCh)
	}
	e.mu.Unlock()
	e.vm.Interrupt(reason)
}

// ClearInterrupt must be called between an interrupted run and the next one.
func (e *JSEngine) ClearInterrupt() {
	e.vm.ClearInterrupt()
	e.mu.Lock()
	select {
	case <-e.interruptCh:
		e.interruptCh = make(chan struct{})
	default:
	}
	e.mu.Unlock()
}

func syntaxError(err error) *ScriptError {
	se := &ScriptError{Kind: KindSyntax, Name: "SyntaxError", Message: err.Error()}
	var compileErr *goja.CompilerSyntaxError
	if errors.As(err, &compileErr) {
		se.Message = compileErr.Message
		if compileErr.File != nil {
			pos := compileErr.File.Position(compileErr.Offset)
			se.Line, se.Column = pos.Line, pos.Column
		}
	}
	return se
}

func runtimeError(err error) *ScriptError {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return &ScriptError{Kind: KindInterrupted, Name: "InterruptedError", Message: fmt.Sprint(interrupted.Value())}
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		se := &ScriptError{Kind: KindRuntime, Name: "Error", Message: exc.Error()}
		switch v := exc.Value().(type) {
		case *goja.Object:
			if name := v.Get("name"); name != nil && !goja.IsUndefined(name) {
				se.Name = name.String()
			}
			if msg := v.Get("message"); msg != nil && !goja.IsUndefined(msg) {
				se.Message = msg.String()
			}
		case nil:
		default:
			// throw of a primitive, e.g. `throw "nope"`
			se.Name = "Uncaught"
			se.Message = v.String()
		}
		return se
	}

	return &ScriptError{Kind: KindRuntime, Name: "Error", Message: err.Error()}
}

func render(v goja.Value) Value {
	if v == nil || goja.IsUndefined(v) {
		return Value{Text: "undefined"}
	}
	if goja.IsNull(v) {
		return Value{Text: "null"}
	}

	exported := v.Export()
	text := v.String()
	if _, isObject := v.(*goja.Object); isObject {
		if _, isFunc := goja.AssertFunction(v); !isFunc {
			if data, err := json.Marshal(exported); err == nil {
				text = string(data)
			}
		}
	}
	return Value{Text: text, Export: exported}
}
