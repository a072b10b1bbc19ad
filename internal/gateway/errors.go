package gateway

import (
	"errors"
)

// Mechanism failures. They are always wrapped in a *MechanismError.
var (
	ErrTimeout        = errors.New("evaluation timed out")
	ErrCancelled      = errors.New("evaluation cancelled")
	ErrInterrupted    = errors.New("wait interrupted")
	ErrQueueFull      = errors.New("engine work queue is full")
	ErrGatewayStopped = errors.New("engine gateway is stopped")
)

// MechanismError reports that a unit of work could not be run or observed.
// It never describes a failure of the script itself; those are
// *engine.ScriptError.
type MechanismError struct {
	Op  string // "post", "wait" or "execute"
	Err error
}

func (e *MechanismError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *MechanismError) Unwrap() error {
	return e.Err
}

// IsMechanismError reports whether err is, or wraps, a *MechanismError.
func IsMechanismError(err error) bool {
	var me *MechanismError
	return errors.As(err, &me)
}
