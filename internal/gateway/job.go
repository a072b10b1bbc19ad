package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/jolby/TiREPL/internal/engine"
)

// Status values carried by an Outcome.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Outcome is what a caller observes for one unit of work. Err is nil, a
// *engine.ScriptError, or a *MechanismError.
type Outcome struct {
	Value engine.Value
	Err   error
}

// Status is "ok" iff the work ran and raised nothing.
func (o Outcome) Status() string {
	if o.Err != nil {
		return StatusError
	}
	return StatusOK
}

// Text renders the outcome for a bare REPL line.
func (o Outcome) Text() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return o.Value.Text
}

// Work is a unit of work executed on the gateway goroutine with exclusive
// access to the engine.
type Work func(eng engine.Engine, rep engine.Reporter) (engine.Value, error)

type jobState int

const (
	jobPending jobState = iota
	jobRunning
	jobDone
	jobCancelled
)

// job is the mailbox message for one unit of work. state, abandoned and
// settled are guarded by the owning Gateway's mu. out is written once,
// before done is closed.
type job struct {
	id        uint64
	label     string
	work      Work
	postedAt  time.Time
	state     jobState
	abandoned bool
	settled   bool
	out       Outcome
	done      chan struct{}
}

// settle publishes the outcome seen by every Wait. Later calls are no-ops.
// Callers hold the Gateway's mu.
func (j *job) settle(out Outcome) {
	if j.settled {
		return
	}
	j.settled = true
	j.out = out
	close(j.done)
}

func (*job) Type() string {
	return "EvalJob"
}

// Handle lets the poster wait for, or give up on, a posted unit of work.
type Handle struct {
	g   *Gateway
	job *job
}

// ID returns the gateway-unique id of the unit of work.
func (h *Handle) ID() uint64 {
	return h.job.id
}

// Wait blocks until the work completes, timeout elapses or ctx is done. On
// timeout or ctx expiry the work is cancelled: queued work never runs, and
// running work is interrupted and its late result discarded. Once the work
// is settled, every Wait returns the same outcome immediately.
func (h *Handle) Wait(ctx context.Context, timeout time.Duration) Outcome {
	select {
	case <-h.job.done:
		return h.job.out
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.job.done:
		return h.job.out
	case <-timer.C:
		return h.giveUp(fmt.Sprintf("timeout after %s", timeout), fmt.Errorf("%w after %s", ErrTimeout, timeout))
	case <-ctx.Done():
		return h.giveUp("caller gone", fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err()))
	}
}

// Cancel abandons the work; a later Wait reports ErrCancelled. It returns
// false if the work had already completed, in which case Wait still
// returns its outcome.
func (h *Handle) Cancel(reason string) bool {
	return h.g.cancel(h.job, reason, ErrCancelled)
}

// giveUp cancels the work with cause. If the work finished first, its real
// outcome wins.
func (h *Handle) giveUp(reason string, cause error) Outcome {
	h.g.cancel(h.job, reason, cause)
	<-h.job.done
	return h.job.out
}
