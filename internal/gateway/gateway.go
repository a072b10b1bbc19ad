// Package gateway serialises all access to a script engine through a single
// worker goroutine. Callers post units of work and wait for them with a
// deadline; a caller that gives up never blocks the worker, and the worker
// never runs work whose caller has already left.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jolby/TiREPL/internal/actor"
	"github.com/jolby/TiREPL/internal/consts"
	"github.com/jolby/TiREPL/internal/engine"
	"github.com/jolby/TiREPL/internal/logger"
)

// Options configures a Gateway. Zero values take the package defaults.
type Options struct {
	Timeout     time.Duration
	MailboxSize int
	Logger      *logger.Logger
}

// Stats counts units of work by fate.
type Stats struct {
	Posted    int64 `json:"posted"`
	Rejected  int64 `json:"rejected"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Abandoned int64 `json:"abandoned"`
}

// Gateway is the sole owner of an engine.Engine.
type Gateway struct {
	eng      engine.Engine
	ref      *actor.ActorRef
	timeout  time.Duration
	log      *logger.Logger
	reporter engine.Reporter

	nextID atomic.Uint64

	mu      sync.Mutex
	current *job

	posted, rejected, completed, failed, cancelled, abandoned atomic.Int64
}

// New wraps eng. The gateway does not run work until Start is called.
func New(eng engine.Engine, opts Options) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = consts.EvalTimeout
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = consts.DefaultMailboxSize
	}
	if opts.Logger == nil {
		opts.Logger = logger.Global()
	}

	g := &Gateway{
		eng:     eng,
		timeout: opts.Timeout,
		log:     opts.Logger.WithPrefix("gateway"),
	}
	g.reporter = engine.LogReporter{Log: opts.Logger.WithPrefix("script")}
	g.ref = actor.NewActorRef("engine-gateway", &worker{g: g}, opts.MailboxSize)
	g.ref.SetMetricsProvider(func() interface{} { return g.Stats() })
	return g
}

// Start launches the worker goroutine.
func (g *Gateway) Start(ctx context.Context) error {
	return g.ref.Start(ctx)
}

// Stop halts the worker after the current unit of work. Queued work is
// failed with ErrGatewayStopped.
func (g *Gateway) Stop(ctx context.Context) error {
	return g.ref.Stop(ctx)
}

// Timeout is the bounded wait applied by Evaluate.
func (g *Gateway) Timeout() time.Duration {
	return g.timeout
}

// Submit posts work without blocking.
func (g *Gateway) Submit(label string, work Work) (*Handle, error) {
	j := &job{
		id:       g.nextID.Add(1),
		label:    label,
		work:     work,
		postedAt: time.Now(),
		done:     make(chan struct{}),
	}

	if err := g.ref.Send(j); err != nil {
		g.rejected.Add(1)
		cause := ErrGatewayStopped
		if errors.Is(err, actor.ErrMailboxFull) {
			cause = ErrQueueFull
		}
		g.log.Warn("Rejected unit %d: %v", j.id, err)
		return nil, &MechanismError{Op: "post", Err: cause}
	}

	g.posted.Add(1)
	g.log.Debug("Posted unit %d", j.id)
	return &Handle{g: g, job: j}, nil
}

// Post submits src for evaluation.
func (g *Gateway) Post(src string) (*Handle, error) {
	return g.Submit(src, func(eng engine.Engine, rep engine.Reporter) (engine.Value, error) {
		return eng.Evaluate(src, rep)
	})
}

// Evaluate posts src and waits at most Timeout for the outcome.
func (g *Gateway) Evaluate(ctx context.Context, src string) Outcome {
	h, err := g.Post(src)
	if err != nil {
		return Outcome{Err: err}
	}
	return h.Wait(ctx, g.timeout)
}

// Stats returns a snapshot of the work counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		Posted:    g.posted.Load(),
		Rejected:  g.rejected.Load(),
		Completed: g.completed.Load(),
		Failed:    g.failed.Load(),
		Cancelled: g.cancelled.Load(),
		Abandoned: g.abandoned.Load(),
	}
}

// Health asks the worker for its health report through the mailbox, so a
// reply shows the worker is taking work. If the worker does not answer, the
// last known report is returned, marked unhealthy when the worker has
// stopped and at least degraded when it is busy.
func (g *Gateway) Health(ctx context.Context) actor.HealthReport {
	report, err := g.ref.CheckHealth(ctx)
	if err == nil {
		return report
	}

	report = g.ref.Health()
	switch {
	case errors.Is(err, actor.ErrStopped):
		report.Status = actor.HealthStatusUnhealthy
		report.Message = "engine worker is not running"
	default:
		if report.Status == actor.HealthStatusHealthy {
			report.Status = actor.HealthStatusDegraded
		}
		report.Message = fmt.Sprintf("engine worker did not answer: %v", err)
	}
	return report
}

// cancel settles j with a wait MechanismError wrapping cause unless it has
// already completed.
func (g *Gateway) cancel(j *job, reason string, cause error) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch j.state {
	case jobPending:
		j.state = jobCancelled
		g.cancelled.Add(1)
		g.log.Debug("Cancelled unit %d before it ran: %s", j.id, reason)
		j.settle(Outcome{Err: &MechanismError{Op: "wait", Err: cause}})
		return true
	case jobRunning:
		if !j.abandoned {
			j.abandoned = true
			g.abandoned.Add(1)
			g.log.Warn("Abandoning running unit %d: %s", j.id, reason)
			if g.current == j {
				g.eng.Interrupt(reason)
			}
			j.settle(Outcome{Err: &MechanismError{Op: "wait", Err: cause}})
		}
		return true
	case jobCancelled:
		return true
	default:
		return false
	}
}

// execute runs on the worker goroutine only.
func (g *Gateway) execute(j *job) {
	g.mu.Lock()
	if j.state != jobPending {
		g.mu.Unlock()
		return
	}
	j.state = jobRunning
	g.current = j
	g.mu.Unlock()

	started := time.Now()
	out := g.run(j)

	g.mu.Lock()
	g.current = nil
	g.eng.ClearInterrupt()
	j.state = jobDone
	abandoned := j.abandoned
	j.settle(out)
	g.mu.Unlock()

	if out.Err != nil {
		g.failed.Add(1)
	} else {
		g.completed.Add(1)
	}
	if abandoned {
		g.log.Info("Discarding result of abandoned unit %d after %s", j.id, time.Since(started))
	} else {
		g.log.Debug("Unit %d finished in %s (queued %s)", j.id, time.Since(started), started.Sub(j.postedAt))
	}
}

// run executes the work, converting panics and foreign errors into script
// errors so the worker loop survives anything the engine does.
func (g *Gateway) run(j *job) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("Panic while evaluating unit %d: %v", j.id, r)
			out = Outcome{Err: &engine.ScriptError{Kind: engine.KindInternal, Name: "InternalError", Message: fmt.Sprint(r)}}
		}
	}()

	v, err := j.work(g.eng, g.reporter)
	if err != nil {
		var se *engine.ScriptError
		if !errors.As(err, &se) {
			err = &engine.ScriptError{Kind: engine.KindInternal, Name: "InternalError", Message: err.Error()}
		}
		return Outcome{Err: err}
	}
	return Outcome{Value: v}
}

// abandon fails work left in the mailbox when the worker stops.
func (g *Gateway) abandon(j *job) {
	g.mu.Lock()
	if j.state != jobPending {
		g.mu.Unlock()
		return
	}
	j.state = jobDone
	j.settle(Outcome{Err: &MechanismError{Op: "execute", Err: ErrGatewayStopped}})
	g.mu.Unlock()

	g.cancelled.Add(1)
}

// worker adapts the Gateway to the actor runtime.
type worker struct {
	g *Gateway
}

func (w *worker) ID() string                      { return "engine-gateway" }
func (w *worker) Start(ctx context.Context) error { return nil }

func (w *worker) Stop(ctx context.Context) error {
	w.g.log.Info("Engine gateway stopped (%+v)", w.g.Stats())
	return nil
}

func (w *worker) Receive(ctx context.Context, msg actor.Message) error {
	switch m := msg.(type) {
	case *job:
		w.g.execute(m)
		return nil
	default:
		return fmt.Errorf("unsupported message type: %T", msg)
	}
}

func (w *worker) Abandon(msg actor.Message) {
	if j, ok := msg.(*job); ok {
		w.g.abandon(j)
	}
}
