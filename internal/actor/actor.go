package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jolby/TiREPL/internal/logger"
)

var (
	// ErrMailboxFull is returned by Send when the mailbox has no free slot.
	ErrMailboxFull = errors.New("actor mailbox is full")
	// ErrStopped is returned by Send after Stop, or before Start.
	ErrStopped = errors.New("actor is stopped")
)

// Message represents a message sent between actors
type Message interface {
	Type() string
}

// Actor represents an actor in the actor model. Receive is only ever called
// from the actor's own run loop, one message at a time.
type Actor interface {
	// Receive processes incoming messages
	Receive(ctx context.Context, msg Message) error
	// Start starts the actor
	Start(ctx context.Context) error
	// Stop stops the actor gracefully
	Stop(ctx context.Context) error
	// ID returns the actor's unique identifier
	ID() string
}

// Abandoner is implemented by actors that must be told about messages left
// in the mailbox when the run loop exits.
type Abandoner interface {
	Abandon(msg Message)
}

// ActorRef is a reference to an actor for sending messages
type ActorRef struct {
	id      string
	mailbox chan Message
	actor   Actor
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	mu      sync.RWMutex
	started bool
	stopped bool
	health  *HealthCheckable
}

// NewActorRef creates a new actor reference with the given ID, actor
// implementation and mailbox size.
func NewActorRef(id string, actor Actor, mailboxSize int) *ActorRef {
	ref := &ActorRef{
		id:      id,
		actor:   actor,
		mailbox: make(chan Message, mailboxSize),
	}
	ref.health = NewHealthCheckable(id, ref.mailbox, nil)
	return ref
}

// ID returns the actor's ID
func (ref *ActorRef) ID() string {
	return ref.id
}

// Send enqueues a message without blocking.
func (ref *ActorRef) Send(msg Message) error {
	ref.mu.RLock()
	defer ref.mu.RUnlock()
	if !ref.started || ref.stopped {
		return fmt.Errorf("actor %s: %w", ref.id, ErrStopped)
	}

	select {
	case ref.mailbox <- msg:
		ref.health.RecordActivity()
		return nil
	default:
		return fmt.Errorf("actor %s: %w", ref.id, ErrMailboxFull)
	}
}

// Start starts the actor's message processing loop
func (ref *ActorRef) Start(ctx context.Context) error {
	ref.mu.Lock()
	defer ref.mu.Unlock()
	if ref.started {
		return fmt.Errorf("actor %s already started", ref.id)
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := ref.actor.Start(ctx); err != nil {
		cancel()
		return err
	}
	ref.cancel = cancel
	ref.started = true

	ref.wg.Add(1)
	go ref.run(ctx)
	return nil
}

// Stop stops the actor gracefully. It waits for the message being processed,
// if any, to finish, or for ctx to expire.
func (ref *ActorRef) Stop(ctx context.Context) error {
	ref.mu.Lock()
	if ref.stopped || !ref.started {
		ref.stopped = true
		ref.mu.Unlock()
		return nil
	}
	ref.stopped = true
	ref.mu.Unlock()

	ref.cancel()

	done := make(chan struct{})
	go func() {
		ref.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return ref.actor.Stop(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health returns the current health report of the actor.
func (ref *ActorRef) Health() HealthReport {
	return ref.health.GenerateHealthReport()
}

// CheckHealth asks the run loop for a health report through the mailbox.
// It fails if the actor is not running, the mailbox is full, or ctx ends
// before the loop gets to the request.
func (ref *ActorRef) CheckHealth(ctx context.Context) (HealthReport, error) {
	respCh := make(chan HealthCheckResponse, 1)
	if err := ref.Send(HealthCheckRequest{ResponseChan: respCh}); err != nil {
		return HealthReport{}, err
	}
	select {
	case resp := <-respCh:
		return resp.Report, nil
	case <-ctx.Done():
		return HealthReport{}, fmt.Errorf("actor %s health check: %w", ref.id, ctx.Err())
	}
}

// run is the actor's main message processing loop
func (ref *ActorRef) run(ctx context.Context) {
	defer ref.wg.Done()
	defer ref.drain()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ref.mailbox:
			if ctx.Err() != nil {
				ref.abandon(msg)
				return
			}
			ref.health.RecordActivity()

			if req, ok := msg.(HealthCheckRequest); ok {
				select {
				case req.ResponseChan <- HealthCheckResponse{Report: ref.health.GenerateHealthReport()}:
				case <-ctx.Done():
				}
				continue
			}

			if err := ref.dispatch(ctx, msg); err != nil {
				logger.Error("Actor %s error processing %s: %v", ref.id, msg.Type(), err)
				ref.health.RecordError(err)
			}
			ref.health.RecordProcessed()
		}
	}
}

// dispatch calls Receive, turning a panic into an error so one bad message
// cannot take the run loop down.
func (ref *ActorRef) dispatch(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in actor %s: %v", ref.id, r)
		}
	}()
	return ref.actor.Receive(ctx, msg)
}

// drain hands queued messages to the actor's Abandon hook after the loop exits.
func (ref *ActorRef) drain() {
	for {
		select {
		case msg := <-ref.mailbox:
			ref.abandon(msg)
		default:
			return
		}
	}
}

func (ref *ActorRef) abandon(msg Message) {
	if abandoner, ok := ref.actor.(Abandoner); ok {
		abandoner.Abandon(msg)
	}
}

// SetMetricsProvider attaches actor-specific metrics to health reports.
func (ref *ActorRef) SetMetricsProvider(fn func() interface{}) {
	ref.health.SetMetricsProvider(fn)
}
