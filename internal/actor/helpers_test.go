package actor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

type testMessage struct {
	ID string
}

func (m *testMessage) Type() string {
	return "test"
}

type panicMessage struct{}

func (m *panicMessage) Type() string {
	return "panic"
}

type errorMessage struct{}

func (m *errorMessage) Type() string {
	return "error"
}

// testActor records what it receives and can block or fail on demand.
type testActor struct {
	id           string
	mu           sync.Mutex
	received     []Message
	abandoned    []Message
	receiveCount atomic.Int32
	startCalled  atomic.Bool
	stopCalled   atomic.Bool
	block        chan struct{}
}

func newTestActor(id string) *testActor {
	return &testActor{id: id}
}

func (a *testActor) ID() string { return a.id }

func (a *testActor) Start(ctx context.Context) error {
	a.startCalled.Store(true)
	return nil
}

func (a *testActor) Stop(ctx context.Context) error {
	a.stopCalled.Store(true)
	return nil
}

func (a *testActor) Receive(ctx context.Context, msg Message) error {
	if a.block != nil {
		<-a.block
	}
	a.receiveCount.Add(1)

	a.mu.Lock()
	a.received = append(a.received, msg)
	a.mu.Unlock()

	switch msg.(type) {
	case *panicMessage:
		panic("boom")
	case *errorMessage:
		return errors.New("error message received")
	}
	return nil
}

func (a *testActor) Abandon(msg Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.abandoned = append(a.abandoned, msg)
}

func (a *testActor) receivedIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.received))
	for _, m := range a.received {
		if tm, ok := m.(*testMessage); ok {
			ids = append(ids, tm.ID)
		}
	}
	return ids
}

func (a *testActor) abandonedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.abandoned)
}
