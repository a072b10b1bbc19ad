package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stopRef(t *testing.T, ref *ActorRef) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ref.Stop(ctx))
}

func TestActorRefStartStop(t *testing.T) {
	a := newTestActor("gateway")
	ref := NewActorRef("gateway", a, 10)

	require.NoError(t, ref.Start(context.Background()))
	assert.True(t, a.startCalled.Load())
	assert.Error(t, ref.Start(context.Background()), "second Start must fail")

	stopRef(t, ref)
	assert.True(t, a.stopCalled.Load())

	// Stop is idempotent.
	stopRef(t, ref)
}

func TestActorRefSendBeforeStart(t *testing.T) {
	ref := NewActorRef("idle", newTestActor("idle"), 1)
	err := ref.Send(&testMessage{ID: "1"})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestActorRefSendAfterStop(t *testing.T) {
	ref := NewActorRef("stopped", newTestActor("stopped"), 1)
	require.NoError(t, ref.Start(context.Background()))
	stopRef(t, ref)

	assert.ErrorIs(t, ref.Send(&testMessage{ID: "late"}), ErrStopped)
}

func TestActorRefProcessesInOrder(t *testing.T) {
	a := newTestActor("fifo")
	ref := NewActorRef("fifo", a, 100)
	require.NoError(t, ref.Start(context.Background()))
	defer stopRef(t, ref)

	want := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("msg-%d", i)
		want = append(want, id)
		require.NoError(t, ref.Send(&testMessage{ID: id}))
	}

	assert.Eventually(t, func() bool { return a.receiveCount.Load() == 50 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, a.receivedIDs())
}

func TestActorRefMailboxFull(t *testing.T) {
	a := newTestActor("full")
	a.block = make(chan struct{})
	ref := NewActorRef("full", a, 1)
	require.NoError(t, ref.Start(context.Background()))

	// First message is taken by the run loop and blocks, second fills the mailbox.
	require.NoError(t, ref.Send(&testMessage{ID: "running"}))
	require.Eventually(t, func() bool { return len(ref.mailbox) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, ref.Send(&testMessage{ID: "queued"}))

	err := ref.Send(&testMessage{ID: "rejected"})
	assert.ErrorIs(t, err, ErrMailboxFull)

	close(a.block)
	stopRef(t, ref)
}

func TestActorRefSurvivesPanicAndError(t *testing.T) {
	a := newTestActor("sturdy")
	ref := NewActorRef("sturdy", a, 10)
	require.NoError(t, ref.Start(context.Background()))
	defer stopRef(t, ref)

	require.NoError(t, ref.Send(&panicMessage{}))
	require.NoError(t, ref.Send(&errorMessage{}))
	require.NoError(t, ref.Send(&testMessage{ID: "after"}))

	assert.Eventually(t, func() bool { return a.receiveCount.Load() == 3 }, time.Second, 5*time.Millisecond)

	report := ref.Health()
	assert.Equal(t, int64(2), report.Metrics.ErrorCount)
	assert.Equal(t, HealthStatusDegraded, report.Status)
}

func TestActorRefAbandonsQueuedMessagesOnStop(t *testing.T) {
	a := newTestActor("abandon")
	a.block = make(chan struct{})
	ref := NewActorRef("abandon", a, 10)
	require.NoError(t, ref.Start(context.Background()))

	require.NoError(t, ref.Send(&testMessage{ID: "running"}))
	require.Eventually(t, func() bool { return len(ref.mailbox) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, ref.Send(&testMessage{ID: "queued-1"}))
	require.NoError(t, ref.Send(&testMessage{ID: "queued-2"}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		stopRef(t, ref)
	}()

	// Let Stop cancel the loop before the running message returns.
	time.Sleep(20 * time.Millisecond)
	close(a.block)
	wg.Wait()

	assert.Equal(t, 2, a.abandonedCount())
}

func TestActorRefStopTimesOut(t *testing.T) {
	a := newTestActor("stuck")
	a.block = make(chan struct{})
	defer close(a.block)
	ref := NewActorRef("stuck", a, 1)
	require.NoError(t, ref.Start(context.Background()))
	require.NoError(t, ref.Send(&testMessage{ID: "forever"}))
	require.Eventually(t, func() bool { return len(ref.mailbox) == 0 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := ref.Stop(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
