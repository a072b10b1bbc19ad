package replserver

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jolby/TiREPL/internal/logger"
)

func pipeSession(t *testing.T) *Session {
	t.Helper()
	s, _ := pipeSessionWithPeer(t)
	return s
}

func pipeSessionWithPeer(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return newSession(server, nil, Options{}.withDefaults(), nil), client
}

func TestRegistryLifecycle(t *testing.T) {
	r := newRegistry(logger.Global())
	go r.run()

	a, b := pipeSession(t), pipeSession(t)
	require.True(t, r.add(a))
	require.True(t, r.add(b))
	assert.Len(t, r.snapshot(), 2)

	r.remove(a)
	r.remove(a)
	r.remove(pipeSession(t))
	remaining := r.snapshot()
	require.Len(t, remaining, 1)
	assert.Equal(t, b.ID(), remaining[0].ID())

	swept := r.sweep()
	require.Len(t, swept, 1)
	assert.Same(t, b, swept[0])

	<-r.done
	r.remove(b)
	assert.False(t, r.add(pipeSession(t)))
	assert.Empty(t, r.snapshot())
	assert.Empty(t, r.sweep())
}

func TestSessionIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := pipeSession(t).ID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
