package replserver

import (
	"bufio"
	"bytes"
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingConn struct {
	net.Conn
	read atomic.Int64
}

func (c *countingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.read.Add(int64(n))
	return n, err
}

func TestReadLineRejectsOversizedLineEarly(t *testing.T) {
	s, peer := pipeSessionWithPeer(t)
	conn := &countingConn{Conn: s.conn}
	s.reader = bufio.NewReaderSize(conn, 64)
	s.maxLineBytes = 256

	go func() {
		_, _ = peer.Write(bytes.Repeat([]byte("x"), 64*1024))
	}()

	_, err := s.readLine()
	require.ErrorIs(t, err, errLineTooLong)
	assert.LessOrEqual(t, conn.read.Load(), int64(256+64))
}

func TestReadLineAcrossBufferBoundaries(t *testing.T) {
	s, peer := pipeSessionWithPeer(t)
	s.reader = bufio.NewReaderSize(s.conn, 16)

	line := bytes.Repeat([]byte("ab"), 40)
	go func() {
		_, _ = peer.Write(append(line, '\r', '\n'))
	}()

	got, err := s.readLine()
	require.NoError(t, err)
	assert.Equal(t, string(line), got)
}
