package replserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jolby/TiREPL/internal/consts"
	"github.com/jolby/TiREPL/internal/gateway"
	"github.com/jolby/TiREPL/internal/logger"
	"github.com/jolby/TiREPL/internal/wire"
)

// Evaluator runs script source on behalf of a session. *gateway.Gateway
// implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, src string) gateway.Outcome
}

var (
	errSessionStopped = errors.New("session stopped")
	errLineTooLong    = errors.New("input line too long")
)

// Session serves one client connection.
type Session struct {
	id        string
	conn      net.Conn
	reader    *bufio.Reader
	writer    *bufio.Writer
	eval      Evaluator
	onEnd     func(*Session)
	log       *logger.Logger
	startedAt time.Time

	pollInterval time.Duration
	writeTimeout time.Duration
	maxLineBytes int

	ctx    context.Context
	cancel context.CancelFunc

	stopping    atomic.Bool
	evaluations atomic.Int64
	cleanupOnce sync.Once
	done        chan struct{}
}

func newSession(conn net.Conn, eval Evaluator, opts Options, onEnd func(*Session)) *Session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:           id,
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writer:       bufio.NewWriter(conn),
		eval:         eval,
		onEnd:        onEnd,
		log:          opts.Logger.WithPrefix("session:" + id),
		startedAt:    time.Now(),
		pollInterval: opts.PollInterval,
		writeTimeout: opts.WriteTimeout,
		maxLineBytes: consts.MaxLineBytes,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

// ID returns the session identifier. It never changes.
func (s *Session) ID() string {
	return s.id
}

// Info returns a snapshot for listings.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:          s.id,
		RemoteAddr:  s.conn.RemoteAddr().String(),
		StartedAt:   s.startedAt,
		Evaluations: s.evaluations.Load(),
	}
}

// Stop asks the session to end. The read loop notices within one poll
// interval; an evaluation in progress stops waiting immediately.
func (s *Session) Stop() {
	if s.stopping.CompareAndSwap(false, true) {
		s.log.Debug("Stop requested")
	}
	s.cancel()
}

// Done is closed once the session has cleaned up.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run serves the connection until the client quits, an IO error occurs or
// Stop is called.
func (s *Session) Run() {
	defer s.cleanup()

	s.log.Info("Session started for %s", s.conn.RemoteAddr())
	if err := s.writeLine(wire.Greeting); err != nil {
		s.logExit(err)
		return
	}
	if err := s.prompt(); err != nil {
		s.logExit(err)
		return
	}

	for {
		line, err := s.readLine()
		if err != nil {
			s.logExit(err)
			return
		}

		quit, err := s.dispatch(line)
		if err != nil {
			s.logExit(err)
			return
		}
		if quit {
			s.log.Info("Client quit")
			return
		}
	}
}

func (s *Session) dispatch(line string) (bool, error) {
	cmd := wire.Classify(line)
	switch cmd.Kind {
	case wire.CommandQuit:
		return true, s.writeLine(wire.Farewell)

	case wire.CommandSessionID:
		if err := s.writeLine(wire.SessionIDLine(s.id)); err != nil {
			return false, err
		}
		return false, s.prompt()

	case wire.CommandMessage:
		req, err := wire.DecodeRequest(cmd.Payload)
		if err != nil {
			s.log.Warn("Unable to decode message %q: %v", truncate(cmd.Payload, 64), err)
			return false, nil
		}

		resp := wire.NewResponse(req)
		resp.SetOutcome(s.evaluate(req.Src))
		encoded, err := resp.Encode()
		if err != nil {
			s.log.Error("Dropping response %d: %v", req.ID, err)
			return false, nil
		}
		if err := s.writeLine(wire.ResponseLine(encoded)); err != nil {
			return false, err
		}
		return false, s.prompt()

	default:
		out := s.evaluate(cmd.Payload)
		if err := s.writeLine(out.Text()); err != nil {
			return false, err
		}
		return false, s.prompt()
	}
}

func (s *Session) evaluate(src string) gateway.Outcome {
	s.evaluations.Add(1)
	out := s.eval.Evaluate(s.ctx, src)
	if gateway.IsMechanismError(out.Err) {
		s.log.Warn("Evaluation failed: %v", out.Err)
	}
	return out
}

// readLine polls the connection until a full line arrives. Bytes received
// before a poll timeout are kept for the next attempt.
func (s *Session) readLine() (string, error) {
	var buf strings.Builder
	for {
		if s.stopping.Load() {
			return "", errSessionStopped
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(s.pollInterval)); err != nil {
			return "", fmt.Errorf("set read deadline: %w", err)
		}

		// ReadSlice does not grow the reader's buffer.
		chunk, err := s.reader.ReadSlice('\n')
		buf.Write(chunk)
		if buf.Len() > s.maxLineBytes {
			return "", errLineTooLong
		}
		if err == nil {
			return strings.TrimRight(buf.String(), "\r\n"), nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}
		return "", err
	}
}

func (s *Session) writeLine(line string) error {
	return s.write(line + "\n")
}

func (s *Session) prompt() error {
	return s.write(wire.Prompt)
}

func (s *Session) write(text string) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := s.writer.WriteString(text); err != nil {
		return err
	}
	return s.writer.Flush()
}

func (s *Session) logExit(err error) {
	switch {
	case errors.Is(err, errSessionStopped):
		s.log.Info("Session stopped by listener")
	case errors.Is(err, io.EOF):
		s.log.Info("Client disconnected (EOF)")
	case errors.Is(err, net.ErrClosed):
		s.log.Info("Connection closed")
	default:
		s.log.Error("Session IO error: %v", err)
	}
}

func (s *Session) cleanup() {
	s.cleanupOnce.Do(func() {
		s.stopping.Store(true)
		s.cancel()
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Debug("Close: %v", err)
		}
		if s.onEnd != nil {
			s.onEnd(s)
		}
		close(s.done)
		s.log.Info("Session ended after %d evaluations", s.evaluations.Load())
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
