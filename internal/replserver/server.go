package replserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jolby/TiREPL/internal/consts"
)

var (
	// ErrAlreadyRunning is returned by Start while a listener is active.
	ErrAlreadyRunning = errors.New("repl server is already running")
	// ErrInvalidPort is returned by SetPort for values outside 0..65535.
	ErrInvalidPort = errors.New("invalid port")
)

// Status is a point-in-time view of the server.
type Status struct {
	Running   bool      `json:"running"`
	Addr      string    `json:"addr,omitempty"`
	Port      int       `json:"port"`
	Sessions  int       `json:"sessions"`
	Accepted  int64     `json:"accepted"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Server is the host-facing control surface: it owns the configured port and
// at most one running Listener.
type Server struct {
	eval Evaluator
	opts Options
	host string

	mu        sync.Mutex
	port      int
	listener  *Listener
	startedAt time.Time
}

// NewServer creates a stopped server. A port of 0 picks a free port on Start.
func NewServer(eval Evaluator, host string, port int, opts Options) *Server {
	return &Server{
		eval: eval,
		opts: opts.withDefaults(),
		host: host,
		port: port,
	}
}

// Start binds the configured port and begins accepting in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeLocked() {
		return ErrAlreadyRunning
	}

	l := NewListener(net.JoinHostPort(s.host, strconv.Itoa(s.port)), s.eval, s.opts)
	if err := l.Listen(); err != nil {
		return err
	}
	s.listener = l
	s.startedAt = time.Now()
	go l.Run()
	return nil
}

// Stop requests shutdown and waits for the accept loop to exit, or for ctx.
// Sessions are signalled but not waited for. Stopping a stopped server is a
// no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return nil
	}

	l.RequestShutdown()
	select {
	case <-l.Done():
	case <-ctx.Done():
		return fmt.Errorf("waiting for listener: %w", ctx.Err())
	}

	s.mu.Lock()
	if s.listener == l {
		s.listener = nil
	}
	s.mu.Unlock()
	return nil
}

// IsRunning reports whether a listener is accepting.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

func (s *Server) activeLocked() bool {
	if s.listener == nil {
		return false
	}
	select {
	case <-s.listener.Done():
		return false
	default:
		return true
	}
}

// Port returns the bound port while running, else the configured port.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeLocked() {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.port
}

// SetPort changes the port used by the next Start.
func (s *Server) SetPort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.port = port
	return nil
}

// Addr returns the bound address, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked() {
		return ""
	}
	return s.listener.Addr().String()
}

// Sessions lists live sessions of the running listener.
func (s *Server) Sessions() []SessionInfo {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return []SessionInfo{}
	}
	return l.Sessions()
}

// Status summarises the server.
func (s *Server) Status() Status {
	s.mu.Lock()
	l := s.listener
	running := s.activeLocked()
	st := Status{Running: running, Port: s.port}
	if running {
		st.StartedAt = s.startedAt
		st.Addr = l.Addr().String()
		if addr, ok := l.Addr().(*net.TCPAddr); ok {
			st.Port = addr.Port
		}
	}
	s.mu.Unlock()

	if l != nil {
		st.Accepted = l.Accepted()
		if running {
			st.Sessions = len(l.Sessions())
		}
	}
	return st
}

// DefaultPort is the port used when none is configured.
const DefaultPort = consts.DefaultListenPort
