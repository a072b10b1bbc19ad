package replserver

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/jolby/TiREPL/internal/consts"
	"github.com/jolby/TiREPL/internal/logger"
)

// acceptBackoff throttles the accept loop after a non-timeout error.
const acceptBackoff = 50 * time.Millisecond

// Options configures a Listener and its sessions. Zero values take the
// package defaults.
type Options struct {
	PollInterval time.Duration
	WriteTimeout time.Duration
	Logger       *logger.Logger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = consts.PollInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = consts.WriteTimeout
	}
	if o.Logger == nil {
		o.Logger = logger.Global()
	}
	return o
}

// Listener accepts REPL connections on one address. It is single use: once
// Run returns, create a new Listener to serve again.
type Listener struct {
	addr string
	eval Evaluator
	opts Options
	log  *logger.Logger

	ln       *net.TCPListener
	reg      *registry
	shutdown atomic.Bool
	done     chan struct{}
	accepted atomic.Int64
}

// NewListener prepares a listener for addr ("host:port").
func NewListener(addr string, eval Evaluator, opts Options) *Listener {
	opts = opts.withDefaults()
	l := &Listener{
		addr: addr,
		eval: eval,
		opts: opts,
		log:  opts.Logger.WithPrefix("listener"),
		reg:  newRegistry(opts.Logger.WithPrefix("registry")),
		done: make(chan struct{}),
	}
	go l.reg.run()
	return l
}

// Listen binds the socket. On failure the listener is finished: Done is
// closed and Run returns immediately.
func (l *Listener) Listen() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		l.log.Error("Failed to bind %s: %v", l.addr, err)
		l.reg.sweep()
		close(l.done)
		return fmt.Errorf("failed to listen on %s: %w", l.addr, err)
	}
	l.ln = ln.(*net.TCPListener)
	l.log.Info("Listening on %s", l.ln.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Run is the accept loop. It returns after RequestShutdown has been observed,
// the socket closed and every remaining session signalled.
func (l *Listener) Run() {
	if l.ln == nil {
		return
	}
	defer close(l.done)

	for !l.shutdown.Load() {
		if err := l.ln.SetDeadline(time.Now().Add(l.opts.PollInterval)); err != nil {
			l.log.Error("Failed to set accept deadline: %v", err)
			break
		}

		conn, err := l.ln.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				l.log.Info("Listener closed, exiting accept loop")
				break
			}
			l.log.Error("Error accepting connection: %v", err)
			time.Sleep(acceptBackoff)
			continue
		}

		l.serve(conn)
	}

	if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		l.log.Warn("Error closing listener: %v", err)
	}

	remaining := l.reg.sweep()
	for _, s := range remaining {
		s.Stop()
	}
	l.log.Info("Accept loop stopped (%d sessions signalled)", len(remaining))
}

func (l *Listener) serve(conn net.Conn) {
	s := newSession(conn, l.eval, l.opts, l.onSessionEnd)
	if !l.reg.add(s) {
		conn.Close()
		return
	}
	l.accepted.Add(1)
	l.log.Info("New connection accepted: %s from %s", s.ID(), conn.RemoteAddr())
	go s.Run()
}

// onSessionEnd is called by a session after cleanup. Unknown sessions and
// calls after the sweep are ignored.
func (l *Listener) onSessionEnd(s *Session) {
	l.reg.remove(s)
}

// RequestShutdown sets the shutdown flag. It does not block.
func (l *Listener) RequestShutdown() {
	if l.shutdown.CompareAndSwap(false, true) {
		l.log.Info("Shutdown requested")
	}
}

// Done is closed when the accept loop has exited.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Sessions lists live sessions. It is empty once the listener has stopped.
func (l *Listener) Sessions() []SessionInfo {
	return sessionInfos(l.reg.snapshot())
}

// Accepted counts connections accepted over the listener's lifetime.
func (l *Listener) Accepted() int64 {
	return l.accepted.Load()
}
