package replserver

import (
	"sort"
	"time"

	"github.com/jolby/TiREPL/internal/logger"
)

// SessionInfo describes a live session.
type SessionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	StartedAt   time.Time `json:"started_at"`
	Evaluations int64     `json:"evaluations"`
}

type snapshotRequest struct {
	reply chan []*Session
	sweep bool
}

// registry owns the set of live sessions. All mutation happens on the run
// goroutine; callers talk to it over channels.
type registry struct {
	sessions   map[string]*Session
	register   chan *Session
	unregister chan *Session
	requests   chan snapshotRequest
	done       chan struct{}
	log        *logger.Logger
}

func newRegistry(log *logger.Logger) *registry {
	return &registry{
		sessions:   make(map[string]*Session),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		requests:   make(chan snapshotRequest),
		done:       make(chan struct{}),
		log:        log,
	}
}

func (r *registry) run() {
	defer close(r.done)
	for {
		select {
		case s := <-r.register:
			r.sessions[s.ID()] = s
			r.log.Info("Session registered: %s (total: %d)", s.ID(), len(r.sessions))

		case s := <-r.unregister:
			if _, ok := r.sessions[s.ID()]; ok {
				delete(r.sessions, s.ID())
				r.log.Info("Session unregistered: %s (total: %d)", s.ID(), len(r.sessions))
			}

		case req := <-r.requests:
			list := make([]*Session, 0, len(r.sessions))
			for _, s := range r.sessions {
				list = append(list, s)
			}
			req.reply <- list
			if req.sweep {
				r.sessions = nil
				return
			}
		}
	}
}

// add reports false if the registry has already been swept.
func (r *registry) add(s *Session) bool {
	select {
	case r.register <- s:
		return true
	case <-r.done:
		return false
	}
}

// remove tolerates unknown sessions and a swept registry.
func (r *registry) remove(s *Session) {
	select {
	case r.unregister <- s:
	case <-r.done:
	}
}

func (r *registry) snapshot() []*Session {
	return r.request(false)
}

// sweep returns the remaining sessions and stops the registry.
func (r *registry) sweep() []*Session {
	return r.request(true)
}

func (r *registry) request(sweep bool) []*Session {
	req := snapshotRequest{reply: make(chan []*Session, 1), sweep: sweep}
	select {
	case r.requests <- req:
		return <-req.reply
	case <-r.done:
		return nil
	}
}

func sessionInfos(sessions []*Session) []SessionInfo {
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}
