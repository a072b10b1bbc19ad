// Package admin exposes the REPL server's host controls over HTTP.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	netpprof "net/http/pprof"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/jolby/TiREPL/internal/actor"
	"github.com/jolby/TiREPL/internal/consts"
	"github.com/jolby/TiREPL/internal/gateway"
	"github.com/jolby/TiREPL/internal/logger"
	"github.com/jolby/TiREPL/internal/replserver"
)

// Controller is the host-facing REPL control surface. *replserver.Server
// implements it.
type Controller interface {
	Start() error
	Stop(ctx context.Context) error
	Port() int
	SetPort(port int) error
	Status() replserver.Status
	Sessions() []replserver.SessionInfo
}

// EngineMonitor reports on the engine gateway. *gateway.Gateway implements it.
type EngineMonitor interface {
	Health(ctx context.Context) actor.HealthReport
	Stats() gateway.Stats
}

// Server provides the HTTP control interface.
type Server struct {
	addr   string
	ctrl   Controller
	engine EngineMonitor
	log    *logger.Logger
	router *httprouter.Router
	server *http.Server
	ln     net.Listener
}

type portBody struct {
	Port int `json:"port"`
}

type healthBody struct {
	Status actor.HealthStatus `json:"status"`
	Time   string             `json:"time"`
	Engine actor.HealthReport `json:"engine"`
	Repl   replserver.Status  `json:"repl"`
}

// NewServer creates an admin server for addr ("host:port").
func NewServer(addr string, ctrl Controller, engine EngineMonitor, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Global()
	}
	s := &Server{
		addr:   addr,
		ctrl:   ctrl,
		engine: engine,
		log:    log.WithPrefix("admin"),
		router: httprouter.New(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/status", s.handleStatus)
	s.router.POST("/start", s.handleStart)
	s.router.POST("/stop", s.handleStop)
	s.router.GET("/port", s.handleGetPort)
	s.router.PUT("/port", s.handleSetPort)
	s.router.GET("/sessions", s.handleSessions)
	s.router.GET("/health", s.handleHealth)

	s.router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v interface{}) {
		s.log.Error("Panic serving %s %s: %v", r.Method, r.URL.Path, v)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// EnableProfiling mounts the runtime profiler under /debug/pprof/.
func (s *Server) EnableProfiling() {
	s.router.GET("/debug/pprof/*item", s.handlePprof)
	s.router.POST("/debug/pprof/*item", s.handlePprof)
}

// Listen binds the admin address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.NewStdLogger(s.log, logger.LevelWarn),
	}
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Admin server listening on %s", s.ln.Addr())
		errCh <- s.server.Serve(s.ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), consts.AdminShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin shutdown: %w", err)
	}
	s.log.Info("Admin server stopped")
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.ctrl.Start(); err != nil {
		if errors.Is(err, replserver.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.log.Error("Start failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info("REPL server started via admin on port %d", s.ctrl.Port())
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), consts.AdminShutdownTimeout)
	defer cancel()
	if err := s.ctrl.Stop(ctx); err != nil {
		s.log.Error("Stop failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info("REPL server stopped via admin")
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleGetPort(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, portBody{Port: s.ctrl.Port()})
}

func (s *Server) handleSetPort(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body portBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if err := s.ctrl.SetPort(body.Port); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, portBody{Port: s.ctrl.Port()})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.ctrl.Sessions())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), consts.HealthCheckTimeout)
	defer cancel()

	report := s.engine.Health(ctx)
	body := healthBody{
		Status: report.Status,
		Time:   time.Now().Format(time.RFC3339),
		Engine: report,
		Repl:   s.ctrl.Status(),
	}

	code := http.StatusOK
	if report.Status == actor.HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}

func (s *Server) handlePprof(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	switch ps.ByName("item") {
	case "/cmdline":
		netpprof.Cmdline(w, r)
	case "/profile":
		netpprof.Profile(w, r)
	case "/symbol":
		netpprof.Symbol(w, r)
	case "/trace":
		netpprof.Trace(w, r)
	default:
		netpprof.Index(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
