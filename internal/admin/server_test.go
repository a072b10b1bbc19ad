package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jolby/TiREPL/internal/engine/enginetest"
	"github.com/jolby/TiREPL/internal/gateway"
	"github.com/jolby/TiREPL/internal/replclient"
	"github.com/jolby/TiREPL/internal/replserver"
)

type fixture struct {
	repl  *replserver.Server
	gw    *gateway.Gateway
	admin *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gw := gateway.New(enginetest.NewFake(), gateway.Options{Timeout: time.Second})
	require.NoError(t, gw.Start(context.Background()))

	repl := replserver.NewServer(gw, "127.0.0.1", 0, replserver.Options{PollInterval: 20 * time.Millisecond})
	t.Cleanup(func() {
		_ = repl.Stop(context.Background())
		_ = gw.Stop(context.Background())
	})
	return &fixture{repl: repl, gw: gw, admin: NewServer("127.0.0.1:0", repl, gw, nil)}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.admin.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestStatusWhenStopped(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	st := decode[replserver.Status](t, rec)
	assert.False(t, st.Running)
	assert.Equal(t, 0, st.Port)
}

func TestStartStopCycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/start", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decode[replserver.Status](t, rec)
	assert.True(t, st.Running)
	assert.NotZero(t, st.Port)

	rec = f.do(t, http.MethodPost, "/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	c, err := replclient.Dial(context.Background(), st.Addr, nil)
	require.NoError(t, err)
	defer c.Close()
	require.Eventually(t, func() bool {
		var sessions []replserver.SessionInfo
		rec := f.do(t, http.MethodGet, "/sessions", "")
		return json.Unmarshal(rec.Body.Bytes(), &sessions) == nil && len(sessions) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec = f.do(t, http.MethodPost, "/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[replserver.Status](t, rec).Running)

	rec = f.do(t, http.MethodPost, "/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPort(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/port", `{"port":5099}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5099, decode[portBody](t, rec).Port)

	rec = f.do(t, http.MethodGet, "/port", "")
	assert.Equal(t, 5099, decode[portBody](t, rec).Port)

	rec = f.do(t, http.MethodPut, "/port", `{"port":99999}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "invalid port")

	rec = f.do(t, http.MethodPut, "/port", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, "2", f.gw.Evaluate(context.Background(), "1+1").Text())

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string `json:"status"`
		Engine struct {
			ActorID string `json:"actor_id"`
			Metrics struct {
				Custom gateway.Stats `json:"custom_metrics"`
			} `json:"metrics"`
		} `json:"engine"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "engine-gateway", body.Engine.ActorID)
	assert.Equal(t, int64(1), body.Engine.Metrics.Custom.Completed)
}

func TestHealthWhenEngineStopped(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.gw.Stop(context.Background()))

	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decode[map[string]any](t, rec)["status"])
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/start", "").Code)
}

func TestProfilingRoutes(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/debug/pprof/", "").Code)

	f.admin.EnableProfiling()
	rec := f.do(t, http.MethodGet, "/debug/pprof/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine")

	rec = f.do(t, http.MethodGet, "/debug/pprof/goroutine?debug=1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine profile")

	rec = f.do(t, http.MethodGet, "/debug/pprof/cmdline", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunServesAndShutsDown(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.admin.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.admin.Run(ctx) }()

	resp, err := http.Get("http://" + f.admin.Addr().String() + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("admin server did not shut down")
	}
}
