package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jolby/TiREPL/internal/config"
	"github.com/jolby/TiREPL/internal/engine/enginetest"
	"github.com/jolby/TiREPL/internal/gateway"
	"github.com/jolby/TiREPL/internal/replclient"
	"github.com/jolby/TiREPL/internal/replserver"
	"github.com/jolby/TiREPL/internal/wire"
)

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "tirepl dev\n", out.String())
}

func newFlagsCmd(t *testing.T, args ...string) (*cobra.Command, *serveFlags) {
	t.Helper()
	flags := &serveFlags{}
	cmd := &cobra.Command{Use: "serve"}
	flags.bind(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, flags
}

func TestServeFlagsOverrideConfig(t *testing.T) {
	cmd, flags := newFlagsCmd(t, "--port", "6010", "--eval-timeout", "2s", "--admin", "127.0.0.1:0")

	cfg := config.DefaultConfig()
	cfg.ListenHost = "10.0.0.1"
	require.NoError(t, flags.apply(cmd, cfg))

	assert.Equal(t, 6010, cfg.ListenPort)
	assert.Equal(t, 2*time.Second, cfg.EvalTimeout)
	assert.Equal(t, "127.0.0.1:0", cfg.AdminAddr)
	assert.Equal(t, "10.0.0.1", cfg.ListenHost, "unset flag must not override config")
}

func TestServeFlagsValidate(t *testing.T) {
	cmd, flags := newFlagsCmd(t, "--watch")
	assert.ErrorIs(t, flags.apply(cmd, config.DefaultConfig()), config.ErrInvalidConfig)
}

func TestServeEndToEnd(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boot.js"), []byte("var greeting = 'hi from preload';"), 0o644))

	cfg := config.DefaultConfig()
	cfg.ListenHost = "127.0.0.1"
	cfg.ListenPort = 0
	cfg.PollInterval = 20 * time.Millisecond
	cfg.EvalTimeout = 300 * time.Millisecond
	cfg.PreloadDir = dir
	cfg.PidFile = filepath.Join(t.TempDir(), "tirepl.pid")

	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, func(replAddr, _ string) { addrCh <- replAddr })
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not become ready")
	}

	_, err := os.Stat(cfg.PidFile)
	require.NoError(t, err, "pid file written while serving")

	c, err := replclient.Dial(context.Background(), addr, nil)
	require.NoError(t, err)
	defer c.Close()

	out, err := c.Eval("greeting")
	require.NoError(t, err)
	assert.Equal(t, "hi from preload", out)

	out, err = c.Eval("1/0")
	require.NoError(t, err)
	assert.Equal(t, "Infinity", out)

	resp, err := c.Message("null.x")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusError, resp.Status)

	start := time.Now()
	out, err = c.Eval("while (true) {}")
	require.NoError(t, err)
	assert.Contains(t, out, "timed out")
	assert.Less(t, time.Since(start), 3*time.Second)

	out, err = c.Eval("[1, 2].length")
	require.NoError(t, err)
	assert.Equal(t, "2", out)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
	_, err = os.Stat(cfg.PidFile)
	assert.True(t, os.IsNotExist(err), "pid file removed on exit")
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestServeAdminBindFailureStopsRepl(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := config.DefaultConfig()
	cfg.ListenHost = "127.0.0.1"
	cfg.ListenPort = freePort(t)
	cfg.PollInterval = 20 * time.Millisecond
	cfg.AdminAddr = taken.Addr().String()
	cfg.PidFile = filepath.Join(t.TempDir(), "tirepl.pid")

	ready := false
	err = serve(context.Background(), cfg, func(string, string) { ready = true })
	require.Error(t, err)
	assert.False(t, ready)

	_, statErr := os.Stat(cfg.PidFile)
	assert.True(t, os.IsNotExist(statErr), "pid file removed on failure")

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	require.NoError(t, err, "REPL port released")
	ln.Close()
}

func startFakeServer(t *testing.T) string {
	t.Helper()
	gw := gateway.New(enginetest.NewFake(), gateway.Options{Timeout: time.Second})
	require.NoError(t, gw.Start(context.Background()))
	srv := replserver.NewServer(gw, "127.0.0.1", 0, replserver.Options{PollInterval: 20 * time.Millisecond})
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		_ = srv.Stop(context.Background())
		_ = gw.Stop(context.Background())
	})
	return srv.Addr()
}

func TestConnectRelaysLines(t *testing.T) {
	addr := startFakeServer(t)

	var out bytes.Buffer
	in := strings.NewReader("1+1\nhello\n/quit\nnever sent\n")
	require.NoError(t, connect(context.Background(), addr, &connectFlags{}, in, &out, false))

	assert.Equal(t, wire.Greeting+"\n2\nhello\nBye!\n", out.String())
}

func TestConnectInteractivePrompts(t *testing.T) {
	addr := startFakeServer(t)

	var out bytes.Buffer
	require.NoError(t, connect(context.Background(), addr, &connectFlags{}, strings.NewReader("2+2\n"), &out, true))
	assert.Equal(t, wire.Greeting+"\n"+wire.Prompt+"4\n"+wire.Prompt, out.String())
}

func TestConnectMessageMode(t *testing.T) {
	addr := startFakeServer(t)

	var out bytes.Buffer
	require.NoError(t, connect(context.Background(), addr, &connectFlags{message: true}, strings.NewReader("1/0\n"), &out, false))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"id":1`)
	assert.Contains(t, lines[1], `"status":"error"`)
	assert.Contains(t, lines[1], `"type":"eval_response"`)
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	err = connect(context.Background(), addr, &connectFlags{timeout: time.Second}, strings.NewReader(""), &bytes.Buffer{}, false)
	assert.Error(t, err)
}
