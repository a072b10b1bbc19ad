package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jolby/TiREPL/internal/admin"
	"github.com/jolby/TiREPL/internal/config"
	"github.com/jolby/TiREPL/internal/consts"
	"github.com/jolby/TiREPL/internal/engine"
	"github.com/jolby/TiREPL/internal/gateway"
	"github.com/jolby/TiREPL/internal/logger"
	"github.com/jolby/TiREPL/internal/pidfile"
	"github.com/jolby/TiREPL/internal/preload"
	"github.com/jolby/TiREPL/internal/replserver"
)

type serveFlags struct {
	host        string
	port        int
	admin       string
	preloadDir  string
	watch       bool
	logLevel    string
	evalTimeout time.Duration
	pidFile     string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REPL server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, cfg); err != nil {
				return err
			}
			if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Global().Close()

			return serve(cmd.Context(), cfg, func(replAddr, adminAddr string) {
				fmt.Fprintf(cmd.OutOrStdout(), "REPL listening on %s\n", replAddr)
				if adminAddr != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Admin listening on http://%s\n", adminAddr)
				}
			})
		},
	}

	flags.bind(cmd)
	return cmd
}

func (f *serveFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.host, "host", "", "listen host (default all interfaces)")
	fs.IntVarP(&f.port, "port", "p", consts.DefaultListenPort, "listen port")
	fs.StringVar(&f.admin, "admin", "", "admin HTTP address, e.g. 127.0.0.1:8089")
	fs.StringVar(&f.preloadDir, "preload", "", "directory of *.js files evaluated at startup")
	fs.BoolVar(&f.watch, "watch", false, "re-evaluate preload scripts when they change")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn, error or none")
	fs.DurationVar(&f.evalTimeout, "eval-timeout", consts.EvalTimeout, "bounded wait for each evaluation")
	fs.StringVar(&f.pidFile, "pid-file", "", "write the server pid here and refuse to start if another instance holds it")
}

// apply overrides cfg with the flags that were set explicitly.
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("host") {
		cfg.ListenHost = f.host
	}
	if changed("port") {
		cfg.ListenPort = f.port
	}
	if changed("admin") {
		cfg.AdminAddr = f.admin
	}
	if changed("preload") {
		cfg.PreloadDir = f.preloadDir
	}
	if changed("watch") {
		cfg.WatchPreload = f.watch
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("eval-timeout") {
		cfg.EvalTimeout = f.evalTimeout
	}
	if changed("pid-file") {
		cfg.PidFile = f.pidFile
	}
	return cfg.Validate()
}

// serve runs the engine gateway, the REPL listener and the optional admin
// server and preload watcher until ctx is done.
func serve(ctx context.Context, cfg *config.Config, ready func(replAddr, adminAddr string)) error {
	log := logger.Global()

	if cfg.PidFile != "" {
		pf := pidfile.New(cfg.PidFile)
		if err := pf.Acquire(); err != nil {
			return err
		}
		defer func() {
			if err := pf.Release(); err != nil {
				log.Warn("%v", err)
			}
		}()
	}

	gw := gateway.New(engine.NewJSEngine(), gateway.Options{
		Timeout:     cfg.EvalTimeout,
		MailboxSize: cfg.MailboxSize,
		Logger:      log,
	})
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine gateway: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), consts.AdminShutdownTimeout)
		defer cancel()
		if err := gw.Stop(stopCtx); err != nil {
			log.Warn("Engine gateway did not stop cleanly: %v", err)
		}
	}()

	var loader *preload.Loader
	if cfg.PreloadDir != "" {
		loader = preload.NewLoader(cfg.PreloadDir, gw, log)
		if _, err := loader.LoadAll(ctx); err != nil {
			return err
		}
	}

	srv := replserver.NewServer(gw, cfg.ListenHost, cfg.ListenPort, replserver.Options{
		PollInterval: cfg.PollInterval,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       log,
	})
	if err := srv.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	var adminAddr string
	if cfg.AdminAddr != "" {
		adm := admin.NewServer(cfg.AdminAddr, srv, gw, log)
		if cfg.AdminPprof {
			adm.EnableProfiling()
		}
		if err := adm.Listen(); err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), consts.AdminShutdownTimeout)
			defer cancel()
			if stopErr := srv.Stop(stopCtx); stopErr != nil {
				log.Warn("REPL server did not stop cleanly: %v", stopErr)
			}
			return err
		}
		adminAddr = adm.Addr().String()
		g.Go(func() error { return adm.Run(gctx) })
	}

	if loader != nil && cfg.WatchPreload {
		g.Go(func() error { return loader.Watch(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), consts.AdminShutdownTimeout)
		defer cancel()
		return srv.Stop(stopCtx)
	})

	log.Info("tirepl %s serving on %s", version, srv.Addr())
	if ready != nil {
		ready(srv.Addr(), adminAddr)
	}
	return g.Wait()
}
