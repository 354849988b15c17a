package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pipelined/internal/config"
	"pipelined/internal/httpapi"
	"pipelined/internal/server"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Run the pipeline server and its REST API",
		Example: "  pipelined serve --config pipelined.yaml\n  pipelined serve --config redis://localhost:6379/0?key=pipelined:config",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(parent context.Context, opts *options) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, log := opts.cfg, opts.log
	srv := server.New()
	if err := srv.Start(server.Options{Config: cfg, Logger: log}); err != nil {
		return err
	}

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, nil, nil)
	httpapi.SetBaseContext(ctx)
	hs := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(srv.API()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if opts.src != nil {
		go func() {
			err := opts.src.Watch(ctx, func(next config.Config) {
				next = opts.override(next).WithDefaults()
				srv.Apply(next)
				zerolog.SetGlobalLevel(parseLogLevel(next.LogLevel))
				log.Info().Str("event", "config_reloaded").Str("source", opts.src.String()).
					Int("max_running_pipelines", next.MaxRunningPipelines).Str("log_level", next.LogLevel).Msg("configuration applied")
			})
			if err != nil {
				log.Warn().Str("event", "config_watch_failed").Err(err).Msg("configuration updates disabled")
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("event", "http_listening").Str("addr", cfg.Addr).Msg("pipelined listening")
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Str("event", "shutdown_requested").Msg("shutting down")
	case runErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		log.Warn().Str("event", "http_shutdown").Err(err).Msg("graceful shutdown error")
	}
	if err := srv.Stop(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
