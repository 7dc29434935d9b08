package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	jwttoken "roster/internal/jwt_token"
	"roster/internal/participation/handler"
	"roster/internal/platform/httpserver"
	"roster/internal/platform/metrics"
	"roster/internal/platform/middleware"
	"roster/internal/platform/tracing"
	"roster/pkg/platform/httputil"
)

func serveCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the event dispatcher and the auto-close sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, version)
			if err != nil {
				return err
			}

			// Service metrics go to reg; the default registry carries the Go
			// runtime collectors and the package-level event dispatcher metrics.
			reg := prometheus.NewRegistry()

			a, err := buildApp(ctx, cfg, log, reg)
			if err != nil {
				return err
			}

			jwtService := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
			h := handler.New(a.engine, log, metrics.New(reg), jwttoken.NewJWTServiceAdapter(jwtService))

			r := chi.NewRouter()
			r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
			r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
				if err := a.health(r.Context()); err != nil {
					httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
					return
				}
				httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
			})
			r.Handle("/metrics", promhttp.HandlerFor(prometheus.Gatherers{reg, prometheus.DefaultGatherer}, promhttp.HandlerOpts{}))
			h.Register(r)

			srv := httpserver.New(cfg.Server, r)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("starting roster", "addr", cfg.Server.Addr, "version", version)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				return a.dispatcher.Run(gctx)
			})
			if cfg.AutoClose.Enabled {
				g.Go(func() error {
					return a.sweeper.Run(gctx)
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				log.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			err = g.Wait()

			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			a.close(closeCtx)
			if terr := shutdownTracing(closeCtx); terr != nil {
				log.Error("tracing shutdown failed", "error", terr)
			}
			return err
		},
	}
}
