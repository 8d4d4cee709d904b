package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/streamgate/streamgate/internal/config"
	httpx "github.com/streamgate/streamgate/internal/http"
	"github.com/streamgate/streamgate/internal/http/middlewares"
	"github.com/streamgate/streamgate/internal/http/router"
	"github.com/streamgate/streamgate/internal/observability/logger"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			initLogger(cfg)
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.close()

			handler := router.New(router.Deps{
				Repo:      d.repo,
				Cache:     d.cache,
				Tickets:   d.tickets,
				Resolver:  d.resolver,
				Access:    d.access,
				Limiter:   d.limiter,
				Verifier:  middlewares.NewTokenVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer),
				Registry:           d.registry,
				MediaRoot:          cfg.Media.RootDir,
				CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
			})

			srv := httpx.NewServer(httpx.ServerConfig{
				Addr:            cfg.Server.Addr,
				ReadTimeout:     config.Dur(cfg.Server.ReadTimeout),
				WriteTimeout:    config.Dur(cfg.Server.WriteTimeout),
				ShutdownTimeout: config.Dur(cfg.Server.ShutdownTimeout),
			}, handler)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(ctx) })
			g.Go(func() error {
				interval := config.Dur(cfg.Cleanup.Interval)
				if interval <= 0 {
					interval = 10 * time.Minute
				}
				t := time.NewTicker(interval)
				defer t.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-t.C:
						sweep(ctx, d)
					}
				}
			})

			return g.Wait()
		},
	}
}
