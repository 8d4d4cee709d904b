package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/streamgate/streamgate/internal/access"
	"github.com/streamgate/streamgate/internal/audit"
	"github.com/streamgate/streamgate/internal/cache"
	"github.com/streamgate/streamgate/internal/config"
	"github.com/streamgate/streamgate/internal/media"
	"github.com/streamgate/streamgate/internal/metrics"
	"github.com/streamgate/streamgate/internal/observability/logger"
	"github.com/streamgate/streamgate/internal/rate"
	"github.com/streamgate/streamgate/internal/security/secretbox"
	"github.com/streamgate/streamgate/internal/security/signer"
	"github.com/streamgate/streamgate/internal/store/core"
	"github.com/streamgate/streamgate/internal/store/memory"
	"github.com/streamgate/streamgate/internal/store/pg"
	"github.com/streamgate/streamgate/internal/ticket"
)

// deps is everything a command needs after wiring.
type deps struct {
	cfg      *config.Config
	repo     core.Repository
	cache    cache.Client
	recorder *audit.Recorder
	resolver *media.Resolver
	tickets  *ticket.Service
	limiter  *rate.Service
	access   *access.Service
	registry *prometheus.Registry
}

func (d *deps) close() {
	d.recorder.Close()
	_ = d.cache.Close()
	d.repo.Close()
}

func initLogger(cfg *config.Config) {
	env := "dev"
	if cfg.App.Env == "prod" || cfg.App.Env == "staging" {
		env = "prod"
	}
	logger.Init(logger.Config{
		Env:         env,
		Level:       "info",
		ServiceName: "streamgate",
	})
}

func buildDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	var (
		repo core.Repository
		err  error
	)
	switch cfg.Storage.Driver {
	case "postgres":
		repo, err = pg.New(ctx, cfg.Storage.DSN, pg.Options{
			MaxConns:        int32(cfg.Storage.Postgres.MaxConns),
			ConnMaxLifetime: config.Dur(cfg.Storage.Postgres.ConnMaxLifetime),
		})
		if err != nil {
			return nil, fmt.Errorf("connect storage: %w", err)
		}
	case "memory":
		repo = memory.New()
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	cacheClient, err := cache.New(cache.Config{
		Driver:   cfg.Cache.Kind,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Redis.Prefix,
	})
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("connect cache: %w", err)
	}

	var sinks []audit.Sink
	if cfg.Audit.Kafka.Enabled && len(cfg.Audit.Kafka.Brokers) > 0 {
		sinks = append(sinks, audit.NewKafkaSink(cfg.Audit.Kafka.Brokers, cfg.Audit.Kafka.Topic))
	}
	if cfg.Audit.Email.Enabled && cfg.SMTP.Host != "" {
		sinks = append(sinks, audit.NewMailSink(audit.MailConfig{
			Host:        cfg.SMTP.Host,
			Port:        cfg.SMTP.Port,
			Username:    cfg.SMTP.Username,
			Password:    cfg.SMTP.Password,
			From:        cfg.SMTP.From,
			To:          cfg.Audit.Email.To,
			MinSeverity: core.Severity(cfg.Audit.Email.MinSeverity),
		}))
	}
	recorder := audit.NewRecorder(repo, sinks...)

	secret, err := signingSecret(cfg.Tickets.SigningSecret)
	if err != nil {
		recorder.Close()
		_ = cacheClient.Close()
		repo.Close()
		return nil, err
	}
	sg, err := signer.New(secret)
	if err != nil {
		recorder.Close()
		_ = cacheClient.Close()
		repo.Close()
		return nil, fmt.Errorf("init signer: %w", err)
	}

	resolver := media.NewResolver(repo, config.Dur(cfg.Media.CacheTTL))

	tickets := ticket.NewService(repo, resolver, sg, recorder, ticket.Config{
		TTL:              config.Dur(cfg.Tickets.TTL),
		MaxUses:          cfg.Tickets.MaxUses,
		BindClientIP:     cfg.Tickets.BindClientIP,
		RevokedRetention: config.Dur(cfg.Tickets.RevokedRetention),
		StreamPathPrefix: cfg.Tickets.StreamPathPrefix,
	})

	limiter := rate.NewService(cacheClient, repo, recorder, rate.Config{
		Enabled: cfg.Rate.Enabled,
		Windows: map[rate.LimitType]rate.WindowLimit{
			rate.LimitAPI:          {Max: cfg.Rate.API.Limit, Window: config.Dur(cfg.Rate.API.Window)},
			rate.LimitStream:       {Max: cfg.Rate.Stream.Limit, Window: config.Dur(cfg.Rate.Stream.Window)},
			rate.LimitTicketCreate: {Max: cfg.Rate.TicketCreate.Limit, Window: config.Dur(cfg.Rate.TicketCreate.Window)},
		},
		Buckets: map[rate.LimitType]rate.BucketLimit{
			rate.LimitAPI:          burstBucket(cfg, cfg.Rate.API.Limit, cfg.Rate.API.Window),
			rate.LimitStream:       burstBucket(cfg, cfg.Rate.Stream.Limit, cfg.Rate.Stream.Window),
			rate.LimitTicketCreate: burstBucket(cfg, cfg.Rate.TicketCreate.Limit, cfg.Rate.TicketCreate.Window),
		},
		GlobalIP: rate.WindowLimit{Max: cfg.Rate.GlobalIP.Limit, Window: config.Dur(cfg.Rate.GlobalIP.Window)},
		Abuse: rate.AbuseConfig{
			EventThreshold:   int64(cfg.Rate.Abuse.EventThreshold),
			RequestThreshold: cfg.Rate.Abuse.RequestThreshold,
			Window:           config.Dur(cfg.Rate.Abuse.Window),
			BlacklistFor:     config.Dur(cfg.Rate.Abuse.BlacklistFor),
		},
	})

	ac := access.NewService(repo, recorder, config.Dur(cfg.Access.CacheTTL))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	return &deps{
		cfg:      cfg,
		repo:     repo,
		cache:    cacheClient,
		recorder: recorder,
		resolver: resolver,
		tickets:  tickets,
		limiter:  limiter,
		access:   ac,
		registry: registry,
	}, nil
}

// burstBucket derives the per-class token bucket from the configured
// burst capacity and per-second refill rate, scaled to the class window.
func burstBucket(cfg *config.Config, limit int, window string) rate.BucketLimit {
	w := config.Dur(window)
	refill := cfg.Rate.Burst.Refill * w.Seconds()
	if refill <= 0 {
		refill = float64(limit)
	}
	return rate.BucketLimit{
		MaxTokens:       float64(cfg.Rate.Burst.Capacity),
		RefillPerWindow: refill,
		Window:          w,
	}
}

// signingSecret decodes the configured ticket signing secret. An
// encrypted value (nonce|ciphertext, see keygen --encrypt) is opened
// with the master key first.
func signingSecret(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("tickets.signing_secret is required (generate one with: streamgate keygen)")
	}
	if strings.Contains(raw, "|") {
		dec, err := secretbox.Decrypt(raw)
		if err != nil {
			return nil, fmt.Errorf("decrypt signing secret: %w", err)
		}
		raw = dec
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("signing secret must be base64: %w", err)
	}
	return b, nil
}

// sweep runs one retention pass over every store.
func sweep(ctx context.Context, d *deps) {
	log := logger.From(ctx).With(logger.Component("cleanup"))

	if _, err := d.tickets.CleanupExpired(ctx); err != nil {
		log.Warn("ticket sweep failed", logger.Err(err))
	}
	if err := d.limiter.Cleanup(ctx); err != nil {
		log.Warn("rate limiter sweep failed", logger.Err(err))
	}
	cutoff := time.Now().UTC().Add(-config.Dur(d.cfg.Audit.Retention))
	if n, err := d.repo.DeleteSecurityEventsBefore(ctx, cutoff); err != nil {
		log.Warn("security event sweep failed", logger.Err(err))
	} else if n > 0 {
		log.Info("old security events removed", logger.Int64("deleted", n))
	}
}
