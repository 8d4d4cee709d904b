package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
		ReadTimeout        string   `yaml:"read_timeout"`
		WriteTimeout       string   `yaml:"write_timeout"`
		ShutdownTimeout    string   `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Storage struct {
		// postgres | memory
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxConns        int    `yaml:"max_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		// redis | memory
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Auth struct {
		// HS256 secret for bearer tokens on the API surface.
		JWTSecret string `yaml:"jwt_secret"`
		Issuer    string `yaml:"issuer"`
	} `yaml:"auth"`

	Tickets struct {
		TTL              string `yaml:"ttl"`
		MaxUses          int    `yaml:"max_uses"`
		BindClientIP     bool   `yaml:"bind_client_ip"`
		RevokedRetention string `yaml:"revoked_retention"`
		StreamPathPrefix string `yaml:"stream_path_prefix"`
		// base64 signing secret; may be secretbox-encrypted (see keygen).
		SigningSecret string `yaml:"signing_secret"`
	} `yaml:"tickets"`

	Rate struct {
		Enabled bool `yaml:"enabled"`

		API struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"api"`
		Stream struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"stream"`
		TicketCreate struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"ticket_create"`
		GlobalIP struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"global_ip"`
		Burst struct {
			Capacity int     `yaml:"capacity"`
			Refill   float64 `yaml:"refill_per_sec"`
		} `yaml:"burst"`

		Abuse struct {
			EventThreshold   int    `yaml:"event_threshold"`
			RequestThreshold int    `yaml:"request_threshold"`
			Window           string `yaml:"window"`
			BlacklistFor     string `yaml:"blacklist_for"`
		} `yaml:"abuse"`
	} `yaml:"rate"`

	Audit struct {
		Kafka struct {
			Enabled bool     `yaml:"enabled"`
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic"`
		} `yaml:"kafka"`
		Email struct {
			Enabled bool `yaml:"enabled"`
			// events at or above this severity are mailed
			MinSeverity string   `yaml:"min_severity"`
			To          []string `yaml:"to"`
		} `yaml:"email"`
		Retention string `yaml:"retention"`
	} `yaml:"audit"`

	SMTP struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		From               string `yaml:"from"`
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	} `yaml:"smtp"`

	Media struct {
		RootDir  string `yaml:"root_dir"`
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"media"`

	Access struct {
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"access"`

	Cleanup struct {
		Interval string `yaml:"interval"`
	} `yaml:"cleanup"`
}

func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "15s"
	}
	if c.Server.WriteTimeout == "" {
		// streams can be long-lived, keep this generous
		c.Server.WriteTimeout = "10m"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "15s"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "postgres"
	}
	if c.Storage.Postgres.MaxConns == 0 {
		c.Storage.Postgres.MaxConns = 10
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "sg"
	}
	if c.Tickets.TTL == "" {
		c.Tickets.TTL = "6h"
	}
	if c.Tickets.MaxUses == 0 {
		c.Tickets.MaxUses = 3
	}
	if c.Tickets.RevokedRetention == "" {
		c.Tickets.RevokedRetention = "168h" // 7d
	}
	if c.Tickets.StreamPathPrefix == "" {
		c.Tickets.StreamPathPrefix = "/stream"
	}
	if c.Rate.API.Limit == 0 {
		c.Rate.API.Limit = 120
	}
	if c.Rate.API.Window == "" {
		c.Rate.API.Window = "1m"
	}
	if c.Rate.Stream.Limit == 0 {
		c.Rate.Stream.Limit = 60
	}
	if c.Rate.Stream.Window == "" {
		c.Rate.Stream.Window = "1m"
	}
	if c.Rate.TicketCreate.Limit == 0 {
		c.Rate.TicketCreate.Limit = 20
	}
	if c.Rate.TicketCreate.Window == "" {
		c.Rate.TicketCreate.Window = "1m"
	}
	if c.Rate.GlobalIP.Limit == 0 {
		c.Rate.GlobalIP.Limit = 300
	}
	if c.Rate.GlobalIP.Window == "" {
		c.Rate.GlobalIP.Window = "1m"
	}
	if c.Rate.Burst.Capacity == 0 {
		c.Rate.Burst.Capacity = 10
	}
	if c.Rate.Burst.Refill == 0 {
		c.Rate.Burst.Refill = 2
	}
	if c.Rate.Abuse.EventThreshold == 0 {
		c.Rate.Abuse.EventThreshold = 10
	}
	if c.Rate.Abuse.RequestThreshold == 0 {
		c.Rate.Abuse.RequestThreshold = 1000
	}
	if c.Rate.Abuse.Window == "" {
		c.Rate.Abuse.Window = "5m"
	}
	if c.Rate.Abuse.BlacklistFor == "" {
		c.Rate.Abuse.BlacklistFor = "1h"
	}
	if c.Audit.Kafka.Topic == "" {
		c.Audit.Kafka.Topic = "streamgate.security-events"
	}
	if c.Audit.Email.MinSeverity == "" {
		c.Audit.Email.MinSeverity = "critical"
	}
	if c.Audit.Retention == "" {
		c.Audit.Retention = "2160h" // 90d
	}
	if c.Media.RootDir == "" {
		c.Media.RootDir = "./media"
	}
	if c.Media.CacheTTL == "" {
		c.Media.CacheTTL = "5m"
	}
	if c.Access.CacheTTL == "" {
		c.Access.CacheTTL = "30s"
	}
	if c.Cleanup.Interval == "" {
		c.Cleanup.Interval = "10m"
	}

	c.applyEnvOverrides()

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	for name, s := range map[string]string{
		"server.read_timeout":       c.Server.ReadTimeout,
		"server.write_timeout":      c.Server.WriteTimeout,
		"server.shutdown_timeout":   c.Server.ShutdownTimeout,
		"tickets.ttl":               c.Tickets.TTL,
		"tickets.revoked_retention": c.Tickets.RevokedRetention,
		"rate.api.window":           c.Rate.API.Window,
		"rate.stream.window":        c.Rate.Stream.Window,
		"rate.ticket_create.window": c.Rate.TicketCreate.Window,
		"rate.global_ip.window":     c.Rate.GlobalIP.Window,
		"rate.abuse.window":         c.Rate.Abuse.Window,
		"rate.abuse.blacklist_for":  c.Rate.Abuse.BlacklistFor,
		"audit.retention":           c.Audit.Retention,
		"media.cache_ttl":           c.Media.CacheTTL,
		"access.cache_ttl":          c.Access.CacheTTL,
		"cleanup.interval":          c.Cleanup.Interval,
	} {
		if s == "" {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("config: invalid duration %s=%q: %w", name, s, err)
		}
	}
	if c.Storage.Postgres.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(c.Storage.Postgres.ConnMaxLifetime); err != nil {
			return fmt.Errorf("config: invalid duration storage.postgres.conn_max_lifetime: %w", err)
		}
	}
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Cache.Kind {
	case "redis", "memory":
	default:
		return fmt.Errorf("config: unknown cache.kind %q", c.Cache.Kind)
	}
	return nil
}

// Dur parses a validated duration string; the zero value is returned
// for empty input.
func Dur(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, _ := time.ParseDuration(s)
	return d
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvFloat(key string) (float64, bool) {
	if s, ok := getEnvStr(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides lets the environment win over config.yaml.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_CONNS"); ok {
		c.Storage.Postgres.MaxConns = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}

	// AUTH
	if v, ok := getEnvStr("JWT_SECRET"); ok {
		c.Auth.JWTSecret = v
	}
	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.Auth.Issuer = v
	}

	// TICKETS
	if v, ok := getEnvStr("TICKET_TTL"); ok {
		c.Tickets.TTL = v
	}
	if v, ok := getEnvInt("TICKET_MAX_USES"); ok {
		c.Tickets.MaxUses = v
	}
	if v, ok := getEnvBool("TICKET_BIND_CLIENT_IP"); ok {
		c.Tickets.BindClientIP = v
	}
	if v, ok := getEnvStr("TICKET_SIGNING_SECRET"); ok {
		c.Tickets.SigningSecret = v
	}

	// RATE
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvInt("RATE_API_LIMIT"); ok {
		c.Rate.API.Limit = v
	}
	if v, ok := getEnvStr("RATE_API_WINDOW"); ok {
		c.Rate.API.Window = v
	}
	if v, ok := getEnvInt("RATE_STREAM_LIMIT"); ok {
		c.Rate.Stream.Limit = v
	}
	if v, ok := getEnvStr("RATE_STREAM_WINDOW"); ok {
		c.Rate.Stream.Window = v
	}
	if v, ok := getEnvInt("RATE_TICKET_CREATE_LIMIT"); ok {
		c.Rate.TicketCreate.Limit = v
	}
	if v, ok := getEnvStr("RATE_TICKET_CREATE_WINDOW"); ok {
		c.Rate.TicketCreate.Window = v
	}
	if v, ok := getEnvInt("RATE_GLOBAL_IP_LIMIT"); ok {
		c.Rate.GlobalIP.Limit = v
	}
	if v, ok := getEnvInt("RATE_BURST_CAPACITY"); ok {
		c.Rate.Burst.Capacity = v
	}
	if v, ok := getEnvFloat("RATE_BURST_REFILL_PER_SEC"); ok {
		c.Rate.Burst.Refill = v
	}
	if v, ok := getEnvInt("ABUSE_EVENT_THRESHOLD"); ok {
		c.Rate.Abuse.EventThreshold = v
	}
	if v, ok := getEnvInt("ABUSE_REQUEST_THRESHOLD"); ok {
		c.Rate.Abuse.RequestThreshold = v
	}
	if v, ok := getEnvStr("ABUSE_WINDOW"); ok {
		c.Rate.Abuse.Window = v
	}
	if v, ok := getEnvStr("ABUSE_BLACKLIST_FOR"); ok {
		c.Rate.Abuse.BlacklistFor = v
	}

	// AUDIT
	if v, ok := getEnvBool("AUDIT_KAFKA_ENABLED"); ok {
		c.Audit.Kafka.Enabled = v
	}
	if v, ok := getEnvCSV("AUDIT_KAFKA_BROKERS"); ok {
		c.Audit.Kafka.Brokers = v
	}
	if v, ok := getEnvStr("AUDIT_KAFKA_TOPIC"); ok {
		c.Audit.Kafka.Topic = v
	}
	if v, ok := getEnvBool("AUDIT_EMAIL_ENABLED"); ok {
		c.Audit.Email.Enabled = v
	}
	if v, ok := getEnvCSV("AUDIT_EMAIL_TO"); ok {
		c.Audit.Email.To = v
	}

	// SMTP
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.From = v
	}

	// MEDIA
	if v, ok := getEnvStr("MEDIA_ROOT_DIR"); ok {
		c.Media.RootDir = v
	}
}
