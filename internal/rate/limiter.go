// Package rate bounds request rates per subject (IP or authenticated
// user) per endpoint class. Two algorithms run side by side: a sliding
// window for smooth long-run limits and a token bucket for burst
// tolerance, plus a stricter global per-IP window. All counters live in
// the shared cache backend so every instance enforces the same state.
//
// Policy split: the limiter FAILS OPEN on storage errors (availability
// over strict enforcement when the backing store is unhealthy), while the
// ticket and access-control systems fail closed. Keep it that way; see
// the config docs.
package rate

import (
	"context"
	"time"

	"github.com/streamgate/streamgate/internal/audit"
	"github.com/streamgate/streamgate/internal/cache"
	"github.com/streamgate/streamgate/internal/metrics"
	"github.com/streamgate/streamgate/internal/observability/logger"
	"github.com/streamgate/streamgate/internal/store/core"
)

// LimitType is a logical endpoint class with its own limits.
type LimitType string

const (
	LimitAPI          LimitType = "api"
	LimitStream       LimitType = "stream"
	LimitTicketCreate LimitType = "ticket_create"
)

// Denial reason codes, most specific first.
const (
	ReasonBlacklisted = "ip_blacklisted"
	ReasonIPRate      = "ip_rate_limit"
	ReasonBurst       = "burst_limit"
	ReasonRate        = "rate_limit"
)

// WindowLimit configures one sliding window.
type WindowLimit struct {
	Max    int
	Window time.Duration
}

// BucketLimit configures one token bucket.
type BucketLimit struct {
	MaxTokens       float64
	RefillPerWindow float64
	Window          time.Duration
}

// AbuseConfig tunes the async abuse detector.
type AbuseConfig struct {
	// EventThreshold is the medium-or-worse security event count over the
	// trailing window that marks an IP abusive.
	EventThreshold int64
	// RequestThreshold is the raw request volume over the trailing window
	// that marks an IP abusive.
	RequestThreshold int
	// Window is the trailing observation interval. Default 5m.
	Window time.Duration
	// BlacklistFor is how long a detected abuser stays blacklisted.
	BlacklistFor time.Duration
}

// Config is the limiter configuration.
type Config struct {
	Enabled bool
	// Windows and Buckets key per-subject limits by endpoint class.
	Windows map[LimitType]WindowLimit
	Buckets map[LimitType]BucketLimit
	// GlobalIP is the stricter per-IP window applied across all classes.
	GlobalIP WindowLimit
	Abuse    AbuseConfig
}

func (c Config) withDefaults() Config {
	if c.Windows == nil {
		c.Windows = map[LimitType]WindowLimit{}
	}
	if c.Buckets == nil {
		c.Buckets = map[LimitType]BucketLimit{}
	}
	if _, ok := c.Windows[LimitAPI]; !ok {
		c.Windows[LimitAPI] = WindowLimit{Max: 120, Window: time.Minute}
	}
	if _, ok := c.Windows[LimitStream]; !ok {
		c.Windows[LimitStream] = WindowLimit{Max: 60, Window: time.Minute}
	}
	if _, ok := c.Windows[LimitTicketCreate]; !ok {
		c.Windows[LimitTicketCreate] = WindowLimit{Max: 20, Window: time.Minute}
	}
	if _, ok := c.Buckets[LimitAPI]; !ok {
		c.Buckets[LimitAPI] = BucketLimit{MaxTokens: 20, RefillPerWindow: 120, Window: time.Minute}
	}
	if _, ok := c.Buckets[LimitStream]; !ok {
		c.Buckets[LimitStream] = BucketLimit{MaxTokens: 10, RefillPerWindow: 60, Window: time.Minute}
	}
	if _, ok := c.Buckets[LimitTicketCreate]; !ok {
		c.Buckets[LimitTicketCreate] = BucketLimit{MaxTokens: 5, RefillPerWindow: 20, Window: time.Minute}
	}
	if c.GlobalIP.Max == 0 {
		c.GlobalIP = WindowLimit{Max: 300, Window: time.Minute}
	}
	if c.Abuse.Window <= 0 {
		c.Abuse.Window = 5 * time.Minute
	}
	if c.Abuse.EventThreshold <= 0 {
		c.Abuse.EventThreshold = 10
	}
	if c.Abuse.RequestThreshold <= 0 {
		c.Abuse.RequestThreshold = 1000
	}
	if c.Abuse.BlacklistFor <= 0 {
		c.Abuse.BlacklistFor = time.Hour
	}
	return c
}

// Service is the dual-algorithm limiter with blacklist and abuse
// detection.
type Service struct {
	cache cache.Client
	repo  core.Repository
	rec   *audit.Recorder
	cfg   Config
}

func NewService(c cache.Client, repo core.Repository, rec *audit.Recorder, cfg Config) *Service {
	return &Service{cache: c, repo: repo, rec: rec, cfg: cfg.withDefaults()}
}

// Request identifies the subject of one admission check.
type Request struct {
	ClientIP  string
	UserID    string // empty for unauthenticated traffic
	LimitType LimitType
}

// subjectKey prefers the authenticated user so NAT'd users do not share a
// budget, falling back to the IP.
func (r Request) subjectKey() string {
	if r.UserID != "" {
		return "u:" + r.UserID
	}
	return "ip:" + r.ClientIP
}

// Decision is the outcome of a composite check, with everything the
// transport layer needs for rate-limit headers.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
	Limit      int
	Remaining  int64
	ResetAt    time.Time
}

// CheckSlidingWindow runs one sliding-window check for the subject and
// class, recording the hit when allowed.
func (s *Service) CheckSlidingWindow(ctx context.Context, subjectKey string, lt LimitType) (cache.WindowResult, error) {
	lim := s.cfg.Windows[lt]
	res, err := s.cache.SlidingWindowAllow(ctx, string(lt)+":"+subjectKey, lim.Max, lim.Window)
	if err != nil {
		return cache.WindowResult{}, err
	}
	if !res.Allowed {
		s.rec.Record(ctx, audit.Event{
			Type:     audit.EventRateLimitExceeded,
			Severity: core.SeverityMedium,
			ClientIP: stripSubject(subjectKey),
			Details:  map[string]any{"limitType": string(lt), "subject": subjectKey, "count": res.Count},
		})
	}
	return res, nil
}

// CheckTokenBucket runs one token-bucket consume for the subject and
// class.
func (s *Service) CheckTokenBucket(ctx context.Context, subjectKey string, lt LimitType) (cache.BucketResult, error) {
	lim := s.cfg.Buckets[lt]
	res, err := s.cache.TokenBucketTake(ctx, string(lt)+":"+subjectKey, lim.MaxTokens, lim.RefillPerWindow, lim.Window)
	if err != nil {
		return cache.BucketResult{}, err
	}
	if !res.Allowed {
		s.rec.Record(ctx, audit.Event{
			Type:     audit.EventBurstLimitExceeded,
			Severity: core.SeverityLow,
			ClientIP: stripSubject(subjectKey),
			Details:  map[string]any{"limitType": string(lt), "subject": subjectKey},
		})
	}
	return res, nil
}

// Check composes the three admission checks: per-subject sliding window,
// per-subject token bucket, and the global per-IP window. All three must
// pass. The most restrictive retry-after wins the denial.
//
// Storage errors fail open: the request is admitted and a high-severity
// rate_limit_error event is recorded.
func (s *Service) Check(ctx context.Context, req Request) Decision {
	lim := s.cfg.Windows[req.LimitType]
	decision := Decision{
		Allowed: true,
		Limit:   lim.Max,
		ResetAt: time.Now().Add(lim.Window),
	}
	if !s.cfg.Enabled {
		decision.Remaining = int64(lim.Max)
		return decision
	}

	subject := req.subjectKey()

	win, err := s.CheckSlidingWindow(ctx, subject, req.LimitType)
	if err != nil {
		return s.failOpen(ctx, req, "sliding_window", err)
	}
	decision.Remaining = win.Remaining
	decision.ResetAt = win.ResetAt

	bkt, err := s.CheckTokenBucket(ctx, subject, req.LimitType)
	if err != nil {
		return s.failOpen(ctx, req, "token_bucket", err)
	}

	glb, err := s.cache.SlidingWindowAllow(ctx, "global_ip:"+req.ClientIP, s.cfg.GlobalIP.Max, s.cfg.GlobalIP.Window)
	if err != nil {
		return s.failOpen(ctx, req, "global_window", err)
	}

	type failure struct {
		reason string
		retry  time.Duration
	}
	var failures []failure
	if !win.Allowed {
		failures = append(failures, failure{ReasonRate, win.RetryAfter})
	}
	if !bkt.Allowed {
		failures = append(failures, failure{ReasonBurst, bkt.RetryAfter})
	}
	if !glb.Allowed {
		failures = append(failures, failure{ReasonIPRate, glb.RetryAfter})
	}
	if len(failures) == 0 {
		return decision
	}

	worst := failures[0]
	for _, f := range failures[1:] {
		if f.retry > worst.retry {
			worst = f
		}
	}

	decision.Allowed = false
	decision.Reason = worst.reason
	decision.RetryAfter = worst.retry
	decision.Remaining = 0
	metrics.RateLimitDenials.WithLabelValues(worst.reason).Inc()
	return decision
}

// failOpen admits the request when the backing store is unhealthy, but
// never silently: a high-severity event marks every degraded decision.
func (s *Service) failOpen(ctx context.Context, req Request, stage string, err error) Decision {
	logger.From(ctx).Error("rate limiter storage error, failing open",
		logger.Component("rate"),
		logger.LimitType(string(req.LimitType)),
		logger.String("stage", stage),
		logger.Err(err),
	)
	s.rec.Record(ctx, audit.Event{
		Type:     audit.EventRateLimitError,
		Severity: core.SeverityHigh,
		UserID:   req.UserID,
		ClientIP: req.ClientIP,
		Details:  map[string]any{"stage": stage, "error": err.Error()},
	})
	metrics.RateLimitFailOpen.Inc()
	lim := s.cfg.Windows[req.LimitType]
	return Decision{
		Allowed:   true,
		Limit:     lim.Max,
		Remaining: int64(lim.Max),
		ResetAt:   time.Now().Add(lim.Window),
	}
}

// Cleanup prunes stale window members, idle buckets, and expired
// blacklist rows. Scheduled out-of-band; safe to run under live traffic.
func (s *Service) Cleanup(ctx context.Context) error {
	if err := s.cache.Cleanup(ctx); err != nil {
		return err
	}
	n, err := s.repo.DeleteExpiredBlacklist(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		logger.From(ctx).Info("expired blacklist rows removed",
			logger.Component("rate"), logger.Int64("deleted", n))
	}
	return nil
}

func stripSubject(subjectKey string) string {
	if len(subjectKey) > 3 && subjectKey[:3] == "ip:" {
		return subjectKey[3:]
	}
	return ""
}
