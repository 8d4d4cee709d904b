package rate

import (
	"context"
	"time"

	"github.com/streamgate/streamgate/internal/audit"
	"github.com/streamgate/streamgate/internal/metrics"
	"github.com/streamgate/streamgate/internal/observability/logger"
	"github.com/streamgate/streamgate/internal/store/core"
)

// AbuseResult reports what the detector saw for one IP.
type AbuseResult struct {
	IsAbusive      bool
	ViolationCount int64
	RequestCount   int64
}

// ObserveRequest feeds the abuse detector without blocking the request:
// the volume hit is recorded and the pattern check runs on its own
// goroutine with a detached context.
func (s *Service) ObserveRequest(clientIP, userID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.CheckAbusePatterns(ctx, clientIP, userID)
	}()
}

// CheckAbusePatterns counts medium-or-worse security events and raw
// request volume for the IP over the trailing window. Crossing either
// threshold blacklists the IP. Exported for tests and for manual
// invocation from the admin surface.
func (s *Service) CheckAbusePatterns(ctx context.Context, clientIP, userID string) AbuseResult {
	// The volume window doubles as the counter: every observed request
	// lands one hit, and the denial of the hit IS the volume signal.
	vol, err := s.cache.SlidingWindowAllow(ctx, "abuse_vol:"+clientIP, s.cfg.Abuse.RequestThreshold, s.cfg.Abuse.Window)
	if err != nil {
		logger.From(ctx).Warn("abuse volume tracking failed",
			logger.Component("rate"), logger.ClientIP(clientIP), logger.Err(err))
		return AbuseResult{}
	}

	violations, err := s.repo.CountSecurityEventsByIP(ctx, clientIP, core.SeverityMedium, time.Now().UTC().Add(-s.cfg.Abuse.Window))
	if err != nil {
		logger.From(ctx).Warn("abuse violation count failed",
			logger.Component("rate"), logger.ClientIP(clientIP), logger.Err(err))
		return AbuseResult{RequestCount: vol.Count}
	}

	res := AbuseResult{
		ViolationCount: violations,
		RequestCount:   vol.Count,
		IsAbusive:      !vol.Allowed || violations >= s.cfg.Abuse.EventThreshold,
	}
	if !res.IsAbusive {
		return res
	}

	// Already blacklisted? Re-detection adds nothing.
	if hit, _ := s.IsBlacklisted(ctx, clientIP); hit {
		return res
	}

	s.rec.Record(ctx, audit.Event{
		Type:     audit.EventAbuseDetected,
		Severity: core.SeverityCritical,
		UserID:   userID,
		ClientIP: clientIP,
		Details: map[string]any{
			"violationCount": res.ViolationCount,
			"requestCount":   res.RequestCount,
			"windowSeconds":  int(s.cfg.Abuse.Window.Seconds()),
		},
	})
	metrics.AbuseDetections.Inc()

	if err := s.AddToBlacklist(ctx, clientIP, "abuse detected", s.cfg.Abuse.BlacklistFor); err != nil {
		logger.From(ctx).Error("failed to blacklist abusive ip",
			logger.Component("rate"), logger.ClientIP(clientIP), logger.Err(err))
	}
	return res
}
