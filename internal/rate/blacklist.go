package rate

import (
	"context"
	"errors"
	"time"

	"github.com/streamgate/streamgate/internal/audit"
	"github.com/streamgate/streamgate/internal/cache"
	"github.com/streamgate/streamgate/internal/observability/logger"
	"github.com/streamgate/streamgate/internal/store/core"
)

const blacklistKeyPrefix = "bl:"

// IsBlacklisted is the first gate on every request. The hot path is a
// cache key with a TTL mirroring the row; misses fall back to the store.
// Consistent with the limiter's policy, storage errors fail open.
func (s *Service) IsBlacklisted(ctx context.Context, ip string) (bool, string) {
	if reason, err := s.cache.Get(ctx, blacklistKeyPrefix+ip); err == nil {
		return true, reason
	} else if !cache.IsNotFound(err) {
		logger.From(ctx).Warn("blacklist cache lookup failed",
			logger.Component("rate"), logger.ClientIP(ip), logger.Err(err))
	}

	e, err := s.repo.GetActiveBlacklistEntry(ctx, ip, time.Now().UTC())
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			logger.From(ctx).Error("blacklist store lookup failed, failing open",
				logger.Component("rate"), logger.ClientIP(ip), logger.Err(err))
			s.rec.Record(ctx, audit.Event{
				Type:     audit.EventRateLimitError,
				Severity: core.SeverityHigh,
				ClientIP: ip,
				Details:  map[string]any{"stage": "blacklist", "error": err.Error()},
			})
		}
		return false, ""
	}

	// Warm the cache for the remaining lifetime of the entry.
	if ttl := time.Until(e.ExpiresAt); ttl > 0 {
		_ = s.cache.Set(ctx, blacklistKeyPrefix+ip, e.Reason, ttl)
	}
	return true, e.Reason
}

// RecordBlacklistHit audits a request rejected by the blacklist gate.
func (s *Service) RecordBlacklistHit(ctx context.Context, ip, reason string) {
	s.rec.Record(ctx, audit.Event{
		Type:     audit.EventBlacklistHit,
		Severity: core.SeverityLow,
		ClientIP: ip,
		Details:  map[string]any{"reason": reason},
	})
}

// AddToBlacklist writes the row and the hot-path cache key.
func (s *Service) AddToBlacklist(ctx context.Context, ip, reason string, duration time.Duration) error {
	now := time.Now().UTC()
	e := &core.BlacklistEntry{
		IP:        ip,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
		Active:    true,
	}
	if err := s.repo.UpsertBlacklistEntry(ctx, e); err != nil {
		return err
	}
	_ = s.cache.Set(ctx, blacklistKeyPrefix+ip, reason, duration)

	s.rec.Record(ctx, audit.Event{
		Type:     audit.EventIPBlacklisted,
		Severity: core.SeverityHigh,
		ClientIP: ip,
		Details:  map[string]any{"reason": reason, "expiresAt": e.ExpiresAt.UnixMilli()},
	})
	logger.From(ctx).Warn("ip blacklisted",
		logger.Component("rate"), logger.ClientIP(ip), logger.Reason(reason),
		logger.Duration(duration))
	return nil
}

// RemoveFromBlacklist deactivates the row and drops the cache key.
func (s *Service) RemoveFromBlacklist(ctx context.Context, ip string) error {
	if err := s.repo.DeactivateBlacklistEntry(ctx, ip); err != nil {
		return err
	}
	return s.cache.Delete(ctx, blacklistKeyPrefix+ip)
}

// ListBlacklist returns the currently active entries.
func (s *Service) ListBlacklist(ctx context.Context) ([]core.BlacklistEntry, error) {
	return s.repo.ListBlacklist(ctx, time.Now().UTC())
}
