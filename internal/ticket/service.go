// Package ticket issues, verifies, and revokes per-stream access tickets.
// A ticket binds one playback session to one content object with a bounded
// lifetime and a bounded number of redemptions.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/streamgate/streamgate/internal/audit"
	"github.com/streamgate/streamgate/internal/media"
	"github.com/streamgate/streamgate/internal/observability/logger"
	"github.com/streamgate/streamgate/internal/security/signer"
	"github.com/streamgate/streamgate/internal/store/core"
)

// Verification failures, ordered by how they are resolved: existence,
// revocation, expiry, usage budget, then signature.
var (
	ErrNotFound      = errors.New("ticket not found")
	ErrRevoked       = errors.New("ticket revoked")
	ErrExpired       = errors.New("ticket expired")
	ErrUsageExceeded = errors.New("ticket usage exceeded")
	ErrBadSignature  = errors.New("bad ticket signature")
	ErrIPMismatch    = errors.New("client ip mismatch")
)

// Config tunes issuance and redemption policy.
type Config struct {
	// TTL is the default ticket lifetime when the caller does not pick an
	// expiry. Default 6h.
	TTL time.Duration

	// MaxUses bounds redemptions per ticket. Default 3: initial request
	// plus range retries from players that reopen the stream.
	MaxUses int

	// BindClientIP rejects redemptions from an IP other than the issuing
	// one. Off by default: players commonly change network paths
	// mid-stream (wifi to cellular), so pinning is an explicit opt-in.
	BindClientIP bool

	// RevokedRetention keeps revoked tickets for audit before the sweep
	// deletes them. Default 7 days.
	RevokedRetention time.Duration

	// StreamPathPrefix is the public path tickets are redeemed under.
	StreamPathPrefix string
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 6 * time.Hour
	}
	if c.MaxUses <= 0 {
		c.MaxUses = 3
	}
	if c.RevokedRetention <= 0 {
		c.RevokedRetention = 7 * 24 * time.Hour
	}
	if c.StreamPathPrefix == "" {
		c.StreamPathPrefix = "/stream"
	}
	return c
}

// Service is the ticket system.
type Service struct {
	repo     core.Repository
	resolver *media.Resolver
	signer   *signer.Signer
	rec      *audit.Recorder
	cfg      Config
}

func NewService(repo core.Repository, resolver *media.Resolver, sg *signer.Signer, rec *audit.Recorder, cfg Config) *Service {
	return &Service{
		repo:     repo,
		resolver: resolver,
		signer:   sg,
		rec:      rec,
		cfg:      cfg.withDefaults(),
	}
}

// CreateRequest is the issuance input.
type CreateRequest struct {
	UserID      string
	ContentType core.ContentType
	ContentID   string
	Season      *int
	Episode     *int
	ClientIP    string
	UserAgent   string
	ExpiresAt   *time.Time
}

// CreateResult is what crosses the wire back to the caller. The file
// reference stays server-side.
type CreateResult struct {
	TicketID  string
	Token     string
	ExpiresAt time.Time
	StreamURL string
	MaxUses   int
}

// Create resolves the playable file, mints a signed ticket, and persists
// it. Fails with media.ErrContentUnavailable when nothing playable exists.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("ticket"),
		logger.Op("Create"),
		logger.UserID(req.UserID),
		logger.ContentID(req.ContentID),
	)

	if req.UserID == "" || req.ContentID == "" {
		return nil, core.ErrInvalid
	}
	if req.ContentType != core.ContentMovie && req.ContentType != core.ContentEpisode {
		return nil, core.ErrInvalid
	}

	cf, err := s.resolver.Resolve(ctx, req.ContentType, req.ContentID, req.Season, req.Episode)
	if err != nil {
		if errors.Is(err, media.ErrContentUnavailable) {
			log.Info("no playable file for content")
			return nil, err
		}
		log.Error("content resolution failed", logger.Err(err))
		return nil, err
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.cfg.TTL)
	if req.ExpiresAt != nil && req.ExpiresAt.After(now) {
		expiresAt = req.ExpiresAt.UTC()
	}

	id := uuid.NewString()
	sig := s.signer.Sign(id, expiresAt, req.ClientIP, req.UserID)

	t := &core.Ticket{
		ID:            id,
		UserID:        req.UserID,
		ContentID:     req.ContentID,
		ContentType:   req.ContentType,
		SeasonNumber:  req.Season,
		EpisodeNumber: req.Episode,
		FileRef:       cf.FileRef,
		Signature:     sig,
		ClientIP:      req.ClientIP,
		UserAgent:     req.UserAgent,
		CreatedAt:     now,
		ExpiresAt:     expiresAt,
		UseCount:      0,
		MaxUses:       s.cfg.MaxUses,
	}
	if err := s.repo.CreateTicket(ctx, t); err != nil {
		log.Error("failed to persist ticket", logger.Err(err))
		return nil, err
	}

	s.rec.Record(ctx, audit.Event{
		Type:     audit.EventTicketCreated,
		Severity: core.SeverityInfo,
		UserID:   req.UserID,
		ClientIP: req.ClientIP,
		Details: map[string]any{
			"ticketId":    id,
			"contentId":   req.ContentID,
			"contentType": string(req.ContentType),
			"expiresAt":   expiresAt.UnixMilli(),
		},
	})

	log.Info("ticket issued", logger.TicketID(id))

	return &CreateResult{
		TicketID:  id,
		Token:     sig,
		ExpiresAt: expiresAt,
		StreamURL: fmt.Sprintf("%s/%s?token=%s", s.cfg.StreamPathPrefix, id, sig),
		MaxUses:   s.cfg.MaxUses,
	}, nil
}

// VerifyResult is a successful redemption.
type VerifyResult struct {
	FileRef       string
	RemainingUses int
	Ticket        *core.Ticket
}

// VerifyAndConsume checks the signature, then atomically takes one use.
// The signature check happens before the consume so a forged request
// never burns part of the usage budget. The file reference is re-resolved
// from the library on every redemption; the stored one is only a fallback
// snapshot.
func (s *Service) VerifyAndConsume(ctx context.Context, id, signature, clientIP string) (*VerifyResult, error) {
	t, err := s.repo.GetTicket(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			s.recordDenial(ctx, id, "", clientIP, "not_found")
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !s.signer.Verify(id, t.ExpiresAt, t.ClientIP, t.UserID, signature) {
		s.recordDenial(ctx, id, t.UserID, clientIP, "bad_signature")
		return nil, ErrBadSignature
	}

	if s.cfg.BindClientIP && clientIP != t.ClientIP {
		s.recordDenial(ctx, id, t.UserID, clientIP, "ip_mismatch")
		return nil, ErrIPMismatch
	}

	now := time.Now().UTC()
	t, consumed, err := s.repo.ConsumeTicket(ctx, id, now)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// Deleted between read and consume; treat as absent.
			s.recordDenial(ctx, id, "", clientIP, "not_found")
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !consumed {
		reason, denial := classifyUnconsumable(t, now)
		s.recordDenial(ctx, id, t.UserID, clientIP, reason)
		return nil, denial
	}

	fileRef := t.FileRef
	if cf, rerr := s.resolver.Resolve(ctx, t.ContentType, t.ContentID, t.SeasonNumber, t.EpisodeNumber); rerr == nil {
		fileRef = cf.FileRef
	} else if errors.Is(rerr, media.ErrContentUnavailable) {
		// The file disappeared after issuance (library change); the
		// ticket is valid but there is nothing to serve.
		return nil, media.ErrContentUnavailable
	}

	s.rec.Record(ctx, audit.Event{
		Type:     audit.EventTicketVerified,
		Severity: core.SeverityInfo,
		UserID:   t.UserID,
		ClientIP: clientIP,
		Details: map[string]any{
			"ticketId":      id,
			"useCount":      t.UseCount,
			"remainingUses": t.MaxUses - t.UseCount,
		},
	})

	return &VerifyResult{
		FileRef:       fileRef,
		RemainingUses: t.MaxUses - t.UseCount,
		Ticket:        t,
	}, nil
}

func classifyUnconsumable(t *core.Ticket, now time.Time) (string, error) {
	switch {
	case t.IsRevoked:
		return "revoked", ErrRevoked
	case !now.Before(t.ExpiresAt):
		return "expired", ErrExpired
	default:
		return "usage_exceeded", ErrUsageExceeded
	}
}

func (s *Service) recordDenial(ctx context.Context, id, userID, clientIP, reason string) {
	s.rec.Record(ctx, audit.Event{
		Type:     audit.EventTicketVerifyFailed,
		Severity: core.SeverityMedium,
		UserID:   userID,
		ClientIP: clientIP,
		Details:  map[string]any{"ticketId": id, "reason": reason},
	})
}

// Revoke marks one ticket unusable. Used for incident response; the row
// stays until the retention sweep so the audit trail keeps its context.
func (s *Service) Revoke(ctx context.Context, id, reason string) error {
	now := time.Now().UTC()
	if err := s.repo.RevokeTicket(ctx, id, reason, now); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.rec.Record(ctx, audit.Event{
		Type:     audit.EventTicketRevoked,
		Severity: core.SeverityMedium,
		Details:  map[string]any{"ticketId": id, "reason": reason},
	})
	return nil
}

// RevokeAllForUser invalidates every live ticket a user holds.
func (s *Service) RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error) {
	now := time.Now().UTC()
	n, err := s.repo.RevokeUserTickets(ctx, userID, reason, now)
	if err != nil {
		return 0, err
	}
	s.rec.Record(ctx, audit.Event{
		Type:     audit.EventTicketsBulkRevoked,
		Severity: core.SeverityHigh,
		UserID:   userID,
		Details:  map[string]any{"reason": reason, "revoked": n},
	})
	logger.From(ctx).Info("user tickets revoked",
		logger.Component("ticket"), logger.UserID(userID), logger.Int64("revoked", n))
	return n, nil
}

// CleanupExpired deletes expired tickets and revoked tickets past the
// retention window. Runs on a schedule, safe alongside live traffic.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	n, err := s.repo.DeleteStaleTickets(ctx, now, now.Add(-s.cfg.RevokedRetention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.From(ctx).Info("stale tickets removed",
			logger.Component("ticket"), logger.Int64("deleted", n))
	}
	return n, nil
}

// Analytics aggregates ticket activity since the window start.
func (s *Service) Analytics(ctx context.Context, window time.Duration) (*core.TicketStats, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return s.repo.TicketStats(ctx, time.Now().UTC().Add(-window))
}
