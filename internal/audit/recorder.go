// Package audit appends security events to the durable store and fans
// them out to optional sinks (Kafka export, mail alerts). Recording never
// fails the operation that triggered it; store errors are logged loudly
// instead of propagated.
package audit

import (
	"context"
	"time"

	"github.com/streamgate/streamgate/internal/observability/logger"
	"github.com/streamgate/streamgate/internal/store/core"
)

// Event types emitted by the admission core.
const (
	EventTicketCreated       = "ticket_created"
	EventTicketVerified      = "ticket_verified"
	EventTicketVerifyFailed  = "ticket_verification_failed"
	EventTicketRevoked       = "ticket_revoked"
	EventTicketsBulkRevoked  = "tickets_bulk_revoked"
	EventRateLimitExceeded   = "rate_limit_exceeded"
	EventBurstLimitExceeded  = "burst_limit_exceeded"
	EventRateLimitError      = "rate_limit_error"
	EventAbuseDetected       = "abuse_detected"
	EventIPBlacklisted       = "ip_blacklisted"
	EventBlacklistHit        = "blacklist_hit"
	EventPermissionGranted   = "permission_granted"
	EventPermissionRevoked   = "permission_revoked"
	EventRoleChanged         = "role_changed"
	EventAccessDenied        = "access_denied"
	EventAdminAccessDenied   = "admin_access_denied"
)

// Sink receives a copy of every recorded event.
type Sink interface {
	Publish(ctx context.Context, e *core.SecurityEvent) error
	Close() error
}

// Event is the write-side shape; the recorder fills in the timestamp.
type Event struct {
	Type     string
	Severity core.Severity
	UserID   string
	ClientIP string
	Details  map[string]any
}

// Recorder is the single entry point for the audit trail.
type Recorder struct {
	repo  core.Repository
	sinks []Sink
}

func NewRecorder(repo core.Repository, sinks ...Sink) *Recorder {
	return &Recorder{repo: repo, sinks: sinks}
}

// Record appends the event. The store write is synchronous (the row is the
// source of truth for abuse detection); sink fanout is fire-and-forget.
func (r *Recorder) Record(ctx context.Context, e Event) {
	row := &core.SecurityEvent{
		EventType: e.Type,
		UserID:    e.UserID,
		ClientIP:  e.ClientIP,
		Details:   e.Details,
		Severity:  e.Severity,
		CreatedAt: time.Now().UTC(),
	}

	log := logger.From(ctx).With(
		logger.Component("audit"),
		logger.EventType(e.Type),
		logger.Severity(string(e.Severity)),
	)

	if err := r.repo.AppendSecurityEvent(ctx, row); err != nil {
		log.Error("failed to append security event", logger.Err(err))
	}

	if len(r.sinks) > 0 {
		// Detach from the request context so a canceled request does not
		// drop the export.
		go r.fanout(row)
	}
}

func (r *Recorder) fanout(row *core.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range r.sinks {
		if err := s.Publish(ctx, row); err != nil {
			logger.L().Warn("security event sink failed",
				logger.Component("audit"),
				logger.EventType(row.EventType),
				logger.Err(err),
			)
		}
	}
}

// Query reads back the append-only log.
func (r *Recorder) Query(ctx context.Context, f core.EventFilter) ([]core.SecurityEvent, error) {
	return r.repo.QuerySecurityEvents(ctx, f)
}

// Close shuts down the sinks.
func (r *Recorder) Close() {
	for _, s := range r.sinks {
		_ = s.Close()
	}
}
