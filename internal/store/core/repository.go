package core

import (
	"context"
	"time"
)

// Repository is the relational side of the durable record store. Every
// instance of the service shares it; no cross-request state lives in
// process memory.
type Repository interface {
	Ping(ctx context.Context) error

	// Tickets
	CreateTicket(ctx context.Context, t *Ticket) error
	GetTicket(ctx context.Context, id string) (*Ticket, error)
	// ConsumeTicket atomically increments use_count iff the ticket is
	// consumable at now (not revoked, not expired, under max_uses). It
	// returns the post-update row and consumed=true on success, or the
	// current row and consumed=false when the conditional update did not
	// match. ErrNotFound when the id does not exist.
	ConsumeTicket(ctx context.Context, id string, now time.Time) (t *Ticket, consumed bool, err error)
	RevokeTicket(ctx context.Context, id, reason string, at time.Time) error
	RevokeUserTickets(ctx context.Context, userID, reason string, at time.Time) (int64, error)
	// DeleteStaleTickets removes tickets expired before now and revoked
	// tickets whose revocation predates revokedBefore.
	DeleteStaleTickets(ctx context.Context, now, revokedBefore time.Time) (int64, error)
	TicketStats(ctx context.Context, since time.Time) (*TicketStats, error)

	// Content library
	ResolveContentFile(ctx context.Context, ct ContentType, contentID string, season, episode *int) (*ContentFile, error)
	UpsertContentFile(ctx context.Context, cf *ContentFile) error

	// Access control
	GetUserRole(ctx context.Context, userID string) (*UserRole, error)
	UpdateUserRole(ctx context.Context, userID, role string, at time.Time) error
	ListUserRoles(ctx context.Context, limit, offset int) ([]UserRole, error)
	ListGrants(ctx context.Context, userID string) ([]PermissionGrant, error)
	UpsertGrant(ctx context.Context, g *PermissionGrant) error

	// Blacklist
	UpsertBlacklistEntry(ctx context.Context, e *BlacklistEntry) error
	GetActiveBlacklistEntry(ctx context.Context, ip string, now time.Time) (*BlacklistEntry, error)
	DeactivateBlacklistEntry(ctx context.Context, ip string) error
	ListBlacklist(ctx context.Context, now time.Time) ([]BlacklistEntry, error)
	DeleteExpiredBlacklist(ctx context.Context, now time.Time) (int64, error)

	// Security events
	AppendSecurityEvent(ctx context.Context, e *SecurityEvent) error
	QuerySecurityEvents(ctx context.Context, f EventFilter) ([]SecurityEvent, error)
	CountSecurityEventsByIP(ctx context.Context, ip string, minSeverity Severity, since time.Time) (int64, error)
	DeleteSecurityEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close()
}
