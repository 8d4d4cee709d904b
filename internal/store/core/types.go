package core

import "time"

// ContentType distinguishes the two playable shapes in the library.
type ContentType string

const (
	ContentMovie   ContentType = "movie"
	ContentEpisode ContentType = "episode"
)

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so filters can express "medium or worse".
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return -1
}

// Ticket is one authorized playback session. The raw storage pointer
// (FileRef) never crosses the wire; only (ID, Signature) do.
type Ticket struct {
	ID               string
	UserID           string
	ContentID        string
	ContentType      ContentType
	SeasonNumber     *int
	EpisodeNumber    *int
	FileRef          string
	Signature        string
	ClientIP         string
	UserAgent        string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	LastUsedAt       *time.Time
	UseCount         int
	MaxUses          int
	IsRevoked        bool
	RevokedAt        *time.Time
	RevocationReason string
}

// ContentFile maps a content coordinate to its playable media object.
type ContentFile struct {
	ContentType   ContentType
	ContentID     string
	SeasonNumber  *int
	EpisodeNumber *int
	FileRef       string
	Available     bool
}

// UserRole is the persisted role assignment for one user.
type UserRole struct {
	UserID    string
	Role      string
	UpdatedAt time.Time
}

// PermissionGrant is one per-user override on top of the role defaults.
// IsGranted=false records an explicit revocation, which always wins.
type PermissionGrant struct {
	UserID     string
	Permission string
	IsGranted  bool
	GrantedBy  string
	GrantedAt  time.Time
}

// BlacklistEntry is a temporary deny-list row for one IP.
type BlacklistEntry struct {
	IP        string
	Reason    string
	CreatedAt time.Time
	ExpiresAt time.Time
	Active    bool
}

// SecurityEvent is an append-only audit row. Never mutated; deleted only
// by retention policy.
type SecurityEvent struct {
	ID        int64
	EventType string
	UserID    string
	ClientIP  string
	Details   map[string]any
	Severity  Severity
	CreatedAt time.Time
}

// EventFilter narrows a security-event query.
type EventFilter struct {
	EventType   string
	UserID      string
	ClientIP    string
	MinSeverity Severity
	Since       time.Time
	Limit       int
}

// TicketStats aggregates ticket activity over a trailing window.
type TicketStats struct {
	Issued         int64
	Redeemed       int64
	Revoked        int64
	ActiveTickets  int64
	DeniedByReason map[string]int64
}
