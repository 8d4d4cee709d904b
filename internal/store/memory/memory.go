// Package memory implements core.Repository with in-process maps.
// It exists for development and tests; production deployments run on the
// pg adapter so state is shared across instances.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/streamgate/streamgate/internal/store/core"
)

type Store struct {
	mu        sync.Mutex
	tickets   map[string]*core.Ticket
	content   []core.ContentFile
	roles     map[string]core.UserRole
	grants    map[string]map[string]core.PermissionGrant // userID -> permission -> grant
	blacklist map[string]core.BlacklistEntry
	events    []core.SecurityEvent
	nextEvent int64
}

var _ core.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		tickets:   make(map[string]*core.Ticket),
		roles:     make(map[string]core.UserRole),
		grants:    make(map[string]map[string]core.PermissionGrant),
		blacklist: make(map[string]core.BlacklistEntry),
		nextEvent: 1,
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close()                         {}

// AddContentFile seeds the content library. Test/dev helper.
func (s *Store) AddContentFile(cf core.ContentFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = append(s.content, cf)
}

func copyTicket(t *core.Ticket) *core.Ticket {
	c := *t
	return &c
}

func (s *Store) CreateTicket(ctx context.Context, t *core.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[t.ID]; ok {
		return core.ErrConflict
	}
	s.tickets[t.ID] = copyTicket(t)
	return nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (*core.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return copyTicket(t), nil
}

func (s *Store) ConsumeTicket(ctx context.Context, id string, now time.Time) (*core.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, false, core.ErrNotFound
	}
	if t.IsRevoked || !now.Before(t.ExpiresAt) || t.UseCount >= t.MaxUses {
		return copyTicket(t), false, nil
	}
	t.UseCount++
	used := now
	t.LastUsedAt = &used
	return copyTicket(t), true, nil
}

func (s *Store) RevokeTicket(ctx context.Context, id, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return core.ErrNotFound
	}
	if !t.IsRevoked {
		t.IsRevoked = true
		t.RevokedAt = &at
		t.RevocationReason = reason
	}
	return nil
}

func (s *Store) RevokeUserTickets(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.tickets {
		if t.UserID == userID && !t.IsRevoked && t.ExpiresAt.After(at) {
			t.IsRevoked = true
			revokedAt := at
			t.RevokedAt = &revokedAt
			t.RevocationReason = reason
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteStaleTickets(ctx context.Context, now, revokedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.tickets {
		if t.ExpiresAt.Before(now) || (t.IsRevoked && t.RevokedAt != nil && t.RevokedAt.Before(revokedBefore)) {
			delete(s.tickets, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) TicketStats(ctx context.Context, since time.Time) (*core.TicketStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &core.TicketStats{DeniedByReason: map[string]int64{}}
	now := time.Now()
	for _, t := range s.tickets {
		if !t.CreatedAt.Before(since) {
			st.Issued++
		}
		if t.LastUsedAt != nil && !t.LastUsedAt.Before(since) {
			st.Redeemed += int64(t.UseCount)
		}
		if t.IsRevoked && t.RevokedAt != nil && !t.RevokedAt.Before(since) {
			st.Revoked++
		}
		if !t.IsRevoked && t.ExpiresAt.After(now) && t.UseCount < t.MaxUses {
			st.ActiveTickets++
		}
	}
	for _, e := range s.events {
		if e.EventType == "ticket_verification_failed" && !e.CreatedAt.Before(since) {
			if reason, ok := e.Details["reason"].(string); ok {
				st.DeniedByReason[reason]++
			}
		}
	}
	return st, nil
}

func (s *Store) ResolveContentFile(ctx context.Context, ct core.ContentType, contentID string, season, episode *int) (*core.ContentFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.content {
		cf := &s.content[i]
		if cf.ContentType == ct && cf.ContentID == contentID &&
			intPtrEq(cf.SeasonNumber, season) && intPtrEq(cf.EpisodeNumber, episode) {
			out := *cf
			return &out, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *Store) UpsertContentFile(ctx context.Context, cf *core.ContentFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.content {
		existing := &s.content[i]
		if existing.ContentType == cf.ContentType && existing.ContentID == cf.ContentID &&
			intPtrEq(existing.SeasonNumber, cf.SeasonNumber) && intPtrEq(existing.EpisodeNumber, cf.EpisodeNumber) {
			existing.FileRef = cf.FileRef
			existing.Available = cf.Available
			return nil
		}
	}
	s.content = append(s.content, *cf)
	return nil
}

func intPtrEq(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Store) GetUserRole(ctx context.Context, userID string) (*core.UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ur, ok := s.roles[userID]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := ur
	return &out, nil
}

func (s *Store) UpdateUserRole(ctx context.Context, userID, role string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = core.UserRole{UserID: userID, Role: role, UpdatedAt: at}
	return nil
}

func (s *Store) ListUserRoles(ctx context.Context, limit, offset int) ([]core.UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.UserRole, 0, len(s.roles))
	for _, ur := range s.roles {
		out = append(out, ur)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListGrants(ctx context.Context, userID string) ([]core.PermissionGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.PermissionGrant
	for _, g := range s.grants[userID] {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.Before(out[j].GrantedAt) })
	return out, nil
}

func (s *Store) UpsertGrant(ctx context.Context, g *core.PermissionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.grants[g.UserID]
	if !ok {
		m = make(map[string]core.PermissionGrant)
		s.grants[g.UserID] = m
	}
	m[g.Permission] = *g
	return nil
}

func (s *Store) UpsertBlacklistEntry(ctx context.Context, e *core.BlacklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	cp.Active = true
	s.blacklist[e.IP] = cp
	return nil
}

func (s *Store) GetActiveBlacklistEntry(ctx context.Context, ip string, now time.Time) (*core.BlacklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.blacklist[ip]
	if !ok || !e.Active || !e.ExpiresAt.After(now) {
		return nil, core.ErrNotFound
	}
	out := e
	return &out, nil
}

func (s *Store) DeactivateBlacklistEntry(ctx context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.blacklist[ip]
	if !ok {
		return core.ErrNotFound
	}
	e.Active = false
	s.blacklist[ip] = e
	return nil
}

func (s *Store) ListBlacklist(ctx context.Context, now time.Time) ([]core.BlacklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.BlacklistEntry
	for _, e := range s.blacklist {
		if e.Active && e.ExpiresAt.After(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteExpiredBlacklist(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for ip, e := range s.blacklist {
		if e.ExpiresAt.Before(now) {
			delete(s.blacklist, ip)
			n++
		}
	}
	return n, nil
}

func (s *Store) AppendSecurityEvent(ctx context.Context, e *core.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	cp.ID = s.nextEvent
	s.nextEvent++
	if cp.Details == nil {
		cp.Details = map[string]any{}
	}
	s.events = append(s.events, cp)
	return nil
}

func (s *Store) QuerySecurityEvents(ctx context.Context, f core.EventFilter) ([]core.SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []core.SecurityEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.events[i]
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.ClientIP != "" && e.ClientIP != f.ClientIP {
			continue
		}
		if f.MinSeverity != "" && e.Severity.Rank() < f.MinSeverity.Rank() {
			continue
		}
		if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) CountSecurityEventsByIP(ctx context.Context, ip string, minSeverity core.Severity, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.events {
		if strings.EqualFold(e.ClientIP, ip) && e.Severity.Rank() >= minSeverity.Rank() && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteSecurityEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var n int64
	for _, e := range s.events {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return n, nil
}
