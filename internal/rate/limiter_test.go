package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/streamgate/streamgate/internal/audit"
	"github.com/streamgate/streamgate/internal/cache"
	"github.com/streamgate/streamgate/internal/store/core"
	"github.com/streamgate/streamgate/internal/store/memory"
)

func newTestLimiter(t *testing.T, cfg Config) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	rec := audit.NewRecorder(repo)
	return NewService(cache.NewMemory("test"), repo, rec, cfg), repo
}

func TestCheck_AllowsUnderLimit(t *testing.T) {
	s, _ := newTestLimiter(t, Config{
		Enabled: true,
		Windows: map[LimitType]WindowLimit{LimitAPI: {Max: 5, Window: time.Minute}},
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := s.Check(ctx, Request{ClientIP: "192.0.2.1", LimitType: LimitAPI})
		if !d.Allowed {
			t.Fatalf("request %d denied: %+v", i+1, d)
		}
	}
}

func TestCheck_DeniesPastWindow(t *testing.T) {
	s, _ := newTestLimiter(t, Config{
		Enabled: true,
		Windows: map[LimitType]WindowLimit{LimitAPI: {Max: 2, Window: time.Minute}},
	})
	ctx := context.Background()
	req := Request{ClientIP: "192.0.2.1", LimitType: LimitAPI}

	s.Check(ctx, req)
	s.Check(ctx, req)
	d := s.Check(ctx, req)
	if d.Allowed {
		t.Fatal("third request should be denied")
	}
	if d.Reason != ReasonRate {
		t.Fatalf("reason = %q, want %q", d.Reason, ReasonRate)
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("retry-after = %v, want > 0", d.RetryAfter)
	}
	if d.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", d.Remaining)
	}
}

func TestCheck_DeniesOnBurst(t *testing.T) {
	s, _ := newTestLimiter(t, Config{
		Enabled: true,
		Windows: map[LimitType]WindowLimit{LimitAPI: {Max: 100, Window: time.Minute}},
		Buckets: map[LimitType]BucketLimit{LimitAPI: {MaxTokens: 2, RefillPerWindow: 1, Window: time.Hour}},
	})
	ctx := context.Background()
	req := Request{ClientIP: "192.0.2.1", LimitType: LimitAPI}

	s.Check(ctx, req)
	s.Check(ctx, req)
	d := s.Check(ctx, req)
	if d.Allowed {
		t.Fatal("bucket should be empty")
	}
	if d.Reason != ReasonBurst {
		t.Fatalf("reason = %q, want %q", d.Reason, ReasonBurst)
	}
}

func TestCheck_DeniesOnGlobalIP(t *testing.T) {
	s, _ := newTestLimiter(t, Config{
		Enabled:  true,
		Windows:  map[LimitType]WindowLimit{LimitAPI: {Max: 100, Window: time.Minute}},
		GlobalIP: WindowLimit{Max: 2, Window: time.Minute},
	})
	ctx := context.Background()

	// Distinct users behind one IP each have per-subject headroom, but
	// all three checks hit the same global IP window.
	s.Check(ctx, Request{ClientIP: "192.0.2.1", UserID: "u-1", LimitType: LimitAPI})
	s.Check(ctx, Request{ClientIP: "192.0.2.1", UserID: "u-2", LimitType: LimitAPI})
	d := s.Check(ctx, Request{ClientIP: "192.0.2.1", UserID: "u-3", LimitType: LimitAPI})
	if d.Allowed {
		t.Fatal("global ip window should deny")
	}
	if d.Reason != ReasonIPRate {
		t.Fatalf("reason = %q, want %q", d.Reason, ReasonIPRate)
	}
}

func TestCheck_UserAndIPBudgetsSeparate(t *testing.T) {
	s, _ := newTestLimiter(t, Config{
		Enabled: true,
		Windows: map[LimitType]WindowLimit{LimitAPI: {Max: 1, Window: time.Minute}},
	})
	ctx := context.Background()

	if d := s.Check(ctx, Request{ClientIP: "192.0.2.1", UserID: "u-1", LimitType: LimitAPI}); !d.Allowed {
		t.Fatalf("u-1 first request denied: %+v", d)
	}
	// Same IP, different authenticated user: separate subject budget.
	if d := s.Check(ctx, Request{ClientIP: "192.0.2.1", UserID: "u-2", LimitType: LimitAPI}); !d.Allowed {
		t.Fatalf("u-2 first request denied: %+v", d)
	}
	if d := s.Check(ctx, Request{ClientIP: "192.0.2.1", UserID: "u-1", LimitType: LimitAPI}); d.Allowed {
		t.Fatal("u-1 second request should be denied")
	}
}

func TestCheck_Disabled(t *testing.T) {
	s, _ := newTestLimiter(t, Config{
		Windows: map[LimitType]WindowLimit{LimitAPI: {Max: 1, Window: time.Minute}},
	})
	ctx := context.Background()
	req := Request{ClientIP: "192.0.2.1", LimitType: LimitAPI}

	for i := 0; i < 10; i++ {
		if d := s.Check(ctx, req); !d.Allowed {
			t.Fatalf("disabled limiter denied request %d", i+1)
		}
	}
}

// brokenCache errors on every admission primitive.
type brokenCache struct {
	cache.Client
}

var errCacheDown = errors.New("cache down")

func (brokenCache) SlidingWindowAllow(context.Context, string, int, time.Duration) (cache.WindowResult, error) {
	return cache.WindowResult{}, errCacheDown
}

func (brokenCache) TokenBucketTake(context.Context, string, float64, float64, time.Duration) (cache.BucketResult, error) {
	return cache.BucketResult{}, errCacheDown
}

func TestCheck_FailsOpenOnStorageError(t *testing.T) {
	repo := memory.New()
	rec := audit.NewRecorder(repo)
	s := NewService(brokenCache{}, repo, rec, Config{Enabled: true})
	ctx := context.Background()

	d := s.Check(ctx, Request{ClientIP: "192.0.2.1", LimitType: LimitAPI})
	if !d.Allowed {
		t.Fatal("storage errors must admit, not deny")
	}

	events, err := repo.QuerySecurityEvents(ctx, core.EventFilter{EventType: audit.EventRateLimitError})
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("rate_limit_error events = %d, want 1", len(events))
	}
	if events[0].Severity != core.SeverityHigh {
		t.Fatalf("severity = %q, want high", events[0].Severity)
	}
}

func TestBlacklistLifecycle(t *testing.T) {
	s, _ := newTestLimiter(t, Config{Enabled: true})
	ctx := context.Background()
	const ip = "198.51.100.7"

	if hit, _ := s.IsBlacklisted(ctx, ip); hit {
		t.Fatal("fresh ip should not be blacklisted")
	}

	if err := s.AddToBlacklist(ctx, ip, "manual block", time.Hour); err != nil {
		t.Fatalf("AddToBlacklist err: %v", err)
	}
	hit, reason := s.IsBlacklisted(ctx, ip)
	if !hit {
		t.Fatal("ip should be blacklisted")
	}
	if reason != "manual block" {
		t.Fatalf("reason = %q", reason)
	}

	entries, err := s.ListBlacklist(ctx)
	if err != nil {
		t.Fatalf("ListBlacklist err: %v", err)
	}
	if len(entries) != 1 || entries[0].IP != ip {
		t.Fatalf("entries = %+v", entries)
	}

	if err := s.RemoveFromBlacklist(ctx, ip); err != nil {
		t.Fatalf("RemoveFromBlacklist err: %v", err)
	}
	if hit, _ := s.IsBlacklisted(ctx, ip); hit {
		t.Fatal("removed ip should not be blacklisted")
	}
}

func TestBlacklist_Expiry(t *testing.T) {
	s, _ := newTestLimiter(t, Config{Enabled: true})
	ctx := context.Background()
	const ip = "198.51.100.8"

	if err := s.AddToBlacklist(ctx, ip, "short block", 30*time.Millisecond); err != nil {
		t.Fatalf("AddToBlacklist err: %v", err)
	}
	if hit, _ := s.IsBlacklisted(ctx, ip); !hit {
		t.Fatal("ip should be blacklisted")
	}

	time.Sleep(50 * time.Millisecond)
	if hit, _ := s.IsBlacklisted(ctx, ip); hit {
		t.Fatal("entry past its expiry should not match")
	}
}

func TestCheckAbusePatterns_EventThreshold(t *testing.T) {
	s, repo := newTestLimiter(t, Config{
		Enabled: true,
		Abuse:   AbuseConfig{EventThreshold: 3, RequestThreshold: 1000, Window: 5 * time.Minute, BlacklistFor: time.Hour},
	})
	ctx := context.Background()
	const ip = "203.0.113.5"
	rec := audit.NewRecorder(repo)

	for i := 0; i < 3; i++ {
		rec.Record(ctx, audit.Event{
			Type:     audit.EventTicketVerifyFailed,
			Severity: core.SeverityMedium,
			ClientIP: ip,
			Details:  map[string]any{"reason": "bad_signature"},
		})
	}

	res := s.CheckAbusePatterns(ctx, ip, "")
	if !res.IsAbusive {
		t.Fatalf("3 medium events should trip the detector: %+v", res)
	}
	if res.ViolationCount != 3 {
		t.Fatalf("violations = %d, want 3", res.ViolationCount)
	}
	if hit, reason := s.IsBlacklisted(ctx, ip); !hit || reason != "abuse detected" {
		t.Fatalf("abusive ip should be blacklisted, hit=%v reason=%q", hit, reason)
	}
}

func TestCheckAbusePatterns_RequestVolume(t *testing.T) {
	s, _ := newTestLimiter(t, Config{
		Enabled: true,
		Abuse:   AbuseConfig{EventThreshold: 1000, RequestThreshold: 3, Window: 5 * time.Minute, BlacklistFor: time.Hour},
	})
	ctx := context.Background()
	const ip = "203.0.113.6"

	for i := 0; i < 3; i++ {
		if res := s.CheckAbusePatterns(ctx, ip, ""); res.IsAbusive {
			t.Fatalf("check %d should be under the volume threshold", i+1)
		}
	}
	res := s.CheckAbusePatterns(ctx, ip, "")
	if !res.IsAbusive {
		t.Fatalf("volume past threshold should trip the detector: %+v", res)
	}
	if hit, _ := s.IsBlacklisted(ctx, ip); !hit {
		t.Fatal("abusive ip should be blacklisted")
	}
}

func TestCheckAbusePatterns_BelowThresholds(t *testing.T) {
	s, _ := newTestLimiter(t, Config{Enabled: true})
	ctx := context.Background()

	res := s.CheckAbusePatterns(ctx, "203.0.113.7", "u-1")
	if res.IsAbusive {
		t.Fatalf("clean ip flagged abusive: %+v", res)
	}
	if hit, _ := s.IsBlacklisted(ctx, "203.0.113.7"); hit {
		t.Fatal("clean ip blacklisted")
	}
}

func TestCleanup(t *testing.T) {
	s, repo := newTestLimiter(t, Config{Enabled: true})
	ctx := context.Background()

	if err := s.AddToBlacklist(ctx, "198.51.100.9", "short", 10*time.Millisecond); err != nil {
		t.Fatalf("AddToBlacklist err: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if err := s.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup err: %v", err)
	}
	if _, err := repo.GetActiveBlacklistEntry(ctx, "198.51.100.9", time.Now().UTC()); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expired row should be deleted, got %v", err)
	}
}
