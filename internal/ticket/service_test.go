package ticket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/streamgate/streamgate/internal/audit"
	"github.com/streamgate/streamgate/internal/media"
	"github.com/streamgate/streamgate/internal/security/signer"
	"github.com/streamgate/streamgate/internal/store/core"
	"github.com/streamgate/streamgate/internal/store/memory"
)

func newTestService(t *testing.T, cfg Config) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	repo.AddContentFile(core.ContentFile{
		ContentType: core.ContentMovie,
		ContentID:   "movie-1",
		FileRef:     "movies/movie-1.mp4",
		Available:   true,
	})

	sg, err := signer.New([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	rec := audit.NewRecorder(repo)
	resolver := media.NewResolver(repo, time.Minute)
	return NewService(repo, resolver, sg, rec, cfg), repo
}

func mustCreate(t *testing.T, s *Service, userID string) *CreateResult {
	t.Helper()
	res, err := s.Create(context.Background(), CreateRequest{
		UserID:      userID,
		ContentType: core.ContentMovie,
		ContentID:   "movie-1",
		ClientIP:    "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}
	return res
}

func TestCreateAndVerify(t *testing.T) {
	s, _ := newTestService(t, Config{})
	ctx := context.Background()

	res := mustCreate(t, s, "u-1")
	if res.TicketID == "" || res.Token == "" {
		t.Fatalf("incomplete result: %+v", res)
	}
	if res.MaxUses != 3 {
		t.Fatalf("default max uses = %d, want 3", res.MaxUses)
	}

	v, err := s.VerifyAndConsume(ctx, res.TicketID, res.Token, "10.0.0.9")
	if err != nil {
		t.Fatalf("VerifyAndConsume err: %v", err)
	}
	if v.FileRef != "movies/movie-1.mp4" {
		t.Fatalf("file ref = %q", v.FileRef)
	}
	if v.RemainingUses != 2 {
		t.Fatalf("remaining = %d, want 2", v.RemainingUses)
	}
}

func TestCreate_Validation(t *testing.T) {
	s, _ := newTestService(t, Config{})
	ctx := context.Background()

	cases := []CreateRequest{
		{ContentType: core.ContentMovie, ContentID: "movie-1"},            // no user
		{UserID: "u-1", ContentType: core.ContentMovie},                   // no content
		{UserID: "u-1", ContentType: "series", ContentID: "movie-1"},      // bad type
	}
	for i, req := range cases {
		if _, err := s.Create(ctx, req); !errors.Is(err, core.ErrInvalid) {
			t.Fatalf("case %d: want ErrInvalid, got %v", i, err)
		}
	}
}

func TestCreate_ContentUnavailable(t *testing.T) {
	s, _ := newTestService(t, Config{})

	_, err := s.Create(context.Background(), CreateRequest{
		UserID:      "u-1",
		ContentType: core.ContentMovie,
		ContentID:   "nope",
	})
	if !errors.Is(err, media.ErrContentUnavailable) {
		t.Fatalf("want ErrContentUnavailable, got %v", err)
	}
}

func TestVerify_UnknownTicket(t *testing.T) {
	s, _ := newTestService(t, Config{})

	_, err := s.VerifyAndConsume(context.Background(), "missing", "sig", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestVerify_TamperedToken(t *testing.T) {
	s, _ := newTestService(t, Config{})
	res := mustCreate(t, s, "u-1")

	b := []byte(res.Token)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	_, err := s.VerifyAndConsume(context.Background(), res.TicketID, string(b), "")
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("want ErrBadSignature, got %v", err)
	}

	// the forged attempt must not burn a use
	v, err := s.VerifyAndConsume(context.Background(), res.TicketID, res.Token, "")
	if err != nil {
		t.Fatalf("legit verify after forgery: %v", err)
	}
	if v.RemainingUses != 2 {
		t.Fatalf("remaining = %d, want 2", v.RemainingUses)
	}
}

func TestVerify_UsageExhaustion(t *testing.T) {
	s, _ := newTestService(t, Config{MaxUses: 2})
	ctx := context.Background()
	res := mustCreate(t, s, "u-1")

	for i := 0; i < 2; i++ {
		if _, err := s.VerifyAndConsume(ctx, res.TicketID, res.Token, ""); err != nil {
			t.Fatalf("use %d: %v", i+1, err)
		}
	}
	_, err := s.VerifyAndConsume(ctx, res.TicketID, res.Token, "")
	if !errors.Is(err, ErrUsageExceeded) {
		t.Fatalf("want ErrUsageExceeded, got %v", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	s, _ := newTestService(t, Config{})
	ctx := context.Background()

	exp := time.Now().Add(30 * time.Millisecond)
	res, err := s.Create(ctx, CreateRequest{
		UserID:      "u-1",
		ContentType: core.ContentMovie,
		ContentID:   "movie-1",
		ExpiresAt:   &exp,
	})
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	_, err = s.VerifyAndConsume(ctx, res.TicketID, res.Token, "")
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("want ErrExpired, got %v", err)
	}
}

func TestVerify_Revoked(t *testing.T) {
	s, _ := newTestService(t, Config{})
	ctx := context.Background()
	res := mustCreate(t, s, "u-1")

	if err := s.Revoke(ctx, res.TicketID, "incident"); err != nil {
		t.Fatalf("Revoke err: %v", err)
	}
	_, err := s.VerifyAndConsume(ctx, res.TicketID, res.Token, "")
	if !errors.Is(err, ErrRevoked) {
		t.Fatalf("want ErrRevoked, got %v", err)
	}
}

func TestVerify_IPBinding(t *testing.T) {
	s, _ := newTestService(t, Config{BindClientIP: true})
	ctx := context.Background()
	res := mustCreate(t, s, "u-1") // issued from 10.0.0.1

	if _, err := s.VerifyAndConsume(ctx, res.TicketID, res.Token, "10.0.0.2"); !errors.Is(err, ErrIPMismatch) {
		t.Fatalf("want ErrIPMismatch, got %v", err)
	}
	if _, err := s.VerifyAndConsume(ctx, res.TicketID, res.Token, "10.0.0.1"); err != nil {
		t.Fatalf("same-IP verify: %v", err)
	}
}

func TestVerify_ConcurrentRedemptions(t *testing.T) {
	const maxUses = 3
	const attempts = 20

	s, _ := newTestService(t, Config{MaxUses: maxUses})
	ctx := context.Background()
	res := mustCreate(t, s, "u-1")

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.VerifyAndConsume(ctx, res.TicketID, res.Token, "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, exceeded int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrUsageExceeded):
			exceeded++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != maxUses {
		t.Fatalf("successful redemptions = %d, want exactly %d", ok, maxUses)
	}
	if exceeded != attempts-maxUses {
		t.Fatalf("exceeded = %d, want %d", exceeded, attempts-maxUses)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	s, _ := newTestService(t, Config{})
	ctx := context.Background()

	a := mustCreate(t, s, "u-1")
	b := mustCreate(t, s, "u-1")
	other := mustCreate(t, s, "u-2")

	n, err := s.RevokeAllForUser(ctx, "u-1", "account compromised")
	if err != nil {
		t.Fatalf("RevokeAllForUser err: %v", err)
	}
	if n != 2 {
		t.Fatalf("revoked = %d, want 2", n)
	}

	for _, id := range []string{a.TicketID, b.TicketID} {
		if _, err := s.VerifyAndConsume(ctx, id, tokenFor(a, b, id), ""); !errors.Is(err, ErrRevoked) {
			t.Fatalf("ticket %s: want ErrRevoked, got %v", id, err)
		}
	}
	if _, err := s.VerifyAndConsume(ctx, other.TicketID, other.Token, ""); err != nil {
		t.Fatalf("unrelated user's ticket: %v", err)
	}
}

func tokenFor(a, b *CreateResult, id string) string {
	if a.TicketID == id {
		return a.Token
	}
	return b.Token
}

func TestCleanupExpired(t *testing.T) {
	s, repo := newTestService(t, Config{})
	ctx := context.Background()

	exp := time.Now().Add(20 * time.Millisecond)
	res, err := s.Create(ctx, CreateRequest{
		UserID:      "u-1",
		ContentType: core.ContentMovie,
		ContentID:   "movie-1",
		ExpiresAt:   &exp,
	})
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}
	keep := mustCreate(t, s, "u-2")

	time.Sleep(40 * time.Millisecond)
	n, err := s.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired err: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}

	if _, err := repo.GetTicket(ctx, res.TicketID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expired ticket should be gone, got %v", err)
	}
	if _, err := repo.GetTicket(ctx, keep.TicketID); err != nil {
		t.Fatalf("live ticket should remain: %v", err)
	}
}

func TestAnalytics(t *testing.T) {
	s, _ := newTestService(t, Config{})
	ctx := context.Background()

	res := mustCreate(t, s, "u-1")
	mustCreate(t, s, "u-2")
	if _, err := s.VerifyAndConsume(ctx, res.TicketID, res.Token, ""); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := s.Revoke(ctx, res.TicketID, "done"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	st, err := s.Analytics(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Analytics err: %v", err)
	}
	if st.Issued != 2 {
		t.Fatalf("issued = %d, want 2", st.Issued)
	}
	if st.Redeemed != 1 {
		t.Fatalf("redeemed = %d, want 1", st.Redeemed)
	}
	if st.Revoked != 1 {
		t.Fatalf("revoked = %d, want 1", st.Revoked)
	}
	if st.ActiveTickets != 1 {
		t.Fatalf("active = %d, want 1", st.ActiveTickets)
	}
}
