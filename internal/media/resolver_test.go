package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/streamgate/streamgate/internal/store/core"
	"github.com/streamgate/streamgate/internal/store/memory"
)

func intPtr(n int) *int { return &n }

func TestResolve_Movie(t *testing.T) {
	repo := memory.New()
	repo.AddContentFile(core.ContentFile{
		ContentType: core.ContentMovie,
		ContentID:   "movie-1",
		FileRef:     "movies/movie-1.mp4",
		Available:   true,
	})
	r := NewResolver(repo, time.Minute)

	cf, err := r.Resolve(context.Background(), core.ContentMovie, "movie-1", nil, nil)
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if cf.FileRef != "movies/movie-1.mp4" {
		t.Fatalf("file ref = %q", cf.FileRef)
	}
}

func TestResolve_EpisodeCoordinates(t *testing.T) {
	repo := memory.New()
	repo.AddContentFile(core.ContentFile{
		ContentType:   core.ContentEpisode,
		ContentID:     "show-1",
		SeasonNumber:  intPtr(2),
		EpisodeNumber: intPtr(5),
		FileRef:       "shows/show-1/s02e05.mp4",
		Available:     true,
	})
	r := NewResolver(repo, time.Minute)
	ctx := context.Background()

	cf, err := r.Resolve(ctx, core.ContentEpisode, "show-1", intPtr(2), intPtr(5))
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if cf.FileRef != "shows/show-1/s02e05.mp4" {
		t.Fatalf("file ref = %q", cf.FileRef)
	}

	// A different episode of the same show is a different coordinate.
	if _, err := r.Resolve(ctx, core.ContentEpisode, "show-1", intPtr(2), intPtr(6)); !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("want ErrContentUnavailable, got %v", err)
	}
}

func TestResolve_Unavailable(t *testing.T) {
	repo := memory.New()
	repo.AddContentFile(core.ContentFile{
		ContentType: core.ContentMovie,
		ContentID:   "movie-1",
		FileRef:     "movies/movie-1.mp4",
		Available:   false,
	})
	r := NewResolver(repo, time.Minute)

	if _, err := r.Resolve(context.Background(), core.ContentMovie, "movie-1", nil, nil); !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("want ErrContentUnavailable, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), core.ContentMovie, "missing", nil, nil); !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("want ErrContentUnavailable, got %v", err)
	}
}

// countingRepo wraps the memory store to count lookups hitting the store.
type countingRepo struct {
	core.Repository
	resolves int
}

func (c *countingRepo) ResolveContentFile(ctx context.Context, ct core.ContentType, contentID string, season, episode *int) (*core.ContentFile, error) {
	c.resolves++
	return c.Repository.ResolveContentFile(ctx, ct, contentID, season, episode)
}

func TestResolve_CachesAndInvalidates(t *testing.T) {
	mem := memory.New()
	mem.AddContentFile(core.ContentFile{
		ContentType: core.ContentMovie,
		ContentID:   "movie-1",
		FileRef:     "movies/movie-1.mp4",
		Available:   true,
	})
	repo := &countingRepo{Repository: mem}
	r := NewResolver(repo, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(ctx, core.ContentMovie, "movie-1", nil, nil); err != nil {
			t.Fatalf("Resolve %d err: %v", i+1, err)
		}
	}
	if repo.resolves != 1 {
		t.Fatalf("store lookups = %d, want 1", repo.resolves)
	}

	// After invalidation the next lookup sees the updated file.
	if err := mem.UpsertContentFile(ctx, &core.ContentFile{
		ContentType: core.ContentMovie,
		ContentID:   "movie-1",
		FileRef:     "movies/movie-1-v2.mp4",
		Available:   true,
	}); err != nil {
		t.Fatalf("UpsertContentFile err: %v", err)
	}
	r.Invalidate(core.ContentMovie, "movie-1", nil, nil)

	cf, err := r.Resolve(ctx, core.ContentMovie, "movie-1", nil, nil)
	if err != nil {
		t.Fatalf("Resolve after invalidate err: %v", err)
	}
	if cf.FileRef != "movies/movie-1-v2.mp4" {
		t.Fatalf("file ref = %q, want the replaced file", cf.FileRef)
	}
	if repo.resolves != 2 {
		t.Fatalf("store lookups = %d, want 2", repo.resolves)
	}
}

func TestResolve_MissesAreNotCached(t *testing.T) {
	mem := memory.New()
	repo := &countingRepo{Repository: mem}
	r := NewResolver(repo, time.Minute)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, core.ContentMovie, "movie-1", nil, nil); !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("want ErrContentUnavailable, got %v", err)
	}

	mem.AddContentFile(core.ContentFile{
		ContentType: core.ContentMovie,
		ContentID:   "movie-1",
		FileRef:     "movies/movie-1.mp4",
		Available:   true,
	})
	if _, err := r.Resolve(ctx, core.ContentMovie, "movie-1", nil, nil); err != nil {
		t.Fatalf("newly added content should resolve: %v", err)
	}
}
