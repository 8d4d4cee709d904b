// Package media resolves content coordinates to playable file references.
// The resolver is the only place the admission core touches the content
// library; ingestion and transcoding live elsewhere and just fill the
// table this reads.
package media

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/streamgate/streamgate/internal/store/core"
)

// ErrContentUnavailable means no playable file exists for the requested
// content/season/episode combination.
var ErrContentUnavailable = errors.New("content unavailable")

// Resolver memoizes lookups so a burst of redemptions for the same title
// hits the store once. Entries are short-lived; the library can change
// underneath (file swapped after a re-transcode).
type Resolver struct {
	repo  core.Repository
	cache *gocache.Cache
	group singleflight.Group
}

func NewResolver(repo core.Repository, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Resolver{
		repo:  repo,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Resolve returns the playable file for the coordinate, or
// ErrContentUnavailable. Concurrent callers for the same coordinate share
// one store round trip.
func (r *Resolver) Resolve(ctx context.Context, ct core.ContentType, contentID string, season, episode *int) (*core.ContentFile, error) {
	key := cacheKey(ct, contentID, season, episode)

	if v, ok := r.cache.Get(key); ok {
		cf := v.(core.ContentFile)
		return &cf, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		cf, err := r.repo.ResolveContentFile(ctx, ct, contentID, season, episode)
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrContentUnavailable
		}
		if err != nil {
			return nil, err
		}
		if !cf.Available {
			return nil, ErrContentUnavailable
		}
		r.cache.Set(key, *cf, gocache.DefaultExpiration)
		return *cf, nil
	})
	if err != nil {
		return nil, err
	}

	cf := v.(core.ContentFile)
	return &cf, nil
}

// Invalidate drops one coordinate from the memo cache.
func (r *Resolver) Invalidate(ct core.ContentType, contentID string, season, episode *int) {
	r.cache.Delete(cacheKey(ct, contentID, season, episode))
}

func cacheKey(ct core.ContentType, contentID string, season, episode *int) string {
	return fmt.Sprintf("%s:%s:%s:%s", ct, contentID, intPtrStr(season), intPtrStr(episode))
}

func intPtrStr(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p)
}
