package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/streamgate/streamgate/internal/store/core"
)

// ResolveContentFile finds the playable media object for a content
// coordinate. Episodes match on (content_id, season, episode); movies
// ignore both.
func (s *Store) ResolveContentFile(ctx context.Context, ct core.ContentType, contentID string, season, episode *int) (*core.ContentFile, error) {
	const query = `
		SELECT content_type, content_id, season_number, episode_number, file_ref, available
		FROM content_files
		WHERE content_type = $1
		  AND content_id = $2
		  AND (season_number IS NOT DISTINCT FROM $3)
		  AND (episode_number IS NOT DISTINCT FROM $4)
	`
	var cf core.ContentFile
	err := s.pool.QueryRow(ctx, query, ct, contentID, season, episode).Scan(
		&cf.ContentType, &cf.ContentID, &cf.SeasonNumber, &cf.EpisodeNumber, &cf.FileRef, &cf.Available,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cf, nil
}

// UpsertContentFile registers or replaces the file behind a content
// coordinate.
func (s *Store) UpsertContentFile(ctx context.Context, cf *core.ContentFile) error {
	const query = `
		INSERT INTO content_files (content_type, content_id, season_number, episode_number, file_ref, available)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (content_type, content_id, season_number, episode_number)
		DO UPDATE SET file_ref = $5, available = $6
	`
	_, err := s.pool.Exec(ctx, query,
		cf.ContentType, cf.ContentID, cf.SeasonNumber, cf.EpisodeNumber, cf.FileRef, cf.Available,
	)
	return err
}
