package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/streamgate/streamgate/internal/access"
	"github.com/streamgate/streamgate/internal/config"
	"github.com/streamgate/streamgate/internal/observability/logger"
	"github.com/streamgate/streamgate/internal/store/core"
)

// seed bootstraps a fresh deployment: a first admin and, optionally, a
// content row so the stream path can be exercised end to end.
func newSeedCmd() *cobra.Command {
	var (
		adminID     string
		contentID   string
		contentType string
		fileRef     string
		season      int
		episode     int
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Bootstrap an admin user and optional demo content",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			initLogger(cfg)
			defer func() { _ = logger.Sync() }()

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			d, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.close()

			if adminID != "" {
				if err := d.repo.UpdateUserRole(ctx, adminID, access.RoleAdmin, time.Now().UTC()); err != nil {
					return fmt.Errorf("seed admin: %w", err)
				}
				fmt.Printf("admin role assigned to %s\n", adminID)
			}

			if contentID != "" {
				if fileRef == "" {
					return fmt.Errorf("--file is required with --content-id")
				}
				ct := core.ContentType(contentType)
				cf := &core.ContentFile{
					ContentType: ct,
					ContentID:   contentID,
					FileRef:     fileRef,
					Available:   true,
				}
				if ct == core.ContentEpisode {
					cf.SeasonNumber = &season
					cf.EpisodeNumber = &episode
				} else if ct != core.ContentMovie {
					return fmt.Errorf("--content-type must be movie or episode")
				}
				if err := d.repo.UpsertContentFile(ctx, cf); err != nil {
					return fmt.Errorf("seed content: %w", err)
				}
				fmt.Printf("content %s registered -> %s\n", contentID, fileRef)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&adminID, "admin", "", "user id to promote to admin")
	cmd.Flags().StringVar(&contentID, "content-id", "", "content id to register")
	cmd.Flags().StringVar(&contentType, "content-type", "movie", "movie or episode")
	cmd.Flags().StringVar(&fileRef, "file", "", "file reference relative to media.root_dir")
	cmd.Flags().IntVar(&season, "season", 1, "season number (episodes)")
	cmd.Flags().IntVar(&episode, "episode", 1, "episode number (episodes)")
	return cmd
}
