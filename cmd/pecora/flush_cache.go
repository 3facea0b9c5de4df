package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/matiastonello92/pecora/internal/invalidation"
	"github.com/matiastonello92/pecora/internal/permission"
	"github.com/spf13/cobra"
)

func newFlushCacheCmd(configPath *string) *cobra.Command {
	var orgID string

	cmd := &cobra.Command{
		Use:   "flush-cache",
		Short: "Drop cached permissions on every running instance",
		Long: `Publishes an invalidation on the Redis channel the instances listen on.
With --org only that organization's entries are dropped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inv := permission.Invalidation{Kind: permission.InvalidateAll}
			if orgID != "" {
				if err := uuid.Validate(orgID); err != nil {
					return fmt.Errorf("invalid --org: %w", err)
				}
				inv = permission.Invalidation{Kind: permission.InvalidateOrg, OrgID: orgID}
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Redis.URL == "" {
				return errors.New("redis.url is not configured")
			}

			ctx := cmd.Context()
			client, err := invalidation.Connect(ctx, cfg.Redis.URL)
			if err != nil {
				return fmt.Errorf("connecting to redis: %w", err)
			}
			defer client.Close()

			bus := invalidation.NewRedisBus(client, invalidation.WithChannel(cfg.Redis.Channel))
			if err := bus.Publish(ctx, inv); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s invalidation on %s\n", inv.Kind, cfg.Redis.Channel)
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "only flush this organization")
	return cmd
}
