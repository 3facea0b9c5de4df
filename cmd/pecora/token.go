package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matiastonello92/pecora/internal/auth"
	"github.com/spf13/cobra"
)

func newTokenCmd(configPath *string) *cobra.Command {
	var userID, email string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 access token for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := uuid.Validate(userID); err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.SigningKey == "" {
				return errors.New("auth.signingkey is not configured")
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenExpiry
			}

			var opts []auth.TokenOption
			if cfg.Auth.Audience != "" {
				opts = append(opts, auth.WithAudience(cfg.Auth.Audience))
			}
			svc := auth.NewTokenService(cfg.Auth.SigningKey, cfg.Auth.Issuer, ttl, opts...)
			token, err := svc.CreateAccessToken(&auth.Identity{UserID: userID, Email: email})
			if err != nil {
				return fmt.Errorf("signing token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to put in the subject claim (required)")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.tokenexpiry)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
