package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/matiastonello92/pecora/internal/permission"
	"github.com/matiastonello92/pecora/internal/platform/database"
	"github.com/spf13/cobra"
)

func newCheckCmd(configPath *string) *cobra.Command {
	var userID, orgID, locationID string

	cmd := &cobra.Command{
		Use:   "check [codes...]",
		Short: "Resolve a user's effective permissions straight from the database",
		Long: `Resolves the effective permissions of --user in --org, bypassing the cache.
With codes, prints whether each one is allowed. Without, lists every
granted code.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScope(userID, orgID, locationID)
			if err != nil {
				return err
			}
			codes := make([]string, 0, len(args))
			for _, arg := range args {
				code, err := permission.ParseCode(arg)
				if err != nil {
					return err
				}
				codes = append(codes, code)
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := database.Connect(ctx, cfg.Database.URL, 2)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()

			resolver := permission.NewResolver(permission.NewPGStore(pool),
				permission.WithFetchTimeout(cfg.Permission.FetchTimeout))
			eff, err := resolver.Resolve(ctx, userID, scope)
			if err != nil {
				return fmt.Errorf("resolving permissions: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(codes) == 0 {
				for _, code := range eff.Codes() {
					fmt.Fprintln(out, code)
				}
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, code := range codes {
				verdict := "deny"
				if eff.Allows(code) {
					verdict = "allow"
				}
				note := ""
				if !permission.IsKnown(code) {
					note = "not in catalog"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", code, verdict, note)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&orgID, "org", "", "organization id (required)")
	cmd.Flags().StringVar(&locationID, "location", "", "location id; empty means org-wide")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func parseScope(userID, orgID, locationID string) (permission.Scope, error) {
	if err := uuid.Validate(userID); err != nil {
		return permission.Scope{}, fmt.Errorf("invalid --user: %w", err)
	}
	if err := uuid.Validate(orgID); err != nil {
		return permission.Scope{}, fmt.Errorf("invalid --org: %w", err)
	}
	if locationID != "" {
		if err := uuid.Validate(locationID); err != nil {
			return permission.Scope{}, fmt.Errorf("invalid --location: %w", err)
		}
	}
	return permission.Scope{OrgID: orgID, LocationID: locationID}, nil
}
