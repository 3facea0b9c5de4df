package main

import (
	"fmt"

	"github.com/matiastonello92/pecora/internal/platform/config"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "pecora",
		Short:         "Effective permissions for multi-location staff management",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Without a subcommand the service starts.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "YAML config file; missing files are ignored")

	root.AddCommand(
		newServeCmd(&configPath),
		newCheckCmd(&configPath),
		newFlushCacheCmd(&configPath),
		newTokenCmd(&configPath),
	)
	return root
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
