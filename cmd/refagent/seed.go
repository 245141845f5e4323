package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"refagent/internal/config"
	"refagent/internal/domains"
	"refagent/internal/registry"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func seedCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the sample referral network and protocol data into the graph",
		Long: `Writes sample hospitals, referrals, providers, protocols and outcomes for
every enabled domain in the domains file. Dependencies are loaded first.
Loading is idempotent; --reset removes the existing sample labels first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			closeLog, err := setupLogger(cfg.General)
			if err != nil {
				return err
			}
			defer closeLog()

			descriptors, err := registry.LoadDescriptors(cfg.General.DomainsFile)
			if err != nil {
				return err
			}

			g, err := openGraph(cfg)
			if err != nil {
				return err
			}
			defer g.Close(context.Background())

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			if err := g.Ping(ctx); err != nil {
				return errors.New(describeGraphError(cfg.Graph.URI, err))
			}

			err = domains.Seed(ctx, g, descriptors, reset, func(domainID, module string) {
				fmt.Printf("  %s %s (%s)\n", color.GreenString("✓"), domainID, module)
			})
			if err != nil {
				return err
			}
			logger.Info("sample data loaded", "uri", cfg.Graph.URI, "reset", reset)
			fmt.Println("Sample data loaded.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "remove existing sample data before loading")
	return cmd
}
