package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "packguard",
		Short: "packguard - authentication and document permissions for tech packs",
		Long: `packguard issues JWT sessions with optional e-mailed two-factor codes
and decides per-document access from system roles and document shares.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default ./packguard.yaml, $CONFIG_FILE)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newUserCmd())

	return cmd
}
