// Package cli implements the control plane daemon's command-line
// surface: a cobra root command plus serve/version/config-init
// subcommands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configPath string

// NewRootCmd builds the root cobra command. Call Execute() on the
// result from main.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "controlplaned",
		Short: "dslb-eesm control plane daemon",
		Long: "controlplaned runs the Server-Scaling Controller and the\n" +
			"Path-Weight Controller for an energy/performance-aware fleet\n" +
			"of HTTP backend servers behind a leaf-spine SDN fabric.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "/etc/dslb-eesm/config.toml", "path to the TOML configuration file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newConfigInitCmd())

	return root
}

// version is set via -ldflags "-X ...cli.version=..." at build time;
// it defaults to "dev" for local builds.
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the daemon version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
