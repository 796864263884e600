package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dslb-eesm/controlplane/internal/config"
)

func newConfigInitCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "config-init",
		Short: "write an example configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteExample(out); err != nil {
				return fmt.Errorf("write example config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote example configuration to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "config.toml", "output path for the example configuration")
	return cmd
}
