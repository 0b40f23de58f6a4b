package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/svnbridge/svnbridged/internal/config"
)

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config <path>",
		Short: "Load and validate a svnbridged.toml without starting the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config OK: %d repositories, listening on %s\n",
				len(cfg.Repositories), cfg.Server.ListenAddr)
			for _, r := range cfg.Repositories {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s -> %s (%s)\n", r.Name, r.GitDir, r.Ref)
			}
			return nil
		},
	}
}
