package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "svnbridged",
		Short: "SVN protocol bridge backed by a Git object store",
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitRepoCmd())
	root.AddCommand(newCheckConfigCmd())
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "svnbridged 0.1.0-dev")
		},
	}
}
