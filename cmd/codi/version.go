package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/bootstrap"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "codi %s\n", bootstrap.Version)
		},
	}
}
