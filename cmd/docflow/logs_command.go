package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show daemon log output",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := ctx.apiClient()
			if err != nil {
				return err
			}

			page, err := apiClient.LogPage(cmd.Context(), -1, lines, 0)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, line := range page.Lines {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}

			offset := page.NextOffset
			for {
				page, err := apiClient.LogPage(cmd.Context(), offset, 0, 20)
				if err != nil {
					if errors.Is(cmd.Context().Err(), context.Canceled) {
						return nil
					}
					return err
				}
				for _, line := range page.Lines {
					fmt.Fprintln(out, line)
				}
				offset = page.NextOffset
			}
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new lines")
	return cmd
}
