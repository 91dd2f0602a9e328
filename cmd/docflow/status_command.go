package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline health",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := ctx.apiClient()
			if err != nil {
				return err
			}
			health, err := api.Health(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, health)
			}

			out := cmd.OutOrStdout()
			running, _ := health["running"].(bool)
			fmt.Fprintf(out, "Daemon running: %s\n", yesNo(running))
			if store, ok := health["storePath"].(string); ok && store != "" {
				fmt.Fprintf(out, "Store: %s\n", store)
			}

			if counts, ok := health["workflows"].(map[string]any); ok {
				rows := make([][]string, 0, len(counts))
				for _, key := range []string{"total", "pending", "processing", "completed", "needsReview", "failed", "deadLetters"} {
					if value, ok := counts[key]; ok {
						rows = append(rows, []string{key, fmt.Sprintf("%v", value)})
					}
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable([]string{"Workflows", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			}

			if stageHealth, ok := health["stageHealth"].([]any); ok && len(stageHealth) > 0 {
				rows := make([][]string, 0, len(stageHealth))
				for _, entry := range stageHealth {
					report, ok := entry.(map[string]any)
					if !ok {
						continue
					}
					ready, _ := report["ready"].(bool)
					detail, _ := report["detail"].(string)
					rows = append(rows, []string{
						fmt.Sprintf("%v", report["name"]),
						yesNo(ready),
						detail,
					})
				}
				fmt.Fprintln(out, renderTable([]string{"Stage", "Ready", "Detail"}, rows, nil))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
