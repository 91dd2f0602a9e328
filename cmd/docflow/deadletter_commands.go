package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"docflow/internal/api"
)

func newDeadLetterCommand(ctx *commandContext) *cobra.Command {
	deadLetterCmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dl"},
		Short:   "Inspect and retry dead-lettered stage failures",
	}

	deadLetterCmd.AddCommand(newDeadLetterListCommand(ctx))
	deadLetterCmd.AddCommand(newDeadLetterRetryCommand(ctx))

	return deadLetterCmd
}

func newDeadLetterListCommand(ctx *commandContext) *cobra.Command {
	var includeRetried bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-letter entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := ctx.apiClient()
			if err != nil {
				return err
			}
			entries, err := apiClient.ListDeadLetters(cmd.Context(), includeRetried)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No dead letters")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				rows = append(rows, []string{
					strconv.FormatInt(entry.ID, 10),
					entry.WorkflowID,
					entry.StageName,
					entry.ErrorCategory,
					strconv.Itoa(entry.AttemptCount),
					yesNo(entry.CanRetry),
					entry.FirstFailedAt,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Workflow", "Stage", "Category", "Attempts", "Retryable", "First failed"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeRetried, "all", false, "Include already retried entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}

func newDeadLetterRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <entry-id>",
		Short: "Re-dispatch a dead-lettered stage with a fresh attempt budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid entry id %q", args[0])
			}
			apiClient, err := ctx.apiClient()
			if err != nil {
				return err
			}
			result, err := apiClient.RetryDeadLetter(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch result.Outcome {
			case api.RetryDispatched:
				fmt.Fprintf(out, "Re-dispatched stage %s of workflow %s\n", result.Stage, result.WorkflowID)
			case api.RetryEntryNotFound:
				fmt.Fprintf(out, "Dead-letter entry %d not found\n", id)
			case api.RetryAlreadyRetried:
				fmt.Fprintf(out, "Entry %d was already retried\n", id)
			case api.RetryNotRetryable:
				fmt.Fprintf(out, "Entry %d is not retryable; fix the input and reset the workflow instead\n", id)
			case api.RetryRecordNotFound:
				fmt.Fprintf(out, "Workflow %s no longer exists\n", result.WorkflowID)
			case api.RetryRecordNotFailed:
				fmt.Fprintf(out, "Workflow %s is not failed; nothing to retry\n", result.WorkflowID)
			default:
				fmt.Fprintf(out, "Outcome: %s\n", result.Outcome)
			}
			return nil
		},
	}
}
