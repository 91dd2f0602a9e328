package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docflow/internal/api"
)

func newWorkflowCommand(ctx *commandContext) *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect and steer workflows",
	}

	workflowCmd.AddCommand(newWorkflowListCommand(ctx))
	workflowCmd.AddCommand(newWorkflowShowCommand(ctx))
	workflowCmd.AddCommand(newWorkflowResetCommand(ctx))
	workflowCmd.AddCommand(newWorkflowTenantStatusCommand(ctx))

	return workflowCmd
}

func newWorkflowListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := ctx.apiClient()
			if err != nil {
				return err
			}
			views, err := apiClient.ListWorkflows(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, views)
			}
			if len(views) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No workflows")
				return nil
			}

			rows := make([][]string, 0, len(views))
			for _, view := range views {
				rows = append(rows, []string{
					view.ID,
					view.SubjectID,
					view.TenantID,
					view.Status,
					view.CurrentStage,
					fmt.Sprintf("%d/%d", view.StagesCompleted, view.StagesTotal),
					view.UpdatedAt,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Subject", "Tenant", "Status", "Stage", "Progress", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}

func newWorkflowShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show one workflow with its stage history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := ctx.apiClient()
			if err != nil {
				return err
			}
			view, err := apiClient.DescribeWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, view)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderWorkflowDetail(view))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}

func renderWorkflowDetail(view api.WorkflowView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow: %s\n", view.ID)
	fmt.Fprintf(&b, "Subject:  %s (tenant %s)\n", view.SubjectID, view.TenantID)
	fmt.Fprintf(&b, "Status:   %s\n", view.Status)
	if view.CurrentStage != "" {
		fmt.Fprintf(&b, "Stage:    %s\n", view.CurrentStage)
	}
	fmt.Fprintf(&b, "Progress: %d/%d (%.0f%%)\n", view.StagesCompleted, view.StagesTotal, view.ProgressPercent)
	if view.NeedsReview {
		fmt.Fprintf(&b, "Review:   %s\n", view.ReviewReason)
	}
	if view.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error:    [%s] %s\n", view.ErrorCategory, view.ErrorMessage)
	}
	if view.AutoFixApplied {
		fmt.Fprintf(&b, "Auto-fix: %s\n", view.AutoFixReason)
	}
	if view.CompletedAt != "" {
		fmt.Fprintf(&b, "Finished: %s\n", view.CompletedAt)
	}

	if len(view.History) > 0 {
		rows := make([][]string, 0, len(view.History))
		for _, entry := range view.History {
			rows = append(rows, []string{entry.Stage, entry.Status, entry.Timestamp, entry.Detail})
		}
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"Stage", "Status", "Timestamp", "Detail"}, rows, nil))
		b.WriteString("\n")
	}
	return b.String()
}

func newWorkflowResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <workflow-id>",
		Short: "Move a failed workflow back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if err := apiClient.ResetWorkflow(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Workflow %s reset to pending\n", args[0])
			return nil
		},
	}
}

func newWorkflowTenantStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tenant-status <workflow-id>",
		Short: "Show the tenant-facing status projection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := ctx.apiClient()
			if err != nil {
				return err
			}
			view, err := apiClient.TenantStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Subject %s: %s\n", view.SubjectID, view.State)
			if view.CurrentStage != "" {
				fmt.Fprintf(out, "Current step: %s\n", view.CurrentStage)
			}
			return nil
		},
	}
}
