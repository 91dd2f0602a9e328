package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docflow/internal/api"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var tenantID string
	var inline bool
	var fields []string

	cmd := &cobra.Command{
		Use:   "ingest <subject-id>",
		Short: "Register a document workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseFieldFlags(fields)
			if err != nil {
				return err
			}
			apiClient, err := ctx.apiClient()
			if err != nil {
				return err
			}
			resp, err := apiClient.Ingest(cmd.Context(), api.IngestRequest{
				SubjectID: args[0],
				TenantID:  tenantID,
				Payload:   payload,
				Inline:    inline,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Workflow %s created for subject %s\n", resp.Workflow.ID, resp.Workflow.SubjectID)
			if resp.Inline {
				fmt.Fprintln(out, "Inline run started; check `docflow workflow show` for progress")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant the document belongs to (required)")
	cmd.Flags().BoolVar(&inline, "inline", false, "Run the full pipeline immediately instead of waiting for the scheduler")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "Seed payload field as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func parseFieldFlags(fields []string) (map[string]any, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	payload := make(map[string]any, len(fields))
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --field %q, expected key=value", field)
		}
		payload[key] = value
	}
	return payload, nil
}
