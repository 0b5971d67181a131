package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"curator/internal/api"
)

func newDocumentsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "Manage documents and their deletion lifecycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newDocumentsDeleteCommand(ctx))
	cmd.AddCommand(newDocumentsRetryDeletionCommand(ctx))
	cmd.AddCommand(newDocumentsDeletionStatusCommand(ctx))
	return cmd
}

func newDocumentsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Request a cascading delete of a document and all derived artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().DeleteDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deletion requested for %s (status: %s).\n", resp.DocumentID, resp.Status)
			printDeletionTasks(cmd, resp)
			return nil
		},
	}
}

func newDocumentsRetryDeletionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-deletion <document-id>",
		Short: "Requeue a document's failed deletion tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().RetryDeletion(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deletion retry requested for %s (status: %s).\n", resp.DocumentID, resp.Status)
			printDeletionTasks(cmd, resp)
			return nil
		},
	}
}

func newDocumentsDeletionStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deletion-status <document-id>",
		Short: "Show a document's deletion progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().DeletionStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Document %s deletion status: %s\n", resp.DocumentID, resp.Status)
			printDeletionTasks(cmd, resp)
			return nil
		},
	}
}

func printDeletionTasks(cmd *cobra.Command, resp *api.DeletionStatusResponse) {
	if len(resp.Tasks) == 0 {
		return
	}
	rows := make([][]string, 0, len(resp.Tasks))
	for _, task := range resp.Tasks {
		rows = append(rows, []string{
			strconv.Itoa(task.ProcessingOrder),
			task.Type,
			task.Status,
			strconv.Itoa(task.ResourceCount),
			strconv.Itoa(task.RetryCount),
			task.ErrorMessage,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Order", "Task", "Status", "Resources", "Retries", "Error"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	))
}
