package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sharepipe/internal/shares"
)

func newSharesCommand(ctx *commandContext) *cobra.Command {
	sharesCmd := &cobra.Command{
		Use:   "shares",
		Short: "Inspect and manage submitted shares",
	}

	sharesCmd.AddCommand(newSharesListCommand(ctx))
	sharesCmd.AddCommand(newSharesShowCommand(ctx))
	sharesCmd.AddCommand(newSharesRetryCommand(ctx))

	return sharesCmd
}

func newSharesListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var platform string
	var user string
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List shares",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				query := url.Values{}
				if len(statuses) > 0 {
					query.Set("status", strings.Join(statuses, ","))
				}
				if platform != "" {
					query.Set("platform", platform)
				}
				if user != "" {
					query.Set("user", user)
				}
				if limit > 0 {
					query.Set("limit", strconv.Itoa(limit))
				}

				list, err := client.ListShares(cmd.Context(), query)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, list)
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No shares found")
					return nil
				}

				rows := make([][]string, 0, len(list))
				for i := range list {
					rows = append(rows, buildShareRow(&list[i]))
				}
				table := renderTable(
					[]column{{name: "ID"}, {name: "User"}, {name: "Platform"}, {name: "Tier"},
						{name: "Status"}, {name: "Workflow"}, {name: "Updated"}},
					rows,
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVar(&platform, "platform", "", "Filter by platform")
	cmd.Flags().StringVar(&user, "user", "", "Filter by user ID")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of shares to return")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newSharesShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one share with its enhancement progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				detail, err := client.GetShare(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, detail)
				}

				out := cmd.OutOrStdout()
				share := detail.Share
				fmt.Fprintf(out, "Share %s\n", share.ID)
				fmt.Fprintf(out, "  URL:       %s\n", share.URL)
				fmt.Fprintf(out, "  User:      %s (%s)\n", share.UserID, share.UserTier)
				fmt.Fprintf(out, "  Platform:  %s\n", share.Platform)
				fmt.Fprintf(out, "  Status:    %s\n", share.Status)
				if share.WorkflowState != shares.StateNone {
					fmt.Fprintf(out, "  Workflow:  %s\n", share.WorkflowState)
				}
				if share.ContentType != shares.ContentUnknown {
					fmt.Fprintf(out, "  Content:   %s\n", share.ContentType)
				}
				if share.Title != "" {
					fmt.Fprintf(out, "  Title:     %s\n", share.Title)
				}
				if share.ErrorCode != "" {
					fmt.Fprintf(out, "  Error:     %s (%s)\n", share.ErrorMessage, share.ErrorCode)
				}
				fmt.Fprintf(out, "  Updated:   %s\n", share.UpdatedAt.Format(time.RFC3339))

				if detail.Enhancement != nil {
					record := detail.Enhancement
					fmt.Fprintln(out, "  Phases:")
					for _, phase := range shares.AllPhases() {
						fmt.Fprintf(out, "    %-13s %s\n", string(phase)+":", record.PhaseStatusFor(phase))
					}
					if record.RetryCount > 0 {
						fmt.Fprintf(out, "  Retries:   %d\n", record.RetryCount)
					}
					if record.FastEmbeddedAt != nil {
						fmt.Fprintf(out, "  Fast embedding: %s\n", record.FastEmbeddedAt.Format(time.RFC3339))
					}
					if record.EnhancedEmbeddedAt != nil {
						fmt.Fprintf(out, "  Enhanced embedding: %s\n", record.EnhancedEmbeddedAt.Format(time.RFC3339))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newSharesRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Requeue an errored share",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				retried, err := client.RetryShare(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if retried == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Share was not retried")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Share %s requeued\n", args[0])
				return nil
			})
		},
	}
}

func buildShareRow(share *shares.Share) []string {
	workflow := string(share.WorkflowState)
	if workflow == "" {
		workflow = "-"
	}
	return []string{
		share.ID,
		share.UserID,
		share.Platform,
		string(share.UserTier),
		string(share.Status),
		workflow,
		share.UpdatedAt.Format("2006-01-02 15:04"),
	}
}
