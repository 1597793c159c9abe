package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var tier string

	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Submit a URL for enhancement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				share, err := client.SubmitShare(cmd.Context(), userID, args[0], tier)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Share %s accepted\n", share.ID)
				fmt.Fprintf(out, "  Platform: %s\n", share.Platform)
				fmt.Fprintf(out, "  Tier:     %s (%s priority)\n", share.UserTier, share.Priority())
				fmt.Fprintf(out, "  Status:   %s\n", share.Status)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Submitting user ID")
	cmd.Flags().StringVarP(&tier, "tier", "t", "free", "User tier (premium, standard, free)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
