package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBrokerCommand(ctx *commandContext) *cobra.Command {
	brokerCmd := &cobra.Command{
		Use:   "broker",
		Short: "Manage the broker connection",
	}

	brokerCmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Clear a parked broker connection and resume reconnecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				state, err := client.ResetBroker(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Broker connection is now %s\n", state)
				return nil
			})
		},
	})

	return brokerCmd
}
