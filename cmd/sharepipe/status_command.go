package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sharepipe/internal/broker"
	"sharepipe/internal/daemon"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, status)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderStatusReport(status, colorize) {
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

func renderStatusReport(status *daemon.Status, colorize bool) []string {
	lines := renderSectionHeader("Broker", colorize)
	lines = append(lines, renderStatusLine("Connection", brokerStateKind(status.Broker.State), brokerStateMessage(status.Broker), colorize))
	lines = append(lines, renderStatusLine("Circuit breaker", breakerKind(status.Broker.Breaker), breakerMessage(status.Broker.Breaker), colorize))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Shares", colorize)...)
	shareKind := statusOK
	if status.Shares.Errored > 0 {
		shareKind = statusWarn
	}
	lines = append(lines, renderStatusLine("Totals", shareKind, fmt.Sprintf(
		"%d total, %d pending, %d in flight, %d done, %d errored",
		status.Shares.Total, status.Shares.Pending, status.Shares.InFlight, status.Shares.Done, status.Shares.Errored,
	), colorize))

	if len(status.RateLimits) > 0 {
		rows := make([][]string, 0, len(status.RateLimits))
		for _, snapshot := range status.RateLimits {
			source := "estimated"
			if snapshot.Authoritative {
				source = "headers"
			}
			reset := ""
			if !snapshot.ResetAt.IsZero() {
				reset = snapshot.ResetAt.Format(time.Kitchen)
			}
			rows = append(rows, []string{
				snapshot.Platform,
				strconv.Itoa(snapshot.Remaining),
				strconv.Itoa(snapshot.Limit),
				reset,
				source,
			})
		}
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Rate limits", colorize)...)
		lines = append(lines, strings.Split(renderTable(
			[]column{{name: "Platform"}, {name: "Remaining", numeric: true},
				{name: "Limit", numeric: true}, {name: "Resets"}, {name: "Source"}},
			rows,
		), "\n")...)
	}

	if len(status.Queues) > 0 {
		rows := make([][]string, 0, len(status.Queues))
		for _, depth := range status.Queues {
			rows = append(rows, []string{
				depth.Queue,
				strconv.Itoa(depth.Weight),
				strconv.Itoa(depth.Pending),
				strconv.Itoa(depth.Active),
				strconv.Itoa(depth.Scheduled),
				strconv.Itoa(depth.Retry),
			})
		}
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Queues", colorize)...)
		lines = append(lines, strings.Split(renderTable(
			[]column{{name: "Queue"}, {name: "Weight", numeric: true},
				{name: "Pending", numeric: true}, {name: "Active", numeric: true},
				{name: "Scheduled", numeric: true}, {name: "Retry", numeric: true}},
			rows,
		), "\n")...)
	}

	return lines
}

func brokerStateKind(state broker.ConnectionState) statusKind {
	switch state {
	case broker.StateConnected:
		return statusOK
	case broker.StateConnecting, broker.StateDisconnected:
		return statusWarn
	case broker.StateNeedsIntervention:
		return statusError
	default:
		return statusInfo
	}
}

func brokerStateMessage(status broker.Status) string {
	message := string(status.State)
	if status.State == broker.StateConnected && !status.ConnectedSince.IsZero() {
		message += " since " + status.ConnectedSince.Format(time.RFC3339)
	}
	if status.ReconnectAttempt > 0 {
		message += fmt.Sprintf(" (attempt %d)", status.ReconnectAttempt)
	}
	if status.LastError != "" {
		message += "; last error: " + status.LastError
	}
	return message
}

func breakerKind(breakerStatus broker.BreakerStatus) statusKind {
	switch breakerStatus.State {
	case broker.BreakerClosed:
		return statusOK
	case broker.BreakerOpen:
		return statusError
	default:
		return statusWarn
	}
}

func breakerMessage(breakerStatus broker.BreakerStatus) string {
	message := string(breakerStatus.State)
	if breakerStatus.Failures > 0 {
		message += fmt.Sprintf(", %d consecutive failures", breakerStatus.Failures)
	}
	if !breakerStatus.OpenUntil.IsZero() {
		message += ", cooldown until " + breakerStatus.OpenUntil.Format(time.Kitchen)
	}
	return message
}
