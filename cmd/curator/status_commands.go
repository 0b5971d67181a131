package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and worker pool status",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(cmd.OutOrStdout())
			if resp.Running {
				fmt.Fprintln(out, statusLabel("Daemon running", colorize, true))
			} else {
				fmt.Fprintln(out, statusLabel("Daemon stopped", colorize, false))
			}
			fmt.Fprintf(out, "Queued jobs: %d (oldest waiting %s)\n",
				resp.Queue.ByStatus["queued"], time.Duration(resp.Queue.OldestAgeSeconds*float64(time.Second)).Round(time.Second))
			for _, handler := range sortedHandlers(resp.Handlers) {
				state := "ready"
				if !handler.Ready {
					state = "not ready"
					if handler.Detail != "" {
						state += ": " + handler.Detail
					}
				}
				fmt.Fprintf(out, "  %-16s %s\n", handler.Name, state)
			}
			return nil
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "queue-health",
		Short: "Show aggregate queue depth per status and lane",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().QueueHealth(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Total jobs: %d\n", resp.Total)
			for _, status := range sortedKeys(resp.ByStatus) {
				fmt.Fprintf(out, "  %-10s %d\n", status, resp.ByStatus[status])
			}
			if len(resp.ByLane) > 0 {
				fmt.Fprintln(out, "Pending by lane:")
				for _, lane := range sortedKeys(resp.ByLane) {
					fmt.Fprintf(out, "  %-10s %d\n", lane, resp.ByLane[lane])
				}
			}
			return nil
		},
	}
}

func statusLabel(text string, colorize, ok bool) string {
	if !colorize {
		return text
	}
	color := "\x1b[32m"
	if !ok {
		color = "\x1b[31m"
	}
	return color + text + "\x1b[0m"
}

func sortedHandlers(handlers []api.HandlerHealth) []api.HandlerHealth {
	out := append([]api.HandlerHealth(nil), handlers...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
