package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"

	"github.com/dreamware/strumspace/internal/coordinator"
	"github.com/dreamware/strumspace/internal/service"
)

type statusOptions struct {
	server  string
	refresh bool
	output  string
	timeout time.Duration
}

func newStatusCmd() *cobra.Command {
	opts := &statusOptions{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running strumspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			st, err := fetchStatus(ctx, service.NewClient(nil), opts.server, opts.refresh)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return writeIndented(cmd.OutOrStdout(), st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:3001", "strumspace base URL")
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "probe every service before reporting")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "table", "output format (table, json)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "request timeout")
	return cmd
}

func fetchStatus(ctx context.Context, client *service.Client, server string, refresh bool) (coordinator.SystemStatus, error) {
	u := strings.TrimRight(server, "/") + "/api/system-status"
	if refresh {
		u += "?" + url.Values{"refresh": {"true"}}.Encode()
	}
	var st coordinator.SystemStatus
	if err := client.GetJSON(ctx, u, &st); err != nil {
		return st, fmt.Errorf("fetch status from %s: %w", server, err)
	}
	return st, nil
}

func printStatus(w io.Writer, st coordinator.SystemStatus) {
	fmt.Fprintf(w, "Overall: %s   Uptime: %s   Chords: %d\n",
		st.Overall, (time.Duration(st.UptimeSeconds) * time.Second).String(), st.ChordDatabase.TotalChords)

	names := make([]string, 0, len(st.Services))
	for name := range st.Services {
		names = append(names, name)
	}
	slices.Sort(names)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"SERVICE", "HEALTH", "ADDRESS", "LATENCY", "FAILURES"})
	for _, name := range names {
		s := st.Services[name]
		latency := "-"
		if s.ResponseTimeMs != nil {
			latency = fmt.Sprintf("%dms", *s.ResponseTimeMs)
		}
		t.AppendRow(table.Row{name, s.Health.String(), s.Address, latency, s.ConsecutiveFailures})
	}
	t.Render()

	m := st.Metrics
	fmt.Fprintf(w, "Requests: %d total, %d ok, %d failed, %.0fms avg, %d/min\n",
		m.TotalRequests, m.SuccessCount, m.FailureCount, m.AverageLatencyMs, m.RequestsPerMinute)
}
