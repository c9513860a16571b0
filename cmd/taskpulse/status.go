// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// ProbeStatus holds the result of one health probe.
type ProbeStatus struct {
	Probe  string `json:"probe"`
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`
	Error  string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	addr       string
	jsonOutput bool
	timeout    time.Duration
}

// probes are the observability endpoints the status command checks.
var probes = []struct {
	name string
	path string
}{
	{"liveness", "/healthz/liveness"},
	{"readiness", "/healthz/readiness"},
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running TaskPulse server",
		Long: `Probe the liveness and readiness endpoints of a running server's
observability listener. Readiness fails while the bus is disconnected.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.addr == "" {
				appCfg, err := loadConfig(nil)
				if err != nil {
					return err
				}
				cfg.addr = appCfg.Metrics.Addr
			}
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", "", "observability address (default: metrics.addr from config)")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 2*time.Second, "probe timeout")

	return cmd
}

// runStatus executes the status command. It fails when any probe fails.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	if cfg.addr == "" {
		return fmt.Errorf("no observability address: set --addr or metrics.addr")
	}

	client := &http.Client{Timeout: cfg.timeout}
	base := cfg.addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	results := make([]ProbeStatus, 0, len(probes))
	healthy := true
	for _, p := range probes {
		st := probe(cmd.Context(), client, p.name, base+p.path)
		healthy = healthy && st.OK
		results = append(results, st)
	}

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		cmd.Println(string(data))
	} else {
		cmd.Print(formatStatusTable(results))
	}

	if !healthy {
		return fmt.Errorf("taskpulse at %s is not healthy", cfg.addr)
	}
	return nil
}

func probe(ctx context.Context, client *http.Client, name, url string) ProbeStatus {
	st := ProbeStatus{Probe: name}
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	resp, err := client.Do(req)
	if err != nil {
		st.Error = fmt.Sprintf("failed to connect: %v", err)
		return st
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	st.Status = resp.StatusCode
	st.Body = strings.TrimSpace(string(body))
	st.OK = resp.StatusCode == http.StatusOK
	return st
}

// formatStatusTable formats the probes as a human-readable table.
func formatStatusTable(results []ProbeStatus) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "PROBE\tSTATUS\tDETAIL")
	_, _ = fmt.Fprintln(w, "-----\t------\t------")
	for _, r := range results {
		switch {
		case r.Error != "":
			_, _ = fmt.Fprintf(w, "%s\tdown\t%s\n", r.Probe, r.Error)
		case r.OK:
			_, _ = fmt.Fprintf(w, "%s\tok\t%s\n", r.Probe, r.Body)
		default:
			_, _ = fmt.Fprintf(w, "%s\tfailing\t%d %s\n", r.Probe, r.Status, r.Body)
		}
	}

	_ = w.Flush()
	return sb.String()
}
