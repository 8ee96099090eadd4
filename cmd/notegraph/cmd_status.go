package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"notegraph/internal/control"
	"notegraph/internal/system"
)

var statusFormat string

// statusCmd queries a running service
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := control.NewClient(controlAddr())
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		st, err := client.Status(ctx)
		if err != nil {
			return fmt.Errorf("service not reachable at %s: %w", client.BaseURL(), err)
		}
		return printStatus(cmd.OutOrStdout(), st, statusFormat)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "text", "Output format (text, json)")
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(22)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
)

func printStatus(w io.Writer, st *system.Status, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case "text", "":
		_, err := fmt.Fprintln(w, renderStatus(st))
		return err
	default:
		return fmt.Errorf("unknown format %q (want text or json)", format)
	}
}

func renderStatus(st *system.Status) string {
	state := "stopped"
	if st.Service.Running {
		state = "running"
	}

	rows := []string{
		titleStyle.Render("notegraph " + state),
		row("instance", st.Service.InstanceID),
		row("uptime", fmt.Sprintf("%.2fh", st.Service.UptimeHours)),
		row("loops", formatLoops(st.Service.Loops)),
		"",
		row("queue", fmt.Sprintf("%d (%d in flight)", st.Processing.QueueSize, st.Processing.InFlight)),
		row("files tracked", fmt.Sprint(st.Processing.FilesTracked)),
		row("files processed", fmt.Sprint(st.Processing.FilesProcessed)),
		row("connections found", fmt.Sprint(st.Processing.ConnectionsFound)),
		row("connections applied", fmt.Sprintf("%d (%d this hour)", st.Processing.ConnectionsApplied, st.Processing.AppliedThisHour)),
		row("errors", fmt.Sprint(st.Processing.Errors)),
		row("files/hour", fmt.Sprintf("%.1f", st.Rates.FilesPerHour)),
		row("connections/hour", fmt.Sprintf("%.1f", st.Rates.ConnectionsPerHour)),
	}
	for _, path := range st.Processing.Current {
		rows = append(rows, row("analyzing", path))
	}
	if st.Store != nil {
		rows = append(rows, "",
			row("stored classifications", fmt.Sprint(st.Store.Classifications)),
			row("stored connections", fmt.Sprintf("%d (%d applied)", st.Store.Connections, st.Store.AppliedConnections)))
	}
	if st.Discovery != nil {
		rows = append(rows, row("last discovery", st.Discovery.String()))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func formatLoops(loops map[string]bool) string {
	names := make([]string, 0, len(loops))
	for name := range loops {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		mark := "down"
		if loops[name] {
			mark = "up"
		}
		parts = append(parts, name+"="+mark)
	}
	return strings.Join(parts, " ")
}
