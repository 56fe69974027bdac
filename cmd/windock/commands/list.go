package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bryanchriswhite/windock/internal/toplevel"
	"github.com/bryanchriswhite/windock/internal/window"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List open windows",
	Long: `List the toplevel windows of the current session.

This command connects to the window source, waits until the initial window
set has been reported, prints it and exits.`,
	Example: `  # List windows in table format (default)
  windock list

  # List windows in JSON format
  windock list --format json

  # List only the active window
  windock list --active`,
	RunE: runList,
}

var (
	listFormat  string
	listActive  bool
	listTimeout time.Duration
	listSettle  time.Duration
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table or json)")
	listCmd.Flags().BoolVarP(&listActive, "active", "a", false, "show only the activated window")
	listCmd.Flags().DurationVar(&listTimeout, "timeout", 5*time.Second, "maximum time to wait for the window source")
	listCmd.Flags().DurationVar(&listSettle, "settle", 200*time.Millisecond, "quiet period that ends the initial burst")
}

func runList(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	p, err := startPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	snap, err := p.waitInitial(ctx, listSettle, listTimeout)
	if err != nil {
		return err
	}

	if listActive {
		snap = activeOnly(snap)
	}
	return printSnapshot(os.Stdout, snap, listFormat)
}

func activeOnly(snap window.Snapshot) window.Snapshot {
	out := snap
	out.Entries = out.Entries[:0:0]
	for _, e := range snap.Entries {
		if e.Info.State.Has(toplevel.StateActivated) {
			out.Entries = append(out.Entries, e)
		}
	}
	return out
}

func printSnapshot(w io.Writer, snap window.Snapshot, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(snap.Entries)
	case "table":
		return printTable(w, snap)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", format)
	}
}

func printTable(out io.Writer, snap window.Snapshot) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "HANDLE\tAPP ID\tNAME\tTITLE\tSTATE")
	fmt.Fprintln(w, "------\t------\t----\t-----\t-----")

	for _, e := range snap.Entries {
		state := strings.Join(e.Info.State.Strings(), ",")
		if state == "" {
			state = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Handle, e.Info.AppID, e.Metadata.Name, e.Info.Title, state)
	}

	return nil
}
