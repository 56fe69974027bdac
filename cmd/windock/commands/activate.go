package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/bryanchriswhite/windock/internal/logger"
	"github.com/bryanchriswhite/windock/internal/toplevel"
	"github.com/spf13/cobra"
)

var activateCmd = &cobra.Command{
	Use:   "activate HANDLE",
	Short: "Focus a window",
	Long: `Ask the window source to activate (focus) the window with the given handle.

Handles are printed by 'windock list' and accept hex (0x...) or decimal.`,
	Example: `  # Activate a window by handle
  windock activate 0x04a00007`,
	Args: cobra.ExactArgs(1),
	RunE: runActivate,
}

var activateWait time.Duration

func init() {
	rootCmd.AddCommand(activateCmd)

	activateCmd.Flags().DurationVar(&activateWait, "wait", time.Second, "how long to wait for the window to report itself activated")
}

func runActivate(cmd *cobra.Command, args []string) error {
	h, err := toplevel.ParseHandle(args[0])
	if err != nil {
		return err
	}

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

	snap, err := p.waitInitial(ctx, 100*time.Millisecond, 5*time.Second)
	if err != nil {
		return err
	}
	entry, ok := snap.Find(h)
	if !ok {
		return fmt.Errorf("no window with handle %s", h)
	}

	updates := p.mgr.Subscribe()
	defer p.mgr.Unsubscribe(updates)

	if !p.mgr.Activate(h) {
		return fmt.Errorf("window manager is not accepting requests")
	}
	logger.WithComponent("activate").Debug().Stringer("handle", h).Str("app_id", entry.Info.AppID).Msg("Activation requested")

	timeout := time.After(activateWait)
	for {
		select {
		case s := <-updates:
			if e, ok := s.Find(h); ok && e.Info.State.Has(toplevel.StateActivated) {
				fmt.Printf("Activated %s (%s)\n", h, e.Metadata.Name)
				return nil
			}
		case err := <-p.errc:
			return err
		case <-timeout:
			// Some sources never echo activation back
			fmt.Printf("Activation of %s requested\n", h)
			return nil
		}
	}
}
