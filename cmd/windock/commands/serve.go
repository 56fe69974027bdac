package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/windock/internal/api"
	"github.com/bryanchriswhite/windock/internal/busapi"
	"github.com/bryanchriswhite/windock/internal/logger"
	"github.com/bryanchriswhite/windock/internal/window"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start tracking windows and serve the list",
	Long: `Start the window source, keep the window list up to date and expose it over
HTTP (REST + WebSocket) and, when enabled, on the D-Bus session bus.

If the connection to the window source is lost the command exits with a
non-zero status. Send SIGHUP to re-read desktop entries after installing
applications.`,
	Example: `  # Track X11 windows, serve on the configured address
  windock serve

  # Serve on a custom address
  windock serve --listen :9090

  # Replay a scripted event stream
  windock serve --source script --script events.jsonl

  # Start with debug logging
  windock serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("serve")

	log.Info().
		Str("version", Version).
		Str("config", configMgr.GetConfigPath()).
		Str("source", cfg.Source).
		Msg("Starting windock")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := startPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloadOnHangup(ctx, hup, p.resolver)

	server := api.NewServer(p.mgr, configMgr, Version)
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.Start(cfg.ListenAddr)
	}()

	if cfg.DBus.Enabled {
		svc := busapi.NewService(p.mgr, cfg.DBus.Name)
		go func() {
			if err := svc.Run(ctx); err != nil {
				logger.WithComponent("dbus").Error().Err(err).Msg("D-Bus service stopped")
			}
		}()
	}

	log.Info().Str("addr", cfg.ListenAddr).Msg("windock is running, press Ctrl+C to stop")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully")
	case err := <-p.errc:
		runErr = managerExitError(ctx, err)
		if runErr == nil {
			log.Info().Msg("Shutting down gracefully")
		}
	case err := <-srvErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}
	return runErr
}

// managerExitError maps the manager's return value to the command's exit
// error. Anything that ends after ctx was cancelled is a clean shutdown.
func managerExitError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, window.ErrBridgeFinished):
		return fmt.Errorf("window tracking stopped: %w", err)
	case err != nil && !errors.Is(err, context.Canceled):
		return err
	}
	return nil
}

type reloader interface {
	Reload()
}

// reloadOnHangup drops the desktop-file index whenever hup fires
func reloadOnHangup(ctx context.Context, hup <-chan os.Signal, r reloader) {
	log := logger.WithComponent("serve")
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			r.Reload()
			log.Info().Msg("Desktop entries will be re-read")
		}
	}
}
