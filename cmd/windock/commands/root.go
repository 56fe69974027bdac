package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/bryanchriswhite/windock/internal/config"
	"github.com/bryanchriswhite/windock/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is overridden at build time with -ldflags "-X ...commands.Version=..."
var Version = "dev"

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "windock",
		Short: "windock - live list of open windows for panels and docks",
		Long: `windock tracks the toplevel windows of the running desktop session and
keeps an ordered, metadata-enriched list of them for task bars and docks.

Features:
  • Track window creation, title/state changes and closing via X11
  • Resolve app ids to desktop entries (name, icon, exec)
  • Activate (focus) windows on request
  • REST and WebSocket API for panels
  • Optional D-Bus service on the session bus
  • Replay scripted event streams for headless runs`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/windock/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("listen", "", "HTTP listen address (default is 127.0.0.1:8787)")
	rootCmd.PersistentFlags().String("source", "", "window source (x11 or script)")
	rootCmd.PersistentFlags().String("script", "", "event script for the script source (- for stdin)")

	// Bind flags to viper
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("listen_addr", rootCmd.PersistentFlags().Lookup("listen"))
	viper.BindPFlag("source", rootCmd.PersistentFlags().Lookup("source"))
	viper.BindPFlag("script_path", rootCmd.PersistentFlags().Lookup("script"))
}

func initConfig() {
	// WINDOCK_LOG_LEVEL, WINDOCK_SOURCE, ...
	viper.SetEnvPrefix("windock")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig reads the config file, applies flag and environment overrides,
// and initializes logging from the result. Overrides are not saved.
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()
	applyOverrides(cfg, viper.GetViper())

	logger.Init(logger.Options{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	return configMgr, cfg, nil
}

func applyOverrides(cfg *config.Config, v *viper.Viper) {
	override := func(key string, dst *string) {
		if v.IsSet(key) {
			if s := v.GetString(key); s != "" {
				*dst = s
			}
		}
	}
	override("log_level", &cfg.LogLevel)
	override("listen_addr", &cfg.ListenAddr)
	override("source", &cfg.Source)
	override("script_path", &cfg.ScriptPath)
}
