package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/adrg/xdg"
	"github.com/bryanchriswhite/windock/internal/logger"
	"gopkg.in/yaml.v3"
)

// ErrUnknownKey is returned by GetValue and Set for keys the config does not have
var ErrUnknownKey = errors.New("unknown configuration key")

// DBusConfig controls the session-bus service
type DBusConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Name    string `json:"name" yaml:"name"`
}

// DesktopConfig controls desktop-entry and icon lookup
type DesktopConfig struct {
	// DataDirs overrides XDG_DATA_HOME/XDG_DATA_DIRS when non-empty
	DataDirs  []string `json:"data_dirs" yaml:"data_dirs"`
	IconTheme string   `json:"icon_theme" yaml:"icon_theme"`
	IconSize  int      `json:"icon_size" yaml:"icon_size"`
}

// Config represents the application configuration
type Config struct {
	LogLevel   string        `json:"log_level" yaml:"log_level"`
	LogPretty  bool          `json:"log_pretty" yaml:"log_pretty"`
	Source     string        `json:"source" yaml:"source"`
	ScriptPath string        `json:"script_path" yaml:"script_path"`
	ListenAddr string        `json:"listen_addr" yaml:"listen_addr"`
	DBus       DBusConfig    `json:"dbus" yaml:"dbus"`
	Desktop    DesktopConfig `json:"desktop" yaml:"desktop"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		LogLevel:   "info",
		Source:     "x11",
		ListenAddr: "127.0.0.1:8787",
		DBus: DBusConfig{
			Enabled: false,
			Name:    "io.github.bryanchriswhite.Windock",
		},
		Desktop: DesktopConfig{
			DataDirs:  []string{},
			IconTheme: "",
			IconSize:  48,
		},
	}
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $XDG_CONFIG_HOME/windock/config.yaml
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "windock", "config.yaml")
}

// NewManager loads configFile, or the default path when empty. A missing
// file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		path = DefaultPath()
	}

	m := &Manager{
		configPath: path,
	}

	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Str("source", m.config.Source).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk, filling unset fields with defaults
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Desktop.DataDirs == nil {
		cfg.Desktop.DataDirs = []string{}
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	cfg.Desktop.DataDirs = append([]string{}, m.config.Desktop.DataDirs...)
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update replaces the entire configuration and saves it
func (m *Manager) Update(cfg *Config) error {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// Keys lists every key accepted by GetValue and Set
func Keys() []string {
	return []string{
		"log_level", "log_pretty", "source", "script_path", "listen_addr",
		"dbus.enabled", "dbus.name",
		"desktop.data_dirs", "desktop.icon_theme", "desktop.icon_size",
	}
}

// GetValue returns one value rendered as a string
func (m *Manager) GetValue(key string) (string, error) {
	cfg := m.Get()
	switch key {
	case "log_level":
		return cfg.LogLevel, nil
	case "log_pretty":
		return strconv.FormatBool(cfg.LogPretty), nil
	case "source":
		return cfg.Source, nil
	case "script_path":
		return cfg.ScriptPath, nil
	case "listen_addr":
		return cfg.ListenAddr, nil
	case "dbus.enabled":
		return strconv.FormatBool(cfg.DBus.Enabled), nil
	case "dbus.name":
		return cfg.DBus.Name, nil
	case "desktop.data_dirs":
		return strings.Join(cfg.Desktop.DataDirs, ":"), nil
	case "desktop.icon_theme":
		return cfg.Desktop.IconTheme, nil
	case "desktop.icon_size":
		return strconv.Itoa(cfg.Desktop.IconSize), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
}

// Set validates and stores one value, then saves
func (m *Manager) Set(key, value string) error {
	m.mu.Lock()
	if m.config == nil {
		m.config = Defaults()
	}
	err := setValue(m.config, key, value)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.Save()
}

func setValue(cfg *Config, key, value string) error {
	switch key {
	case "log_level":
		if _, err := logger.ParseLevel(value); err != nil {
			return fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", value)
		}
		cfg.LogLevel = value
	case "log_pretty":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %s (use: true or false)", value)
		}
		cfg.LogPretty = b
	case "source":
		if value != "x11" && value != "script" {
			return fmt.Errorf("invalid source: %s (use: x11, script)", value)
		}
		cfg.Source = value
	case "script_path":
		cfg.ScriptPath = value
	case "listen_addr":
		cfg.ListenAddr = value
	case "dbus.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %s (use: true or false)", value)
		}
		cfg.DBus.Enabled = b
	case "dbus.name":
		cfg.DBus.Name = value
	case "desktop.data_dirs":
		dirs := []string{}
		for _, d := range strings.Split(value, ":") {
			if d = strings.TrimSpace(d); d != "" {
				dirs = append(dirs, d)
			}
		}
		cfg.Desktop.DataDirs = dirs
	case "desktop.icon_theme":
		cfg.Desktop.IconTheme = value
	case "desktop.icon_size":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid icon size: %s", value)
		}
		cfg.Desktop.IconSize = n
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return nil
}
