package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	EnvSocketPath    = "AGTHUD_DAEMON_SOCKET"
	EnvDaemonEnabled = "AGTHUD_DAEMON_ENABLED"
	EnvDBPath        = "AGTHUD_DB"
	EnvLogLevel      = "AGTHUD_LOG_LEVEL"
	EnvConfigPath    = "AGTHUD_CONFIG"
)

type Config struct {
	SocketPath        string
	DaemonEnabled     bool
	DBPath            string
	ShellSnapshotPath string
	PollInterval      time.Duration
	RequestTimeout    time.Duration
	MaxResponseBytes  int
	FailureThreshold  int
	RetryCooldown     time.Duration
	StartupGrace      time.Duration
	StaleStateTTL     time.Duration
	CommandTimeout    time.Duration
	RetryBackoff      []time.Duration
	TerminalPriority  []string
	DefaultTerminal   string
	LogLevel          string
	LogFile           string
}

func DefaultConfig() Config {
	return Config{
		SocketPath:       defaultSocketPath(),
		DaemonEnabled:    true,
		DBPath:           defaultDBPath(),
		PollInterval:     1 * time.Second,
		RequestTimeout:   750 * time.Millisecond,
		MaxResponseBytes: 4 << 20,
		FailureThreshold: 3,
		RetryCooldown:    5 * time.Second,
		StartupGrace:     10 * time.Second,
		StaleStateTTL:    10 * time.Minute,
		CommandTimeout:   2 * time.Second,
		RetryBackoff:     []time.Duration{100 * time.Millisecond, 300 * time.Millisecond},
		TerminalPriority: []string{"Ghostty", "iTerm2", "WezTerm", "kitty", "Alacritty", "Warp", "Terminal"},
		DefaultTerminal:  "Terminal",
		LogLevel:         "info",
	}
}

// fileConfig mirrors the TOML file. Durations are Go duration strings.
type fileConfig struct {
	Daemon struct {
		Socket           string `toml:"socket"`
		Enabled          *bool  `toml:"enabled"`
		RequestTimeout   string `toml:"request_timeout"`
		MaxResponseBytes int    `toml:"max_response_bytes"`
		FailureThreshold int    `toml:"failure_threshold"`
		RetryCooldown    string `toml:"retry_cooldown"`
		StartupGrace     string `toml:"startup_grace"`
	} `toml:"daemon"`
	Poll struct {
		Interval      string `toml:"interval"`
		StaleStateTTL string `toml:"stale_state_ttl"`
		ShellSnapshot string `toml:"shell_snapshot"`
	} `toml:"poll"`
	Activation struct {
		CommandTimeout   string   `toml:"command_timeout"`
		TerminalPriority []string `toml:"terminal_priority"`
		DefaultTerminal  string   `toml:"default_terminal"`
	} `toml:"activation"`
	Storage struct {
		DB string `toml:"db"`
	} `toml:"storage"`
	Log struct {
		Level string `toml:"level"`
		File  string `toml:"file"`
	} `toml:"log"`
}

// Load applies defaults, then the TOML file at path (if present), then the
// environment. An empty path uses DefaultConfigPath.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := applyFile(&cfg, path); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.SocketPath, fc.Daemon.Socket)
	if fc.Daemon.Enabled != nil {
		cfg.DaemonEnabled = *fc.Daemon.Enabled
	}
	if fc.Daemon.MaxResponseBytes > 0 {
		cfg.MaxResponseBytes = fc.Daemon.MaxResponseBytes
	}
	if fc.Daemon.FailureThreshold > 0 {
		cfg.FailureThreshold = fc.Daemon.FailureThreshold
	}
	setString(&cfg.ShellSnapshotPath, fc.Poll.ShellSnapshot)
	if len(fc.Activation.TerminalPriority) > 0 {
		cfg.TerminalPriority = fc.Activation.TerminalPriority
	}
	setString(&cfg.DefaultTerminal, fc.Activation.DefaultTerminal)
	setString(&cfg.DBPath, fc.Storage.DB)
	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogFile, fc.Log.File)

	durations := []struct {
		raw string
		dst *time.Duration
		key string
	}{
		{fc.Daemon.RequestTimeout, &cfg.RequestTimeout, "daemon.request_timeout"},
		{fc.Daemon.RetryCooldown, &cfg.RetryCooldown, "daemon.retry_cooldown"},
		{fc.Daemon.StartupGrace, &cfg.StartupGrace, "daemon.startup_grace"},
		{fc.Poll.Interval, &cfg.PollInterval, "poll.interval"},
		{fc.Poll.StaleStateTTL, &cfg.StaleStateTTL, "poll.stale_state_ttl"},
		{fc.Activation.CommandTimeout, &cfg.CommandTimeout, "activation.command_timeout"},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil || parsed <= 0 {
			return fmt.Errorf("config %s: invalid duration %q", d.key, d.raw)
		}
		*d.dst = parsed
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	setString(&cfg.SocketPath, getenv(EnvSocketPath))
	setString(&cfg.DBPath, getenv(EnvDBPath))
	setString(&cfg.LogLevel, getenv(EnvLogLevel))
	if raw := strings.TrimSpace(getenv(EnvDaemonEnabled)); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s: invalid bool %q", EnvDaemonEnabled, raw)
		}
		cfg.DaemonEnabled = enabled
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func DefaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "agthud", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "agthud.toml"
	}
	return filepath.Join(home, ".config", "agthud", "config.toml")
}

func defaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, "agthud", "daemon.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agthud-daemon.sock"
	}
	return filepath.Join(home, ".local", "state", "agthud", "daemon.sock")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "agthud.db"
	}
	return filepath.Join(home, ".local", "state", "agthud", "state.db")
}
