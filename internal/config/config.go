package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/jolby/TiREPL/internal/consts"
)

// Config holds the REPL server settings. Values come from DefaultConfig, then
// the YAML file, then TIREPL_* environment variables, then CLI flags.
type Config struct {
	ListenHost   string        `yaml:"listen_host" env:"TIREPL_LISTEN_HOST"`
	ListenPort   int           `yaml:"listen_port" env:"TIREPL_LISTEN_PORT"`
	EvalTimeout  time.Duration `yaml:"eval_timeout" env:"TIREPL_EVAL_TIMEOUT"`
	PollInterval time.Duration `yaml:"poll_interval" env:"TIREPL_POLL_INTERVAL"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"TIREPL_WRITE_TIMEOUT"`
	MailboxSize  int           `yaml:"mailbox_size" env:"TIREPL_MAILBOX_SIZE"`

	AdminAddr    string `yaml:"admin_addr,omitempty" env:"TIREPL_ADMIN_ADDR"`
	AdminPprof   bool   `yaml:"admin_pprof,omitempty" env:"TIREPL_ADMIN_PPROF"`
	PreloadDir   string `yaml:"preload_dir,omitempty" env:"TIREPL_PRELOAD_DIR"`
	WatchPreload bool   `yaml:"watch_preload,omitempty" env:"TIREPL_WATCH_PRELOAD"`

	LogLevel string `yaml:"log_level" env:"TIREPL_LOG_LEVEL"` // debug, info, warn, error, none
	LogPath  string `yaml:"log_path,omitempty" env:"TIREPL_LOG_PATH"`
	PidFile  string `yaml:"pid_file,omitempty" env:"TIREPL_PID_FILE"`
}

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "tirepl")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "tirepl")
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "tirepl")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "tirepl")
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		ListenPort:   consts.DefaultListenPort,
		EvalTimeout:  consts.EvalTimeout,
		PollInterval: consts.PollInterval,
		WriteTimeout: consts.WriteTimeout,
		MailboxSize:  consts.DefaultMailboxSize,
		LogLevel:     "info",
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields whose TIREPL_* variable is set.
func (c *Config) ApplyEnv() error {
	if err := envdecode.Decode(c); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode environment: %w", err)
	}
	return nil
}

// Validate checks ranges of numeric and duration settings.
func (c *Config) Validate() error {
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return fmt.Errorf("%w: listen_port %d out of range", ErrInvalidConfig, c.ListenPort)
	}
	if c.EvalTimeout <= 0 {
		return fmt.Errorf("%w: eval_timeout must be positive", ErrInvalidConfig)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalidConfig)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: write_timeout must be positive", ErrInvalidConfig)
	}
	if c.MailboxSize <= 0 {
		return fmt.Errorf("%w: mailbox_size must be positive", ErrInvalidConfig)
	}
	if c.WatchPreload && c.PreloadDir == "" {
		return fmt.Errorf("%w: watch_preload requires preload_dir", ErrInvalidConfig)
	}
	return nil
}

// ListenAddr joins host and port for net.Listen.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.ListenPort))
}

// Save writes the config as YAML, creating parent directories if needed.
func (c *Config) Save(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config path is required")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// GetConfigPath returns the config path, honoring TIREPL_CONFIG.
func GetConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("TIREPL_CONFIG")); p != "" {
		return p
	}
	return filepath.Join(defaultConfigDir(), "config.yaml")
}
