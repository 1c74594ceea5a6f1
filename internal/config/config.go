package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"snapvault/internal/privexec"
)

type ProcessConfig struct {
	// Name of the application stopped and relaunched around a restore.
	Name string `yaml:"name"`
	// StopCommand and StartCommand are shell templates; {name} is replaced
	// by Name.
	StopCommand  string `yaml:"stop_command"`
	StartCommand string `yaml:"start_command"`
}

type PermissionsConfig struct {
	Mode  string `yaml:"mode"`
	Owner string `yaml:"owner"`
}

type LedgerConfig struct {
	SyncWrites bool `yaml:"sync_writes"`
}

type Config struct {
	Target            string            `yaml:"target"`
	StateDir          string            `yaml:"state_dir"`
	Listen            string            `yaml:"listen"`
	Privilege         string            `yaml:"privilege"`
	Process           ProcessConfig     `yaml:"process"`
	Permissions       PermissionsConfig `yaml:"permissions"`
	Exclude           []string          `yaml:"exclude"`
	TelemetryInterval time.Duration     `yaml:"telemetry_interval"`
	PingPeriod        time.Duration     `yaml:"ping_period"`
	Ledger            LedgerConfig      `yaml:"ledger"`
	LogLevel          string            `yaml:"log_level"`
	LogFormat         string            `yaml:"log_format"`
}

func DefaultConfig() *Config {
	return &Config{
		StateDir:  "/var/lib/snapvault",
		Listen:    ":8080",
		Privilege: string(privexec.PrivilegeSu),
		Process: ProcessConfig{
			StopCommand:  "pkill -x {name}",
			StartCommand: "nohup {name} >/dev/null 2>&1 &",
		},
		Permissions: PermissionsConfig{
			Mode: "755",
		},
		Exclude: []string{
			"*.tmp",
			"*.swp",
			"*-journal",
			".DS_Store",
		},
		TelemetryInterval: 100 * time.Millisecond,
		PingPeriod:        15 * time.Second,
		Ledger: LedgerConfig{
			SyncWrites: true,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadConfig reads path over the defaults. A missing file yields the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	// Initialize Exclude slice if nil (for "exclude:" with no items)
	if cfg.Exclude == nil {
		cfg.Exclude = []string{}
	}

	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Target == "" {
		errs = append(errs, errors.New("target is required"))
	}
	if c.StateDir == "" {
		errs = append(errs, errors.New("state_dir is required"))
	}
	if _, err := privexec.ParsePrivilege(c.Privilege); err != nil {
		errs = append(errs, err)
	}
	if _, err := strconv.ParseUint(c.Permissions.Mode, 8, 32); err != nil {
		errs = append(errs, fmt.Errorf("permissions.mode %q is not an octal mode", c.Permissions.Mode))
	}
	if c.TelemetryInterval <= 0 {
		errs = append(errs, errors.New("telemetry_interval must be positive"))
	}
	if c.PingPeriod <= 0 {
		errs = append(errs, errors.New("ping_period must be positive"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

func (c *Config) ScansDir() string    { return filepath.Join(c.StateDir, "scans") }
func (c *Config) ArchivesDir() string { return filepath.Join(c.StateDir, "archives") }
func (c *Config) LedgerDir() string   { return filepath.Join(c.StateDir, "ledger") }
func (c *Config) TempDir() string     { return filepath.Join(c.StateDir, "tmp") }
