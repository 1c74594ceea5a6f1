package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_ValidConfig(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "snapvault.yaml")

	configContent := `target: /data/data/com.android.chrome
state_dir: /data/local/snapvault
listen: 0.0.0.0:9000
privilege: sudo
process:
  name: chrome
  stop_command: "am force-stop {name}"
permissions:
  mode: "771"
  owner: u0_a120
exclude:
  - "*.tmp"
  - "Cache/"
telemetry_interval: 250ms
ping_period: 30s
ledger:
  sync_writes: false
log_level: debug
log_format: json
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Target != "/data/data/com.android.chrome" {
		t.Errorf("Expected target %q, got %q", "/data/data/com.android.chrome", cfg.Target)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("Expected listen %q, got %q", "0.0.0.0:9000", cfg.Listen)
	}
	if cfg.Process.Name != "chrome" || cfg.Process.StopCommand != "am force-stop {name}" {
		t.Errorf("Unexpected process config: %+v", cfg.Process)
	}
	if cfg.Process.StartCommand != DefaultConfig().Process.StartCommand {
		t.Errorf("Unset start_command should keep default, got %q", cfg.Process.StartCommand)
	}
	if cfg.Permissions.Mode != "771" || cfg.Permissions.Owner != "u0_a120" {
		t.Errorf("Unexpected permissions: %+v", cfg.Permissions)
	}

	expectedExclude := []string{"*.tmp", "Cache/"}
	if len(cfg.Exclude) != len(expectedExclude) {
		t.Fatalf("Expected %d exclude patterns, got %d", len(expectedExclude), len(cfg.Exclude))
	}
	for i, expected := range expectedExclude {
		if cfg.Exclude[i] != expected {
			t.Errorf("Exclude[%d]: expected %q, got %q", i, expected, cfg.Exclude[i])
		}
	}

	if cfg.TelemetryInterval != 250*time.Millisecond {
		t.Errorf("Expected telemetry_interval 250ms, got %v", cfg.TelemetryInterval)
	}
	if cfg.PingPeriod != 30*time.Second {
		t.Errorf("Expected ping_period 30s, got %v", cfg.PingPeriod)
	}
	if cfg.Ledger.SyncWrites {
		t.Error("Expected sync_writes false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
	if level, _ := cfg.SlogLevel(); level != slog.LevelDebug {
		t.Errorf("Expected debug level, got %v", level)
	}
}

func TestLoadConfig_NonExistentFile(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/snapvault.yaml")
	if err != nil {
		t.Fatalf("LoadConfig should return default config for nonexistent file, got error: %v", err)
	}

	if cfg.Listen != ":8080" {
		t.Errorf("Expected default listen, got %q", cfg.Listen)
	}
	if cfg.TelemetryInterval != 100*time.Millisecond {
		t.Errorf("Expected default telemetry_interval, got %v", cfg.TelemetryInterval)
	}

	// Target has no default
	if cfg.Target != "" {
		t.Errorf("Expected default target to be empty, got %q", cfg.Target)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `exclude:
  - "*.tmp"
 bad indentation: [
`

	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadConfig(configPath)
	if err == nil {
		t.Error("LoadConfig should return error for invalid YAML")
	}
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "duration.yaml")

	if err := os.WriteFile(configPath, []byte("ping_period: often\n"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	if _, err := LoadConfig(configPath); err == nil {
		t.Error("LoadConfig should reject a malformed duration")
	}
}

func TestLoadConfig_EmptyConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "empty.yaml")

	if err := os.WriteFile(configPath, []byte(""), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed for empty config: %v", err)
	}

	if len(cfg.Exclude) != len(DefaultConfig().Exclude) {
		t.Errorf("Empty config should keep default exclusions, got %v", cfg.Exclude)
	}
}

func TestLoadConfig_EmptyExclude(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "noexclude.yaml")

	if err := os.WriteFile(configPath, []byte("exclude:\n"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	// Empty exclude should result in empty patterns (not nil)
	if cfg.Exclude == nil || len(cfg.Exclude) != 0 {
		t.Errorf("Expected empty, non-nil exclude, got %#v", cfg.Exclude)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Ledger.SyncWrites {
		t.Error("Default ledger must sync writes")
	}
	if cfg.PingPeriod != 15*time.Second {
		t.Errorf("Expected default ping_period 15s, got %v", cfg.PingPeriod)
	}

	// Only the target is missing
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "target is required") {
		t.Errorf("Expected missing target error, got %v", err)
	}
	cfg.Target = "/srv/app"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config with target should validate, got %v", err)
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Target = "/srv/app"
	cfg.Privilege = "doas"
	cfg.Permissions.Mode = "rwx"
	cfg.LogFormat = "xml"
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}

	for _, want := range []string{"doas", "rwx", "xml", "log_level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected error to mention %q, got %v", want, err)
		}
	}

	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) != 4 {
		t.Errorf("Expected 4 joined errors, got %v", err)
	}
}

func TestStateDirs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StateDir = "/state"

	dirs := map[string]string{
		cfg.ScansDir():    "/state/scans",
		cfg.ArchivesDir(): "/state/archives",
		cfg.LedgerDir():   "/state/ledger",
		cfg.TempDir():     "/state/tmp",
	}
	for got, want := range dirs {
		if got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}
