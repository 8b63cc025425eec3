package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	t.Run("storage defaults", func(t *testing.T) {
		if config.Storage.DataDir != "./data" {
			t.Errorf("expected data dir './data', got %q", config.Storage.DataDir)
		}
		if config.Storage.PageSize != 4096 {
			t.Errorf("expected page size 4096, got %d", config.Storage.PageSize)
		}
		if config.Storage.BufferPoolSize != 50 {
			t.Errorf("expected buffer pool size 50, got %d", config.Storage.BufferPoolSize)
		}
		if config.Storage.LockTimeout != 30*time.Second {
			t.Errorf("expected lock timeout 30s, got %v", config.Storage.LockTimeout)
		}
		if config.Storage.CheckpointInterval != 5*time.Minute {
			t.Errorf("expected checkpoint interval 5m, got %v", config.Storage.CheckpointInterval)
		}
		if !config.Storage.CreateIfNotExists {
			t.Error("expected createIfNotExists to default true")
		}
	})

	t.Run("logging defaults", func(t *testing.T) {
		if config.Logging.Level != "info" {
			t.Errorf("expected log level 'info', got %q", config.Logging.Level)
		}
		if config.Logging.Format != "text" {
			t.Errorf("expected log format 'text', got %q", config.Logging.Format)
		}
		if config.Logging.Output != "stdout" {
			t.Errorf("expected log output 'stdout', got %q", config.Logging.Output)
		}
	})

	if errs := ValidateConfig(config); len(errs) != 0 {
		t.Errorf("expected default config to be valid, got errors: %v", errs)
	}
}

func TestParseConfigOverridesDefaults(t *testing.T) {
	data := []byte(`
storage:
  dataDir: /tmp/txcore-data
  pageSize: 8192
  bufferPoolSize: 128
  lockTimeout: 10s
logging:
  level: debug
`)

	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if cfg.Storage.DataDir != "/tmp/txcore-data" {
		t.Errorf("expected overridden dataDir, got %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.PageSize != 8192 {
		t.Errorf("expected overridden pageSize 8192, got %d", cfg.Storage.PageSize)
	}
	if cfg.Storage.BufferPoolSize != 128 {
		t.Errorf("expected overridden bufferPoolSize 128, got %d", cfg.Storage.BufferPoolSize)
	}
	if cfg.Storage.LockTimeout != 10*time.Second {
		t.Errorf("expected overridden lockTimeout 10s, got %v", cfg.Storage.LockTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected overridden log level 'debug', got %q", cfg.Logging.Level)
	}

	// Fields the YAML never mentions keep their default value.
	if cfg.Logging.Format != "text" {
		t.Errorf("expected untouched logging.format to stay 'text', got %q", cfg.Logging.Format)
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	os.Setenv("TXCORE_TEST_DATADIR", "/env/data")
	defer os.Unsetenv("TXCORE_TEST_DATADIR")

	data := []byte(`
storage:
  dataDir: ${TXCORE_TEST_DATADIR}
logging:
  output: ${TXCORE_TEST_UNSET:-stdout}
`)

	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("expected env-substituted dataDir, got %q", cfg.Storage.DataDir)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("expected default fallback 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestValidateConfigRejectsBadPageSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.PageSize = 1000

	errs := ValidateConfig(cfg)
	if len(errs) == 0 {
		t.Fatal("expected a validation error for an invalid page size")
	}
}

func TestValidateConfigRejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "loud"

	errs := ValidateConfig(cfg)
	if len(errs) == 0 {
		t.Fatal("expected a validation error for an invalid log level")
	}
}

func TestEngineOptionsBridge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DataDir = "/tmp/txcore"
	cfg.Storage.BufferPoolSize = 200

	opts := cfg.EngineOptions()
	if opts.DataDir != "/tmp/txcore" {
		t.Errorf("expected DataDir to carry over, got %q", opts.DataDir)
	}
	if opts.BufferPoolSize != 200 {
		t.Errorf("expected BufferPoolSize to carry over, got %d", opts.BufferPoolSize)
	}
}

func TestConfigManagerUpdateSection(t *testing.T) {
	mgr := NewConfigManager(DefaultConfig(), "")

	err := mgr.UpdateSection("storage", map[string]interface{}{
		"bufferPoolSize": float64(64),
	})
	if err != nil {
		t.Fatalf("UpdateSection failed: %v", err)
	}

	if got := mgr.GetConfig().Storage.BufferPoolSize; got != 64 {
		t.Errorf("expected bufferPoolSize 64 after update, got %d", got)
	}
}

func TestConfigManagerUpdateSectionRejectsInvalid(t *testing.T) {
	mgr := NewConfigManager(DefaultConfig(), "")

	err := mgr.UpdateSection("logging", map[string]interface{}{
		"level": "loud",
	})
	if err == nil {
		t.Fatal("expected validation failure for an invalid log level")
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("logging:\n  level: info\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	changed := make(chan *Config, 1)
	w, err := NewWatcher(WatcherConfig{
		FilePath:     path,
		PollInterval: 10 * time.Millisecond,
		Debounce:     20 * time.Millisecond,
		OnChange: func(_, next *Config) {
			select {
			case changed <- next:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	if w.Current().Logging.Level != "info" {
		t.Fatalf("expected baseline level 'info', got %q", w.Current().Logging.Level)
	}

	w.Start()
	defer w.Stop()

	// Give the first stat a tick, then rewrite the file.
	time.Sleep(30 * time.Millisecond)
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	select {
	case next := <-changed:
		if next.Logging.Level != "debug" {
			t.Errorf("expected reloaded level 'debug', got %q", next.Logging.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never reported the change")
	}
}

func TestWatcherRequiresCallback(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{FilePath: "config.yaml"})
	if err != ErrMissingOnChange {
		t.Errorf("expected ErrMissingOnChange, got %v", err)
	}
}

func TestConfigManagerSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Storage.DataDir = dir
	mgr := NewConfigManager(cfg, path)

	if err := mgr.SaveToFile(); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if got := mgr.GetConfig().Storage.DataDir; got != dir {
		t.Errorf("expected reloaded dataDir %q, got %q", dir, got)
	}
}
