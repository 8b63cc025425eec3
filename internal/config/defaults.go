// Package config provides configuration parsing and management for txcore.
package config

import "time"

// DefaultConfig returns a Config with sensible default values, mirroring
// storage.DefaultEngineOptions.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:            "./data",
			WALPath:            "",
			PageSize:           4096,
			InitialPages:       16,
			BufferPoolSize:     50,
			LockTimeout:        30 * time.Second,
			CheckpointInterval: 5 * time.Minute,
			SyncOnWrite:        false,
			ReadOnly:           false,
			CreateIfNotExists:  true,
			PeriodicCheckpoint: false,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}
