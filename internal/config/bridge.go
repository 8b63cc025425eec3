package config

import (
	"github.com/KilimcininKorOglu/txcore/internal/logging"
	"github.com/KilimcininKorOglu/txcore/internal/storage"
)

// EngineOptions translates StorageConfig into the options Open accepts.
func (c *Config) EngineOptions() storage.EngineOptions {
	return storage.EngineOptions{
		DataDir:            c.Storage.DataDir,
		WALPath:            c.Storage.WALPath,
		PageSize:           c.Storage.PageSize,
		BufferPoolSize:     c.Storage.BufferPoolSize,
		LockTimeout:        c.Storage.LockTimeout,
		SyncOnWrite:        c.Storage.SyncOnWrite,
		ReadOnly:           c.Storage.ReadOnly,
		CreateIfNotExists:  c.Storage.CreateIfNotExists,
		CheckpointInterval: c.Storage.CheckpointInterval,
		InitialPages:       c.Storage.InitialPages,
	}
}

// LoggingConfig translates LogConfig into the options logging.New accepts.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}
