// Package config provides configuration parsing and management for txcore.
package config

import "time"

// Config holds the complete engine configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Logging LogConfig     `yaml:"logging"`
}

// StorageConfig holds storage engine configuration: the knobs
// storage.EngineOptions exposes, plus the checkpoint scheduling
// this package adds on top of it.
type StorageConfig struct {
	DataDir            string        `yaml:"dataDir"`
	WALPath            string        `yaml:"walPath"`
	PageSize           int           `yaml:"pageSize"`
	InitialPages       int           `yaml:"initialPages"`
	BufferPoolSize     int           `yaml:"bufferPoolSize"`
	LockTimeout        time.Duration `yaml:"lockTimeout"`
	CheckpointInterval time.Duration `yaml:"checkpointInterval"`
	SyncOnWrite        bool          `yaml:"syncOnWrite"`
	ReadOnly           bool          `yaml:"readOnly"`
	CreateIfNotExists  bool          `yaml:"createIfNotExists"`
	PeriodicCheckpoint bool          `yaml:"periodicCheckpoint"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}
