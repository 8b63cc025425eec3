// Package storage provides the core storage engine components for txcore.
package storage

import (
	"time"
)

// EngineOptions configures the txcore storage engine. Buffer-pool
// capacity, page size, lock timeout, and log path are all fixed at
// startup; no environment variables are consulted.
type EngineOptions struct {
	// DataDir is the directory where table files and the WAL are stored.
	DataDir string

	// WALPath is the path of the log file. Defaults to "wal.log" under
	// DataDir if empty.
	WALPath string

	// PageSize is the size of each page in bytes.
	// Default: 4096 bytes.
	PageSize int

	// BufferPoolSize is the number of page frames held in memory.
	// Default: 50 pages.
	BufferPoolSize int

	// LockTimeout bounds how long a transaction waits on a page lock
	// before the lock manager aborts it. Default: 30s.
	LockTimeout time.Duration

	// SyncOnWrite forces fsync after each table-file write.
	// Default: false (the WAL's own force calls are what durability
	// depends on; this only affects steady-state data-file writes).
	SyncOnWrite bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// CreateIfNotExists creates the data directory if it doesn't exist.
	// Default: true.
	CreateIfNotExists bool

	// CheckpointInterval is the interval used by the optional periodic
	// checkpoint goroutine (Database.StartPeriodicCheckpoints). It has no
	// effect unless that goroutine is started explicitly.
	// Default: 5 minutes.
	CheckpointInterval time.Duration

	// InitialPages is the initial number of pages allocated when a new
	// table file is created.
	// Default: 16.
	InitialPages int
}

// DefaultEngineOptions returns the default engine options.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		DataDir:            ".",
		PageSize:           PageSize,
		BufferPoolSize:     50,
		LockTimeout:        DefaultLockTimeout,
		SyncOnWrite:        false,
		ReadOnly:           false,
		CreateIfNotExists:  true,
		CheckpointInterval: 5 * time.Minute,
		InitialPages:       16,
	}
}

// Validate fills in zero-valued fields with their defaults.
func (o *EngineOptions) Validate() error {
	if o.PageSize <= 0 {
		o.PageSize = PageSize
	}
	if o.BufferPoolSize <= 0 {
		o.BufferPoolSize = 50
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = 5 * time.Minute
	}
	if o.InitialPages <= 0 {
		o.InitialPages = 16
	}
	return nil
}

// WithDataDir sets the data directory.
func (o EngineOptions) WithDataDir(dir string) EngineOptions {
	o.DataDir = dir
	return o
}

// WithWALPath sets the log file path.
func (o EngineOptions) WithWALPath(path string) EngineOptions {
	o.WALPath = path
	return o
}

// WithPageSize sets the page size.
func (o EngineOptions) WithPageSize(size int) EngineOptions {
	o.PageSize = size
	return o
}

// WithBufferPoolSize sets the buffer pool capacity in frames.
func (o EngineOptions) WithBufferPoolSize(size int) EngineOptions {
	o.BufferPoolSize = size
	return o
}

// WithLockTimeout sets the lock-acquisition timeout.
func (o EngineOptions) WithLockTimeout(timeout time.Duration) EngineOptions {
	o.LockTimeout = timeout
	return o
}

// WithSyncOnWrite enables or disables sync on write.
func (o EngineOptions) WithSyncOnWrite(sync bool) EngineOptions {
	o.SyncOnWrite = sync
	return o
}

// WithReadOnly enables or disables read-only mode.
func (o EngineOptions) WithReadOnly(readOnly bool) EngineOptions {
	o.ReadOnly = readOnly
	return o
}

// WithCreateIfNotExists enables or disables auto-creation of DataDir.
func (o EngineOptions) WithCreateIfNotExists(create bool) EngineOptions {
	o.CreateIfNotExists = create
	return o
}

// WithCheckpointInterval sets the periodic-checkpoint interval.
func (o EngineOptions) WithCheckpointInterval(interval time.Duration) EngineOptions {
	o.CheckpointInterval = interval
	return o
}

// WithInitialPages sets the initial page count for new table files.
func (o EngineOptions) WithInitialPages(pages int) EngineOptions {
	o.InitialPages = pages
	return o
}
