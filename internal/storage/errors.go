// Package storage provides the core storage engine components for txcore.
package storage

import "errors"

// Error kinds surfaced by the storage core, per the engine's error handling
// design. Callers dispatch on these with errors.Is; wrapped errors retain
// the underlying cause via fmt.Errorf("...: %w", err).
var (
	// ErrTransactionAborted is returned by lock acquisition on deadlock
	// detection or timeout. The caller must run the full abort path.
	ErrTransactionAborted = errors.New("transaction aborted")

	// ErrDbError covers page-type mismatches, full pages, and illegal
	// tuple operations. The caller may retry or abort.
	ErrDbError = errors.New("database error")

	// ErrIoError covers page store or log I/O failures. Fatal within a
	// transaction's commit path; the transaction aborts.
	ErrIoError = errors.New("i/o error")

	// ErrOutOfBufferSpace is returned when eviction finds no clean
	// victim frame. The caller aborts or retries after a commit frees
	// frames.
	ErrOutOfBufferSpace = errors.New("out of buffer space")
)
