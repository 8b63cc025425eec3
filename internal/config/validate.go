// Package config provides configuration parsing and management for txcore.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of
// validation errors. An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	var errs []error
	errs = append(errs, validateStorageConfig(&config.Storage)...)
	errs = append(errs, validateLogConfig(&config.Logging)...)
	return errs
}

// validateStorageConfig validates storage configuration.
func validateStorageConfig(config *StorageConfig) []error {
	var errs []error

	if config.DataDir == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.dataDir",
			Message: "data directory is required",
		})
	}

	validPageSizes := map[int]bool{4096: true, 8192: true, 16384: true, 32768: true}
	if config.PageSize != 0 && !validPageSizes[config.PageSize] {
		errs = append(errs, ValidationError{
			Field:   "storage.pageSize",
			Message: "must be 4096, 8192, 16384, or 32768",
		})
	}

	if config.BufferPoolSize < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.bufferPoolSize",
			Message: "must be non-negative",
		})
	}

	if config.LockTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.lockTimeout",
			Message: "must be non-negative",
		})
	}

	if config.CheckpointInterval < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.checkpointInterval",
			Message: "must be non-negative",
		})
	}

	if config.InitialPages < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.initialPages",
			Message: "must be non-negative",
		})
	}

	return errs
}

// validateLogConfig validates logging configuration.
func validateLogConfig(config *LogConfig) []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if config.Level != "" && !validLevels[strings.ToLower(config.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be debug, info, warn, or error",
		})
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if config.Format != "" && !validFormats[strings.ToLower(config.Format)] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be text or json",
		})
	}

	if config.Output != "" && config.Output != "stdout" && config.Output != "stderr" {
		dir := filepath.Dir(config.Output)
		if !filepath.IsAbs(config.Output) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: "must be stdout, stderr, or an absolute file path",
			})
		} else if _, err := os.Stat(dir); os.IsNotExist(err) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: fmt.Sprintf("directory %s does not exist", dir),
			})
		}
	}

	return errs
}
