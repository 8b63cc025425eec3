// Package config provides configuration parsing and management for the
// txcore storage engine.
//
// # Overview
//
// The config package handles loading, parsing, and validating engine
// configuration from YAML files. It supports:
//
//   - YAML configuration files, parsed with gopkg.in/yaml.v3
//   - ${VAR} / ${VAR:-default} environment variable substitution
//   - Default values for every setting (see DefaultConfig)
//   - Validation (see ValidateConfig)
//   - A ConfigManager for hot-reloading settings that are safe to change
//     on a running engine, and a Watcher that polls a config file for
//     changes and triggers that reload automatically
//
// # Configuration Structure
//
//	type Config struct {
//	    Storage StorageConfig // storage.EngineOptions equivalent
//	    Logging LogConfig     // logging.Config equivalent
//	}
//
// # Loading Configuration
//
//	cfg, err := config.LoadConfig("/etc/txcore/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	opts := cfg.EngineOptions()
//	db, err := engine.Open(opts)
//
// Or start from defaults and override programmatically:
//
//	cfg := config.DefaultConfig()
//	cfg.Storage.DataDir = "/var/lib/txcore"
//
// # Example Configuration File
//
//	storage:
//	  dataDir: "/var/lib/txcore"
//	  pageSize: 4096
//	  bufferPoolSize: 256
//	  lockTimeout: 30s
//	  checkpointInterval: 5m
//	  periodicCheckpoint: false
//
//	logging:
//	  level: "info"
//	  format: "json"
//	  output: "${TXCORE_LOG_PATH:-stdout}"
package config
