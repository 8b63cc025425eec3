package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/KilimcininKorOglu/txcore/internal/config"
	"github.com/KilimcininKorOglu/txcore/internal/logging"
	"github.com/KilimcininKorOglu/txcore/internal/storage"
	"github.com/KilimcininKorOglu/txcore/internal/storage/engine"
)

// openEngine assembles engine options from an optional YAML config file,
// letting the -data-dir flag override whatever the file says, then opens
// the database and runs recovery before handing it back.
func openEngine(dataDir, configPath string) (*engine.Database, error) {
	var opts storage.EngineOptions
	var log logging.Logger

	if configPath != "" {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		if errs := config.ValidateConfig(cfg); len(errs) > 0 {
			return nil, errs[0]
		}
		opts = cfg.EngineOptions()
		if dataDir != "" {
			opts = opts.WithDataDir(dataDir)
		}
		log = logging.New(cfg.LoggingConfig())
	} else {
		if dataDir == "" {
			dataDir = "./data"
		}
		opts = storage.DefaultEngineOptions().WithDataDir(dataDir)
	}

	db, err := engine.Open(opts)
	if err != nil {
		return nil, err
	}
	if log != nil {
		db.SetLogger(log)
	}
	if err := db.Recover(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// insertCmd opens the data directory, runs recovery, and inserts one row
// in its own transaction, committing before exiting.
func insertCmd(args []string) int {
	fs := flag.NewFlagSet("insert", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	dataDir := fs.String("data-dir", "", "Data directory path (default \"./data\")")
	configPath := fs.String("config", "", "Path to a YAML config file")
	table := fs.Uint64("table", 1, "Table id to insert into")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *help || *helpLong {
		printInsertUsage(os.Stdout)
		return 0
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "insert: row text is required")
		printInsertUsage(os.Stderr)
		return 1
	}
	row := strings.Join(fs.Args(), " ")

	db, err := openEngine(*dataDir, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "insert: %v\n", err)
		return 1
	}
	defer db.Close()

	txid, err := db.Begin()
	if err != nil {
		fmt.Fprintf(os.Stderr, "insert: %v\n", err)
		return 1
	}

	id, err := db.InsertTuple(txid, storage.TableID(*table), []byte(row))
	if err != nil {
		db.Abort(txid)
		fmt.Fprintf(os.Stderr, "insert: %v\n", err)
		return 1
	}

	if err := db.Commit(txid); err != nil {
		fmt.Fprintf(os.Stderr, "insert: %v\n", err)
		return 1
	}

	fmt.Printf("inserted %s\n", id)
	return 0
}

// scanCmd prints every live row in a table, in its own read-only
// transaction.
func scanCmd(args []string) int {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	dataDir := fs.String("data-dir", "", "Data directory path (default \"./data\")")
	configPath := fs.String("config", "", "Path to a YAML config file")
	table := fs.Uint64("table", 1, "Table id to scan")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *help || *helpLong {
		printScanUsage(os.Stdout)
		return 0
	}

	db, err := openEngine(*dataDir, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan: %v\n", err)
		return 1
	}
	defer db.Close()

	txid, err := db.Begin()
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan: %v\n", err)
		return 1
	}

	rows, err := db.ScanTable(txid, storage.TableID(*table))
	if err != nil {
		db.Abort(txid)
		fmt.Fprintf(os.Stderr, "scan: %v\n", err)
		return 1
	}
	db.Commit(txid)

	for _, row := range rows {
		fmt.Println(string(row))
	}
	return 0
}

// recoverCmd runs crash recovery against a data directory and reports
// how many transactions were rolled back as losers.
func recoverCmd(args []string) int {
	fs := flag.NewFlagSet("recover", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	dataDir := fs.String("data-dir", "", "Data directory path (default \"./data\")")
	configPath := fs.String("config", "", "Path to a YAML config file")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *help || *helpLong {
		printRecoverUsage(os.Stdout)
		return 0
	}

	db, err := openEngine(*dataDir, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "recover: %v\n", err)
		return 1
	}
	defer db.Close()

	fmt.Println("recovery complete")
	return 0
}

// checkpointCmd forces a checkpoint against a data directory.
func checkpointCmd(args []string) int {
	fs := flag.NewFlagSet("checkpoint", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	dataDir := fs.String("data-dir", "", "Data directory path (default \"./data\")")
	configPath := fs.String("config", "", "Path to a YAML config file")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *help || *helpLong {
		printCheckpointUsage(os.Stdout)
		return 0
	}

	db, err := openEngine(*dataDir, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "checkpoint: %v\n", err)
		return 1
	}
	defer db.Close()

	if err := db.Checkpoint(); err != nil {
		fmt.Fprintf(os.Stderr, "checkpoint: %v\n", err)
		return 1
	}

	fmt.Println("checkpoint complete")
	return 0
}
