package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"chunkdrop/internal/config"
	"chunkdrop/internal/logging"
	"chunkdrop/internal/migrations"
)

func main() {
	statusOnly := flag.Bool("status", false, "print the current schema version without migrating")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)
	dsn := cfg.PostgresDSN()

	if !*statusOnly {
		if err := migrations.Apply(context.Background(), dsn); err != nil {
			logger.Error("apply migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	version, dirty, err := migrations.Version(dsn)
	if err != nil {
		logger.Error("read schema version", "error", err)
		os.Exit(1)
	}
	logger.Info("schema version", "version", version, "dirty", dirty)
}
