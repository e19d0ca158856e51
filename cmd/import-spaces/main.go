// Package main imports YAML space files into PostgreSQL.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/plaza/internal/config"
	"github.com/cory-johannsen/plaza/internal/observability"
	"github.com/cory-johannsen/plaza/internal/space"
	"github.com/cory-johannsen/plaza/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	sourceDir := flag.String("source", "content/spaces", "directory of space YAML files")
	flag.Parse()

	logger, err := observability.NewLogger(config.LoggingConfig{Level: "info", Format: "console"})
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	v := config.NewViper()
	v.SetConfigFile(*configPath)
	if err := v.ReadInConfig(); err != nil {
		logger.Fatal("reading config", zap.String("path", *configPath), zap.Error(err))
	}
	var dbCfg config.DatabaseConfig
	if err := v.UnmarshalKey("database", &dbCfg); err != nil {
		logger.Fatal("parsing database config", zap.Error(err))
	}

	descriptors, err := space.LoadDescriptorsFromDir(*sourceDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, dbCfg, logger)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	defer pool.Close()

	repo := postgres.NewSpaceRepository(pool.DB())
	var created, skipped int
	for _, d := range descriptors {
		err := repo.Create(ctx, d)
		switch {
		case errors.Is(err, postgres.ErrSpaceExists):
			logger.Info("space exists, skipping", zap.String("space", d.ID))
			skipped++
		case err != nil:
			logger.Fatal("importing space", zap.String("space", d.ID), zap.Error(err))
		default:
			logger.Info("space imported", zap.String("space", d.ID), zap.Int("elements", len(d.Elements)))
			created++
		}
	}

	logger.Info("import complete",
		zap.Int("created", created),
		zap.Int("skipped", skipped),
		zap.Duration("elapsed", time.Since(start)),
	)
}
