package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/casebot/backend/internal/app"
	"github.com/casebot/backend/internal/ingestion"
	"github.com/casebot/backend/internal/retrieval"
	"github.com/casebot/backend/pkg/config"
	"github.com/casebot/backend/pkg/logger"
)

type ingester interface {
	IngestFile(ctx context.Context, path string) (ingestion.Status, error)
	IngestFolder(ctx context.Context, dir string) (ingestion.Summary, error)
}

type searcher interface {
	Retrieve(ctx context.Context, query string, k int) (retrieval.Outcome, error)
	RetrieveScoped(ctx context.Context, ids []string, query string, threshold float64, k int) (retrieval.Outcome, error)
	Threshold() float64
}

// Set by setup, or directly by tests.
var (
	ingestService ingester
	searchService searcher
	defaultFolder string
)

var (
	configPath string
	cleanup    func()
)

var rootCmd = &cobra.Command{
	Use:               "indexer",
	Short:             "Index and search court case documents",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if cleanup != nil {
			cleanup()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a config file")
}

func setup(cmd *cobra.Command, _ []string) error {
	if ingestService != nil && searchService != nil {
		return nil
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, "stderr"); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	svc, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	ingestService = svc.Processor
	searchService = svc.Engine
	defaultFolder = cfg.Ingestion.Folder
	cleanup = func() {
		svc.Close()
		logger.Sync()
	}
	return nil
}
