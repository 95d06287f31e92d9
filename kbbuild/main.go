package main

import (
	"log/slog"
	"os"

	"github.com/DeafMist/proposal-radar/internal/config"
	"github.com/DeafMist/proposal-radar/internal/kb"
	"github.com/DeafMist/proposal-radar/internal/logger"
)

func main() {
	log := logger.New("kbbuild")
	if err := config.LoadDotEnv(); err != nil {
		log.Error("load .env", slog.Any("err", err))
		os.Exit(1)
	}
	cfg, err := config.LoadKBBuild()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	if err := run(log, cfg); err != nil {
		log.Error("build knowledge base", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(log *slog.Logger, cfg *config.KBBuild) error {
	entries, err := kb.Build(cfg.SpreadsheetPath, cfg.ContentDir, log)
	if err != nil {
		return err
	}
	if err := kb.Save(cfg.OutputPath, entries); err != nil {
		return err
	}

	withText := 0
	for _, e := range entries {
		if e.FullText != "" {
			withText++
		}
	}
	log.Info("knowledge base written",
		slog.String("path", cfg.OutputPath),
		slog.Int("projects", len(entries)),
		slog.Int("with_text", withText),
	)
	return nil
}
