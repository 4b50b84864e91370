// Command reconcile lists compact records whose rich record was never
// written and, with --repair, rebuilds them from the stored raw text.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"resume-intake/internal/config"
	"resume-intake/internal/ingest"
	"resume-intake/internal/llm"
	"resume-intake/internal/logger"
	"resume-intake/internal/storage"
)

func main() {
	var (
		configPath  string
		repair      bool
		limit       int
		concurrency int
	)
	pflag.StringVarP(&configPath, "config", "c", "", "Path to config file")
	pflag.BoolVar(&repair, "repair", false, "Re-extract fields and write the missing rich records")
	pflag.IntVar(&limit, "limit", 100, "Maximum records per pass")
	pflag.IntVar(&concurrency, "concurrency", 2, "Concurrent repairs")
	pflag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	closer, err := logger.Init(cfg.Logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init logger")
	}
	defer closer.Close()
	log := logger.Component("reconcile")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init storage")
	}
	defer store.Close()

	var fields ingest.FieldExtractor
	if repair {
		chat, err := llm.NewChatModel(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL,
			llm.WithModelLogger(logger.Component("llm")))
		if err != nil {
			log.Fatal().Err(err).Msg("init chat model")
		}
		fields = llm.NewFieldExtractor(
			llm.WithRateLimit(chat, cfg.LLM.QPM),
			llm.WithTemperature(cfg.LLM.Temperature),
			llm.WithMaxTokens(cfg.LLM.MaxTokens),
		)
	}

	report, err := ingest.Reconcile(ctx, store.Candidates, fields, ingest.ReconcileOptions{
		Limit:       limit,
		Repair:      repair,
		Categories:  cfg.LLM.Categories,
		Concurrency: concurrency,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("reconcile")
	}

	for _, id := range report.IDs {
		fmt.Println(id)
	}
	log.Info().
		Int("found", report.Found).
		Int("repaired", report.Repaired).
		Int("failed", report.Failed).
		Bool("repair", repair).
		Msg("reconcile pass finished")
	if report.Failed > 0 {
		os.Exit(1)
	}
}
