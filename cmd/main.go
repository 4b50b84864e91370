package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"resume-intake/internal/api/handler"
	"resume-intake/internal/api/router"
	"resume-intake/internal/config"
	"resume-intake/internal/extractor"
	"resume-intake/internal/ingest"
	"resume-intake/internal/lifecycle"
	"resume-intake/internal/llm"
	"resume-intake/internal/logger"
	"resume-intake/internal/mailbox"
	"resume-intake/internal/outbox"
	"resume-intake/internal/storage"
	"resume-intake/internal/tracing"
)

var (
	version     = "1.0.0"         //nolint:gochecknoglobals
	serviceName = "resume-intake" //nolint:gochecknoglobals
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to config file")
	pflag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	logCloser, err := logger.Init(cfg.Logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init logger")
	}
	defer logCloser.Close()
	glog.SetLogger(hertzadapter.From(logger.Logger))
	log := logger.Component("main")
	log.Info().Str("version", version).Msg("starting " + serviceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName, cfg.Tracing.Insecure)
	if err != nil {
		log.Fatal().Err(err).Msg("init tracing")
	}

	store, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init storage")
	}
	defer store.Close()

	pipeline, closeOCR, err := buildPipeline(ctx, cfg, store)
	if err != nil {
		log.Fatal().Err(err).Msg("init ingestion pipeline")
	}
	defer closeOCR()

	var wg sync.WaitGroup

	if store.RabbitMQ != nil {
		relay := outbox.NewRelay(store.MySQL.DB(), store.RabbitMQ,
			outbox.WithInterval(config.GetDuration(cfg.RabbitMQ.RelayInterval, 5*time.Second)),
			outbox.WithBatchSize(cfg.RabbitMQ.RelayBatchSize),
			outbox.WithLogger(logger.Component("outbox_relay")),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Run(ctx)
		}()
	}

	if cfg.Mailbox.Enabled {
		interval := config.GetDuration(cfg.Mailbox.PollInterval, mailbox.DefaultPollInterval)
		watcher := mailbox.NewWatcher(
			mailbox.IMAPDialer(cfg.Mailbox, time.Minute),
			pipeline,
			mailbox.WithInterval(interval),
			mailbox.WithExtensions(cfg.Mailbox.Extensions),
			mailbox.WithLogger(logger.Component("mailbox")),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			watcher.Run(ctx)
		}()
	}

	bin := lifecycle.NewManager(store.MySQL.DB(), lifecycle.WithLogger(logger.Component("lifecycle")))

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		server.WithMaxRequestBodySize(cfg.Server.MaxUploadMB<<20+1<<20),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		ctx.Next(c)
		glog.CtxInfof(c, "%s %s %d %s", ctx.Method(), ctx.Path(), ctx.Response.StatusCode(), time.Since(start))
	})

	router.RegisterRoutes(h,
		handler.NewResumeHandler(pipeline, store.Candidates, cfg.Server.MaxUploadMB, logger.Component("resume_handler")),
		handler.NewBinHandler(bin, cfg.Lifecycle.RetentionMonths, logger.Component("bin_handler")),
		cfg.Server.APIKeys,
	)

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("http server listening")
		if err := h.Run(); err != nil {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	cancel()
	wg.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
	log.Info().Msg("bye")
}

// buildPipeline wires extraction, the model client and storage into one
// pipeline. The returned func releases the OCR client.
func buildPipeline(ctx context.Context, cfg *config.Config, store *storage.Storage) (*ingest.Pipeline, func(), error) {
	closeOCR := func() {}

	extractorOpts := []extractor.Option{extractor.WithLogger(logger.Component("extractor"))}
	if cfg.OCR.CredentialsFile != "" {
		ocr, err := extractor.NewVisionOCR(ctx, cfg.OCR.CredentialsFile)
		if err != nil {
			return nil, closeOCR, err
		}
		closeOCR = func() { _ = ocr.Close() }
		extractorOpts = append(extractorOpts, extractor.WithOCR(ocr))
	} else {
		logger.Warn().Msg("ocr.credentials_file is empty, image attachments will fail")
	}
	text, err := extractor.New(ctx, extractorOpts...)
	if err != nil {
		closeOCR()
		return nil, func() {}, err
	}

	fields, err := buildFieldExtractor(cfg)
	if err != nil {
		closeOCR()
		return nil, func() {}, err
	}

	var attachments ingest.AttachmentStore
	if store.MinIO != nil {
		attachments = ingest.NewObjectStore(store.MinIO)
	} else {
		local, err := ingest.NewLocalStore(cfg.Attachments.UploadDir)
		if err != nil {
			closeOCR()
			return nil, func() {}, err
		}
		attachments = local
	}

	opts := []ingest.Option{
		ingest.WithCategories(cfg.LLM.Categories),
		ingest.WithEvents(cfg.RabbitMQ.Exchange, cfg.RabbitMQ.IngestedRoutingKey),
		ingest.WithLogger(logger.Component("ingest")),
	}
	if cfg.Ingest.DedupeByContent && store.Redis != nil {
		opts = append(opts, ingest.WithDeduper(store.Redis))
	}
	return ingest.New(attachments, text, fields, store.Candidates, opts...), closeOCR, nil
}

func buildFieldExtractor(cfg *config.Config) (*llm.FieldExtractor, error) {
	chat, err := llm.NewChatModel(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL,
		llm.WithModelLogger(logger.Component("llm")))
	if err != nil {
		return nil, err
	}
	return llm.NewFieldExtractor(
		llm.WithRateLimit(chat, cfg.LLM.QPM),
		llm.WithTemperature(cfg.LLM.Temperature),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
		llm.WithExtractorLogger(logger.Component("llm")),
	), nil
}
