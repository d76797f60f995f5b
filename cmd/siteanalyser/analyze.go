package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/complyscan/site-analyser/internal/analysis"
	"github.com/complyscan/site-analyser/internal/api"
	"github.com/complyscan/site-analyser/internal/certcheck"
	"github.com/complyscan/site-analyser/internal/clock/system"
	"github.com/complyscan/site-analyser/internal/config"
	collyfetcher "github.com/complyscan/site-analyser/internal/fetcher/colly"
	headlessfetcher "github.com/complyscan/site-analyser/internal/fetcher/headless"
	"github.com/complyscan/site-analyser/internal/hash/sha256"
	"github.com/complyscan/site-analyser/internal/id/uuid"
	"github.com/complyscan/site-analyser/internal/logging"
	"github.com/complyscan/site-analyser/internal/orchestrator"
	"github.com/complyscan/site-analyser/internal/pipeline"
	"github.com/complyscan/site-analyser/internal/progress"
	"github.com/complyscan/site-analyser/internal/progress/sinks"
	pubsubpublisher "github.com/complyscan/site-analyser/internal/publisher/pubsub"
	"github.com/complyscan/site-analyser/internal/ratelimit"
	gcsstore "github.com/complyscan/site-analyser/internal/storage/gcs"
	localstore "github.com/complyscan/site-analyser/internal/storage/local"
	memorystore "github.com/complyscan/site-analyser/internal/storage/memory"
	fsresults "github.com/complyscan/site-analyser/internal/store/fs"
	memoryresults "github.com/complyscan/site-analyser/internal/store/memory"
	postgresresults "github.com/complyscan/site-analyser/internal/store/postgres"
)

type analyzeFlags struct {
	urls        []string
	urlsFile    string
	concurrency int
}

func newAnalyzeCmd() *cobra.Command {
	flags := &analyzeFlags{}
	cmd := &cobra.Command{
		Use:   "analyze [urls...]",
		Short: "Analyze a batch of URLs",
		Long: `Runs the full analysis pipeline over the given URLs. URLs come from
positional arguments, repeated --url flags, or a file with one URL per line.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args, flags)
		},
	}
	cmd.Flags().StringArrayVar(&flags.urls, "url", nil, "URL to analyze (repeatable)")
	cmd.Flags().StringVar(&flags.urlsFile, "urls-file", "", "file with one URL per line; # starts a comment")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "max concurrent URL analyses (0 uses config)")
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string, flags *analyzeFlags) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	urls, err := gatherURLs(args, flags)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return errors.New("no URLs given; use positional args, --url or --urls-file")
	}

	concurrency := flags.concurrency
	if concurrency <= 0 {
		concurrency = cfg.Batch.Concurrency
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := system.New()
	hasher := sha256.New()
	ids := uuid.New()

	fetcher, cleanupFetcher, err := buildFetcher(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanupFetcher()

	blobStore, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	resultStore, cleanupResults, err := buildResultStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanupResults()

	validator := certcheck.New(certcheck.NewTLSFetcher(cfg.CertTimeout()), clk, logger)
	stages := []pipeline.Stage{
		pipeline.NewFetchStage(fetcher),
		pipeline.NewCertificateStage(validator),
		pipeline.NewBotProtectionStage(),
		pipeline.NewScreenshotStage(blobStore, hasher, cfg.Storage.Prefix),
	}
	chain := pipeline.NewChain(stages, cfg.RetryPolicy(), clk, logger)

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	statusStore := sinks.NewStatusStore()
	hub := progress.NewHub(
		progress.Config{BaseContext: ctx, Logger: logger},
		sinks.NewLogSink(logger),
		promSink,
		statusStore,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if closeErr := hub.Close(closeCtx); closeErr != nil {
			logger.Warn("progress hub close failed", zap.Error(closeErr))
		}
	}()

	publisher, cleanupPublisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanupPublisher()

	if cfg.Server.Enabled {
		shutdown := startStatusServer(cfg, statusStore, registry, logger)
		defer shutdown()
	}

	orch := orchestrator.New(
		chain,
		resultStore,
		publisher,
		hub,
		ids,
		clk,
		orchestrator.Config{Topic: cfg.PubSub.TopicName},
		logger,
	)

	batch, err := orch.Run(ctx, urls, concurrency)
	if err != nil {
		return fmt.Errorf("analyze batch: %w", err)
	}
	return printSummary(cmd, batch)
}

func gatherURLs(args []string, flags *analyzeFlags) ([]string, error) {
	urls := append([]string{}, args...)
	urls = append(urls, flags.urls...)
	if flags.urlsFile != "" {
		fileURLs, err := readURLsFile(flags.urlsFile)
		if err != nil {
			return nil, err
		}
		urls = append(urls, fileURLs...)
	}
	return urls, nil
}

func readURLsFile(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("open urls file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read urls file: %w", err)
	}
	return urls, nil
}

func buildFetcher(cfg config.Config, logger *zap.Logger) (analysis.Fetcher, func(), error) {
	if cfg.Headless.Enabled {
		fetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetcher.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			CaptureScreenshot: cfg.Headless.CaptureScreenshot,
			ScreenshotQuality: cfg.Headless.ScreenshotQuality,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		return fetcher, fetcher.Close, nil
	}

	var waiter collyfetcher.Waiter
	if cfg.RateLimit.RPS > 0 {
		waiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.RPS,
			DefaultBurst: cfg.RateLimit.Burst,
		})
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetcher.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	}, waiter, logger)
	return fetcher, func() {}, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (analysis.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "local":
		store, err := localstore.New(localstore.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	case "memory":
		return memorystore.NewBlobStore(), nil
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func buildResultStore(ctx context.Context, cfg config.Config) (analysis.ResultStore, func(), error) {
	switch cfg.Results.Backend {
	case "fs":
		store, err := fsresults.New(fsresults.Config{Dir: cfg.Results.Dir})
		if err != nil {
			return nil, nil, fmt.Errorf("init fs result store: %w", err)
		}
		return store, func() {}, nil
	case "memory":
		return memoryresults.New(), func() {}, nil
	case "postgres":
		store, err := postgresresults.New(ctx, postgresresults.Config{DSN: cfg.Results.DSN})
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres result store: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown results backend %q", cfg.Results.Backend)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (analysis.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" {
		return nil, func() {}, nil
	}
	pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	cleanup := func() {
		if closeErr := pub.Close(); closeErr != nil {
			logger.Warn("pubsub close failed", zap.Error(closeErr))
		}
	}
	return pub, cleanup, nil
}

func startStatusServer(
	cfg config.Config,
	status api.BatchStatusReader,
	registry *prometheus.Registry,
	logger *zap.Logger,
) func() {
	apiCfg := api.Config{}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	server := api.NewServer(status, registry, apiCfg, logger)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown failed", zap.Error(err))
		}
	}
}

type batchSummary struct {
	JobID       string       `json:"job_id"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
	Total       int          `json:"total"`
	Succeeded   int          `json:"succeeded"`
	Partial     int          `json:"partial"`
	Failed      int          `json:"failed"`
	Results     []urlSummary `json:"results"`
}

type urlSummary struct {
	URL    string `json:"url"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func printSummary(cmd *cobra.Command, batch analysis.BatchResult) error {
	summary := batchSummary{
		JobID:       batch.JobID,
		StartedAt:   batch.StartedAt,
		CompletedAt: batch.CompletedAt,
		Total:       batch.Total,
		Succeeded:   batch.Succeeded,
		Partial:     batch.Partial,
		Failed:      batch.Failed,
	}
	for _, res := range batch.Results {
		summary.Results = append(summary.Results, urlSummary{
			URL:    res.URL,
			Status: string(res.Status),
			Error:  res.ErrorMessage,
		})
	}
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	cmd.Println(string(out))
	return nil
}
