// Command stibot runs the technical-support chat orchestrator: an HTTP
// API in front of the stage-machine conversation core.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"stibot/internal/httpapi"
	"stibot/pkg/config"
	"stibot/pkg/controller"
	"stibot/pkg/detector"
	"stibot/pkg/eventlog"
	"stibot/pkg/handlers"
	"stibot/pkg/logx"
	"stibot/pkg/metrics"
	"stibot/pkg/nlp"
	"stibot/pkg/store"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "stibot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.json", "path to config file")
	memStore := flag.Bool("mem", false, "use the in-memory session store")
	flag.Parse()

	logger := logx.NewLogger("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := openStore(&cfg, *memStore)
	if err != nil {
		return err
	}
	defer st.Close()

	flow, err := eventlog.NewWriter(cfg.FlowLogDir)
	if err != nil {
		return fmt.Errorf("failed to open flow log: %w", err)
	}
	defer flow.Close()

	catalog, err := handlers.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("failed to load message catalog: %w", err)
	}

	resolver, err := buildResolver(&cfg.NLP)
	if err != nil {
		return err
	}

	recorder := metrics.NewPrometheusRecorder()

	registry := handlers.NewRegistry(&handlers.Collaborators{
		Resolver:        resolver,
		Policy:          nlp.Policy{TrustConfidence: cfg.NLP.TrustConfidence, ReviewConfidence: cfg.NLP.ReviewConfidence},
		Window:          nlp.NewWindowBuilder(cfg.NLP.WindowTokenBudget),
		NLPTimeout:      cfg.NLP.Timeout(),
		Catalog:         catalog,
		MaxNameAttempts: cfg.Flow.MaxNameAttempts,
		Recorder:        recorder,
		Provider:        cfg.NLP.Provider,
	})

	ctrl := controller.New(st, registry, detector.New(cfg.Detector), recorder, flow)

	var stats *metrics.QueryService
	if cfg.PrometheusURL != "" {
		stats, err = metrics.NewQueryService(cfg.PrometheusURL)
		if err != nil {
			return fmt.Errorf("failed to build metrics query service: %w", err)
		}
	}

	server := httpapi.NewServer(cfg.ListenAddr, ctrl, stats)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received %s, shutting down", sig)
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("Shutdown complete")
	return nil
}

func openStore(cfg *config.Config, memOnly bool) (store.Store, error) {
	if memOnly {
		return store.NewMemoryStore(), nil
	}
	if dir := filepath.Dir(cfg.StoragePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	st, err := store.OpenSQLite(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return st, nil
}

func buildResolver(cfg *config.NLPConfig) (nlp.Resolver, error) {
	switch cfg.Provider {
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		return nlp.NewOpenAIResolver(key, cfg.Model), nil
	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
		return nlp.NewAnthropicResolver(key, cfg.Model), nil
	case "mock":
		return nlp.NewMockResolver(nil, nil), nil
	default:
		return nil, fmt.Errorf("unknown nlp provider %q", cfg.Provider)
	}
}
