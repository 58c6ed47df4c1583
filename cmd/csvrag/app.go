package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"csvrag/internal/completion"
	"csvrag/internal/config"
	"csvrag/internal/dataset"
	"csvrag/internal/embedcache"
	"csvrag/internal/embedding"
	"csvrag/internal/index"
	"csvrag/internal/logging"
	"csvrag/internal/ollama"
	"csvrag/internal/service"
)

// app is the assembled component graph for one command invocation.
type app struct {
	cfg      *config.AppConfig
	logger   *zap.Logger
	server   *ollama.Server
	cache    *embedcache.DB
	pipeline *service.Pipeline
}

func loadConfig() (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newApp assembles the components from config and loads file when it is
// not empty. interactive selects a logger that stays off the terminal.
func newApp(ctx context.Context, file string, interactive bool, indexOpts ...index.Option) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	var logger *zap.Logger
	if interactive {
		logger, err = logging.ForTerminalUI(cfg.Logging, verbose)
	} else {
		logger, err = logging.New(cfg.Logging, verbose)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		server: ollama.NewServer(cfg.Ollama.BaseURL, cfg.Ollama.Binary, logger),
	}

	switch {
	case cfg.Ollama.ManageServer:
		timeout := time.Duration(cfg.Ollama.StartTimeoutSecs) * time.Second
		if !a.server.Start(ctx, timeout) {
			logger.Warn("model server not reachable, continuing", zap.String("base_url", cfg.Ollama.BaseURL))
		}
	case !a.server.IsRunning(ctx):
		logger.Warn("model server not reachable", zap.String("base_url", cfg.Ollama.BaseURL))
	}

	emb := embedding.NewClient(
		embedding.WithBaseURL(cfg.Ollama.BaseURL),
		embedding.WithTimeout(time.Duration(cfg.Embedder.TimeoutSecs)*time.Second),
		embedding.WithRateLimit(cfg.Embedder.RateLimit),
		embedding.WithMaxRetries(cfg.Embedder.MaxRetries),
	)
	comp := completion.NewClient(completion.Config{
		BaseURL: cfg.Ollama.BaseURL,
		APIKey:  cfg.Completion.APIKey,
		Timeout: time.Duration(cfg.Completion.TimeoutSecs) * time.Second,
	})

	opts := []index.Option{index.WithDimensions(cfg.Embedder.Dimensions)}
	if cfg.Cache.Path != "" {
		db, err := embedcache.Open(cfg.Cache.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		a.cache = db
		opts = append(opts, index.WithCache(db))
	}
	opts = append(opts, indexOpts...)

	a.pipeline = service.NewPipeline(emb, comp, service.Config{
		BatchSize:      cfg.Chunker.BatchSize,
		TopK:           cfg.Retrieval.TopK,
		SummaryTopK:    cfg.Retrieval.SummaryTopK,
		EmbeddingModel: cfg.Embedder.Model,
		Dataset: dataset.Options{
			Delimiter:  cfg.DelimiterRune(),
			SampleSize: cfg.Dataset.NumericSampleSize,
		},
	}, logger, opts...)

	if file != "" {
		if err := a.pipeline.Load(file); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) embed(ctx context.Context) error {
	chunks, processed, err := a.pipeline.Embed(ctx, a.cfg.Embedder.Model)
	if err != nil {
		return err
	}
	a.logger.Debug("embedded dataset", zap.Int("chunks", chunks), zap.Int("processed", processed))
	return nil
}

// Close stops a managed server and releases the cache.
func (a *app) Close() {
	if a.cfg.Ollama.ManageServer {
		a.server.Stop()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("closing embedding cache", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
