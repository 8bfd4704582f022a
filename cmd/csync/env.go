package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tmc/langchaingo/llms/openai"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/chmdznr/corpussync/internal/config"
	"github.com/chmdznr/corpussync/internal/db"
	"github.com/chmdznr/corpussync/internal/logging"
	"github.com/chmdznr/corpussync/internal/remote"
	"github.com/chmdznr/corpussync/internal/remote/gemini"
	"github.com/chmdznr/corpussync/internal/remote/minio"
	syncer "github.com/chmdznr/corpussync/internal/sync"
	"github.com/chmdznr/corpussync/internal/tools"
	"github.com/chmdznr/corpussync/pkg/models"
)

// env is what every command needs: configuration, a logger and the project database.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *db.DB
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("project") {
		cfg.Project = c.String("project")
	}
	if c.IsSet("data-dir") {
		cfg.DataDir = c.String("data-dir")
	}
	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	store, err := db.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Debug("opened project", zap.String("project", cfg.Project), zap.String("db", store.Path()))

	return &env{cfg: cfg, logger: logger, store: store}, nil
}

func (e *env) Close() {
	e.store.Close()
	logging.Sync(e.logger)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func (e *env) geminiClient() (*gemini.Client, error) {
	g := e.cfg.Remote.Gemini
	return gemini.New(gemini.Options{
		APIKey:      g.APIKey,
		BaseURL:     g.BaseURL,
		Model:       e.cfg.Generation.Model,
		Timeout:     g.Timeout,
		HTTPRetries: g.HTTPRetries,
		Logger:      e.logger,
	})
}

// registry builds the configured remote wrapped in retry-with-backoff.
func (e *env) registry() (remote.Registry, error) {
	if err := e.cfg.ValidateRemote(); err != nil {
		return nil, err
	}

	var (
		reg remote.Registry
		err error
	)
	switch e.cfg.Remote.Backend {
	case config.BackendMinio:
		m := e.cfg.Remote.Minio
		reg, err = minio.New(minio.Options{
			Endpoint:  m.Endpoint,
			Bucket:    m.Bucket,
			Folder:    m.Folder,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Secure:    m.Secure,
			Logger:    e.logger,
		})
	default:
		reg, err = e.geminiClient()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s registry: %w", e.cfg.Remote.Backend, err)
	}

	r := e.cfg.Remote.Retry
	return remote.WithRetry(reg, remote.RetryOptions{
		MaxRetries:      r.MaxRetries,
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
		Logger:          e.logger,
	}), nil
}

func (e *env) reconciler(workers int, onProgress func(models.Progress)) (*syncer.Reconciler, error) {
	if workers > syncer.DefaultUploadConcurrency {
		return nil, fmt.Errorf("--workers must be at most %d, got %d", syncer.DefaultUploadConcurrency, workers)
	}
	if workers <= 0 {
		workers = e.cfg.Sync.UploadConcurrency
	}
	reg, err := e.registry()
	if err != nil {
		return nil, err
	}
	return syncer.NewReconciler(e.store, reg, syncer.Options{
		UploadConcurrency: workers,
		Logger:            e.logger,
		OnProgress:        onProgress,
	}), nil
}

// generator builds the configured text generation backend.
func (e *env) generator() (tools.Generator, error) {
	g := e.cfg.Generation
	switch g.Backend {
	case config.BackendLangChain:
		opts := []openai.Option{openai.WithModel(g.Model), openai.WithToken(g.APIKey)}
		if g.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(g.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create langchain model: %w", err)
		}
		return tools.NewLangChain(model), nil
	default:
		if e.cfg.Remote.Gemini.APIKey == "" {
			return nil, fmt.Errorf("remote.gemini.api_key is required for gemini generation")
		}
		return e.geminiClient()
	}
}

func (e *env) toolkit() (*tools.Toolkit, error) {
	gen, err := e.generator()
	if err != nil {
		return nil, err
	}
	return tools.New(e.store, gen, tools.Options{
		Temperature: e.cfg.Generation.Temperature,
		Logger:      e.logger,
	}), nil
}
