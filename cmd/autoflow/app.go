package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/autoflow/internal/ai"
	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/metrics"
	"github.com/rendis/autoflow/internal/scheduler"
	"github.com/rendis/autoflow/internal/secrets"
	"github.com/rendis/autoflow/internal/steps"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/streaming"
	"github.com/rendis/autoflow/internal/trigger"
	"github.com/rendis/autoflow/internal/validation"
)

// app is the wired process: one store, one executor, one pool.
type app struct {
	cfg        *Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	store      *store.LibSQLStore
	dispatcher *steps.Dispatcher
	events     *streaming.MemoryHub
	executor   *engine.Executor
	pool       *engine.Pool
	async      *engine.AsyncRunner
	router     *trigger.Router
	scheduler  *scheduler.Scheduler
	validator  *validation.WorkflowValidator
}

func newApp(ctx context.Context, cfg *Config) (*app, error) {
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	m := metrics.New()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore(dsn(cfg.DBPath))
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	vault, err := newVault(st, cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	providers := ai.NewRegistry()
	for _, pc := range cfg.AI.Providers {
		if err := providers.Register(ai.NewOpenAIProvider(pc, vault, nil, logger)); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	engines, err := expressions.NewEngines(0)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	configValidator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	d := steps.NewDispatcher(
		steps.WithValidator(configValidator),
		steps.WithMetrics(m),
		steps.WithLogger(logger),
	)
	policy := cfg.Paths
	if err := steps.RegisterBuiltins(d, steps.Deps{
		Engines:       engines,
		Files:         steps.FileConfig{Policy: &policy},
		HTTP:          steps.HTTPConfig{DefaultTimeout: cfg.HTTP.Timeout},
		Script:        steps.ScriptConfig{DefaultTimeout: cfg.Script.Timeout},
		Catalog:       st,
		Records:       st,
		Notifications: st,
		AI:            providers,
		Logger:        logger,
	}); err != nil {
		_ = st.Close()
		return nil, err
	}

	wfValidator, err := validation.NewWorkflowValidator(d)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	events := streaming.NewMemoryHub()
	exec := engine.NewExecutor(st, st, d, engine.ExecutorConfig{Metrics: m, Events: events, Logger: logger})
	pool := engine.NewPool(cfg.PoolSize, logger)
	async := engine.NewAsyncRunner(exec, pool)

	return &app{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		store:      st,
		dispatcher: d,
		events:     events,
		executor:   exec,
		pool:       pool,
		async:      async,
		router:     trigger.NewRouter(st, trigger.NewMatcher(logger, m), async, logger),
		scheduler:  scheduler.New(st, async, scheduler.Config{Metrics: m, Logger: logger}),
		validator:  wfValidator,
	}, nil
}

// newVault stores secrets AES-sealed in the database when a passphrase is
// configured, and always falls back to AUTOFLOW_SECRET_* env vars.
func newVault(st secrets.SecretStore, cfg *Config) (secrets.Vault, error) {
	chain := &secrets.ChainVault{Fallback: secrets.NewEnvVault()}
	if cfg.Vault.Passphrase == "" {
		return chain, nil
	}
	aes, err := secrets.NewAESVault(st, secrets.VaultConfig{
		Passphrase: cfg.Vault.Passphrase,
		Salt:       []byte(cfg.Vault.Salt),
	})
	if err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}
	chain.Primary = aes
	return chain, nil
}

// close stops the scheduler, drains the pool and closes the store.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	a.scheduler.CancelAllSchedules()
	if err := a.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain run pool: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
