package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/orchestrator/internal/agent"
	"github.com/phrazzld/orchestrator/internal/config"
	"github.com/phrazzld/orchestrator/internal/events"
	"github.com/phrazzld/orchestrator/internal/llm"
	"github.com/phrazzld/orchestrator/internal/metrics"
	"github.com/phrazzld/orchestrator/internal/platform/gemini"
	"github.com/phrazzld/orchestrator/internal/platform/logger"
	"github.com/phrazzld/orchestrator/internal/platform/openai"
	"github.com/phrazzld/orchestrator/internal/platform/redisq"
	"github.com/phrazzld/orchestrator/internal/platform/sqlstore"
	"github.com/phrazzld/orchestrator/internal/ratelimit"
	"github.com/phrazzld/orchestrator/internal/scheduler"
	"github.com/phrazzld/orchestrator/internal/service"
	"github.com/phrazzld/orchestrator/internal/service/auth"
	"github.com/phrazzld/orchestrator/internal/task"
	"github.com/phrazzld/orchestrator/internal/tool"
	"github.com/phrazzld/orchestrator/internal/worker"
)

// background is a component driven by its own ticker.
type background interface {
	Start() bool
	Stop() bool
}

// application holds the shared dependencies and owns their cleanup.
type application struct {
	config *config.Config
	logger *slog.Logger

	db    *sql.DB
	redis *redis.Client

	queue task.Queue
	dlq   task.Queue
	tasks task.TaskStore
	runs  task.RunStore

	metrics     *metrics.Metrics
	taskService service.TaskService
	emitter     *events.InMemoryEventEmitter
	limiter     ratelimit.Limiter

	jwtService auth.JWTService
	apiKeys    *auth.APIKeyVerifier

	agents     *agent.Registry
	worker     *worker.Worker
	schedulers []background
}

// loadConfig loads configuration and builds the process logger from it.
func loadConfig(path string, out io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.Setup(logger.Config{
		Level:  cfg.Server.LogLevel,
		Format: cfg.Server.LogFormat,
		Output: out,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return cfg, log, nil
}

// newApplication wires every component from cfg. Nothing is started; call Run
// for the server or use the services directly from operator commands.
func newApplication(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *application, err error) {
	app := &application{
		config:  cfg,
		logger:  log,
		metrics: metrics.New(),
	}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	if err := app.setupStores(ctx); err != nil {
		return nil, err
	}
	if err := app.setupQueues(ctx); err != nil {
		return nil, err
	}

	app.taskService, err = service.NewTaskService(service.Deps{
		Queue:   app.queue,
		DLQ:     app.dlq,
		Tasks:   app.tasks,
		Runs:    app.runs,
		Metrics: app.metrics,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	app.emitter = events.NewInMemoryEventEmitter(log)
	app.emitter.RegisterHandler(app.taskService)

	if err := app.setupAuth(); err != nil {
		return nil, err
	}
	if err := app.setupLimiter(ctx); err != nil {
		return nil, err
	}

	if err := app.setupAgents(ctx); err != nil {
		return nil, err
	}

	app.worker, err = worker.New(worker.Config{
		PollInterval:       cfg.Worker.PollInterval,
		MaxRetries:         cfg.Worker.MaxRetries,
		Backoff:            cfg.Worker.Backoff,
		TaskTimeout:        cfg.Worker.TaskTimeout,
		StuckAge:           cfg.Worker.StuckAge,
		StuckCheckInterval: cfg.Worker.StuckCheckInterval,
		InProcessQueue:     cfg.Queue.Backend == "memory",
	}, worker.Deps{
		Queue:   app.queue,
		DLQ:     app.dlq,
		Tasks:   app.tasks,
		Runs:    app.runs,
		Agents:  app.agents,
		Metrics: app.metrics,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}

	if err := app.setupSchedulers(); err != nil {
		return nil, err
	}

	log.Info("application initialized",
		"store", cfg.Store.Backend,
		"queue", cfg.Queue.Backend,
		"auth_enabled", cfg.Auth.Enabled,
		"schedulers", len(app.schedulers))
	return app, nil
}

func (app *application) setupStores(ctx context.Context) error {
	if app.config.Store.Backend != "sql" {
		app.tasks = task.NewMemoryTaskStore()
		app.runs = task.NewMemoryRunStore()
		return nil
	}

	db, dialect, err := openDatabase(ctx, app.config.Database)
	if err != nil {
		return err
	}
	app.db = db
	if app.config.Database.AutoMigrate {
		if err := sqlstore.Migrate(ctx, db, dialect, "up", app.logger); err != nil {
			return err
		}
	}
	app.tasks = sqlstore.NewTaskStore(db, dialect)
	app.runs = sqlstore.NewRunStore(db, dialect)
	app.logger.Info("sql store ready", "dialect", dialect)
	return nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, sqlstore.Dialect, error) {
	dialect, err := sqlstore.ParseDialect(cfg.Dialect)
	if err != nil {
		return nil, "", err
	}
	db, err := sqlstore.Open(ctx, dialect, cfg.URL, sqlstore.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}
	return db, dialect, nil
}

func (app *application) redisClient(ctx context.Context) (*redis.Client, error) {
	if app.redis != nil {
		return app.redis, nil
	}
	client, err := redisq.NewClient(ctx, redisq.Config{URL: app.config.Redis.URL, KeyPrefix: app.config.Redis.KeyPrefix})
	if err != nil {
		return nil, err
	}
	app.redis = client
	return client, nil
}

func (app *application) setupQueues(ctx context.Context) error {
	cfg := app.config.Queue
	if cfg.Backend != "redis" {
		app.queue = task.NewMemoryQueue(app.logger)
		app.dlq = task.NewMemoryQueue(app.logger)
		return nil
	}
	client, err := app.redisClient(ctx)
	if err != nil {
		return err
	}
	prefix := app.config.Redis.KeyPrefix
	app.queue = redisq.NewQueue(client, prefix+cfg.Key, app.logger)
	app.dlq = redisq.NewQueue(client, prefix+cfg.DLQKey, app.logger)
	return nil
}

func (app *application) setupAuth() error {
	cfg := app.config.Auth
	if !cfg.Enabled {
		app.logger.Warn("authentication disabled, the API is open to any caller")
		return nil
	}
	var err error
	app.jwtService, err = auth.NewJWTService(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	app.apiKeys, err = auth.NewAPIKeyVerifier(cfg.APIKeys)
	if err != nil {
		return fmt.Errorf("failed to load API keys: %w", err)
	}
	app.logger.Info("authentication enabled",
		"token_lifetime_minutes", cfg.TokenLifetimeMinutes,
		"api_keys", app.apiKeys.Len())
	return nil
}

// setupLimiter picks the submission limiter. The Redis backend shares
// counters across instances.
func (app *application) setupLimiter(ctx context.Context) error {
	cfg := app.config.RateLimit
	if !cfg.Enabled {
		return nil
	}
	if cfg.Backend != "redis" {
		app.limiter = ratelimit.NewSlidingWindow(cfg.Max, cfg.Window)
		return nil
	}
	client, err := app.redisClient(ctx)
	if err != nil {
		return err
	}
	app.limiter = redisq.NewFixedWindow(client, app.config.Redis.KeyPrefix+"ratelimit:", cfg.Max, cfg.Window)
	return nil
}

func (app *application) setupAgents(ctx context.Context) error {
	cfg := app.config.LLM
	model, err := buildModelRouter(ctx, cfg, app.logger)
	if err != nil {
		return err
	}

	modes := make(map[task.Role]agent.Mode, len(cfg.Modes))
	for role, mode := range cfg.Modes {
		modes[task.Role(role)] = agent.Mode(mode)
	}
	temperature := cfg.Temperature

	deps := agent.Deps{
		Tools: tool.Config{
			AllowedRoots:   app.config.Tools.AllowedRoots,
			DefaultTimeout: app.config.Tools.Timeout,
			MaxOutputChars: app.config.Tools.MaxOutputChars,
		},
		Tasks:  app.tasks,
		Runs:   app.runs,
		Logger: app.logger,
		Base: agent.ExecutorConfig{
			Temperature:       &temperature,
			MaxTokens:         cfg.MaxTokens,
			MaxToolIterations: cfg.MaxToolIterations,
			DisplayBudget:     cfg.DisplayBudget,
			ErrorMode:         agent.ErrorMode(cfg.ErrorMode),
		},
		Modes: modes,
	}
	if model != nil {
		deps.Model = model
	}

	app.agents, err = agent.BuildRegistry(deps)
	if err != nil {
		return fmt.Errorf("failed to build agent registry: %w", err)
	}
	return nil
}

// buildModelRouter registers every enabled provider behind its endpoint
// policy. It returns nil when no provider is enabled.
func buildModelRouter(ctx context.Context, cfg config.LLMConfig, log *slog.Logger) (*llm.Router, error) {
	router := llm.NewRouter(log)
	registered := 0

	if p := cfg.Gemini; p.Enabled {
		client, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:     p.APIKey,
			Model:      p.Model,
			Endpoint:   p.Endpoint,
			MaxRetries: p.MaxRetries,
			RetryDelay: p.RetryDelay,
		}, log.With("component", "gemini"))
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		if err := router.Register("gemini", client.Endpoint(), policyFor(p), client); err != nil {
			return nil, err
		}
		registered++
	}

	if p := cfg.OpenAI; p.Enabled {
		client, err := openai.NewClient(openai.Config{
			Name:       "openai",
			APIKey:     p.APIKey,
			Model:      p.Model,
			Endpoint:   p.Endpoint,
			MaxRetries: p.MaxRetries,
			RetryDelay: p.RetryDelay,
		}, log.With("component", "openai"))
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		if err := router.Register("openai", client.Endpoint(), policyFor(p), client); err != nil {
			return nil, err
		}
		registered++
	}

	if registered == 0 {
		return nil, nil
	}
	if cfg.DefaultProvider != "" {
		if err := router.SetDefault(cfg.DefaultProvider); err != nil {
			return nil, err
		}
	}
	return router, nil
}

func policyFor(p config.ProviderConfig) llm.EndpointPolicy {
	return llm.EndpointPolicy{
		AllowedHosts: p.AllowedHosts,
		AllowHosted:  p.AllowHosted,
		AllowLocal:   p.AllowLocal,
	}
}

func (app *application) setupSchedulers() error {
	cfg := app.config.Scheduler

	if g := cfg.Generic; g.Enabled {
		roles := make([]task.Role, 0, len(g.Roles))
		for _, r := range g.Roles {
			roles = append(roles, task.Role(r))
		}
		s, err := scheduler.NewGeneric(scheduler.GenericConfig{
			Interval:    g.Interval,
			Roles:       roles,
			Description: g.Description,
		}, app.emitter, app.logger)
		if err != nil {
			return fmt.Errorf("failed to create generic scheduler: %w", err)
		}
		app.schedulers = append(app.schedulers, s)
	}

	if r := cfg.Recurring; r.Enabled {
		entities, err := scheduler.LoadEntities(r.File)
		if err != nil {
			return err
		}
		s, err := scheduler.NewRecurring(r.Interval, entities, app.emitter, app.logger)
		if err != nil {
			return fmt.Errorf("failed to create recurring scheduler: %w", err)
		}
		app.schedulers = append(app.schedulers, s)
	}

	if src := cfg.Source; src.Enabled {
		s, err := scheduler.NewSourceDriven(src.Interval, task.Role(src.Role),
			scheduler.NewHTTPSource(src.URL, src.Timeout), app.emitter, app.logger)
		if err != nil {
			return fmt.Errorf("failed to create source scheduler: %w", err)
		}
		app.schedulers = append(app.schedulers, s)
	}
	return nil
}

// Run starts the background components and serves HTTP until ctx is
// cancelled or a shutdown signal arrives.
func (app *application) Run(ctx context.Context) error {
	app.startBackground(ctx)
	defer app.stopBackground()

	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// startBackground recovers unfinished tasks and starts the worker and
// schedulers. A failed recovery is logged; the tasks it missed are picked up
// by the stuck task check.
func (app *application) startBackground(ctx context.Context) {
	if app.config.Worker.Enabled {
		if _, err := app.worker.Recover(ctx); err != nil {
			app.logger.Error("task recovery incomplete", "error", err)
		}
		app.worker.Start()
	}
	for _, s := range app.schedulers {
		s.Start()
	}
}

// stopBackground halts future ticks and waits briefly for delayed retries to
// land on the queue. With an in-process queue they are lost with it, but the
// store keeps them queued and Recover re-enqueues them on the next start.
func (app *application) stopBackground() {
	for _, s := range app.schedulers {
		s.Stop()
	}
	app.worker.Stop()

	done := make(chan struct{})
	go func() {
		app.worker.WaitPending()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(app.config.Server.ShutdownTimeout):
		app.logger.Warn("shutdown timed out waiting for scheduled retries")
	}
}

// close releases external connections.
func (app *application) close() {
	var errs []error
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
	}
	if app.db != nil {
		errs = append(errs, app.db.Close())
	}
	if err := errors.Join(errs...); err != nil {
		app.logger.Error("failed to close connections", "error", err)
	}
}
