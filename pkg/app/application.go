package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/osvaldoandrade/mpsflow/internal/engine"
	"github.com/osvaldoandrade/mpsflow/internal/metrics"
	"github.com/osvaldoandrade/mpsflow/internal/middleware"
	"github.com/osvaldoandrade/mpsflow/internal/providers"
	"github.com/osvaldoandrade/mpsflow/internal/ratelimit"
	"github.com/osvaldoandrade/mpsflow/internal/repository"
	"github.com/osvaldoandrade/mpsflow/internal/services"
	"github.com/osvaldoandrade/mpsflow/internal/tracing"
	"github.com/osvaldoandrade/mpsflow/pkg/auth"
	"github.com/osvaldoandrade/mpsflow/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

type Application struct {
	Config          *config.Config
	Engine          *gin.Engine
	Solver          engine.Engine
	Solves          services.SolveService
	Logger          *slog.Logger
	Validator       auth.Validator
	RateLimiter     ratelimit.Limiter
	Redis           *redis.Client
	TracingShutdown func(context.Context) error
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithValidator sets a custom bearer token validator
func WithValidator(validator auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.Validator = validator
		return nil
	}
}

// WithSolver replaces the solver backend selected by solver.backend
func WithSolver(eng engine.Engine) ApplicationOption {
	return func(app *Application) error {
		app.Solver = eng
		return nil
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "mpsflow", "env", cfg.Env)
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	ctx := context.Background()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Enabled:       cfg.Tracing.Enabled,
		ServiceName:   cfg.Tracing.ServiceName,
		OTLPEndpoint:  cfg.Tracing.OTLPEndpoint,
		OTLPInsecure:  cfg.Tracing.OTLPInsecure,
		SampleRatio:   cfg.Tracing.SampleRatio,
		Environment:   cfg.Env,
		SolverBackend: cfg.Solver.Backend,
		SolverMethod:  cfg.Solver.Method,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	app := &Application{
		Config:          cfg,
		Logger:          logger,
		TracingShutdown: shutdown,
	}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if cfg.History.Backend == "redis" || cfg.RateLimit.Backend == "redis" {
		app.Redis = providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)
		if err := providers.PingRedis(ctx, app.Redis); err != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		metrics.RegisterRedisCollector(app.Redis, logger)
	}

	app.RateLimiter = ratelimit.NewLimiter(cfg.RateLimit, app.Redis, time.Now)

	if app.Validator == nil {
		v, err := middleware.NewValidator(cfg)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		app.Validator = v
	}

	if app.Solver == nil {
		app.Solver = engine.NewHiGHS(cfg.Solver.HighsExe, cfg.Solver.WorkDir, logger)
	}
	method, err := engine.ParseMethod(cfg.Solver.Method)
	if err != nil {
		return nil, err
	}

	var history repository.SolveRepository
	ttl := time.Duration(cfg.History.TTLSeconds) * time.Second
	switch cfg.History.Backend {
	case "redis":
		history = repository.NewSolveRepository(app.Redis, ttl)
	case "memory":
		history = repository.NewMemorySolveRepository(ttl, time.Now)
	}

	uploader, err := providers.NewUploader(ctx, cfg.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("artifacts: %w", err)
	}

	app.Solves = services.NewSolveService(app.Solver, history, uploader, services.SolveServiceConfig{
		BaseDir:      cfg.Solver.BaseDir,
		Method:       method,
		MaxBatchSize: cfg.Solver.MaxBatchSize,
		RequestID:    middleware.RequestIDFromContext,
	}, logger, time.Now)

	app.Engine = gin.New()
	app.Engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(cfg.Tracing.ServiceName),
		middleware.LoggerMiddleware(logger),
	)

	logger.Info("application ready",
		"baseDir", cfg.Solver.BaseDir,
		"solver", cfg.Solver.Backend,
		"method", string(method),
		"history", cfg.History.Backend,
		"artifacts", cfg.Artifacts.Backend,
		"rateLimit", cfg.RateLimit.Backend,
		"auth", cfg.Auth.Provider,
	)
	return app, nil
}
