package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/osvaldoandrade/mpsflow/pkg/auth/hmac"   // HS256 JWT provider
	_ "github.com/osvaldoandrade/mpsflow/pkg/auth/static" // static token provider (dev/local)
	"github.com/osvaldoandrade/mpsflow/pkg/config"

	"github.com/osvaldoandrade/mpsflow/pkg/app"
)

// drainGrace is added on top of the default solve time limit when waiting
// for in-flight solves at shutdown.
const drainGrace = 10 * time.Second

func main() {
	if err := run(os.Getenv("MPSFLOW_SERVER_CONFIG")); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR]", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.LoadConfigOptional(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	if st, err := os.Stat(cfg.Solver.BaseDir); err != nil || !st.IsDir() {
		// every solve will answer 404 until the models directory is mounted
		application.Logger.Warn("model directory unavailable", "baseDir", cfg.Solver.BaseDir)
	}
	app.SetupMappings(application)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           application.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	application.Logger.Info("accepting solve requests", "addr", addr, "baseDir", cfg.Solver.BaseDir, "solver", cfg.Solver.Backend)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		application.Logger.Info("draining in-flight solves", "signal", sig.String(), "timeout", drainTimeout(cfg).String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout(cfg))
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		application.Logger.Warn("solves still running at shutdown", "err", err)
	}
	if application.TracingShutdown != nil {
		_ = application.TracingShutdown(ctx)
	}
	if application.Redis != nil {
		_ = application.Redis.Close()
	}
	return nil
}

// drainTimeout lets a solve started with the default time limit finish
// before the process exits.
func drainTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Solver.DefaultTimeLimit*float64(time.Second)) + drainGrace
}
