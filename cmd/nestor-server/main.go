// Command nestor-server runs the orchestration core: the agent loop, the
// gated tool pipeline, and the ingress HTTP facade.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nestor/internal/agent"
	"nestor/internal/audit"
	"nestor/internal/config"
	"nestor/internal/confirm"
	"nestor/internal/contextstore"
	"nestor/internal/dispatcher"
	"nestor/internal/invoker"
	"nestor/internal/logging"
	"nestor/internal/observability"
	"nestor/internal/permission"
	"nestor/internal/planner"
	"nestor/internal/policy"
	httpserver "nestor/internal/server/http"
	"nestor/internal/toolregistry"
	"nestor/internal/tools/builtin"
	"nestor/internal/workerpool"
)

func main() {
	logger := logging.NewComponentLogger("main")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Configuration error: %v", err)
		os.Exit(1)
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))

	if cfg.DevMode {
		logger.Warn("========================================")
		logger.Warn("DEV_MODE is enabled")
		if cfg.Confirm.Mode == "auto" {
			logger.Warn("Confirmations are AUTO-APPROVED: every confirmable action runs without a human")
		}
		logger.Warn("========================================")
	}

	fsPolicy, err := policy.LoadFSPolicy(cfg.Policy.FilesystemPath)
	if err != nil {
		logger.Error("Filesystem policy error: %v", err)
		os.Exit(1)
	}
	execPolicy, err := policy.LoadExecPolicy(cfg.Policy.ExecPath, logging.NewComponentLogger("policy"))
	if err != nil {
		logger.Error("Exec whitelist error: %v", err)
		os.Exit(1)
	}

	auditLog, err := audit.New(cfg.Audit.Dir, cfg.Audit.DigestBytes, logging.NewComponentLogger("audit"))
	if err != nil {
		logger.Error("Audit log error: %v", err)
		os.Exit(1)
	}
	defer auditLog.Close()

	metrics := observability.New()

	pool := workerpool.New(nil, cfg.Pool.PerWorkerConcurrency, logging.NewComponentLogger("pool"))
	pool.SetHealthTimeout(cfg.Pool.HealthTimeout)
	workers := map[string]string{
		"llm":        cfg.Workers.LLMURL,
		"executor":   cfg.Workers.ExecutorURL,
		"connectors": cfg.Workers.ConnectorsURL,
		"indexer":    cfg.Workers.IndexerURL,
		"learning":   cfg.Workers.LearningURL,
	}
	for name, address := range workers {
		if address == "" {
			continue
		}
		if err := pool.RegisterWorker(name, address); err != nil {
			logger.Error("Worker registration error: %v", err)
			os.Exit(1)
		}
	}

	registry := toolregistry.New(logging.NewComponentLogger("registry"))
	if err := builtin.RegisterAll(registry, builtin.Deps{
		FS:              fsPolicy,
		Exec:            execPolicy,
		Pool:            pool,
		Logger:          logging.NewComponentLogger("tools"),
		LearningEnabled: cfg.Learning,
	}); err != nil {
		logger.Error("Tool registration error: %v", err)
		os.Exit(1)
	}

	var prompt confirm.PromptFunc
	if cfg.Confirm.Mode == string(confirm.ModeInteractive) {
		prompt = confirm.TerminalPrompt(os.Stdin)
	}
	broker := confirm.NewBroker(confirm.Mode(cfg.Confirm.Mode), cfg.Confirm.Timeout, prompt, logging.NewComponentLogger("confirm"))

	gated := invoker.New(
		permission.NewEngine(fsPolicy, logging.NewComponentLogger("permission")),
		broker,
		registry,
		auditLog,
		metrics,
		logging.NewComponentLogger("invoker"),
	)

	engine := agent.New(
		planner.NewRemote(pool, cfg.Agent.PlannerTimeout, logging.NewComponentLogger("planner")),
		gated,
		registry,
		agent.Config{MaxSteps: cfg.Agent.MaxSteps, Deadline: cfg.Agent.Deadline},
		metrics,
		logging.NewComponentLogger("agent"),
	)

	store := contextstore.New(0, cfg.History.MaxExchanges, cfg.History.IdleTTL, logging.NewComponentLogger("context"))

	server := httpserver.New(httpserver.Deps{
		Dispatcher: dispatcher.New(engine, store, cfg.History.MaxExchanges, metrics, logging.NewComponentLogger("dispatcher")),
		Executor:   gated,
		Store:      store,
		Broker:     broker,
		Audit:      auditLog,
		Pool:       pool,
		Agent:      engine,
		Metrics:    metrics,
		Logger:     logging.NewComponentLogger("http"),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(":" + cfg.Port)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error: %v", err)
	}
	pool.CloseAll()
	logger.Info("Goodbye")
}
