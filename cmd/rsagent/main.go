// RSAgent server — fronts the analysis chat API, the progress WebSocket
// channel, and the RSHub simulation workflows.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zju-rshub/rsagent/pkg/agent"
	"github.com/zju-rshub/rsagent/pkg/agent/workflow"
	"github.com/zju-rshub/rsagent/pkg/api"
	"github.com/zju-rshub/rsagent/pkg/auth"
	"github.com/zju-rshub/rsagent/pkg/billing"
	"github.com/zju-rshub/rsagent/pkg/config"
	"github.com/zju-rshub/rsagent/pkg/llm"
	"github.com/zju-rshub/rsagent/pkg/progress"
	"github.com/zju-rshub/rsagent/pkg/rag"
	"github.com/zju-rshub/rsagent/pkg/rshub"
	"github.com/zju-rshub/rsagent/pkg/session"
	"github.com/zju-rshub/rsagent/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	ctx := context.Background()

	// 1. Initialize configuration (settings + scenario registry)
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	settings := cfg.Settings
	production := settings.Production()

	slog.Info("Starting RSAgent",
		"version", version.Full(),
		"mode", settings.Mode,
		"config_dir", *configDir)

	// 2. Progress channel: hub, WebSocket manager, heartbeat loop
	hub := progress.NewHub(settings.HeartbeatInterval)
	manager := progress.NewManager(hub, 10*time.Second)
	hub.SetBroadcaster(manager)
	hub.StartHeartbeat(ctx)
	defer hub.StopHeartbeat()

	// 3. LLM client
	llmClient := llm.NewHTTPClient(settings.LLM)
	slog.Info("LLM client initialized",
		"base_url", settings.LLM.BaseURL, "model", settings.LLM.Model)

	// 4. Billing: usage tracker, credit client (production only), settler
	tracker := billing.NewTracker(settings.LLMCostFactor, settings.RSHubTaskCostFactor)
	var credits billing.CreditAPI
	if production {
		credits = billing.NewCreditClient(settings.UserAPIBase, settings.CreditTimeout)
		slog.Info("Credit client initialized", "base_url", settings.UserAPIBase)
	}
	settler := billing.NewSettler(tracker, credits, production)

	// 5. Token resolver
	resolver := auth.NewResolver(production, settings.RSHubToken)

	// 6. Session store: optional local JSON cache + remote HTTP backend
	var localCache *session.LocalCache
	if settings.EnableLocalSessionCache {
		localCache, err = session.NewLocalCache(settings.SessionCacheDir)
		if err != nil {
			slog.Error("Failed to initialize local session cache",
				"dir", settings.SessionCacheDir, "error", err)
			os.Exit(1)
		}
		slog.Info("Local session cache enabled", "dir", settings.SessionCacheDir)
	}
	remote := session.NewRemoteClient(settings.UserAPIBase, settings.CreditTimeout)
	store := session.NewStore(localCache, remote, production)

	// 7. Task handlers: knowledge pipeline and RSHub workflows
	retriever := rag.NewHTTPRetriever(settings.RAGAPIBase, settings.LLM.Timeout)
	knowledge := agent.NewKnowledgeAnswerer(retriever, hub)

	rshubClient := rshub.NewHTTPClient(settings.RSHubAPIBase, settings.LLM.Timeout)
	submitter := workflow.NewSubmitter(rshubClient, cfg.Scenarios, tracker, hub)
	fetcher := workflow.NewFetcher(rshubClient, cfg.Scenarios, hub,
		settings.PollInterval, settings.PollTimeout)

	registry := agent.NewRegistry()
	registry.Register(agent.NewAnalysisHandler(knowledge, submitter, fetcher, hub))
	slog.Info("Task handlers registered", "handlers", registry.Names())

	// 8. Turn orchestrator
	orchestrator := agent.NewOrchestrator(
		llmClient, resolver, registry, settler, credits, store, hub, production)

	// 9. HTTP server
	server := api.NewServer(orchestrator, hub, manager, store, resolver, settings)
	addr := settings.Host + ":" + settings.Port
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("RSAgent started successfully", "mode", settings.Mode)

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
