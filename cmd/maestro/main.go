// Package main is the CLI entry point for the maestro execution core.
//
// Start the server:
//
//	maestro serve --config maestro.yaml
//
// Configuration comes from the YAML file overlaid with environment
// variables (LLM_PROXY_URL, INTERNAL_API_KEY, LLM_MODEL, ...).
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/maestro-agents/maestro/internal/agents"
	"github.com/maestro-agents/maestro/internal/audit"
	"github.com/maestro-agents/maestro/internal/backoff"
	"github.com/maestro-agents/maestro/internal/classifier"
	"github.com/maestro-agents/maestro/internal/config"
	"github.com/maestro-agents/maestro/internal/conversation"
	"github.com/maestro-agents/maestro/internal/coordinator"
	"github.com/maestro-agents/maestro/internal/core"
	"github.com/maestro-agents/maestro/internal/dialogue"
	"github.com/maestro-agents/maestro/internal/events"
	"github.com/maestro-agents/maestro/internal/hitl"
	"github.com/maestro-agents/maestro/internal/infra"
	"github.com/maestro-agents/maestro/internal/llm"
	"github.com/maestro-agents/maestro/internal/observability"
	"github.com/maestro-agents/maestro/internal/plan"
	"github.com/maestro-agents/maestro/internal/server"
	"github.com/maestro-agents/maestro/internal/sessions"
	"github.com/maestro-agents/maestro/internal/tools"
)

// Build metadata, set via ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// approvalSweepSchedule is the cron schedule for the approval expiry sweep.
const approvalSweepSchedule = "@every 5m"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "maestro",
		Short:         "Multi-agent programming assistant execution core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd(), buildVersionCmd())
	return root
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "maestro %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the execution core server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", os.Getenv("MAESTRO_CONFIG"), "Path to the YAML configuration file")
	return cmd
}

// stores bundles the persistence layer behind its interfaces.
type stores struct {
	conversations conversation.Store
	agentStates   agents.Store
	approvals     hitl.Store
	plans         plan.Store
	db            *sql.DB
}

func (s *stores) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

// openStores selects sqlite-backed stores when a database path is
// configured and in-memory stores otherwise.
func openStores(cfg *config.Config) (*stores, error) {
	if cfg.Database.Path == "" {
		return &stores{
			conversations: conversation.NewMemoryStore(),
			agentStates:   agents.NewMemoryStore(),
			approvals:     hitl.NewMemoryStore(),
			plans:         plan.NewMemoryStore(),
		}, nil
	}

	db, err := sql.Open("sqlite3", cfg.Database.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite tolerates one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	convStore, err := conversation.NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("conversation store: %w", err)
	}
	agentStore, err := agents.NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("agent state store: %w", err)
	}
	approvalStore, err := hitl.NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("approval store: %w", err)
	}
	planStore, err := plan.NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("plan store: %w", err)
	}

	return &stores{
		conversations: convStore,
		agentStates:   agentStore,
		approvals:     approvalStore,
		plans:         planStore,
		db:            db,
	}, nil
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	bus := events.NewBus(logger)

	auditFormat := audit.FormatJSON
	if cfg.Logging.Format == "text" {
		auditFormat = audit.FormatText
	}
	auditWriter := audit.NewWriter(audit.Config{Enabled: true, Format: auditFormat})
	bus.SubscribeAll("audit", auditWriter.Handle)
	defer auditWriter.Close()

	metrics := observability.NewMetrics(nil)
	bus.SubscribeAll("metrics", observability.NewCollector(metrics).Handle)

	policy := hitl.DefaultPolicy()
	policy.Enabled = cfg.HITL.Enabled
	approvals := hitl.NewManager(st.approvals, policy, bus, cfg.HITL.ApprovalTimeout, logger)

	sweeper, err := hitl.NewSweeper(approvals, approvalSweepSchedule, logger)
	if err != nil {
		return fmt.Errorf("approval sweeper: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	locks := sessions.NewLockManager(cfg.LLM.Timeout)
	defer locks.Close()

	toolRegistry, err := tools.NewRegistry(logger)
	if err != nil {
		return fmt.Errorf("tool registry: %w", err)
	}
	agentRegistry := agents.NewRegistry()

	client := llm.NewResilientClient(
		llm.NewProxyClient(cfg.LLM.ProxyURL, cfg.LLM.InternalAPIKey, cfg.LLM.Timeout, logger),
		infra.NewCircuitBreaker(infra.CircuitBreakerConfig{
			Name:             "llm-proxy",
			FailureThreshold: cfg.LLM.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:  cfg.LLM.CircuitBreaker.RecoveryTimeout,
		}),
		backoff.Policy{
			BaseDelay: cfg.LLM.Retry.BaseDelay,
			MaxDelay:  cfg.LLM.Retry.MaxDelay,
			Factor:    2,
		},
		cfg.LLM.Retry.MaxAttempts,
		logger,
	)
	processor := llm.NewProcessor(approvals, logger)

	engine := dialogue.NewEngine(st.conversations, agentRegistry, toolRegistry,
		client, processor, approvals, bus, logger)
	coord := coordinator.New(st.plans, st.conversations, engine, bus, cfg.LLM.Model, logger)

	uc := core.New(core.Deps{
		Locks:         locks,
		Conversations: st.conversations,
		AgentStates:   st.agentStates,
		Capabilities:  agentRegistry,
		Classifier:    classifier.New(client, cfg.LLM.Model, logger),
		Dialogue:      engine,
		Planner:       plan.NewPlanner(logger),
		Plans:         st.plans,
		Runner:        coord,
		Approvals:     approvals,
		Bus:           bus,
		Model:         cfg.LLM.Model,
		MaxMessages:   cfg.Conversation.MaxMessages,
		MaxSwitches:   cfg.Conversation.MaxSwitches,
		Logger:        logger,
	})

	srv := server.New(uc, version, logger)
	if err := srv.Start(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)); err != nil {
		return err
	}

	metricsServer := startMetricsServer(cfg, logger)

	logger.Info("maestro started",
		"version", version,
		"model", cfg.LLM.Model,
		"database", cfg.Database.Path,
		"hitl_enabled", cfg.HITL.Enabled)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown failed", "error", err)
		}
	}
	return nil
}

func startMetricsServer(cfg *config.Config, logger *slog.Logger) *http.Server {
	if cfg.Server.MetricsPort == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", srv.Addr)
	return srv
}
