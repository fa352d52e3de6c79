package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"

	"agent-orchestrator/backend/internal/api"
	"agent-orchestrator/backend/internal/config"
	"agent-orchestrator/backend/internal/engine"
	"agent-orchestrator/backend/internal/events"
	"agent-orchestrator/backend/internal/logging"
	"agent-orchestrator/backend/internal/mcp"
	"agent-orchestrator/backend/internal/repository"
	"agent-orchestrator/backend/internal/resilience"
	"agent-orchestrator/backend/internal/services"
	"agent-orchestrator/backend/internal/tls"
)

const serviceName = "agent-orchestrator"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, MCP server and workflow engine",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

// stores is the persistence and event wiring chosen by store.driver.
type stores struct {
	workflows  repository.WorkflowStore
	executions repository.ExecutionStore
	publishers events.Multi
	db         *pgxpool.Pool
}

func openStores(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*stores, error) {
	if cfg.Store.Driver == "memory" {
		logger.Warn("Using in-memory stores; executions will not survive a restart")
		return &stores{
			workflows:  repository.NewMemoryWorkflowStore(),
			executions: repository.NewMemoryExecutionStore(),
		}, nil
	}

	db, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Database connected")

	s := &stores{
		workflows:  repository.NewPostgresWorkflowStore(db),
		executions: repository.NewPostgresExecutionStore(db),
		db:         db,
	}
	if cfg.Events.NotifyChannel != "" {
		s.publishers = append(s.publishers, events.NewPostgresPublisher(db, cfg.Events.NotifyChannel, logger))
	}
	return s, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Starting Agent Orchestrator", "store", cfg.Store.Driver, "workers", cfg.Engine.Workers)

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("store initialization failed: %w", err)
	}
	if st.db != nil {
		defer st.db.Close()
	}

	broker := events.NewBroker(logger)
	publisher := append(st.publishers, broker)
	if cfg.Events.Log {
		publisher = append(publisher, events.NewLogPublisher(logger))
	}

	metrics, err := engine.NewMetrics(otel.Meter(serviceName))
	if err != nil {
		return fmt.Errorf("metrics initialization failed: %w", err)
	}

	// Engine layer
	agents := resilience.NewGuardedInvoker(
		services.NewHTTPAgentClient(cfg.Agent.BaseURL, cfg.Agent.Timeout),
		resilience.FromConfig("agent", cfg.Resilience.Agent, logger),
	)
	conditions := resilience.NewGuardedEvaluator(
		services.NewExprConditionEvaluator(),
		resilience.FromConfig("condition", cfg.Resilience.Condition, logger),
	)
	retry := engine.RetryPolicy{Multiplier: cfg.Engine.RetryMultiplier, MaxDelay: cfg.Engine.RetryMaxDelay}
	if err := retry.Validate(); err != nil {
		return err
	}
	executions := repository.NewRetryingExecutionStore(st.executions, cfg.Engine.StoreRetryMaxElapsed, logger)
	eng := engine.New(st.workflows, executions, engine.NewDispatcher(agents, conditions, cfg.Engine.StepTimeout), publisher, engine.Options{
		Retry:   retry,
		Metrics: metrics,
		Logger:  logger,
	})
	pool := engine.NewPool(cfg.Engine.Workers, cfg.Engine.QueueDepth, logger)

	// Service layer
	workflowService := services.NewWorkflowService(st.workflows, publisher, logger)
	executionService := services.NewExecutionService(st.workflows, executions, eng, pool, metrics, logger)
	logger.Info("Service layer initialized")

	if cfg.Engine.RecoverOnStart {
		if _, err := executionService.Recover(ctx); err != nil {
			logger.Error("Failed to recover executions", "error", err)
		}
	}

	e := newEcho(logger, workflowService, executionService, broker)

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	useTLS := cfg.Server.TLSCertFile != "" && cfg.Server.TLSKeyFile != ""
	if useTLS {
		generated, err := tls.EnsureCertificate(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile, cfg.Server.TLSHostnames)
		if err != nil {
			return fmt.Errorf("tls setup failed: %w", err)
		}
		if generated {
			logger.Warn("Generated self-signed certificate", "cert", cfg.Server.TLSCertFile, "hosts", cfg.Server.TLSHostnames)
		}
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", useTLS)
		if useTLS {
			serverErrors <- server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
			return
		}
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		if err := server.Close(); err != nil {
			logger.Error("Server close error", "error", err)
		}
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Worker pool did not drain; interrupted executions resume on next start", "error", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}

func newEcho(logger *logging.Logger, workflows *services.WorkflowService, executions *services.ExecutionService, broker *events.Broker) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID)
			return nil
		},
	}))

	e.GET("/health", api.HandleHealth)

	// Mount REST API handlers
	apiGroup := e.Group("/api/v1")
	api.NewServer(workflows, executions, broker, logger).RegisterHandlers(apiGroup)
	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(executions, workflows)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp", echo.WrapHandler(mcpHandlers))
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))
	logger.Info("MCP protocol handlers mounted")

	return e
}
