package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/client"
	"github.com/pesio-ai/be-hr-workflows/internal/config"
	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/handler"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/middleware"
	"github.com/pesio-ai/be-hr-workflows/internal/natsclient"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
	"github.com/pesio-ai/be-hr-workflows/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Workflows Service (HR-4)")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize NATS for notifications (optional; the engine runs without it)
	var nats *natsclient.Client
	if cfg.NATS.Enabled {
		nats, err = natsclient.New(cfg.NATS.URL, cfg.Service.Name)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable; notifications disabled")
		} else {
			defer nats.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}

	// Initialize repositories
	workflowRepo := repository.NewWorkflowRepository(db)
	requestRepo := repository.NewApprovalRequestRepository(db)
	chainRepo := repository.NewChainConfigRepository(db)
	deadlineRepo := repository.NewDeadlineRepository(db)

	// Initialize external clients
	directory := client.NewDirectoryClient(cfg.Directory.BaseURL)
	notifier := client.NewNotificationPublisher(nats, log.Logger)

	// Entity status updaters: each approval type maps to the endpoint of the
	// module owning that entity kind.
	hrBase := getEnv("HR_CORE_URL", "http://localhost:8091")
	updaters := service.EntityStatusRegistry{
		repository.ApprovalTypeLeave:     client.NewEntityStatusClient(hrBase, "/api/v1/leave-requests/status"),
		repository.ApprovalTypeExpense:   client.NewEntityStatusClient(hrBase, "/api/v1/expense-claims/status"),
		repository.ApprovalTypeOvertime:  client.NewEntityStatusClient(hrBase, "/api/v1/overtime-requests/status"),
		repository.ApprovalTypeTransfer:  client.NewEntityStatusClient(hrBase, "/api/v1/transfers/status"),
		repository.ApprovalTypeTimesheet: client.NewEntityStatusClient(hrBase, "/api/v1/timesheets/status"),
		repository.ApprovalTypeTraining:  client.NewEntityStatusClient(hrBase, "/api/v1/training-enrollments/status"),
	}

	// Initialize services
	clock := service.SystemClock()
	stateManager := service.NewWorkflowStateManager(workflowRepo, clock, log)
	resolver := service.NewChainResolver(chainRepo, directory, log)
	monitor := service.NewDeadlineMonitor(deadlineRepo, directory, notifier, clock, log)
	coordinator := service.NewApprovalCoordinator(
		resolver, stateManager, requestRepo, monitor,
		directory, notifier, updaters, clock,
		service.CoordinatorConfig{
			ApprovalDueDays:  cfg.Workflow.ApprovalDueDays,
			WarningLeadHours: cfg.Workflow.WarningLeadHours,
		},
		log,
	)

	// Start the deadline scan scheduler
	if cfg.Workflow.DeadlineScanEnable {
		scheduler, err := service.NewScanScheduler(monitor, cfg.Workflow.DeadlineScanSpec, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create scan scheduler")
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(coordinator, stateManager, monitor, chainRepo, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Approval routes
	mux.HandleFunc("/api/v1/approvals/submit", requirePost(httpHandler.SubmitForApproval))
	mux.HandleFunc("/api/v1/approvals/decide", requirePost(httpHandler.ProcessDecision))
	mux.HandleFunc("/api/v1/approvals/withdraw", requirePost(httpHandler.Withdraw))
	mux.HandleFunc("/api/v1/approvals/escalate", requirePost(httpHandler.Escalate))
	mux.HandleFunc("/api/v1/approvals/bulk-approve", requirePost(httpHandler.BulkApprove))
	mux.HandleFunc("/api/v1/approvals/get", httpHandler.GetApprovalRequest)
	mux.HandleFunc("/api/v1/approvals/pending", httpHandler.GetPendingApprovals)
	mux.HandleFunc("/api/v1/approvals/pending/count", httpHandler.CountPendingApprovals)
	mux.HandleFunc("/api/v1/approvals/by-requestor", httpHandler.GetApprovalsByRequestor)

	// Workflow routes
	mux.HandleFunc("/api/v1/workflows/get", httpHandler.GetWorkflow)
	mux.HandleFunc("/api/v1/workflows/active", httpHandler.GetActiveWorkflows)

	// Deadline routes
	mux.HandleFunc("/api/v1/deadlines/register", requirePost(httpHandler.RegisterDeadline))
	mux.HandleFunc("/api/v1/deadlines/update", requirePost(httpHandler.UpdateDeadline))
	mux.HandleFunc("/api/v1/deadlines/complete", requirePost(httpHandler.CompleteDeadline))
	mux.HandleFunc("/api/v1/deadlines/escalate", requirePost(httpHandler.EscalateDeadline))

	// Chain config admin routes
	mux.HandleFunc("/api/v1/approval-chains", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListChainConfigs(w, r)
		case http.MethodPost:
			httpHandler.CreateChainConfig(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/approval-chains/update", requirePost(httpHandler.UpdateChainConfig))
	mux.HandleFunc("/api/v1/approval-chains/delete", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		httpHandler.DeleteChainConfig(w, r)
	})

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

func requirePost(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
