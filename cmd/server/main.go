package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/execution-hub/content-approval/internal/api/http"
	"github.com/execution-hub/content-approval/internal/application/approval"
	"github.com/execution-hub/content-approval/internal/application/auth"
	"github.com/execution-hub/content-approval/internal/application/autoapproval"
	"github.com/execution-hub/content-approval/internal/application/checks"
	"github.com/execution-hub/content-approval/internal/application/escalation"
	appNotification "github.com/execution-hub/content-approval/internal/application/notification"
	"github.com/execution-hub/content-approval/internal/application/workflow"
	"github.com/execution-hub/content-approval/internal/config"
	domainApproval "github.com/execution-hub/content-approval/internal/domain/approval"
	"github.com/execution-hub/content-approval/internal/domain/notification"
	domainWorkflow "github.com/execution-hub/content-approval/internal/domain/workflow"
	"github.com/execution-hub/content-approval/internal/infrastructure/directory"
	"github.com/execution-hub/content-approval/internal/infrastructure/memory"
	"github.com/execution-hub/content-approval/internal/infrastructure/metrics"
	"github.com/execution-hub/content-approval/internal/infrastructure/postgres"
	"github.com/execution-hub/content-approval/internal/infrastructure/scorer"
	"github.com/execution-hub/content-approval/internal/infrastructure/sinks"
	"github.com/execution-hub/content-approval/internal/infrastructure/sse"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// repositories
	var (
		workflowRepo domainWorkflow.Repository
		requestRepo  domainApproval.Repository
	)
	switch cfg.Storage {
	case config.StorageMemory:
		logger.Warn().Msg("using in-memory storage; state is lost on restart")
		workflowRepo = memory.NewWorkflowRepository()
		requestRepo = memory.NewRequestRepository()
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("db error")
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
			logger.Fatal().Err(err).Msg("migration error")
		}
		workflowRepo = postgres.NewWorkflowRepository(pool)
		requestRepo = postgres.NewRequestRepository(pool)
	}

	// infrastructure
	m := metrics.New()
	identities, err := directory.LoadFile(cfg.IdentityFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("identity directory error")
	}
	sseHub := sse.NewHub(cfg.SSEHeartbeat, logger)
	deliverySinks := []notification.Sink{sseHub, sinks.NewLogSink(logger)}
	if cfg.RedisAddr != "" {
		client := sinks.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, 0)
		defer client.Close()
		deliverySinks = append(deliverySinks, sinks.NewRedisSink(client, cfg.RedisChannel))
	}
	channels := make([]notification.Channel, 0, len(cfg.NotifyChannels))
	for _, c := range cfg.NotifyChannels {
		channels = append(channels, notification.Channel(c))
	}
	dispatcher := appNotification.NewDispatcher(deliverySinks, identities, appNotification.Config{
		Workers:         cfg.NotifyWorkers,
		DefaultChannels: channels,
	}, m, logger)
	dispatcher.Start(ctx)

	checkCfg := checks.DefaultConfig()
	checkCfg.MaxRetries = cfg.PolicyMaxRetries
	checkCfg.InitialInterval = cfg.PolicyRetryInitial
	checkCfg.CallTimeout = cfg.PolicyTimeout
	if cfg.PolicyScorerURL == "" {
		logger.Warn().Msg("POLICY_SCORER_URL not set; steps with required checks escalate to human review")
	}
	runner := checks.NewRunner(scorer.NewHTTPScorer(cfg.PolicyScorerURL, cfg.PolicyTimeout), checkCfg, m, logger)

	// services
	workflowSvc := workflow.NewService(workflowRepo, logger)
	if cfg.WorkflowsFile != "" {
		n, err := workflowSvc.SeedFromFile(ctx, cfg.WorkflowsFile)
		if err != nil {
			logger.Fatal().Err(err).Str("file", cfg.WorkflowsFile).Msg("workflow seed error")
		}
		logger.Info().Int("created", n).Msg("workflows seeded")
	}
	approvalSvc := approval.NewService(
		requestRepo,
		workflowSvc,
		runner,
		autoapproval.NewEvaluator(logger),
		identities,
		dispatcher,
		m,
		approval.Config{AsyncChecks: cfg.AsyncChecks, SigningKey: cfg.AuditSigningKey},
		logger,
	)
	if len(cfg.AuditSigningKey) == 0 {
		logger.Warn().Msg("AUDIT_SIGNING_KEY not set; decision records are not signed")
	}
	authSvc := auth.NewService(cfg.APIKeys, logger)
	if !authSvc.Enabled() {
		logger.Warn().Msg("API_KEYS not set; trusting X-Actor header")
	}

	// background loops
	scheduler := escalation.NewScheduler(requestRepo, approvalSvc, escalation.Config{
		Interval: cfg.TimeoutSweepInterval,
		Limit:    cfg.TimeoutSweepLimit,
	}, logger)
	go scheduler.Run(ctx)
	go sseHub.Start(ctx)

	// API server
	apiServer := httpapi.NewServer(workflowSvc, approvalSvc, authSvc, sseHub, m.Handler(), logger)
	httpServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler(), ReadTimeout: 5 * time.Second}
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server started")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Str("storage", cfg.Storage).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	logger.Info().Msg("shutting down")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(ctxShutdown)
	}
	approvalSvc.Wait()
	dispatcher.Wait()
}
