package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/havenmind/crisis-engine/cmd/mainconfig"
	"github.com/havenmind/crisis-engine/internal/aggregation"
	"github.com/havenmind/crisis-engine/internal/api/router"
	appconfig "github.com/havenmind/crisis-engine/internal/config"
	"github.com/havenmind/crisis-engine/internal/crisis"
	"github.com/havenmind/crisis-engine/internal/detection"
	"github.com/havenmind/crisis-engine/internal/escalation"
	"github.com/havenmind/crisis-engine/internal/escalation/crisisline"
	"github.com/havenmind/crisis-engine/internal/events"
	"github.com/havenmind/crisis-engine/internal/http/handlers"
	"github.com/havenmind/crisis-engine/internal/ledger"
	"github.com/havenmind/crisis-engine/internal/observability/metrics"
	"github.com/havenmind/crisis-engine/internal/storage"
	"github.com/havenmind/crisis-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting crisis-engine API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres: pgx pool for the event/outbox stores, database/sql for the
	// audit ledger and consent records.
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pgx pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	sqlDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open sql db", "error", err)
		os.Exit(1)
	}
	defer func() { _ = sqlDB.Close() }()

	redisOpts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	detectionMetrics := metrics.NewDetectionMetrics(reg)
	escalationMetrics := metrics.NewEscalationMetrics(reg)
	ledgerMetrics := metrics.NewLedgerMetrics(reg)

	// Detection pipeline.
	dict, err := loadDictionary(cfg)
	if err != nil {
		logger.Error("failed to load crisis dictionary", "error", err)
		os.Exit(1)
	}
	classifier := detection.NewClassifier(cfg.LifelineNumber, cfg.EmergencyNumber)
	enricher := buildEnricher(ctx, cfg, awsCfg, logger)
	detector := detection.NewService(dict, classifier, enricher, detectionMetrics, logger)

	// Aggregation over the Redis sliding window.
	eventRepo := events.NewRepository(pool)
	windowStore := aggregation.NewRedisStore(redisClient, cfg.AggregationWindow)
	aggregator := aggregation.NewAggregator(windowStore, eventRepo, cfg.AggregationWindow, cfg.DedupeWindow, logger)

	// Audit ledger with the retrying front so audit outages never block
	// crisis responses.
	auditLedger := ledger.NewAuditLedger(sqlDB, ledgerMetrics)
	retryWriter := ledger.NewRetryWriter(auditLedger, logger, ledgerMetrics)
	go retryWriter.Run(ctx)

	sealedStore := buildSealedStore(cfg, awsCfg, logger)
	var contactStore *storage.ContactStore
	var snapshotStore *storage.SnapshotStore
	if sealedStore != nil {
		contactStore = storage.NewContactStore(sealedStore)
		snapshotStore = storage.NewSnapshotStore(sealedStore)
	}

	consentStore := ledger.NewConsentStore(sqlDB, auditLedger, retryWriter)
	if snapshotStore != nil {
		consentStore = consentStore.WithMirror(snapshotStore, logger)
	}

	purger := ledger.NewPurger(sqlDB, auditLedger, eventRepo, retentionThresholds(cfg), logger, ledgerMetrics)
	if cfg.AuditArchiveBucket != "" {
		purger = purger.WithArchive(s3.NewFromConfig(awsCfg), cfg.AuditArchiveBucket)
	}

	// Notification jobs go through the outbox; the escalation worker drains
	// it onto the queue.
	outbox := events.NewOutboxStore(pool)
	queue := buildQueue(cfg, awsCfg)
	publisher := events.NewPublisher(outbox, queue, logger)

	connector := buildConnector(cfg, logger)
	orchestrator := escalation.NewOrchestrator(consentStore, retryWriter, connector, publisher, logger, escalationMetrics).
		WithEventResolver(eventRepo).
		WithConnectPolicy(cfg.ConnectMaxAttempts, cfg.ConnectBackoffBase).
		WithContacts(cfg.LifelineNumber, cfg.EmergencyNumber)

	service := crisis.NewService(detector, aggregator, orchestrator, logger)
	if snapshotStore != nil {
		service = service.WithSnapshots(snapshotStore)
	}

	consentHandler := handlers.NewConsentHandler(consentStore, nil, logger)
	if contactStore != nil {
		consentHandler = handlers.NewConsentHandler(consentStore, contactStore, logger)
	}

	routerCfg := &router.Config{
		Logger:             logger,
		CrisisHandler:      handlers.NewCrisisHandler(service, logger),
		ConsentHandler:     consentHandler,
		StreamHandler:      handlers.NewStreamHandler(service, cfg.CORSAllowedOrigins, logger),
		AdminHandler:       handlers.NewAdminHandler(eventRepo, auditLedger, purger, logger),
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.New(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func loadDictionary(cfg *appconfig.Config) (*detection.Dictionary, error) {
	if cfg.DictionaryPath != "" {
		return detection.LoadDictionaryFile(cfg.DictionaryPath)
	}
	return detection.LoadDefaultDictionary()
}

// buildEnricher assembles the optional LLM assessment chain: Bedrock primary,
// Gemini fallback, either alone when only one is configured.
func buildEnricher(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) *detection.Enricher {
	if !cfg.EnrichmentEnabled {
		return nil
	}
	var primary, fallback detection.LLMClient
	if cfg.BedrockModelID != "" {
		primary = detection.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg))
	}
	if cfg.GeminiAPIKey != "" {
		gemini, err := detection.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Error("failed to build gemini client", "error", err)
		} else {
			fallback = gemini
		}
	}

	var client detection.LLMClient
	switch {
	case primary != nil && fallback != nil:
		client = detection.NewFallbackLLMClient(primary, fallback, logger)
	case primary != nil:
		client = primary
	case fallback != nil:
		client = fallback
	default:
		logger.Warn("enrichment enabled but no LLM backend configured")
		return nil
	}
	return detection.NewEnricher(client, cfg.BedrockModelID, cfg.EnrichmentTimeout, logger)
}

func buildQueue(cfg *appconfig.Config, awsCfg aws.Config) events.QueueClient {
	if cfg.UseMemoryQueue || cfg.NotificationQueueURL == "" {
		return events.NewMemoryQueue(256)
	}
	return events.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.NotificationQueueURL)
}

func buildConnector(cfg *appconfig.Config, logger *logging.Logger) escalation.Connector {
	if cfg.CrisisLineBaseURL == "" {
		logger.Warn("crisis line not configured, direct-dial fallback only")
		return nil
	}
	client, err := crisisline.New(crisisline.Config{
		BaseURL: cfg.CrisisLineBaseURL,
		APIKey:  cfg.CrisisLineAPIKey,
		Timeout: cfg.CrisisLineTimeout,
	})
	if err != nil {
		logger.Error("failed to build crisis line client", "error", err)
		return nil
	}
	return client
}

func retentionThresholds(cfg *appconfig.Config) ledger.Thresholds {
	return ledger.Thresholds{
		detection.SeverityNone:     cfg.RetentionLow,
		detection.SeverityLow:      cfg.RetentionLow,
		detection.SeverityMedium:   cfg.RetentionMedium,
		detection.SeverityHigh:     cfg.RetentionHigh,
		detection.SeverityCritical: cfg.RetentionCritical,
	}
}

// buildSealedStore opens the encrypted DynamoDB KV. Without a key the
// contact/snapshot surfaces are disabled rather than storing plaintext.
func buildSealedStore(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) *storage.SealedStore {
	if cfg.SnapshotKeyHex == "" {
		logger.Warn("no encryption key configured, contact and snapshot storage disabled")
		return nil
	}
	cipher, err := storage.NewCipher(cfg.SnapshotKeyHex)
	if err != nil {
		logger.Error("invalid encryption key", "error", err)
		return nil
	}
	return storage.NewSealedStore(dynamodb.NewFromConfig(awsCfg), cipher, cfg.EventSnapshotTable, logger)
}
