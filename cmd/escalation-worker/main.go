// The escalation worker drains the notification outbox onto the queue,
// delivers queued notification jobs to emergency contacts, keeps the audit
// retry writer running, and applies the retention policy on its interval.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/havenmind/crisis-engine/cmd/mainconfig"
	appconfig "github.com/havenmind/crisis-engine/internal/config"
	"github.com/havenmind/crisis-engine/internal/detection"
	"github.com/havenmind/crisis-engine/internal/events"
	"github.com/havenmind/crisis-engine/internal/ledger"
	"github.com/havenmind/crisis-engine/internal/notify"
	"github.com/havenmind/crisis-engine/internal/observability/metrics"
	"github.com/havenmind/crisis-engine/internal/storage"
	"github.com/havenmind/crisis-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting crisis-engine escalation worker",
		"env", cfg.Env,
		"workers", cfg.WorkerCount,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	ledgerMetrics := metrics.NewLedgerMetrics(reg)

	auditLedger := ledger.NewAuditLedger(sqlDB, ledgerMetrics)
	retryWriter := ledger.NewRetryWriter(auditLedger, logger, ledgerMetrics)
	consentStore := ledger.NewConsentStore(sqlDB, auditLedger, retryWriter)

	eventRepo := events.NewRepository(pool)
	purger := ledger.NewPurger(sqlDB, auditLedger, eventRepo, retentionThresholds(cfg), logger, ledgerMetrics).
		WithInterval(cfg.PurgeInterval)
	if cfg.AuditArchiveBucket != "" {
		purger = purger.WithArchive(s3.NewFromConfig(awsCfg), cfg.AuditArchiveBucket)
	}

	var queue events.QueueClient
	if cfg.UseMemoryQueue || cfg.NotificationQueueURL == "" {
		queue = events.NewMemoryQueue(256)
	} else {
		queue = events.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.NotificationQueueURL)
	}
	deliverer := events.NewDeliverer(events.NewOutboxStore(pool), queue, logger)

	directory := buildContactDirectory(cfg, awsCfg, logger)
	if directory == nil {
		logger.Error("contact storage is required for the worker (set SNAPSHOT_KEY_HEX)")
		os.Exit(1)
	}
	notifier := notify.NewService(directory, consentStore,
		buildSMSSender(cfg, logger), buildEmailSender(cfg, awsCfg, logger), retryWriter, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		retryWriter.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		deliverer.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		purger.Run(ctx)
	}()

	workerLogger := logger.Component("worker")
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			consume(ctx, queue, notifier, workerLogger)
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down worker...")
	wg.Wait()
	logger.Info("worker stopped")
}

// consume polls the queue and hands each job to the notification service.
// Failed jobs are left on the queue for redelivery.
func consume(ctx context.Context, queue events.QueueClient, notifier *notify.Service, logger *logging.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		messages, err := queue.Receive(ctx, 10, 20)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("queue receive failed", "error", err)
			continue
		}
		for _, msg := range messages {
			var job events.NotificationJob
			if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
				logger.Error("dropping malformed job", "error", err, "message_id", msg.ID)
				_ = queue.Delete(ctx, msg.ReceiptHandle)
				continue
			}
			if err := notifier.Handle(ctx, job); err != nil {
				logger.Error("job delivery failed, leaving for redelivery",
					"error", err, "job_id", job.ID, "type", job.Type)
				continue
			}
			if err := queue.Delete(ctx, msg.ReceiptHandle); err != nil {
				logger.Error("queue delete failed", "error", err, "message_id", msg.ID)
			}
		}
	}
}

func buildContactDirectory(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) *storage.ContactStore {
	if cfg.SnapshotKeyHex == "" {
		return nil
	}
	cipher, err := storage.NewCipher(cfg.SnapshotKeyHex)
	if err != nil {
		logger.Error("invalid encryption key", "error", err)
		return nil
	}
	sealed := storage.NewSealedStore(dynamodb.NewFromConfig(awsCfg), cipher, cfg.EventSnapshotTable, logger)
	return storage.NewContactStore(sealed)
}

func buildSMSSender(cfg *appconfig.Config, logger *logging.Logger) notify.SMSSender {
	if cfg.NotifySMSBaseURL == "" {
		logger.Warn("no SMS gateway configured")
		return nil
	}
	sender, err := notify.NewHTTPSMSSender(notify.SMSConfig{
		BaseURL:    cfg.NotifySMSBaseURL,
		APIKey:     cfg.NotifySMSAPIKey,
		FromNumber: cfg.NotifyFromNumber,
	}, logger)
	if err != nil {
		logger.Error("failed to build SMS sender", "error", err)
		return nil
	}
	return sender
}

// buildEmailSender wires SES as the primary transport with SendGrid failover.
func buildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	var primary, fallback notify.EmailSender
	if cfg.SESFromEmail != "" {
		if ses := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger); ses != nil {
			primary = ses
		}
	}
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		fallback = sg
	}
	if primary == nil && fallback == nil {
		logger.Warn("no email sender configured")
		return nil
	}
	return notify.NewFailoverSender(primary, fallback, logger)
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
