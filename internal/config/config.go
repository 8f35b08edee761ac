package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	DatabaseURL    string
	WorkerCount    int
	UseMemoryQueue bool

	// Detection
	DictionaryPath    string
	DefaultLocale     string
	EnrichmentEnabled bool
	EnrichmentTimeout time.Duration
	BedrockModelID    string
	GeminiAPIKey      string
	GeminiModelID     string

	// Aggregation
	AggregationWindow time.Duration
	DedupeWindow      time.Duration

	// Escalation
	CrisisLineBaseURL  string
	CrisisLineAPIKey   string
	CrisisLineTimeout  time.Duration
	ConnectMaxAttempts int
	ConnectBackoffBase time.Duration
	LifelineNumber     string
	EmergencyNumber    string

	// Ledger / retention
	RetentionLow       time.Duration
	RetentionMedium    time.Duration
	RetentionHigh      time.Duration
	RetentionCritical  time.Duration
	PurgeInterval      time.Duration
	AuditArchiveBucket string

	// Notification
	NotifySMSBaseURL  string
	NotifySMSAPIKey   string
	NotifyFromNumber  string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESFromName       string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// AWS
	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretAccessKey   string
	AWSEndpointOverride  string
	NotificationQueueURL string
	EventSnapshotTable   string
	SnapshotKeyHex       string

	// HTTP
	AdminJWTSecret     string
	CORSAllowedOrigins []string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),

		DictionaryPath:    getEnv("CRISIS_DICTIONARY_PATH", ""),
		DefaultLocale:     getEnv("DEFAULT_LOCALE", "en"),
		EnrichmentEnabled: getEnvAsBool("ENRICHMENT_ENABLED", false),
		EnrichmentTimeout: getEnvAsDuration("ENRICHMENT_TIMEOUT", 700*time.Millisecond),
		BedrockModelID:    getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:     getEnv("GEMINI_MODEL_ID", ""),

		AggregationWindow: getEnvAsDuration("AGGREGATION_WINDOW", 6*time.Hour),
		DedupeWindow:      getEnvAsDuration("DEDUPE_WINDOW", 30*time.Second),

		CrisisLineBaseURL:  getEnv("CRISIS_LINE_BASE_URL", ""),
		CrisisLineAPIKey:   getEnv("CRISIS_LINE_API_KEY", ""),
		CrisisLineTimeout:  getEnvAsDuration("CRISIS_LINE_TIMEOUT", 5*time.Second),
		ConnectMaxAttempts: getEnvAsInt("CONNECT_MAX_ATTEMPTS", 2),
		ConnectBackoffBase: getEnvAsDuration("CONNECT_BACKOFF_BASE", 2*time.Second),
		LifelineNumber:     getEnv("LIFELINE_NUMBER", "988"),
		EmergencyNumber:    getEnv("EMERGENCY_NUMBER", "911"),

		RetentionLow:       getEnvAsDuration("RETENTION_LOW", 90*24*time.Hour),
		RetentionMedium:    getEnvAsDuration("RETENTION_MEDIUM", 90*24*time.Hour),
		RetentionHigh:      getEnvAsDuration("RETENTION_HIGH", 365*24*time.Hour),
		RetentionCritical:  getEnvAsDuration("RETENTION_CRITICAL", 7*365*24*time.Hour),
		PurgeInterval:      getEnvAsDuration("PURGE_INTERVAL", 24*time.Hour),
		AuditArchiveBucket: getEnv("AUDIT_ARCHIVE_BUCKET", ""),

		NotifySMSBaseURL:  getEnv("NOTIFY_SMS_BASE_URL", ""),
		NotifySMSAPIKey:   getEnv("NOTIFY_SMS_API_KEY", ""),
		NotifyFromNumber:  getEnv("NOTIFY_FROM_NUMBER", ""),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "HavenMind"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "HavenMind"),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:  getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		NotificationQueueURL: getEnv("NOTIFICATION_QUEUE_URL", ""),
		EventSnapshotTable:   getEnv("EVENT_SNAPSHOT_TABLE", "crisis_event_snapshots"),
		SnapshotKeyHex:       getEnv("SNAPSHOT_KEY_HEX", ""),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", nil),
		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 30),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsSlice(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
