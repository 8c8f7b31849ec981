package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	SMSProvider              string
	TwilioAccountSID         string
	TwilioAuthToken          string
	TwilioWebhookSecret      string
	TwilioFromNumber         string
	TelnyxAPIKey             string
	TelnyxMessagingProfileID string
	TenantNumberMapJSON      string
	SendTimeout              time.Duration

	// Slot calendar and conversation tuning
	SlotGranularity   time.Duration
	SlotMinLeadTime   time.Duration
	SlotHorizonDays   int
	SlotPageSize      int
	StickyWindow      time.Duration
	DedupeTTL         time.Duration
	DurableDedupe     bool
	FollowUpAPIToken  string
	FollowUpRateLimit int
	AdminJWTSecret    string

	// Optional SQS outbound queue
	OutboundQueueURL    string
	OutboundWorkerCount int
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Staff notifications
	NotifyEmailProvider string
	SendGridAPIKey      string
	SendGridFromEmail   string
	SendGridFromName    string
	SESFromEmail        string
	SESFromName         string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real env vars win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		SMSProvider:              strings.ToLower(strings.TrimSpace(getEnv("SMS_PROVIDER", "auto"))),
		TwilioAccountSID:         getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:          getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioWebhookSecret:      getEnv("TWILIO_WEBHOOK_SECRET", ""),
		TwilioFromNumber:         getEnv("TWILIO_FROM_NUMBER", ""),
		TelnyxAPIKey:             getEnv("TELNYX_API_KEY", ""),
		TelnyxMessagingProfileID: getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),
		TenantNumberMapJSON:      getEnv("TENANT_NUMBER_MAP_JSON", ""),
		SendTimeout:              getEnvAsDuration("SEND_TIMEOUT", 15*time.Second),

		SlotGranularity:   getEnvAsDuration("SLOT_GRANULARITY", 30*time.Minute),
		SlotMinLeadTime:   getEnvAsDuration("SLOT_MIN_LEAD_TIME", time.Hour),
		SlotHorizonDays:   getEnvAsInt("SLOT_HORIZON_DAYS", 14),
		SlotPageSize:      getEnvAsInt("SLOT_PAGE_SIZE", 3),
		StickyWindow:      getEnvAsDuration("STICKY_WINDOW", 72*time.Hour),
		DedupeTTL:         getEnvAsDuration("DEDUPE_TTL", 24*time.Hour),
		DurableDedupe:     getEnvAsBool("DURABLE_DEDUPE", false),
		FollowUpAPIToken:  getEnv("FOLLOWUP_API_TOKEN", ""),
		FollowUpRateLimit: getEnvAsInt("FOLLOWUP_RATE_LIMIT", 5),
		AdminJWTSecret:    getEnv("ADMIN_JWT_SECRET", ""),

		OutboundQueueURL:    getEnv("OUTBOUND_QUEUE_URL", ""),
		OutboundWorkerCount: getEnvAsInt("OUTBOUND_WORKER_COUNT", 2),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		NotifyEmailProvider: strings.ToLower(strings.TrimSpace(getEnv("NOTIFY_EMAIL_PROVIDER", ""))),
		SendGridAPIKey:      getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:   getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:    getEnv("SENDGRID_FROM_NAME", "Front Desk"),
		SESFromEmail:        getEnv("SES_FROM_EMAIL", ""),
		SESFromName:         getEnv("SES_FROM_NAME", "Front Desk"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
