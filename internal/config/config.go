package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port         string
	MaxBodyBytes int64

	// Database
	SQLiteDBPath string

	// AMQP; an empty URL runs triggers inline
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Collaborator selection
	CalendarBackend string
	BankingBackend  string

	// Google Calendar
	GoogleOAuthClientFile string
	GoogleOAuthClientJSON string
	CalendarTimeZone      string

	// Plaid
	PlaidClientID string
	PlaidSecret   string
	PlaidEnv      string

	// Sync
	SyncWindowDays      int
	SyncMaxLookbackDays int
	SyncConcurrency     int
	SyncIncludePending  bool
	LeaseTTL            time.Duration

	// Retry
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	CallTimeout      time.Duration

	// Idempotency guard
	GuardCacheSize   int
	GuardCacheTTL    time.Duration
	TriggerRetention time.Duration

	// Worker and resume loop
	SyncBatchSize  int
	ResumeInterval time.Duration

	// Rate limiting
	RateLimitPerMinute int

	// Logging
	LogLevel  string
	LogFormat string
}

var (
	validCalendarBackends = []string{"memory", "google"}
	validBankingBackends  = []string{"memory", "plaid"}
	validPlaidEnvs        = []string{"sandbox", "development", "production"}
)

func Load() *Config {
	cfg := &Config{
		Port:         getEnv("PORT", "8081"),
		MaxBodyBytes: int64(getEnvInt("HTTP_MAX_BODY_BYTES", 1<<20)),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/wheresmymoney.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "wheresmymoney"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "sync_triggers"),

		CalendarBackend: getEnv("CALENDAR_BACKEND", "memory"),
		BankingBackend:  getEnv("BANKING_BACKEND", "memory"),

		GoogleOAuthClientFile: getEnv("GOOGLE_OAUTH_CLIENT_FILE", ""),
		GoogleOAuthClientJSON: getEnv("GOOGLE_OAUTH_CLIENT_JSON", ""),
		CalendarTimeZone:      getEnv("CALENDAR_TIMEZONE", "America/Los_Angeles"),

		PlaidClientID: getEnv("PLAID_CLIENT_ID", ""),
		PlaidSecret:   getEnv("PLAID_SECRET", ""),
		PlaidEnv:      getEnv("PLAID_ENV", "sandbox"),

		SyncWindowDays:      getEnvInt("SYNC_WINDOW_DAYS", 30),
		SyncMaxLookbackDays: getEnvInt("SYNC_MAX_LOOKBACK_DAYS", 365),
		SyncConcurrency:     getEnvInt("SYNC_CONCURRENCY", 4),
		SyncIncludePending:  getEnvBool("SYNC_INCLUDE_PENDING", false),
		LeaseTTL:            getEnvDuration("LEASE_TTL", 5*time.Minute),

		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 4),
		RetryBaseDelay:   getEnvDuration("RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:    getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
		CallTimeout:      getEnvDuration("CALL_TIMEOUT", 20*time.Second),

		GuardCacheSize:   getEnvInt("GUARD_CACHE_SIZE", 1000),
		GuardCacheTTL:    getEnvDuration("GUARD_CACHE_TTL", time.Hour),
		TriggerRetention: getEnvDuration("TRIGGER_RETENTION", 7*24*time.Hour),

		SyncBatchSize:  getEnvInt("SYNC_BATCH_SIZE", 10),
		ResumeInterval: getEnvDuration("RESUME_INTERVAL", time.Minute),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate validates the configuration and returns an error listing every problem found
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if !slices.Contains(validCalendarBackends, c.CalendarBackend) {
		errors = append(errors, fmt.Sprintf("invalid calendar backend '%s': must be one of %v", c.CalendarBackend, validCalendarBackends))
	}
	if c.CalendarBackend == "google" {
		hasClientFile := c.GoogleOAuthClientFile != ""
		if !hasClientFile && c.GoogleOAuthClientJSON == "" {
			errors = append(errors, "either GOOGLE_OAUTH_CLIENT_FILE or GOOGLE_OAUTH_CLIENT_JSON must be provided for google calendar backend")
		}
		if hasClientFile {
			if _, err := os.Stat(c.GoogleOAuthClientFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google OAuth client file does not exist: %s", c.GoogleOAuthClientFile))
			}
		}
	}
	if c.CalendarTimeZone != "" {
		if _, err := time.LoadLocation(c.CalendarTimeZone); err != nil {
			errors = append(errors, fmt.Sprintf("invalid calendar time zone '%s'", c.CalendarTimeZone))
		}
	}

	if !slices.Contains(validBankingBackends, c.BankingBackend) {
		errors = append(errors, fmt.Sprintf("invalid banking backend '%s': must be one of %v", c.BankingBackend, validBankingBackends))
	}
	if c.BankingBackend == "plaid" {
		if c.PlaidClientID == "" || c.PlaidSecret == "" {
			errors = append(errors, "PLAID_CLIENT_ID and PLAID_SECRET are required for plaid banking backend")
		}
		if !slices.Contains(validPlaidEnvs, c.PlaidEnv) {
			errors = append(errors, fmt.Sprintf("invalid Plaid environment '%s': must be one of %v", c.PlaidEnv, validPlaidEnvs))
		}
	}

	if c.SyncWindowDays < 1 || c.SyncWindowDays > 730 {
		errors = append(errors, fmt.Sprintf("invalid sync window %d days: must be between 1 and 730", c.SyncWindowDays))
	}
	if c.SyncMaxLookbackDays < c.SyncWindowDays {
		errors = append(errors, fmt.Sprintf("invalid max lookback %d days: must be at least the sync window (%d)", c.SyncMaxLookbackDays, c.SyncWindowDays))
	}
	if c.SyncConcurrency < 1 || c.SyncConcurrency > 32 {
		errors = append(errors, fmt.Sprintf("invalid sync concurrency %d: must be between 1 and 32", c.SyncConcurrency))
	}
	if c.LeaseTTL < 10*time.Second {
		errors = append(errors, fmt.Sprintf("invalid lease TTL %v: must be at least 10 seconds", c.LeaseTTL))
	}

	if c.RetryMaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("invalid retry attempts %d: must be at least 1", c.RetryMaxAttempts))
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		errors = append(errors, fmt.Sprintf("invalid retry delays base=%v max=%v: base must be positive and not exceed max", c.RetryBaseDelay, c.RetryMaxDelay))
	}

	if c.GuardCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid guard cache size %d: must be at least 1", c.GuardCacheSize))
	}

	if c.SyncBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at least 1", c.SyncBatchSize))
	} else if c.SyncBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at most 1000", c.SyncBatchSize))
	}

	if c.ResumeInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid resume interval %v: must be at least 1 second", c.ResumeInterval))
	} else if c.ResumeInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid resume interval %v: must be at most 24 hours", c.ResumeInterval))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
