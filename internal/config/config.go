package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends understood by STORE_BACKEND.
const (
	StoreDynamo   = "dynamo"
	StorePostgres = "postgres"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	StoreBackend         string
	DatabaseURL          string
	SlotsTable           string
	AppointmentsTable    string
	AppointmentsBucket   string
	AppointmentsS3Prefix string
	BookingEventsQueue   string
	OutboxPollInterval   time.Duration

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	BookingDedupeWindow time.Duration
	MaxBatchSlots       int
	SlotOpen            string
	SlotClose           string
	SlotStep            time.Duration
	ClinicTimezone      string

	KioskSessionSecret string
	KioskSessionTTL    time.Duration
	KioskCookieName    string
	KioskCookieSecure  bool
	KioskCookieDomain  string

	AdminJWTSecret string

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Kiosk client
	KioskAPIBaseURL       string
	KioskPollInterval     time.Duration
	KioskRequestTimeout   time.Duration
	KioskFetchFailureMode string
}

// maxBatchSlots keeps one booking inside a single DynamoDB transaction,
// which holds at most 100 items at two per slot.
const maxBatchSlots = 50

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StoreBackend:         strings.ToLower(strings.TrimSpace(getEnv("STORE_BACKEND", StoreDynamo))),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		SlotsTable:           getEnv("DDB_TABLE_SLOTS", "medmitra_appointment_slots"),
		AppointmentsTable:    getEnv("DDB_TABLE_APPOINTMENTS", "medmitra_appointments"),
		AppointmentsBucket:   strings.TrimSpace(getEnv("S3_BUCKET", "")),
		AppointmentsS3Prefix: strings.Trim(getEnv("S3_PREFIX_APPTS", "appointments"), "/ "),
		BookingEventsQueue:   getEnv("BOOKING_EVENTS_QUEUE_URL", ""),
		OutboxPollInterval:   getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),

		AWSRegion:           getEnv("AWS_REGION", "ap-south-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		BookingDedupeWindow: getEnvAsDuration("BOOKING_DEDUPE_WINDOW", 10*time.Second),
		MaxBatchSlots:       getEnvAsIntInRange("MAX_BATCH_SLOTS", 12, 1, maxBatchSlots),
		SlotOpen:            getEnv("SLOT_OPEN", "08:00"),
		SlotClose:           getEnv("SLOT_CLOSE", "20:00"),
		SlotStep:            getEnvAsDuration("SLOT_STEP", 15*time.Minute),
		ClinicTimezone:      getEnv("CLINIC_TIMEZONE", "Asia/Kolkata"),

		KioskSessionSecret: getEnv("KIOSK_SESSION_SECRET", ""),
		KioskSessionTTL:    getEnvAsDuration("KIOSK_SESSION_TTL", 24*time.Hour),
		KioskCookieName:    getEnv("KIOSK_COOKIE_NAME", "kiosk_pid"),
		KioskCookieSecure:  getEnvAsBool("KIOSK_COOKIE_SECURE", true),
		KioskCookieDomain:  getEnv("KIOSK_COOKIE_DOMAIN", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		KioskAPIBaseURL:       strings.TrimRight(getEnv("KIOSK_API_BASE_URL", "http://localhost:8080"), "/"),
		KioskPollInterval:     getEnvAsDuration("KIOSK_POLL_INTERVAL", 20*time.Second),
		KioskRequestTimeout:   getEnvAsDuration("KIOSK_REQUEST_TIMEOUT", 10*time.Second),
		KioskFetchFailureMode: strings.ToLower(strings.TrimSpace(getEnv("KIOSK_FETCH_FAILURE_POLICY", "block"))),
	}
}

// ClinicLocation resolves ClinicTimezone, falling back to UTC when the zone
// database does not know it.
func (c *Config) ClinicLocation() *time.Location {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
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

// getEnvAsIntInRange clamps an integer variable to hi. Values below lo fall
// back to the default.
func getEnvAsIntInRange(key string, defaultValue, lo, hi int) int {
	value := getEnvAsInt(key, defaultValue)
	if value < lo {
		return defaultValue
	}
	return min(value, hi)
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
