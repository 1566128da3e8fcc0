package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server         ServerConfig
	Postgres       PostgresConfig
	Scheduler      SchedulerConfig
	Archive        ArchiveConfig
	Tracing        TracingConfig
	Notify         NotifyConfig
	ResourceGroups map[string]int
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type PostgresConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	DBName             string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	MaxLifetimeMinutes int
	LogLevel           string
}

type SchedulerConfig struct {
	TickInterval     time.Duration
	GraceKillSeconds int
	HistoryPerJob    int
	RecentEvents     int
	NotifyRatePerMin int
	CleanupDays      int
	Timezone         string
	Mode             string // "auto" or "single"
}

// ArchiveConfig selects and configures the output-archival backend, one
// of the ambient concerns the distilled task spec leaves to the sink
// rather than the store.
type ArchiveConfig struct {
	Backend       string // "local" or "s3"
	LocalDir      string
	S3Bucket      string
	S3Prefix      string
	S3Region      string
	S3Endpoint    string
	S3AccessKeyID string
	S3SecretKey   string
}

type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	SampleRate  float64
}

// NotifyConfig selects the webhook sink state-change notifications are
// posted to. An empty WebhookURL means run a no-op sink (no endpoint
// configured).
type NotifyConfig struct {
	WebhookURL string
}

func LoadConfig() *Config {
	cfg, _ := Load()
	return cfg
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 5003),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Postgres: PostgresConfig{
			Host:               getEnv("POSTGRES_HOST", "localhost"),
			Port:               getEnv("POSTGRES_PORT", "5432"),
			User:               getEnv("POSTGRES_USER", "scheduler_user"),
			Password:           getEnv("POSTGRES_PASSWORD", "scheduler_password"),
			DBName:             getEnv("POSTGRES_DB", "scheduler_db"),
			SSLMode:            getEnv("POSTGRES_SSL_MODE", "disable"),
			MaxOpenConns:       getEnvInt("POSTGRES_MAX_OPEN_CONNS", 25),
			MaxIdleConns:       getEnvInt("POSTGRES_MAX_IDLE_CONNS", 10),
			MaxLifetimeMinutes: getEnvInt("POSTGRES_MAX_LIFETIME_MINS", 30),
			LogLevel:           getEnv("POSTGRES_LOG_LEVEL", "warn"),
		},
		Scheduler: SchedulerConfig{
			TickInterval:     getDuration("SCHEDULER_TICK_INTERVAL", time.Second),
			GraceKillSeconds: getEnvInt("SCHEDULER_GRACE_KILL_SECONDS", 5),
			HistoryPerJob:    getEnvInt("SCHEDULER_HISTORY_PER_JOB", 50),
			RecentEvents:     getEnvInt("SCHEDULER_RECENT_EVENTS", 200),
			NotifyRatePerMin: getEnvInt("SCHEDULER_NOTIFY_RATE_PER_MIN", 5),
			CleanupDays:      getEnvInt("SCHEDULER_CLEANUP_DAYS", 30),
			Timezone:         getEnv("SCHEDULER_TIMEZONE", "UTC"),
			Mode:             getEnv("SCHEDULER_MODE", "auto"),
		},
		Archive: ArchiveConfig{
			Backend:       getEnv("ARCHIVE_BACKEND", "local"),
			LocalDir:      getEnv("ARCHIVE_LOCAL_DIR", "./data/run-logs"),
			S3Bucket:      getEnv("ARCHIVE_S3_BUCKET", ""),
			S3Prefix:      getEnv("ARCHIVE_S3_PREFIX", "runs/"),
			S3Region:      getEnv("ARCHIVE_S3_REGION", "us-east-1"),
			S3Endpoint:    getEnv("ARCHIVE_S3_ENDPOINT", ""),
			S3AccessKeyID: getEnv("ARCHIVE_S3_ACCESS_KEY_ID", ""),
			S3SecretKey:   getEnv("ARCHIVE_S3_SECRET_KEY", ""),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", true),
			ServiceName: getEnv("SERVICE_NAME", "scheduler-service"),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"),
			SampleRate:  getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Notify: NotifyConfig{
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
		ResourceGroups: getEnvGroupMap("RESOURCE_GROUPS", map[string]int{"default": 4}),
	}, nil
}

// getEnvGroupMap parses a "name:max,name:max" resource-group declaration
// list, e.g. RESOURCE_GROUPS="default:4,build:2,deploy:1".
func getEnvGroupMap(key string, defaultValue map[string]int) map[string]int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	out := make(map[string]int)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			continue
		}
		max, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			continue
		}
		out[strings.TrimSpace(parts[0])] = max
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
