package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Log       LogConfig
	Tracing   TracingConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Reminder  ReminderConfig
	Queue     QueueConfig
	Mail      MailConfig
}

type AppConfig struct {
	Name        string
	Environment string
	Version     string
	// Timezone the clinic books appointments in; preferred date + time are
	// interpreted in this location.
	Timezone string
}

func (a AppConfig) Location() (*time.Location, error) {
	return time.LoadLocation(a.Timezone)
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Host               string
	Port               int
	Name               string
	User               string
	Password           string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
	SlowQueryThreshold time.Duration
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode,
	)
}

type JWTConfig struct {
	Secret          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Issuer          string
}

type LogConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Insecure       bool
	SampleRate     float64
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         time.Duration
}

type RateLimitConfig struct {
	// Global Rate limit per IP
	RequestsPerSecond float64
	BurstSize         int
	// Cron trigger endpoints have stricter limits
	CronRequestsPerMinute int
}

type ReminderConfig struct {
	// Shared secret required by the HTTP trigger and the CLI command.
	Secret string
	// Run the reminder job inside `serve` on this cron spec.
	SchedulerEnabled bool
	CronSpec         string
	Tolerance        time.Duration
}

type QueueConfig struct {
	Driver      string // "memory" | "kafka"
	BufferSize  int
	Workers     int
	MaxAttempts int
	Backoff     time.Duration

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string
}

type MailConfig struct {
	Driver   string // "smtp" | "log"
	Host     string
	Port     int
	Username string
	Password string
	From     string

	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

func (m MailConfig) Address() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "clinicflow"),
			Environment: getEnv("APP_ENV", "development"),
			Version:     getEnv("APP_VERSION", "0.0.0"),
			Timezone:    getEnv("APP_TIMEZONE", "UTC"),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", "localhost"),
			Port:               getEnvInt("DB_PORT", 5432),
			Name:               getEnv("DB_NAME", "clinicflow"),
			User:               getEnv("DB_USER", "clinicflow"),
			Password:           getEnv("DB_PASSWORD", ""),
			SSLMode:            getEnv("DB_SSLMODE", "require"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime:    getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime:    getEnvDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			SlowQueryThreshold: getEnvDuration("DB_SLOW_QUERY_THRESHOLD", 200*time.Millisecond),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", ""),
			AccessTokenTTL:  getEnvDuration("JWT_ACCESS_TTL", 15*time.Minute),
			RefreshTokenTTL: getEnvDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
			Issuer:          getEnv("JWT_ISSUER", "clinicflow"),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			OutputPath: getEnv("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			ServiceName: getEnv("TRACING_SERVICE_NAME", "clinicflow"),
			Endpoint:    getEnv("OTLP_ENDPOINT", "otel-collector:4318"),
			Insecure:    getEnvBool("OTLP_INSECURE", true),
			SampleRate:  getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods: getEnvSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvSlice("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type", "X-Request-ID"}),
			MaxAge:         getEnvDuration("CORS_MAX_AGE", 12*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond:     getEnvFloat("RATE_LIMIT_RPS", 50),
			BurstSize:             getEnvInt("RATE_LIMIT_BURST", 100),
			CronRequestsPerMinute: getEnvInt("RATE_LIMIT_CRON_RPM", 30),
		},
		Reminder: ReminderConfig{
			Secret:           getEnv("REMINDER_SECRET", ""),
			SchedulerEnabled: getEnvBool("REMINDER_SCHEDULER_ENABLED", false),
			CronSpec:         getEnv("REMINDER_CRON", "@every 5m"),
			Tolerance:        getEnvDuration("REMINDER_TOLERANCE", 5*time.Minute),
		},
		Queue: QueueConfig{
			Driver:       getEnv("QUEUE_DRIVER", "memory"),
			BufferSize:   getEnvInt("QUEUE_BUFFER_SIZE", 10_000),
			Workers:      getEnvInt("QUEUE_WORKERS", 4),
			MaxAttempts:  getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
			Backoff:      getEnvDuration("QUEUE_BACKOFF", 2*time.Second),
			KafkaBrokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			KafkaTopic:   getEnv("KAFKA_TOPIC", "clinicflow.jobs"),
			KafkaGroupID: getEnv("KAFKA_GROUP_ID", "clinicflow-workers"),
		},
		Mail: MailConfig{
			Driver:             getEnv("MAIL_DRIVER", "log"),
			Host:               getEnv("MAIL_HOST", "localhost"),
			Port:               getEnvInt("MAIL_PORT", 587),
			Username:           getEnv("MAIL_USERNAME", ""),
			Password:           getEnv("MAIL_PASSWORD", ""),
			From:               getEnv("MAIL_FROM", "no-reply@clinicflow.local"),
			BreakerMaxFailures: uint32(getEnvInt("MAIL_BREAKER_MAX_FAILURES", 5)),
			BreakerOpenTimeout: getEnvDuration("MAIL_BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
	}

	cfg.Tracing.ServiceVersion = cfg.App.Version

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate enforces production security requirements.
func validate(cfg *Config) error {
	var errs []string

	if cfg.JWT.Secret == "" {
		errs = append(errs, "JWT_SECRET is required")
	} else if len(cfg.JWT.Secret) < 32 && cfg.App.Environment == "production" {
		errs = append(errs, "JWT_SECRET must be at least 32 characters in production")
	}

	if cfg.Database.Password == "" && cfg.App.Environment != "development" {
		errs = append(errs, "DB_PASSWORD is required in non-development environments")
	}

	if cfg.Database.SSLMode == "disable" && cfg.App.Environment == "production" {
		errs = append(errs, "DB_SSLMODE=disable is not allowed in production")
	}

	if cfg.Reminder.Secret == "" {
		errs = append(errs, "REMINDER_SECRET is required")
	}

	if cfg.Reminder.Tolerance <= 0 {
		errs = append(errs, "REMINDER_TOLERANCE must be positive")
	}

	if _, err := cfg.App.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("APP_TIMEZONE %q is not a known time zone", cfg.App.Timezone))
	}

	switch cfg.Queue.Driver {
	case "memory", "kafka":
	default:
		errs = append(errs, fmt.Sprintf("QUEUE_DRIVER %q must be memory or kafka", cfg.Queue.Driver))
	}

	if cfg.Queue.MaxAttempts < 1 {
		errs = append(errs, "QUEUE_MAX_ATTEMPTS must be at least 1")
	}

	switch cfg.Mail.Driver {
	case "smtp", "log":
	default:
		errs = append(errs, fmt.Sprintf("MAIL_DRIVER %q must be smtp or log", cfg.Mail.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
