package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Portal    PortalConfig
	Engine    EngineConfig
	Extract   ExtractConfig
	Notify    NotifyConfig
	KurrentDB KurrentDBConfig
	Clinic    ClinicConfig
	Export    ExportConfig
	Auth      AuthConfig
	Storage   StorageConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// PortalConfig holds credentials and tuning for the insurer portal.
type PortalConfig struct {
	// BaseURL is the portal origin
	BaseURL string
	// LoginURL is the login page, defaults to BaseURL + /login
	LoginURL string
	Username string
	Password string
	// ElementWait bounds how long each locator strategy may wait
	ElementWait time.Duration
	// RequestTimeout bounds a single page round-trip
	RequestTimeout time.Duration
	// RetryMaxAttempts for retryable portal operations
	RetryMaxAttempts int
	// RetryInitialDelay is the first backoff step
	RetryInitialDelay time.Duration
	// BreakerFailureThreshold opens the circuit after this many consecutive failures
	BreakerFailureThreshold int
	// BreakerRecoveryTimeout is how long the circuit stays open before probing
	BreakerRecoveryTimeout time.Duration
}

// EngineConfig tunes the claim lifecycle engine.
type EngineConfig struct {
	// SweepInterval between processing sweeps
	SweepInterval time.Duration
	// ErrorCooldown after a sweep-level failure
	ErrorCooldown time.Duration
	// ThrottlePeriod is the minimum spacing between portal operations
	ThrottlePeriod time.Duration
	// MaxConcurrentSubmissions bounds simultaneous claim submissions
	MaxConcurrentSubmissions int
	// MaxConcurrentStatusChecks bounds simultaneous status checks
	MaxConcurrentStatusChecks int
}

type ExtractConfig struct {
	URL     string
	Enabled bool
	Timeout time.Duration
}

type NotifyConfig struct {
	Workers    int
	BufferSize int
	// RetryAttempts before a message is marked failed
	RetryAttempts int
	RetryDelay    time.Duration
}

// KurrentDBConfig holds configuration for the lifecycle event store.
type KurrentDBConfig struct {
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
	Enabled  bool
}

// ClinicConfig configures the optional practice-management import adapter.
type ClinicConfig struct {
	Enabled      bool
	Name         string
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	InvoiceTable string
	PollInterval time.Duration
}

type ExportConfig struct {
	Dir      string
	Interval time.Duration
	Cooldown time.Duration
}

type AuthConfig struct {
	JWTSecret string
	Enabled   bool
}

type StorageConfig struct {
	// ImageDir is where received bill photos are kept
	ImageDir string
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "claimagent"),
			Password: getEnv("DB_PASSWORD", "claimagent"),
			Database: getEnv("DB_NAME", "claimagent"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Portal: PortalConfig{
			BaseURL:                 getEnv("PORTAL_BASE_URL", "https://portal.example-insurer.com"),
			LoginURL:                getEnv("PORTAL_LOGIN_URL", ""),
			Username:                getEnv("PORTAL_USERNAME", ""),
			Password:                getEnv("PORTAL_PASSWORD", ""),
			ElementWait:             getEnvDuration("PORTAL_ELEMENT_WAIT", 5*time.Second),
			RequestTimeout:          getEnvDuration("PORTAL_REQUEST_TIMEOUT", 30*time.Second),
			RetryMaxAttempts:        getEnvInt("PORTAL_RETRY_MAX_ATTEMPTS", 3),
			RetryInitialDelay:       getEnvDuration("PORTAL_RETRY_INITIAL_DELAY", time.Second),
			BreakerFailureThreshold: getEnvInt("PORTAL_BREAKER_FAILURE_THRESHOLD", 5),
			BreakerRecoveryTimeout:  getEnvDuration("PORTAL_BREAKER_RECOVERY_TIMEOUT", 2*time.Minute),
		},
		Engine: EngineConfig{
			SweepInterval:             getEnvDuration("ENGINE_SWEEP_INTERVAL", time.Hour),
			ErrorCooldown:             getEnvDuration("ENGINE_ERROR_COOLDOWN", time.Minute),
			ThrottlePeriod:            getEnvDuration("ENGINE_THROTTLE_PERIOD", 5*time.Second),
			MaxConcurrentSubmissions:  getEnvInt("ENGINE_MAX_CONCURRENT_SUBMISSIONS", 3),
			MaxConcurrentStatusChecks: getEnvInt("ENGINE_MAX_CONCURRENT_STATUS_CHECKS", 2),
		},
		Extract: ExtractConfig{
			URL:     getEnv("EXTRACT_SERVICE_URL", "http://localhost:5000"),
			Enabled: getEnvBool("EXTRACT_ENABLED", true),
			Timeout: getEnvDuration("EXTRACT_TIMEOUT", 90*time.Second),
		},
		Notify: NotifyConfig{
			Workers:       getEnvInt("NOTIFY_WORKERS", 2),
			BufferSize:    getEnvInt("NOTIFY_BUFFER_SIZE", 256),
			RetryAttempts: getEnvInt("NOTIFY_RETRY_ATTEMPTS", 3),
			RetryDelay:    getEnvDuration("NOTIFY_RETRY_DELAY", 30*time.Second),
		},
		KurrentDB: KurrentDBConfig{
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
			Enabled:  getEnvBool("KURRENTDB_ENABLED", false),
		},
		Clinic: ClinicConfig{
			Enabled:      getEnvBool("CLINIC_IMPORT_ENABLED", false),
			Name:         getEnv("CLINIC_NAME", "Partner Clinic"),
			Host:         getEnv("CLINIC_DB_HOST", "localhost"),
			Port:         getEnvInt("CLINIC_DB_PORT", 1433),
			User:         getEnv("CLINIC_DB_USER", ""),
			Password:     getEnv("CLINIC_DB_PASSWORD", ""),
			Database:     getEnv("CLINIC_DB_NAME", "practice"),
			SSLMode:      getEnv("CLINIC_DB_SSLMODE", "disable"),
			InvoiceTable: getEnv("CLINIC_INVOICE_TABLE", "dbo.Invoices"),
			PollInterval: getEnvDuration("CLINIC_POLL_INTERVAL", 15*time.Minute),
		},
		Export: ExportConfig{
			Dir:      getEnv("EXPORT_DIR", "./exports"),
			Interval: getEnvDuration("EXPORT_INTERVAL", 10*time.Minute),
			Cooldown: getEnvDuration("EXPORT_COOLDOWN", time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
			Enabled:   getEnvBool("AUTH_ENABLED", true),
		},
		Storage: StorageConfig{
			ImageDir: getEnv("IMAGE_DIR", "./bill_images"),
		},
	}, nil
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
