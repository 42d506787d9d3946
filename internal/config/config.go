package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	// Load .env file - ignore error if file doesn't exist
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Note: .env file not found or could not be loaded: %v\n", err)
	}
}

type Config struct {
	Primary        PrimaryConfig
	Database       DatabaseConfig
	Server         ServerConfig
	Redis          RedisConfig
	Kafka          KafkaConfig
	Reconciliation ReconciliationConfig
	Observability  *ObservabilityConfig
}

type PrimaryConfig struct {
	Env string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int
	ConnMaxIdleTime int
}

type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	IdleTimeout        int
	CORSAllowedOrigins []string
}

type RedisConfig struct {
	Address        string
	Password       string
	DB             int
	PoolSize       int
	MinIdleConns   int
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdempotencyTTL time.Duration
	KeyPrefix      string
}

type KafkaConfig struct {
	Brokers []string
}

type ReconciliationConfig struct {
	// TransactionCap bounds how many payments a single run will examine.
	TransactionCap int
}

type ObservabilityConfig struct {
	ServiceName string
	Environment string
	Logging     LoggingConfig
	NewRelic    NewRelicConfig
}

type LoggingConfig struct {
	Level  string
	Format string
}

type NewRelicConfig struct {
	LicenseKey                string
	AppLogForwardingEnabled   bool
	DistributedTracingEnabled bool
	DebugLogging              bool
}

// Helper functions for parsing env vars
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return fallback
}

func (c *ObservabilityConfig) GetLogLevel() string {
	if c.Logging.Level == "" {
		switch c.Environment {
		case "production":
			return "info"
		case "development":
			return "debug"
		default:
			return "info"
		}
	}
	return c.Logging.Level
}

func (c *ObservabilityConfig) IsProduction() bool {
	return c.Environment == "production"
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Primary: PrimaryConfig{
			Env: getEnv("PAYDESK_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("PAYDESK_DB_HOST", "localhost"),
			Port:            getEnvInt("PAYDESK_DB_PORT", 5432),
			User:            getEnv("PAYDESK_DB_USER", "paydesk"),
			Password:        getEnv("PAYDESK_DB_PASSWORD", ""),
			Name:            getEnv("PAYDESK_DB_NAME", "paydesk"),
			SSLMode:         getEnv("PAYDESK_DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("PAYDESK_DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("PAYDESK_DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvInt("PAYDESK_DB_CONN_MAX_LIFETIME", 300),
			ConnMaxIdleTime: getEnvInt("PAYDESK_DB_CONN_MAX_IDLE_TIME", 60),
		},
		Server: ServerConfig{
			Port:               getEnv("PAYDESK_SERVER_PORT", "8080"),
			ReadTimeout:        getEnvInt("PAYDESK_SERVER_READ_TIMEOUT", 30),
			WriteTimeout:       getEnvInt("PAYDESK_SERVER_WRITE_TIMEOUT", 30),
			IdleTimeout:        getEnvInt("PAYDESK_SERVER_IDLE_TIMEOUT", 60),
			CORSAllowedOrigins: getEnvSlice("PAYDESK_SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Redis: RedisConfig{
			Address:        getEnv("PAYDESK_REDIS_ADDRESS", "localhost:6379"),
			Password:       getEnv("PAYDESK_REDIS_PASSWORD", ""),
			DB:             getEnvInt("PAYDESK_REDIS_DB", 0),
			PoolSize:       getEnvInt("PAYDESK_REDIS_POOL_SIZE", 10),
			MinIdleConns:   getEnvInt("PAYDESK_REDIS_MIN_IDLE_CONNS", 5),
			DialTimeout:    getEnvDuration("PAYDESK_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:    getEnvDuration("PAYDESK_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:   getEnvDuration("PAYDESK_REDIS_WRITE_TIMEOUT", 3*time.Second),
			IdempotencyTTL: getEnvDuration("PAYDESK_REDIS_IDEMPOTENCY_TTL", 24*time.Hour),
			KeyPrefix:      getEnv("PAYDESK_REDIS_KEY_PREFIX", "paydesk:"),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvSlice("PAYDESK_KAFKA_BROKERS", []string{"localhost:9092"}),
		},
		Reconciliation: ReconciliationConfig{
			TransactionCap: getEnvInt("PAYDESK_RECONCILIATION_TX_CAP", 10000),
		},
		Observability: &ObservabilityConfig{
			ServiceName: "paydesk",
			Environment: getEnv("PAYDESK_ENV", "development"),
			Logging: LoggingConfig{
				Level:  getEnv("PAYDESK_LOG_LEVEL", "debug"),
				Format: getEnv("PAYDESK_LOG_FORMAT", "console"),
			},
			NewRelic: NewRelicConfig{
				LicenseKey:                getEnv("PAYDESK_NEWRELIC_LICENSE_KEY", ""),
				AppLogForwardingEnabled:   getEnvBool("PAYDESK_NEWRELIC_LOG_FORWARDING", true),
				DistributedTracingEnabled: getEnvBool("PAYDESK_NEWRELIC_DISTRIBUTED_TRACING", true),
				DebugLogging:              getEnvBool("PAYDESK_NEWRELIC_DEBUG", false),
			},
		},
	}

	// Validate required fields
	if cfg.Database.Host == "" {
		return nil, fmt.Errorf("PAYDESK_DB_HOST is required")
	}
	if cfg.Database.Name == "" {
		return nil, fmt.Errorf("PAYDESK_DB_NAME is required")
	}
	if cfg.Reconciliation.TransactionCap <= 0 {
		return nil, fmt.Errorf("PAYDESK_RECONCILIATION_TX_CAP must be positive")
	}

	return cfg, nil
}
