package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Auth     AuthConfig
	Orders   OrdersConfig
	Stripe   StripeConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	// MigrationsDir, when set, makes the service apply SQL migrations on
	// startup instead of relying on bun's CreateTable bootstrap.
	MigrationsDir string
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers []string
	// GroupID is the durable consumer-group name for this service instance;
	// redelivery resumes from the last uncommitted offset for the group.
	GroupID string
}

type AuthConfig struct {
	// OIDCIssuer enables full token verification against an identity
	// provider. When empty, JWTSecret is used to verify HS256 tokens, which
	// keeps local development runnable without a provider.
	OIDCIssuer string
	JWTSecret  string
}

type OrdersConfig struct {
	// ExpirationWindow is how long a ticket stays reserved after order
	// creation before the sweep cancels the order.
	ExpirationWindow time.Duration
	// SweepInterval is only a liveness tunable. Cancellation is idempotent,
	// so the interval does not affect correctness.
	SweepInterval time.Duration
	QRSecret      string
}

type StripeConfig struct {
	SecretKey string
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present.
func Load(service string) *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnv("DB_PORT", "5432"),
			Username:      getEnv("DB_USERNAME", "ticketmarket"),
			Password:      getEnv("DB_PASSWORD", "ticketmarket"),
			Database:      getEnv("DB_NAME", service),
			MaxOpenConns:  getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:   getEnvDuration("DB_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir: getEnv("DB_MIGRATIONS_DIR", ""),
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: KafkaConfig{
			Brokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			GroupID: getEnv("KAFKA_GROUP_ID", service),
		},
		Auth: AuthConfig{
			OIDCIssuer: getEnv("OIDC_ISSUER", ""),
			JWTSecret:  getEnv("JWT_SECRET", "dev-secret"),
		},
		Orders: OrdersConfig{
			ExpirationWindow: getEnvDuration("ORDER_EXPIRATION_WINDOW", 15*time.Minute),
			SweepInterval:    getEnvDuration("EXPIRATION_SWEEP_INTERVAL", 30*time.Second),
			QRSecret:         getEnv("QR_SECRET_KEY", "dev-qr-secret"),
		},
		Stripe: StripeConfig{
			SecretKey: getEnv("STRIPE_SECRET_KEY", ""),
		},
	}
}

// DSN builds a Postgres connection string from the database section.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
