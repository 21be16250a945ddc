package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Server struct {
	Port int
	// AllowedOrigins for CORS. Frontend dev servers by default.
	AllowedOrigins []string
}

type Database struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

type Queue struct {
	// Dir is the pebble directory backing the job queue.
	Dir string
	// MaxConcurrentOrders caps how many jobs are processed at once.
	MaxConcurrentOrders int
	// OrdersPerMinute caps job starts per rolling 60s window.
	OrdersPerMinute int
}

type Retry struct {
	// MaxAttempts counts the first execution too: 3 means 1 try + 2 retries.
	MaxAttempts int
	// InitialDelay is the exponential backoff base.
	InitialDelay time.Duration
}

type Dex struct {
	// ExecutionDelay is the base simulated settlement latency (jitter added on top).
	ExecutionDelay time.Duration
	// FailureRate is the probability an execution fails with a venue timeout.
	FailureRate float64
}

type Config struct {
	Server   Server
	Database Database
	Queue    Queue
	Retry    Retry
	Dex      Dex
}

func Default() Config {
	return Config{
		Server: Server{
			Port:           3000,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Database: Database{
			Host:     "localhost",
			Port:     5432,
			Name:     "order_execution_db",
			User:     "postgres",
			Password: "postgres",
			SSLMode:  "disable",
		},
		Queue: Queue{
			Dir:                 "data/queue",
			MaxConcurrentOrders: 10,
			OrdersPerMinute:     100,
		},
		Retry: Retry{
			MaxAttempts:  3,
			InitialDelay: time.Second,
		},
		Dex: Dex{
			ExecutionDelay: 2500 * time.Millisecond,
			FailureRate:    0.05,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables.
// Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	if v := os.Getenv("DB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = n
		}
	}
	cfg.Database.Name = getEnv("DB_NAME", cfg.Database.Name)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.Queue.Dir = getEnv("QUEUE_DIR", cfg.Queue.Dir)
	if v := os.Getenv("MAX_CONCURRENT_ORDERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Queue.MaxConcurrentOrders = n
		}
	}
	if v := os.Getenv("ORDERS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Queue.OrdersPerMinute = n
		}
	}

	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("INITIAL_RETRY_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Retry.InitialDelay = time.Duration(ms) * time.Millisecond
		}
	}

	if v := os.Getenv("MOCK_EXECUTION_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			cfg.Dex.ExecutionDelay = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("DEX_FAILURE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f < 1 {
			cfg.Dex.FailureRate = f
		}
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
