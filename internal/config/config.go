package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL    string
	Storage        string
	MigrationsDir  string
	ServerAddr     string
	MetricsAddr    string
	LogLevel       string
	RedisAddr      string
	RedisPassword  string
	RedisChannel   string
	SSEHeartbeat   time.Duration
	NotifyWorkers  int
	NotifyChannels []string

	PolicyScorerURL    string
	PolicyTimeout      time.Duration
	PolicyMaxRetries   uint64
	PolicyRetryInitial time.Duration
	AsyncChecks        bool

	TimeoutSweepInterval time.Duration
	TimeoutSweepLimit    int

	WorkflowsFile string
	IdentityFile  string
	// APIKeys maps reviewer id to a bcrypt hash of their key.
	APIKeys map[string]string
	// AuditSigningKey signs decision records; empty disables signing.
	AuditSigningKey []byte
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "approvals")
		pass := getenv("POSTGRES_PASSWORD", "approvals_pass")
		db := getenv("POSTGRES_DB", "approvals")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	storage := strings.ToLower(getenv("STORAGE", StoragePostgres))
	if storage != StoragePostgres && storage != StorageMemory {
		return nil, fmt.Errorf("unknown STORAGE %q", storage)
	}

	keys, err := parseAPIKeys(os.Getenv("API_KEYS"))
	if err != nil {
		return nil, err
	}

	var auditKey []byte
	if raw := os.Getenv("AUDIT_SIGNING_KEY"); raw != "" {
		auditKey, err = hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid AUDIT_SIGNING_KEY: %w", err)
		}
	}

	return &Config{
		DatabaseURL:    dsn,
		Storage:        storage,
		MigrationsDir:  getenv("MIGRATIONS_DIR", "internal/migrations"),
		ServerAddr:     getenv("SERVER_ADDR", "0.0.0.0:8080"),
		MetricsAddr:    os.Getenv("METRICS_ADDR"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisChannel:   getenv("REDIS_CHANNEL", "content-approval.events"),
		SSEHeartbeat:   parseDuration(getenv("SSE_HEARTBEAT", "30s"), 30*time.Second),
		NotifyWorkers:  parseInt(getenv("NOTIFY_WORKERS", "2"), 2),
		NotifyChannels: parseList(getenv("NOTIFY_DEFAULT_CHANNELS", "sse,log")),

		PolicyScorerURL:    os.Getenv("POLICY_SCORER_URL"),
		PolicyTimeout:      parseDuration(getenv("POLICY_TIMEOUT", "10s"), 10*time.Second),
		PolicyMaxRetries:   uint64(parseInt(getenv("POLICY_MAX_RETRIES", "4"), 4)),
		PolicyRetryInitial: parseDuration(getenv("POLICY_RETRY_INITIAL", "200ms"), 200*time.Millisecond),
		AsyncChecks:        parseBool(getenv("ASYNC_CHECKS", "false"), false),

		TimeoutSweepInterval: parseDuration(getenv("TIMEOUT_SWEEP_INTERVAL", "1m"), time.Minute),
		TimeoutSweepLimit:    parseInt(getenv("TIMEOUT_SWEEP_LIMIT", "100"), 100),

		WorkflowsFile: os.Getenv("WORKFLOWS_FILE"),
		IdentityFile:  os.Getenv("IDENTITY_FILE"),
		APIKeys:       keys,

		AuditSigningKey: auditKey,
	}, nil
}

// parseAPIKeys reads "reviewer:bcrypt-hash,reviewer2:bcrypt-hash".
func parseAPIKeys(raw string) (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, errors.New("invalid API_KEYS format")
		}
		keys[parts[0]] = parts[1]
	}
	return keys, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseBool(val string, def bool) bool {
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func parseList(val string) []string {
	var out []string
	for _, v := range strings.Split(val, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
