package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Undo      UndoConfig
	Telemetry TelemetryConfig
	Client    ClientConfig
	RateLimit RateLimitConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// DatabaseConfig selects the tree storage and holds its connection settings
type DatabaseConfig struct {
	Driver      string // "postgres", "sqlite" or "memory"
	SQLitePath  string
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// CacheConfig holds cache settings
type CacheConfig struct {
	Enabled    bool
	Backend    string // "memory" or "redis"
	DefaultTTL time.Duration

	// MaxEntries caps the memory backend; the entry closest to expiry is evicted
	MaxEntries int

	// Compress stores values of CompressMinSize bytes or more zstd-compressed
	Compress        bool
	CompressMinSize int
}

// UndoConfig holds undo tree limits and autosave tuning
type UndoConfig struct {
	MaxTreeDepth       int
	MaxBranchesPerNode int
	AutosaveDelay      time.Duration
	SaveTimeout        time.Duration
	SaveAttempts       int
	RetryBackoff       time.Duration
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
	MetricsPort   int
}

// RateLimitConfig throttles tree writes per user. Requires the redis cache backend.
type RateLimitConfig struct {
	Enabled       bool
	SaveLimit     int64
	WindowSeconds int
}

// ClientConfig holds settings for services calling the undo tree API
type ClientConfig struct {
	APIBaseURL string
	Timeout    time.Duration
}

// Load loads configuration from environment variables. Keys missing from
// the environment fall back to the file named by UNDOTREE_CONFIG_FILE.
func Load(serviceName string) (*Config, error) {
	src, err := loadSource(os.Getenv(ConfigFileEnv))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        src.getEnvInt("PORT", 8080),
			Environment: src.getEnv("ENVIRONMENT", "development"),
			LogLevel:    src.getEnv("LOG_LEVEL", "info"),
			LogFormat:   src.getEnv("LOG_FORMAT", "text"), // Default to text for development
		},
		Database: DatabaseConfig{
			Driver:      src.getEnv("DATABASE_DRIVER", DriverPostgres),
			SQLitePath:  src.getEnv("SQLITE_PATH", "undotree.db"),
			Host:        src.getEnv("POSTGRES_HOST", "localhost"),
			Port:        src.getEnvInt("POSTGRES_PORT", 5432),
			Database:    src.getEnv("POSTGRES_DB", "undotree"),
			User:        src.getEnv("POSTGRES_USER", "undotree"),
			Password:    src.getEnv("POSTGRES_PASSWORD", "undotree"),
			MaxConns:    src.getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    src.getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: src.getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: src.getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Host:     src.getEnv("REDIS_HOST", "localhost"),
			Port:     src.getEnvInt("REDIS_PORT", 6379),
			Password: src.getEnv("REDIS_PASSWORD", ""),
			DB:       src.getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled:         src.getEnvBool("CACHE_ENABLED", true),
			Backend:         src.getEnv("CACHE_BACKEND", "memory"),
			DefaultTTL:      src.getEnvDuration("CACHE_DEFAULT_TTL", 10*time.Minute),
			MaxEntries:      src.getEnvInt("CACHE_MAX_ENTRIES", 10000),
			Compress:        src.getEnvBool("CACHE_COMPRESS", false),
			CompressMinSize: src.getEnvInt("CACHE_COMPRESS_MIN_SIZE", 1024),
		},
		Undo: UndoConfig{
			MaxTreeDepth:       src.getEnvInt("UNDO_MAX_TREE_DEPTH", 500),
			MaxBranchesPerNode: src.getEnvInt("UNDO_MAX_BRANCHES_PER_NODE", 50),
			AutosaveDelay:      src.getEnvDuration("UNDO_AUTOSAVE_DELAY", 1000*time.Millisecond),
			SaveTimeout:        src.getEnvDuration("UNDO_SAVE_TIMEOUT", 10*time.Second),
			SaveAttempts:       src.getEnvInt("UNDO_SAVE_ATTEMPTS", 3),
			RetryBackoff:       src.getEnvDuration("UNDO_RETRY_BACKOFF", 200*time.Millisecond),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   src.getEnvBool("ENABLE_PPROF", false),
			PprofPort:     src.getEnvInt("PPROF_PORT", 6060),
			EnableMetrics: src.getEnvBool("ENABLE_METRICS", true),
			MetricsPort:   src.getEnvInt("METRICS_PORT", 9090),
		},
		Client: ClientConfig{
			APIBaseURL: src.getEnv("UNDOTREE_API_URL", "http://localhost:8080"),
			Timeout:    src.getEnvDuration("UNDOTREE_API_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:       src.getEnvBool("RATE_LIMIT_ENABLED", false),
			SaveLimit:     int64(src.getEnvInt("RATE_LIMIT_SAVES_PER_WINDOW", 120)),
			WindowSeconds: src.getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database driver: %s", c.Database.Driver)
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("unknown cache backend: %s", c.Cache.Backend)
	}

	if c.RateLimit.Enabled {
		if c.Cache.Backend != "redis" || !c.Cache.Enabled {
			return fmt.Errorf("rate limiting requires the redis cache backend")
		}
		if c.RateLimit.SaveLimit <= 0 || c.RateLimit.WindowSeconds <= 0 {
			return fmt.Errorf("rate limit and window must be positive")
		}
	}

	if c.Undo.MaxTreeDepth < 1 || c.Undo.MaxBranchesPerNode < 1 {
		return fmt.Errorf("undo tree limits must be positive")
	}

	if c.Undo.AutosaveDelay <= 0 {
		return fmt.Errorf("autosave delay must be positive")
	}

	if c.Undo.SaveAttempts < 1 {
		return fmt.Errorf("save attempts must be >= 1")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns the host:port address of the Redis server
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func (s source) getEnv(key, defaultValue string) string {
	if value, ok := s.lookup(key); ok {
		return value
	}
	return defaultValue
}

func (s source) getEnvInt(key string, defaultValue int) int {
	if value, ok := s.lookup(key); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func (s source) getEnvBool(key string, defaultValue bool) bool {
	if value, ok := s.lookup(key); ok {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func (s source) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := s.lookup(key); ok {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
