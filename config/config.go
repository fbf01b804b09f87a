/*
config.go - Environment configuration

PURPOSE:
  Reads every runtime setting from the environment. cmd/server loads a
  .env file first (godotenv) so local runs and containers share one path.

VARIABLES (prefix ALLOC_):
  ALLOC_APP_ENV                 dev | prod                (default dev)
  ALLOC_APP_PORT                HTTP port                 (default 8080)
  ALLOC_APP_LOG_LEVEL           zerolog level             (default info)
  ALLOC_APP_LOG_FORMAT          json | console            (default json)
  ALLOC_DB_PATH                 SQLite file, ":memory:"   (default allocation.db)
  ALLOC_REDIS_URL               redis://... ; empty disables Redis
  ALLOC_REDIS_POOL_SIZE         connection pool size      (default 10)
  ALLOC_REDIS_DIAL_TIMEOUT      (default 5s)
  ALLOC_SCHEDULER_ENABLED       lifecycle job on/off      (default true)
  ALLOC_SCHEDULER_INTERVAL      lifecycle tick            (default 1h)
  ALLOC_CORS_ALLOWED_ORIGINS    comma separated
  ALLOC_ALLOCATION_LOCK_TTL     Redis pool lock lifetime  (default 10s)
  ALLOC_ALLOCATION_IDEMPOTENCY_TTL  replay window         (default 24h)

SEE ALSO:
  - cmd/server/main.go: Startup wiring
  - cache/redis.go: Redis client options
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "ALLOC"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Scheduler  SchedulerConfig
	CORS       CORSConfig
	Allocation AllocationConfig
}

// Load parses the environment and checks cross-field rules.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.App.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("config: unknown log format %q", c.App.LogFormat)
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("config: scheduler interval must be positive, got %s", c.Scheduler.Interval)
	}
	if c.Allocation.LockTTL <= 0 {
		return fmt.Errorf("config: allocation lock ttl must be positive, got %s", c.Allocation.LockTTL)
	}
	return nil
}

type AppConfig struct {
	Env       string `split_words:"true" default:"dev"`
	Port      int    `split_words:"true" default:"8080"`
	LogLevel  string `split_words:"true" default:"info"`
	LogFormat string `split_words:"true" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// Addr is the listen address for net/http.
func (a AppConfig) Addr() string {
	return fmt.Sprintf(":%d", a.Port)
}

type DBConfig struct {
	Path string `split_words:"true" default:"allocation.db"`
}

type RedisConfig struct {
	URL          string        `split_words:"true"`
	PoolSize     int           `split_words:"true" default:"10"`
	MinIdleConns int           `split_words:"true" default:"2"`
	DialTimeout  time.Duration `split_words:"true" default:"5s"`
	ReadTimeout  time.Duration `split_words:"true" default:"3s"`
	WriteTimeout time.Duration `split_words:"true" default:"3s"`
}

// Enabled reports whether a Redis server is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != ""
}

type SchedulerConfig struct {
	Enabled  bool          `split_words:"true" default:"true"`
	Interval time.Duration `split_words:"true" default:"1h"`
}

type CORSConfig struct {
	AllowedOrigins []string `split_words:"true" default:"http://localhost:5173,http://localhost:8080"`
}

type AllocationConfig struct {
	LockTTL        time.Duration `split_words:"true" default:"10s"`
	IdempotencyTTL time.Duration `split_words:"true" default:"24h"`
}
