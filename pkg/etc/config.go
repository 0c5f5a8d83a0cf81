package etc

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

type Config struct {
	API       API
	Store     Store
	RedisPool RedisPool
	NVD       NVD
	GenAI     GenAI
	RateLimit RateLimit
	Lookup    Lookup
	Metrics   Metrics
	Tracing   Tracing
}

type API struct {
	Addr           string        `env:"CVEMIND_API_ADDR" envDefault:":8080"`
	TLSCertificate string        `env:"CVEMIND_API_TLS_CERTIFICATE"`
	TLSKey         string        `env:"CVEMIND_API_TLS_KEY"`
	ClientCAs      []string      `env:"CVEMIND_API_CLIENT_CAS"`
	ReadTimeout    time.Duration `env:"CVEMIND_API_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout   time.Duration `env:"CVEMIND_API_WRITE_TIMEOUT" envDefault:"2m"`
	IdleTimeout    time.Duration `env:"CVEMIND_API_IDLE_TIMEOUT" envDefault:"60s"`
}

func (c *API) IsTLSEnabled() bool {
	return c.TLSCertificate != "" && c.TLSKey != ""
}

// StoreType selects the backend of the CVE record store.
type StoreType string

const (
	StoreTypeSQLite StoreType = "sqlite"
	StoreTypeRedis  StoreType = "redis"
)

type Store struct {
	Type           StoreType `env:"CVEMIND_STORE_TYPE" envDefault:"sqlite"`
	SQLitePath     string    `env:"CVEMIND_STORE_SQLITE_PATH" envDefault:"cvemind.db"`
	RedisNamespace string    `env:"CVEMIND_STORE_REDIS_NAMESPACE" envDefault:"cvemind:store"`
}

type RedisPool struct {
	URL               string        `env:"CVEMIND_REDIS_URL" envDefault:"redis://localhost:6379"`
	MaxActive         int           `env:"CVEMIND_REDIS_POOL_MAX_ACTIVE" envDefault:"5"`
	MaxIdle           int           `env:"CVEMIND_REDIS_POOL_MAX_IDLE" envDefault:"5"`
	IdleTimeout       time.Duration `env:"CVEMIND_REDIS_POOL_IDLE_TIMEOUT" envDefault:"5m"`
	ConnectionTimeout time.Duration `env:"CVEMIND_REDIS_POOL_CONNECTION_TIMEOUT" envDefault:"1s"`
	ReadTimeout       time.Duration `env:"CVEMIND_REDIS_POOL_READ_TIMEOUT" envDefault:"1s"`
	WriteTimeout      time.Duration `env:"CVEMIND_REDIS_POOL_WRITE_TIMEOUT" envDefault:"1s"`
}

type NVD struct {
	BaseURL          string        `env:"CVEMIND_NVD_BASE_URL" envDefault:"https://services.nvd.nist.gov/rest/json/cves/2.0"`
	APIKey           string        `env:"CVEMIND_NVD_API_KEY"`
	Timeout          time.Duration `env:"CVEMIND_NVD_TIMEOUT" envDefault:"30s"`
	MaxResponseBytes int64         `env:"CVEMIND_NVD_MAX_RESPONSE_BYTES" envDefault:"10485760"`
}

type GenAI struct {
	BaseURL     string        `env:"CVEMIND_GENAI_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	APIKey      string        `env:"CVEMIND_GENAI_API_KEY"`
	Model       string        `env:"CVEMIND_GENAI_MODEL" envDefault:"openai/gpt-4o-mini"`
	MaxTokens   int           `env:"CVEMIND_GENAI_MAX_TOKENS" envDefault:"1024"`
	Temperature float64       `env:"CVEMIND_GENAI_TEMPERATURE" envDefault:"0.3"`
	Timeout     time.Duration `env:"CVEMIND_GENAI_TIMEOUT" envDefault:"60s"`
}

type RateLimit struct {
	Capacity     int           `env:"CVEMIND_RATE_LIMIT_CAPACITY" envDefault:"60"`
	RefillPeriod time.Duration `env:"CVEMIND_RATE_LIMIT_REFILL_PERIOD" envDefault:"1m"`
}

type Lookup struct {
	LatestCacheTTL time.Duration `env:"CVEMIND_LATEST_CACHE_TTL" envDefault:"5m"`
}

type Metrics struct {
	Enabled  bool   `env:"CVEMIND_METRICS_ENABLED" envDefault:"true"`
	Addr     string `env:"CVEMIND_METRICS_ADDR" envDefault:":9090"`
	Endpoint string `env:"CVEMIND_METRICS_ENDPOINT" envDefault:"/metrics"`
}

type Tracing struct {
	Enabled bool `env:"CVEMIND_TRACING_ENABLED" envDefault:"false"`
}

func GetLogLevel() slog.Level {
	if value, ok := os.LookupEnv("CVEMIND_LOG_LEVEL"); ok {
		var level slog.Level
		if err := level.UnmarshalText([]byte(strings.ToUpper(value))); err != nil {
			return slog.LevelInfo
		}
		return level
	}
	return slog.LevelInfo
}

func GetConfig() (Config, error) {
	var cfg Config
	err := env.Parse(&cfg)
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}
