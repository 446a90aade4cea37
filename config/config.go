package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	AppName   string `mapstructure:"app_name"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LLMConfig configures the chat completions provider.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.APIKey) == "" {
		return fmt.Errorf("llm.api_key required")
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model required")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2]")
	}
	return nil
}

// SourcesConfig configures the search providers. A provider without a key
// is disabled.
type SourcesConfig struct {
	WebSearch   WebSearchConfig `mapstructure:"web_search"`
	Twitter     TwitterConfig   `mapstructure:"twitter"`
	ResultLimit int             `mapstructure:"result_limit"`
	Timeout     time.Duration   `mapstructure:"timeout"`
	MaxRetries  int             `mapstructure:"max_retries"`
}

type WebSearchConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

type TwitterConfig struct {
	BearerToken   string `mapstructure:"bearer_token"`
	BaseURL       string `mapstructure:"base_url"`
	Lang          string `mapstructure:"lang"`
	MinEngagement int    `mapstructure:"min_engagement"`
}

func (s SourcesConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(s.WebSearch.Provider)) {
	case "serper", "brave":
	default:
		return fmt.Errorf("sources.web_search.provider must be serper or brave, got %q", s.WebSearch.Provider)
	}
	if s.ResultLimit <= 0 {
		return fmt.Errorf("sources.result_limit must be > 0")
	}
	return nil
}

// StorageConfig groups the persistence backends.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port.
func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// StreamConfig controls progress stream delivery.
type StreamConfig struct {
	QueueSize      int           `mapstructure:"queue_size"`
	OverflowPolicy string        `mapstructure:"overflow_policy"`
	Heartbeat      time.Duration `mapstructure:"heartbeat"`
	// IdleTTL bounds how long an unwatched, unfinished process stays in memory.
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
}

// Normalize applies defaults for unset stream values.
func (s StreamConfig) Normalize() StreamConfig {
	if s.QueueSize <= 0 {
		s.QueueSize = 16
	}
	s.OverflowPolicy = strings.ToLower(strings.TrimSpace(s.OverflowPolicy))
	if s.OverflowPolicy == "" {
		s.OverflowPolicy = "disconnect"
	}
	if s.Heartbeat <= 0 {
		s.Heartbeat = 15 * time.Second
	}
	if s.IdleTTL <= 0 {
		s.IdleTTL = 10 * time.Minute
	}
	return s
}

func (s StreamConfig) Validate() error {
	switch s.OverflowPolicy {
	case "disconnect", "drop_oldest":
		return nil
	default:
		return fmt.Errorf("stream.overflow_policy must be disconnect or drop_oldest, got %q", s.OverflowPolicy)
	}
}

// PipelineConfig bounds background pipeline work.
type PipelineConfig struct {
	StepTimeout time.Duration `mapstructure:"step_timeout"`
}

// RelayConfig controls mirroring transitions to a Redis stream.
type RelayConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Stream  string `mapstructure:"stream"`
	MaxLen  int64  `mapstructure:"max_len"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port cannot be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.app_name", "Vizier")
	v.SetDefault("general.jwt_secret", "")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.model", "anthropic/claude-3.5-sonnet")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 4000)
	v.SetDefault("llm.timeout", 90*time.Second)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("sources.web_search.provider", "serper")
	v.SetDefault("sources.web_search.api_key", "")
	v.SetDefault("sources.web_search.base_url", "")
	v.SetDefault("sources.twitter.bearer_token", "")
	v.SetDefault("sources.twitter.base_url", "")
	v.SetDefault("sources.twitter.lang", "en")
	v.SetDefault("sources.twitter.min_engagement", 0)
	v.SetDefault("sources.result_limit", 10)
	v.SetDefault("sources.timeout", 20*time.Second)
	v.SetDefault("sources.max_retries", 2)
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.user", "vizier")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "vizier")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timeout", 5*time.Second)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("stream.queue_size", 16)
	v.SetDefault("stream.overflow_policy", "disconnect")
	v.SetDefault("stream.heartbeat", 15*time.Second)
	v.SetDefault("stream.idle_ttl", 10*time.Minute)
	v.SetDefault("pipeline.step_timeout", 15*time.Minute)
	v.SetDefault("relay.enabled", false)
	v.SetDefault("relay.stream", "vizier:stage_transitions")
	v.SetDefault("relay.max_len", 10000)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.metrics_port", 0)
	v.SetDefault("telemetry.otlp_endpoint", "")
}

// LoadConfig reads the configuration like Read and validates every section
// the API server depends on.
func LoadConfig(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads the JSON config at path, or searches the usual locations when
// path is empty. VIZIER_* environment variables override file values
// (VIZIER_LLM_API_KEY for llm.api_key). A missing file is not an error when
// searching. Only the stream section is normalised; nothing is validated.
func Read(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("VIZIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Stream = cfg.Stream.Normalize()
	return &cfg, nil
}

// Validate checks the sections needed to serve the API. Redis is only
// required when the relay is enabled.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.LLM.Validate,
		c.Sources.Validate,
		c.Storage.Postgres.Validate,
		c.Stream.Validate,
		c.Telemetry.Validate,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	if c.Relay.Enabled {
		if err := c.Storage.Redis.Validate(); err != nil {
			return err
		}
	}
	return nil
}
