package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Bus            BusConfig            `mapstructure:"bus"`
	Parser         ParserConfig         `mapstructure:"parser"`
	Archive        ArchiveConfig        `mapstructure:"archive"`
	Ingestion      IngestionConfig      `mapstructure:"ingestion"`
	Feed           FeedConfig           `mapstructure:"feed"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port                int         `mapstructure:"port"`
	ReadTimeoutSeconds  int         `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int         `mapstructure:"write_timeout_seconds"`
	Admin               AdminConfig `mapstructure:"admin"`
}

// AdminConfig authenticates the sink management endpoints with bearer
// tokens: RS256 when PublicKeyFile is set, HS256 with Secret otherwise.
// With neither set those endpoints refuse every request.
type AdminConfig struct {
	PublicKeyFile string `mapstructure:"public_key_file"`
	Secret        string `mapstructure:"secret"`
	Role          string `mapstructure:"role"`
}

func (c AdminConfig) Enabled() bool {
	return c.PublicKeyFile != "" || c.Secret != ""
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	MongoDB       MongoDBConfig  `mapstructure:"mongodb"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (c PostgresConfig) Enabled() bool {
	return c.Host != ""
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

func (c MongoDBConfig) Enabled() bool {
	return c.URI != ""
}

// BrokerConfig selects the ingestion broker. An empty type or "none" runs
// without one; uploads then arrive over HTTP only.
type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

func (c BrokerConfig) Enabled() bool {
	return c.Type != "" && c.Type != "none"
}

type KafkaConfig struct {
	Brokers     []string    `mapstructure:"brokers"`
	GroupID     string      `mapstructure:"group_id"`
	InputTopic  string      `mapstructure:"input_topic"`
	OutputTopic string      `mapstructure:"output_topic"`
	DLQTopic    string      `mapstructure:"dlq_topic"`
	Retry       RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BusConfig lists the sinks loaded at start-up, in load order.
type BusConfig struct {
	Sinks []string `mapstructure:"sinks"`
}

type ParserConfig struct {
	Modules       []ParserModuleConfig `mapstructure:"modules"`
	CertsDir      string               `mapstructure:"certs_dir"`
	HotfixSecret  string               `mapstructure:"hotfix_secret"`
	HotfixTimeout time.Duration        `mapstructure:"hotfix_timeout"`

	// FlightsFile seeds an in-memory flight store when MongoDB is not
	// configured.
	FlightsFile           string `mapstructure:"flights_file"`
	ConfigCacheTTLSeconds int    `mapstructure:"config_cache_ttl_seconds"`
}

// ParserModuleConfig is decoded loosely here; the parser turns PreFilters and
// DefaultConfig into filter descriptors and a payload configuration.
type ParserModuleConfig struct {
	Name          string                   `mapstructure:"name"`
	Module        string                   `mapstructure:"module"`
	PreFilters    []map[string]interface{} `mapstructure:"pre_filters"`
	DefaultConfig map[string]interface{}   `mapstructure:"default_config"`
}

type ArchiveConfig struct {
	MaxConflictRetries int `mapstructure:"max_conflict_retries"`
}

type IngestionConfig struct {
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
	DedupTTLSeconds int             `mapstructure:"dedup_ttl_seconds"`
	OnRedisError    string          `mapstructure:"on_redis_error"` // "allow", "reject", "fail" (default: "allow")
	HashAlgorithm   string          `mapstructure:"hash_algorithm"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type FeedConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Path         string        `mapstructure:"path"`
	ClientBuffer int           `mapstructure:"client_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}
