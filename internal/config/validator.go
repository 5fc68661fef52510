package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	sslModes      = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	hashes        = []string{"md5", "sha256"}
	redisFailures = []string{"allow", "reject", "fail"}
)

// problems collects every invalid field so one run reports them all.
type problems []error

func (p *problems) addf(field, format string, args ...interface{}) {
	*p = append(*p, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (p *problems) port(field string, port int) {
	if port < 1 || port > 65535 {
		p.addf(field, "port must be between 1 and 65535, got %d", port)
	}
}

func (p *problems) nonNegative(field string, n int64) {
	if n < 0 {
		p.addf(field, "must be non-negative")
	}
}

func (p *problems) oneOf(field, value string, allowed []string) {
	if value != "" && !slices.Contains(allowed, strings.ToLower(value)) {
		p.addf(field, "%q is not one of %s", value, strings.Join(allowed, ", "))
	}
}

// Validate checks what can be known without touching the network. Every
// failure is a *ValidationError inside the joined result.
func Validate(cfg *Config) error {
	var p problems

	p.port("server.port", cfg.Server.Port)
	if cfg.Server.ReadTimeoutSeconds <= 0 {
		p.addf("server.read_timeout_seconds", "must be positive")
	}
	if cfg.Server.WriteTimeoutSeconds <= 0 {
		p.addf("server.write_timeout_seconds", "must be positive")
	}
	if admin := cfg.Server.Admin; admin.Enabled() && admin.Role == "" {
		p.addf("server.admin.role", "is required when admin authentication is configured")
	}

	p.broker(cfg.Broker)
	p.database(cfg.Database)
	p.sinks(cfg.Bus.Sinks)
	p.parser(cfg.Parser)
	p.ingestion(cfg.Ingestion)
	p.nonNegative("archive.max_conflict_retries", int64(cfg.Archive.MaxConflictRetries))

	return errors.Join(p...)
}

func (p *problems) broker(cfg BrokerConfig) {
	switch cfg.Type {
	case "", "none":
		return
	case "kafka":
	default:
		p.addf("broker.type", "unknown broker type %q (supported: kafka, none)", cfg.Type)
		return
	}

	k := cfg.Kafka
	if len(k.Brokers) == 0 {
		p.addf("broker.kafka.brokers", "at least one broker is required")
	}
	for i, addr := range k.Brokers {
		if addr == "" {
			p.addf(fmt.Sprintf("broker.kafka.brokers[%d]", i), "address cannot be empty")
		}
	}
	if k.GroupID == "" {
		p.addf("broker.kafka.group_id", "consumer group is required")
	}
	if k.InputTopic == "" {
		p.addf("broker.kafka.input_topic", "input topic is required")
	}

	r := k.Retry
	p.nonNegative("broker.kafka.retry.max_attempts", int64(r.MaxAttempts))
	p.nonNegative("broker.kafka.retry.initial_interval", int64(r.InitialInterval))
	p.nonNegative("broker.kafka.retry.max_interval", int64(r.MaxInterval))
	if r.MaxInterval > 0 && r.InitialInterval > 0 && r.MaxInterval < r.InitialInterval {
		p.addf("broker.kafka.retry.max_interval", "must not be below initial_interval")
	}
	if r.Multiplier < 0 {
		p.addf("broker.kafka.retry.multiplier", "must be positive")
	}
}

func (p *problems) database(cfg DatabaseConfig) {
	if pg := cfg.Postgres; pg.Host != "" || pg.Port > 0 {
		if pg.Host == "" {
			p.addf("database.postgres.host", "host is required")
		}
		p.port("database.postgres.port", pg.Port)
		if pg.User == "" {
			p.addf("database.postgres.user", "user is required")
		}
		if pg.DBName == "" {
			p.addf("database.postgres.dbname", "database name is required")
		}
		p.oneOf("database.postgres.sslmode", pg.SSLMode, sslModes)
	}

	if r := cfg.Redis; r.Host != "" || r.Port > 0 {
		if r.Host == "" {
			p.addf("database.redis.host", "host is required")
		}
		p.port("database.redis.port", r.Port)
	}

	if m := cfg.MongoDB; m.URI != "" {
		if !strings.HasPrefix(m.URI, "mongodb://") && !strings.HasPrefix(m.URI, "mongodb+srv://") {
			p.addf("database.mongodb.uri", "must start with mongodb:// or mongodb+srv://")
		}
		if m.Database == "" {
			p.addf("database.mongodb.database", "database name is required")
		}
	}
}

func (p *problems) sinks(names []string) {
	seen := make(map[string]bool, len(names))
	for i, name := range names {
		field := fmt.Sprintf("bus.sinks[%d]", i)
		switch {
		case strings.TrimSpace(name) == "":
			p.addf(field, "sink name cannot be empty")
		case seen[name]:
			p.addf(field, "sink %s listed twice", name)
		}
		seen[name] = true
	}
}

func (p *problems) parser(cfg ParserConfig) {
	names := make(map[string]bool, len(cfg.Modules))
	for i, m := range cfg.Modules {
		if m.Module == "" {
			p.addf(fmt.Sprintf("parser.modules[%d].module", i), "module is required")
		}
		if m.Name == "" {
			continue
		}
		if names[m.Name] {
			p.addf(fmt.Sprintf("parser.modules[%d].name", i), "duplicate module name %s", m.Name)
		}
		names[m.Name] = true
	}
	p.nonNegative("parser.hotfix_timeout", int64(cfg.HotfixTimeout))
	p.nonNegative("parser.config_cache_ttl_seconds", int64(cfg.ConfigCacheTTLSeconds))
}

func (p *problems) ingestion(cfg IngestionConfig) {
	p.nonNegative("ingestion.dedup_ttl_seconds", int64(cfg.DedupTTLSeconds))
	p.oneOf("ingestion.hash_algorithm", cfg.HashAlgorithm, hashes)
	p.oneOf("ingestion.on_redis_error", cfg.OnRedisError, redisFailures)
	if rl := cfg.RateLimit; rl.Enabled && (rl.RPS <= 0 || rl.Burst <= 0) {
		p.addf("ingestion.rate_limit", "rps and burst must be positive when rate limiting is enabled")
	}
}
