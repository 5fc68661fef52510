package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"habitat/internal/config"
	"habitat/pkg/retry"
)

// connectPolicy covers a database container that is still starting when
// habitat comes up.
var connectPolicy = retry.Policy{
	MaxAttempts:     5,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	Multiplier:      2,
}

// PostgresDSN renders cfg as a lib/pq connection URL.
func PostgresDSN(cfg config.PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.DBName,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

// OpenPostgres returns nil when no host is configured.
func (b *Base) OpenPostgres(ctx context.Context) (*sql.DB, error) {
	cfg := b.Config.Database.Postgres
	if !cfg.Enabled() {
		return nil, nil
	}

	db, err := sql.Open("postgres", PostgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := b.ping(ctx, "postgresql", db.PingContext); err != nil {
		db.Close()
		return nil, err
	}

	b.OnShutdown("postgresql", func(context.Context) error { return db.Close() })
	b.Logger.InfowCtx(ctx, "PostgreSQL connected", "host", cfg.Host, "dbname", cfg.DBName)
	return db, nil
}

// OpenRedis returns nil when no host is configured.
func (b *Base) OpenRedis(ctx context.Context) (*redis.Client, error) {
	cfg := b.Config.Database.Redis
	if !cfg.Enabled() {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := b.ping(ctx, "redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() }); err != nil {
		rdb.Close()
		return nil, err
	}

	b.OnShutdown("redis", func(context.Context) error { return rdb.Close() })
	b.Logger.InfowCtx(ctx, "Redis connected", "host", cfg.Host, "db", cfg.DB)
	return rdb, nil
}

// OpenMongoDB returns nil when no URI is configured.
func (b *Base) OpenMongoDB(ctx context.Context) (*mongo.Client, error) {
	cfg := b.Config.Database.MongoDB
	if !cfg.Enabled() {
		return nil, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := b.ping(ctx, "mongodb", func(ctx context.Context) error { return client.Ping(ctx, nil) }); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	b.OnShutdown("mongodb", client.Disconnect)
	b.Logger.InfowCtx(ctx, "MongoDB connected", "database", cfg.Database)
	return client, nil
}

func (b *Base) ping(ctx context.Context, name string, ping func(context.Context) error) error {
	err := retry.RetryWithCallback(ctx, connectPolicy, func() error {
		return ping(ctx)
	}, func(attempt int, err error, next time.Duration) {
		b.Logger.WarnwCtx(ctx, "Database not ready", "database", name, "attempt", attempt, "retry_in", next, "error", err)
	})
	if err != nil {
		return fmt.Errorf("failed to ping %s: %w", name, err)
	}
	return nil
}
