package integration

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	_ "github.com/lib/pq"
	redisclient "github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	postgresmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"

	"habitat/internal/config"
	"habitat/pkg/bootstrap"
	"habitat/pkg/migrations"
)

const testDatabase = "habitat_test"

// TestInfra holds clients opened through bootstrap against throwaway
// containers, so the tests exercise the same connection code as serve.
type TestInfra struct {
	PostgresDB  *sql.DB
	MongoDB     *mongo.Database
	MongoClient *mongo.Client
	RedisClient *redisclient.Client
}

func SetupTestInfra(t *testing.T) *TestInfra {
	return SetupTestInfraWithOptions(t, true, true, true)
}

func SetupTestInfraWithOptions(t *testing.T, needPostgres, needMongo, needRedis bool) *TestInfra {
	t.Helper()
	if testing.Short() {
		t.Skip("container tests are skipped with -short")
	}
	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	ctx := context.Background()
	cfg := &config.Config{}
	if needPostgres {
		cfg.Database.Postgres = startPostgres(t, ctx)
	}
	if needMongo {
		cfg.Database.MongoDB = startMongo(t, ctx)
	}
	if needRedis {
		cfg.Database.Redis = startRedis(t, ctx)
	}

	base := bootstrap.NewBase(cfg, createTestLogger())
	t.Cleanup(func() { _ = base.Shutdown(context.Background()) })

	openCtx, cancel := context.WithTimeout(ctx, containerStartupTimeout*time.Second)
	defer cancel()

	infra := &TestInfra{}
	var err error

	infra.PostgresDB, err = base.OpenPostgres(openCtx)
	require.NoError(t, err)
	if infra.PostgresDB != nil {
		require.NoError(t, migrations.RunPostgresMigrations(infra.PostgresDB, migrationsDir(t)))
	}

	infra.MongoClient, err = base.OpenMongoDB(openCtx)
	require.NoError(t, err)
	if infra.MongoClient != nil {
		infra.MongoDB = infra.MongoClient.Database(cfg.Database.MongoDB.Database)
	}

	infra.RedisClient, err = base.OpenRedis(openCtx)
	require.NoError(t, err)

	return infra
}

func hostPort(t *testing.T, ctx context.Context, c testcontainers.Container, port string) (string, int) {
	t.Helper()
	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, port)
	require.NoError(t, err)
	n, err := strconv.Atoi(mapped.Port())
	require.NoError(t, err)
	return host, n
}

func startPostgres(t *testing.T, ctx context.Context) config.PostgresConfig {
	container, err := postgresmodule.Run(ctx, "postgres:15",
		postgresmodule.WithDatabase(testDatabase),
		postgresmodule.WithUsername("habitat"),
		postgresmodule.WithPassword("habitat"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(containerStartupTimeout*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "postgres container")

	host, port := hostPort(t, ctx, container, "5432/tcp")
	return config.PostgresConfig{
		Host:     host,
		Port:     port,
		User:     "habitat",
		Password: "habitat",
		DBName:   testDatabase,
		SSLMode:  "disable",
	}
}

func startMongo(t *testing.T, ctx context.Context) config.MongoDBConfig {
	container, err := mongodb.Run(ctx, "mongo:6",
		mongodb.WithUsername("habitat"),
		mongodb.WithPassword("habitat"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Waiting for connections").WithStartupTimeout(containerStartupTimeout*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "mongo container")

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	return config.MongoDBConfig{URI: uri, Database: testDatabase}
}

func startRedis(t *testing.T, ctx context.Context) config.RedisConfig {
	container, err := redismodule.Run(ctx, "redis:8.4.0-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "redis container")

	host, port := hostPort(t, ctx, container, "6379/tcp")
	return config.RedisConfig{Host: host, Port: port}
}

func migrationsDir(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Join(wd, "..", "..", "migrations", "postgres")
}

// SetupKafka starts a single broker and creates topics on it.
func SetupKafka(t *testing.T, topics ...string) []string {
	t.Helper()
	if testing.Short() {
		t.Skip("container tests are skipped with -short")
	}
	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	ctx := context.Background()
	container, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0",
		kafkamodule.WithClusterID("habitat-test"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "kafka container")

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	conn, err := kafkago.DialContext(ctx, "tcp", brokers[0])
	require.NoError(t, err)
	defer conn.Close()

	configs := make([]kafkago.TopicConfig, 0, len(topics))
	for _, topic := range topics {
		configs = append(configs, kafkago.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	}
	require.NoError(t, conn.CreateTopics(configs...))

	return brokers
}
