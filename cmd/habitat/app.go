package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"habitat/internal/archive"
	"habitat/internal/broker"
	"habitat/internal/bus"
	"habitat/internal/config"
	"habitat/internal/constants"
	"habitat/internal/deduplication"
	"habitat/internal/feed"
	"habitat/internal/filtering"
	"habitat/internal/flightconfig"
	"habitat/internal/gateway"
	"habitat/internal/ingest"
	"habitat/internal/logger"
	"habitat/internal/parser"
	"habitat/internal/protocol/ukhas"
	"habitat/internal/registry"
	"habitat/internal/sensors"
	"habitat/pkg/bootstrap"
	"habitat/pkg/health"
	"habitat/pkg/metrics"
	"habitat/pkg/middleware"
	"habitat/pkg/migrations"
	"habitat/pkg/models"
	"habitat/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	db          *sql.DB
	redis       *redis.Client
	mongoClient *mongo.Client
	registry    *registry.Registry
	bus         *bus.Server
	hub         *feed.Hub
	ingest      *ingest.Service
	dedup       *deduplication.Service
	health      *health.CheckerRegistry
	server      *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:     bootstrap.NewBase(cfg, log),
		registry: registry.New(),
		health:   health.NewCheckerRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.OnShutdown("tracer_provider", tp.Shutdown)

	metrics.RegisterBusMetrics()
	metrics.RegisterParserMetrics()
	metrics.RegisterGatewayMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if a.Config.Broker.Enabled() {
		if err := a.InitBroker(constants.ServiceName); err != nil {
			return fmt.Errorf("failed to initialize broker: %w", err)
		}
		metrics.RegisterBrokerMetrics()
	}

	if err := a.initRegistry(ctx); err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}

	if err := a.initBus(ctx); err != nil {
		return fmt.Errorf("failed to initialize message server: %w", err)
	}

	a.initIngest()
	if err := a.initHTTPServer(ctx); err != nil {
		return err
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.OpenPostgres(ctx)
	if err != nil {
		return err
	}
	a.db = db
	if a.db != nil {
		a.health.Register("postgresql", true, health.PostgreSQL(a.db))
		metrics.RegisterArchiveMetrics()
		if a.Config.Database.RunMigrations {
			if err := migrations.RunPostgresMigrations(a.db, ""); err != nil {
				return err
			}
			a.Logger.InfowCtx(ctx, "PostgreSQL migrations applied")
		}
	}

	rdb, err := a.OpenRedis(ctx)
	if err != nil {
		return err
	}
	a.redis = rdb
	if a.redis != nil {
		a.health.Register("redis", false, health.Redis(a.redis))
		metrics.RegisterDedupMetrics()
	}

	mongoClient, err := a.OpenMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient
	if a.mongoClient != nil {
		a.health.Register("mongodb", true, health.MongoDB(a.mongoClient))
		if err := migrations.EnsureFlightIndexes(ctx, mongoDatabase(a.Config, a.mongoClient)); err != nil {
			return err
		}
	}

	return nil
}

func mongoDatabase(cfg *config.Config, client *mongo.Client) *mongo.Database {
	name := cfg.Database.MongoDB.Database
	if name == "" {
		name = constants.DefaultMongoDBName
	}
	return client.Database(name)
}

// initRegistry fills the registry with everything configuration can name:
// filters, sensors, protocol modules and sinks.
func (a *App) initRegistry(ctx context.Context) error {
	if err := filtering.RegisterBuiltins(a.registry); err != nil {
		return err
	}
	if err := sensors.Register(a.registry); err != nil {
		return err
	}
	if err := ukhas.Register(a.registry); err != nil {
		return err
	}

	store, err := a.flightStore(ctx)
	if err != nil {
		return err
	}

	chain, err := a.filterChain()
	if err != nil {
		return err
	}

	moduleConfigs := a.Config.Parser.Modules
	if len(moduleConfigs) == 0 {
		moduleConfigs = []config.ParserModuleConfig{{Module: "ukhas"}}
	}
	modules, err := parser.BuildModules(a.registry, moduleConfigs)
	if err != nil {
		return err
	}

	if err := bus.RegisterSink(a.registry, constants.SinkParser, parser.NewSinkFactory(modules, store, chain, a.Logger.Named("parser"))); err != nil {
		return err
	}

	if err := bus.RegisterSink(a.registry, constants.SinkArchive, a.archiveFactory()); err != nil {
		return err
	}

	a.hub = feed.NewHub(a.Config.Feed, a.Logger.Named("feed"))
	if err := bus.RegisterSink(a.registry, constants.SinkFeed, a.hub.SinkFactory()); err != nil {
		return err
	}

	return bus.RegisterSink(a.registry, constants.SinkKafka, a.publisherFactory(), "publisher")
}

// flightStore picks MongoDB when configured and otherwise an in-memory store
// seeded from the flights file. Redis, when present, caches lookups.
func (a *App) flightStore(ctx context.Context) (flightconfig.Store, error) {
	var store flightconfig.Store
	switch {
	case a.mongoClient != nil:
		store = flightconfig.NewMongoRepository(mongoDatabase(a.Config, a.mongoClient))
		if a.Config.CircuitBreaker.Enabled {
			store = flightconfig.NewCircuitBreakerStore(store, a.Config.CircuitBreaker)
		}
	default:
		mem := flightconfig.NewMemoryStore()
		if path := a.Config.Parser.FlightsFile; path != "" {
			docs, err := flightconfig.ReadDocumentsFile(path)
			if err != nil {
				return nil, err
			}
			for _, d := range docs {
				mem.Put(*d)
			}
			a.Logger.InfowCtx(ctx, "Loaded flight documents", "path", path, "count", len(docs))
		} else {
			a.Logger.WarnwCtx(ctx, "No flight store configured, only module defaults will parse")
		}
		store = mem
	}

	if a.redis != nil {
		ttl := time.Duration(a.Config.Parser.ConfigCacheTTLSeconds) * time.Second
		store = flightconfig.NewCachedStore(store, a.redis, ttl, a.Logger.Named("flightconfig"))
	}
	return store, nil
}

func (a *App) filterChain() (*filtering.Chain, error) {
	var secret *filtering.SharedSecretVerifier
	if a.Config.Parser.HotfixSecret != "" {
		secret = filtering.NewSharedSecretVerifier(a.Config.Parser.HotfixSecret)
	}

	var certificate *filtering.CertificateVerifier
	if a.Config.Parser.CertsDir != "" {
		v, err := filtering.NewCertificateVerifier(a.Config.Parser.CertsDir)
		if err != nil {
			return nil, err
		}
		certificate = v
	}

	return filtering.NewChain(a.registry, filtering.NewHotfixVerifier(secret, certificate), a.Logger.Named("filtering"),
		filtering.WithHotfixTimeout(a.Config.Parser.HotfixTimeout))
}

// archiveFactory stays registered without PostgreSQL so that loading the
// archive sink fails with a clear reason instead of "not registered".
func (a *App) archiveFactory() bus.SinkFactory {
	if a.db == nil {
		return func(*bus.Server) (bus.Sink, error) {
			return nil, fmt.Errorf("archive sink requires database.postgres")
		}
	}

	var repo archive.Repository = archive.NewRepository(a.db)
	if a.Config.CircuitBreaker.Enabled {
		repo = archive.NewCircuitBreakerRepository(repo, a.Config.CircuitBreaker)
	}
	return archive.NewSinkFactory(repo, a.Config.Archive, a.Logger.Named("archive"))
}

func (a *App) publisherFactory() bus.SinkFactory {
	if a.Producer == nil {
		return func(*bus.Server) (bus.Sink, error) {
			return nil, fmt.Errorf("%s sink requires a broker", constants.SinkKafka)
		}
	}
	return broker.NewPublisherSinkFactory(a.Producer, a.Config.Broker.Kafka.OutputTopic, a.Logger.Named("publisher"))
}

func (a *App) initBus(ctx context.Context) error {
	a.bus = bus.NewServer(a.registry, a.Logger.Named("bus"))
	if err := a.bus.Start(); err != nil {
		return err
	}
	a.health.Register("message_server", true, health.Bus(func() bool {
		return a.bus.State() == bus.StateRunning
	}))

	for _, name := range a.Config.Bus.Sinks {
		if err := a.bus.Load(name); err != nil {
			return fmt.Errorf("failed to load sink %s: %w", name, err)
		}
	}
	a.Logger.InfowCtx(ctx, "Message server ready", "sinks", a.bus.Sinks())
	return nil
}

func (a *App) initIngest() {
	var dedup ingest.Deduplicator
	if a.redis != nil {
		var repo deduplication.Repository = deduplication.NewRepository(a.redis)
		if a.Config.CircuitBreaker.Enabled {
			repo = deduplication.NewCircuitBreakerRepository(repo, a.Config.CircuitBreaker)
		}
		a.dedup = deduplication.NewService(repo, a.Config.Ingestion, a.Logger.Named("dedup"))
		dedup = a.dedup
	}
	a.ingest = ingest.NewService(a.bus, dedup, a.Logger.Named("ingest"))
}

func (a *App) initHTTPServer(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)

	admin, err := middleware.NewTokenVerifier(a.Config.Server.Admin)
	if err != nil {
		return err
	}

	var cache gateway.CacheSizer
	if a.dedup != nil {
		cache = a.dedup
	}

	router := gateway.NewRouter(ctx, gateway.RouterOptions{
		Config:  a.Config,
		Handler: gateway.NewHandler(a.bus, a.ingest, cache, a.Logger.Named("gateway")),
		Health:  a.health,
		Feed:    a.hub.Serve,
		Admin:   admin,
		Logger:  a.Logger,
	})

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(a.Config.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(a.Config.Server.WriteTimeoutSeconds) * time.Second,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if a.Consumer != nil {
		inputTopic := a.Config.Broker.Kafka.InputTopic
		g.Go(func() error {
			a.Logger.InfowCtx(gCtx, "Starting upload consumer", "topic", inputTopic)
			if err := a.Consumer.Consume(gCtx, inputTopic, a.handleUpload); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("upload consumer error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// handleUpload feeds broker uploads through the same path as HTTP ones.
// Kafka producers are trusted, so the event may name the original sender.
func (a *App) handleUpload(ctx context.Context, event models.UploadEvent) error {
	_, err := a.ingest.Submit(ctx, event, event.IP, "kafka")
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.InfowCtx(ctx, "Shutting down habitat")

	if a.hub != nil {
		a.hub.Shutdown()
	}

	// The bus drains before the broker closes so the publisher sink can
	// still write what was accepted.
	if a.bus != nil {
		a.bus.Shutdown()
	}

	if err := a.Base.Shutdown(ctx); err != nil {
		return err
	}
	a.Logger.InfowCtx(ctx, "habitat stopped")
	return nil
}
