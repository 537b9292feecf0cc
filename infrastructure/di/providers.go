package di

import (
	"context"
	"fmt"
	"os"
	"time"

	"ailego/application/commands/bus"
	commandhandlers "ailego/application/commands/handlers"
	"ailego/application/graphstate"
	"ailego/application/ports"
	querybus "ailego/application/queries/bus"
	queryhandlers "ailego/application/queries/handlers"
	"ailego/application/sessions"
	"ailego/domain/templates"
	"ailego/infrastructure/config"
	"ailego/infrastructure/messaging/eventbridge"
	"ailego/infrastructure/messaging/websocket"
	"ailego/infrastructure/persistence/dynamodb"
	"ailego/infrastructure/persistence/instrumented"
	"ailego/infrastructure/persistence/memory"
	"ailego/infrastructure/persistence/redis"
	"ailego/infrastructure/persistence/schema"
	"ailego/interfaces/http/rest"
	"ailego/interfaces/http/rest/middleware"
	"ailego/pkg/auth"
	pkgerrors "ailego/pkg/errors"
	"ailego/pkg/observability"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ProvideLogger creates the process logger
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = level

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("environment", cfg.Environment)), nil
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client. DYNAMODB_ENDPOINT points
// it at DynamoDB Local.
func ProvideDynamoDBClient(awsCfg aws.Config, cfg *config.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		if cfg.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
		}
	})
}

// ProvideMetrics creates the Prometheus collector, nil when metrics are off
func ProvideMetrics(cfg *config.Config) *observability.Collector {
	if !cfg.EnableMetrics {
		return nil
	}
	return observability.NewCollector("ailego")
}

// ProvideTracer creates the X-Ray tracer
func ProvideTracer(cfg *config.Config) *observability.Tracer {
	return observability.NewTracer("ailego", cfg.EnableTracing)
}

// ProvideRemoteStore selects the configured backend and decorates it with
// schema migration, the circuit breaker, metrics and tracing
func ProvideRemoteStore(
	cfg *config.Config,
	client *awsdynamodb.Client,
	metrics *observability.Collector,
	tracer *observability.Tracer,
	logger *zap.Logger,
) (ports.RemoteStore, func(), error) {
	var (
		backend ports.RemoteStore
		cleanup = func() {}
	)

	switch cfg.StoreBackend {
	case config.StoreMemory:
		backend = memory.NewDocumentStore()
	case config.StoreDynamoDB:
		backend = dynamodb.NewDocumentStore(client, cfg.DynamoDBTable, logger)
	case config.StoreRedis:
		store, err := redis.NewDocumentStore(cfg.RedisURL, logger)
		if err != nil {
			return nil, nil, err
		}
		backend = store
		cleanup = func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close redis store", zap.Error(err))
			}
		}
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	logger.Info("Remote store selected", zap.String("backend", cfg.StoreBackend))

	evolution := schema.Default(cfg.Domain().DefaultCardSize)
	migrating := schema.NewMigratingStore(backend, evolution, cfg.SchemaWriteBack, logger)

	breaker := instrumented.DefaultBreakerConfig("remote-store-" + cfg.StoreBackend)
	breaker.MaxRequests = cfg.BreakerMaxRequests
	breaker.Interval = cfg.BreakerInterval
	breaker.Timeout = cfg.BreakerTimeout

	return instrumented.NewStore(migrating, breaker, metrics, tracer, logger), cleanup, nil
}

// ProvideConnectionStore creates the websocket connection registry
func ProvideConnectionStore(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) *dynamodb.ConnectionStore {
	return dynamodb.NewConnectionStore(client, cfg.ConnectionsTable, logger)
}

// ProvideEventPublisher creates the EventBridge publisher, nil when events are off
func ProvideEventPublisher(awsCfg aws.Config, cfg *config.Config, logger *zap.Logger) ports.EventPublisher {
	if !cfg.EnableEvents {
		return nil
	}
	client := awseventbridge.NewFromConfig(awsCfg)
	return eventbridge.NewPublisher(client, cfg.EventBusName, cfg.EventSource, nil, logger)
}

// ProvideViewNotifier creates the websocket notifier, nil when websockets are off
func ProvideViewNotifier(awsCfg aws.Config, cfg *config.Config, connections *dynamodb.ConnectionStore, logger *zap.Logger) ports.ViewNotifier {
	if !cfg.EnableWebSocket {
		return nil
	}
	client := websocket.NewClient(awsCfg, cfg.WebSocketEndpoint)
	return websocket.NewNotifier(client, connections, logger)
}

// ProvideTemplates loads the pipeline templates, from TEMPLATES_FILE when set
func ProvideTemplates(cfg *config.Config) (*templates.Catalog, error) {
	if cfg.TemplatesFile == "" {
		return templates.Builtin(), nil
	}
	data, err := os.ReadFile(cfg.TemplatesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates: %w", err)
	}
	return templates.Parse(data)
}

// ProvideSessionManager creates the session manager. The caller starts it;
// the cleanup flushes every open session.
func ProvideSessionManager(
	store ports.RemoteStore,
	cfg *config.Config,
	catalog *templates.Catalog,
	publisher ports.EventPublisher,
	notifier ports.ViewNotifier,
	metrics *observability.Collector,
	logger *zap.Logger,
) (*sessions.Manager, func()) {
	options := graphstate.DefaultOptions()
	options.RemoteTimeout = cfg.RemoteTimeout
	options.LoadConcurrency = cfg.LoadConcurrency
	options.ReconcileInterval = cfg.ReconcileInterval
	options.Templates = catalog

	sessionCfg := sessions.DefaultConfig()
	sessionCfg.IdleTTL = cfg.SessionIdleTTL
	if metrics != nil {
		sessionCfg.Metrics = metrics
	}

	manager := sessions.NewManager(store, cfg.Domain(), options, sessionCfg, publisher, notifier, logger)
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := manager.Stop(ctx); err != nil {
			logger.Warn("Sessions closed with unsynced writes", zap.Error(err))
		}
	}
	return manager, cleanup
}

// ProvideCommandBus creates the command bus with every editor command registered
func ProvideCommandBus(manager *sessions.Manager, metrics *observability.Collector, logger *zap.Logger) (*bus.CommandBus, error) {
	middlewares := []bus.Middleware{bus.LoggingMiddleware(logger)}
	if metrics != nil {
		middlewares = append(middlewares, bus.MetricsMiddleware(metrics))
	}

	commandBus := bus.NewCommandBus(middlewares...)
	if err := commandhandlers.NewEditorHandlers(manager, logger).Register(commandBus); err != nil {
		return nil, err
	}
	return commandBus, nil
}

// ProvideQueryBus creates the query bus with every editor query registered
func ProvideQueryBus(manager *sessions.Manager, catalog *templates.Catalog, metrics *observability.Collector, logger *zap.Logger) (*querybus.QueryBus, error) {
	middlewares := []querybus.Middleware{querybus.LoggingMiddleware(logger)}
	if metrics != nil {
		middlewares = append(middlewares, querybus.MetricsMiddleware(metrics))
	}

	queryBus := querybus.NewQueryBus(middlewares...)
	if err := queryhandlers.NewEditorQueries(manager, catalog).Register(queryBus); err != nil {
		return nil, err
	}
	return queryBus, nil
}

// ProvideErrorHandler creates the HTTP error handler. Stack traces are only
// exposed outside production.
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *pkgerrors.ErrorHandler {
	return pkgerrors.NewErrorHandler(logger, cfg.IsDevelopment())
}

// ProvideIdentityVerifier creates the JWT verifier. Without JWT_SECRET the
// host runs unauthenticated, which Validate only allows outside production.
func ProvideIdentityVerifier(cfg *config.Config) (middleware.Verifier, error) {
	if cfg.JWTSecret == "" {
		return nil, nil
	}
	verifier, err := auth.NewIdentityVerifier(auth.JWTConfig{
		SigningMethod: "HS256",
		SecretKey:     cfg.JWTSecret,
		Issuer:        cfg.JWTIssuer,
	})
	if err != nil {
		return nil, err
	}
	return verifier, nil
}

// ProvideRateLimiter creates the per-actor limiter of write endpoints.
// Lambda hosts share DynamoDB counters; long-running hosts keep buckets in memory.
func ProvideRateLimiter(cfg *config.Config, client *awsdynamodb.Client) (auth.RateLimiter, func()) {
	if cfg.IsLambda {
		return auth.NewDistributedRateLimiter(client, cfg.ConnectionsTable, cfg.RateLimitBurst, time.Minute, "EDITOR"), func() {}
	}
	limiter := auth.NewTokenBucketLimiter(cfg.RateLimitBurst, cfg.RateLimitRefill)
	return limiter, limiter.Close
}

// ProvideReadinessCheck probes the remote store. A missing probe document
// still proves the store answered.
func ProvideReadinessCheck(store ports.RemoteStore) rest.ReadinessCheck {
	return func(ctx context.Context) error {
		_, err := store.GetDocument(ctx, ports.CollectionProjects, "readiness-probe")
		if err != nil && !pkgerrors.IsNotFound(err) {
			return err
		}
		return nil
	}
}

// ProvideRouter builds the HTTP surface
func ProvideRouter(
	cfg *config.Config,
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	errorHandler *pkgerrors.ErrorHandler,
	verifier middleware.Verifier,
	limiter auth.RateLimiter,
	metrics *observability.Collector,
	ready rest.ReadinessCheck,
	logger *zap.Logger,
) *chi.Mux {
	window := "1m"
	if !cfg.IsLambda {
		window = cfg.RateLimitRefill.String()
	}
	return rest.NewRouter(commandBus, queryBus, errorHandler, verifier, limiter, metrics, ready, rest.RouterConfig{
		EnableCORS:     cfg.EnableCORS,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimitBurst,
		RateWindow:     window,
	}, logger).Setup()
}
