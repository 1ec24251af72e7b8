package main

import (
	"context"
	"expvar"
	"log"
	"runtime"

	"github.com/intervo/stream-gateway/internal/conversation"
	"github.com/intervo/stream-gateway/internal/infrastructure/broker"
	"github.com/intervo/stream-gateway/internal/infrastructure/configs"
	"github.com/intervo/stream-gateway/internal/infrastructure/logging"
	"github.com/intervo/stream-gateway/internal/infrastructure/messaging"
	"github.com/intervo/stream-gateway/internal/infrastructure/ratelimiter"
	"github.com/intervo/stream-gateway/internal/infrastructure/stream"
	"github.com/intervo/stream-gateway/internal/infrastructure/tracing"
	"github.com/intervo/stream-gateway/internal/persistence/db"
	"github.com/intervo/stream-gateway/internal/persistence/repository"
	"github.com/intervo/stream-gateway/internal/presentation/api"
	"github.com/intervo/stream-gateway/internal/presentation/handler/health"
	"github.com/intervo/stream-gateway/internal/presentation/handler/rooms"
	"github.com/intervo/stream-gateway/internal/presentation/handler/streams"
	"github.com/intervo/stream-gateway/internal/presentation/handler/tools"
	"github.com/intervo/stream-gateway/internal/presentation/handler/webhooks"
)

const (
	serviceName = "stream-gateway"
)

func main() {
	tracerCfg := tracing.NewDefaultConfig(serviceName)

	sh, err := tracing.InitTracer(tracerCfg)
	if err != nil {
		log.Fatalf("Failed to initialize the tracer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer sh(ctx)

	logger := logging.NewLogger(logging.NewDefaultConfig())
	logger.Init()

	configPath := configs.DetermineConfigPath()
	cfg, err := configs.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	mongoCfg := &db.MongoConfig{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
	}

	mongoClient, err := db.NewMongoClient(ctx, mongoCfg)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		_ = db.DisconnectMongo(context.Background(), mongoClient)
	}()

	database := db.GetDatabase(mongoClient, mongoCfg)

	agentDirectory := repository.NewPublishedAgentRepository(database)
	membershipDirectory := repository.NewMembershipRepository(database)
	toolRepository := repository.NewToolRepository(database)

	// The event bus is optional: without it the gateway still serves rooms,
	// just without cross-instance fan-out.
	var bus broker.EventBus
	rabbitmq, err := messaging.NewRabbitMQ(cfg.RabbitMQ.URI)
	if err != nil {
		logger.Warn(logging.RabbitMQ, logging.Startup, "event bus unavailable, running single-instance", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	} else {
		defer rabbitmq.Close()
		bus = rabbitmq
	}

	roomBroker := broker.New(broker.Options{
		Bus:       bus,
		Directory: membershipDirectory,
		Logger:    logger,
	})
	if err := roomBroker.Subscribe(); err != nil {
		log.Fatal(err)
	}

	registry := stream.NewRegistry(
		conversation.NewCallerRelayFactory(logger),
		conversation.NewObserverRelayFactory(logger),
		conversation.NewChatRelayFactory(logger),
	)

	streamsHandler := streams.NewHandler(roomBroker, agentDirectory, registry, logger, cfg.HTTP.AllowedOrigins)
	roomsHandler := rooms.NewHandler(roomBroker, logger)
	toolsHandler := tools.NewHandler(toolRepository, logger)
	webhooksHandler := webhooks.NewHandler(logger)
	healthHandler := health.NewHandler()

	rl := ratelimiter.New(ratelimiter.Options{
		MaxRatePerSecond: cfg.RateLimiter.MaxRatePerSecond,
		MaxBurst:         cfg.RateLimiter.MaxBurst,
		CacheTTL:         cfg.RateLimiter.CacheTTL,
		SourceHeaderKey:  cfg.RateLimiter.SourceHeaderKey,
	})

	app := api.NewApplication(*cfg, streamsHandler, roomsHandler, toolsHandler, webhooksHandler, healthHandler, logger, rl)

	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	mux := app.Mount()
	if err := app.Run(mux); err != nil {
		logger.Fatal(logging.General, logging.Shutdown, "server exited with error", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
}
