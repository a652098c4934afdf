package main

import (
	"context"
	"strings"

	"pulse/internal/comments"
	"pulse/internal/events"
	"pulse/internal/handlers"
	"pulse/internal/interactions"
	"pulse/internal/metadata"
	"pulse/internal/metrics"
	"pulse/internal/registry"
	"pulse/internal/websocket"
	"pulse/pkg/auth"
	"pulse/pkg/config"
	"pulse/pkg/database"
	"pulse/pkg/kafka"
	"pulse/pkg/logging"
	"pulse/pkg/monitoring"
	"pulse/pkg/redis"
	"pulse/pkg/server"
)

var version = "dev"

func main() {
	logger := logging.NewLoggerWithService("pulse")
	config.LoadEnv(logger)

	databaseURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := []byte(config.RequireEnv("JWT_SECRET"))

	dbCfg := database.DefaultConfig()
	dbCfg.URL = databaseURL
	db := database.MustConnect(dbCfg, logger)
	defer db.Close()

	ctx := context.Background()
	if err := database.EnsureSchema(ctx, db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	metricsCollector := monitoring.NewMetricsCollector("pulse", version, config.GetEnv("GIT_COMMIT", "unknown"))
	m := metrics.New(metricsCollector)

	healthChecker := monitoring.NewHealthChecker("pulse", version)
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("configuration", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": databaseURL,
		"JWT_SECRET":   string(jwtSecret),
	}))

	// Counter cache is optional; without Redis every read hits Postgres.
	var cache metadata.SnapshotCache
	if redisURL := config.GetEnv("REDIS_URL", ""); redisURL != "" {
		redisClient, err := redis.NewClientFromURL(ctx, redisURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisClient.Close()
		cache = metadata.NewRedisCache(redisClient, logger)
		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
		logger.Info("Counter cache enabled")
	}

	resolver := registry.NewPostgresResolver(db)
	interactionStore := interactions.NewStore(db, resolver, logger)
	commentStore := comments.NewStore(db, resolver, logger)
	aggregator := metadata.NewAggregator(db, interactionStore, cache, logger)

	hub := websocket.NewHub(logger, m)
	go hub.Run()

	// With brokers configured, events round-trip through Kafka so every
	// instance's hub sees them. Without brokers, publish straight to the
	// local hub.
	var publisher events.Publisher = events.NewHubPublisher(hub, m)
	if brokers := config.GetEnv("KAFKA_BROKERS", ""); brokers != "" {
		brokerList := strings.Split(brokers, ",")

		producer, err := kafka.NewProducer(brokerList, "pulse-producer", logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		publisher = events.NewKafkaPublisher(producer, m, logger)

		consumer, err := kafka.NewConsumer(brokerList, config.GetEnv("KAFKA_GROUP", "pulse-fanout"), "pulse-consumer", logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka consumer")
		}
		defer consumer.Close()
		events.NewBridge(hub, logger).Attach(consumer)
		go func() {
			if err := consumer.Start(ctx); err != nil && err != context.Canceled {
				logger.WithError(err).Error("Kafka consumer stopped")
			}
		}()

		healthChecker.AddCheck("kafka", monitoring.KafkaHealthCheck(producer.GetClient()))
		logger.WithField("brokers", brokers).Info("Kafka fan-out enabled")
	}

	h := handlers.New(interactionStore, commentStore, aggregator, publisher, hub, m, logger)

	router := server.SetupServiceRouter(logger, "pulse", healthChecker, metricsCollector)

	api := router.Group("/api")
	{
		content := api.Group("/content")
		content.POST("/metadata/batch", auth.OptionalJWTAuthMiddleware(jwtSecret), h.BatchMetadata)

		item := content.Group("/:type/:id")
		item.GET("/metadata", auth.OptionalJWTAuthMiddleware(jwtSecret), h.GetMetadata)
		item.GET("/comments", auth.OptionalJWTAuthMiddleware(jwtSecret), h.ListComments)
		item.POST("/toggle/:kind", auth.JWTAuthMiddleware(jwtSecret), h.Toggle)
		item.POST("/view", auth.JWTAuthMiddleware(jwtSecret), h.RecordView)
		item.POST("/comments", auth.JWTAuthMiddleware(jwtSecret), h.CreateComment)

		comment := api.Group("/comments/:id")
		comment.GET("/replies", auth.OptionalJWTAuthMiddleware(jwtSecret), h.ListReplies)
		comment.PUT("", auth.JWTAuthMiddleware(jwtSecret), h.EditComment)
		comment.DELETE("", auth.JWTAuthMiddleware(jwtSecret), h.RemoveComment)
		comment.POST("/reactions", auth.JWTAuthMiddleware(jwtSecret), h.ReactToComment)
	}

	router.GET("/ws", auth.OptionalJWTAuthMiddleware(jwtSecret), h.ServeWS)

	cfg := server.DefaultConfig("pulse", "18090")
	if err := server.Start(cfg, router, logger); err != nil {
		logger.WithError(err).Fatal("Server error")
	}
}
