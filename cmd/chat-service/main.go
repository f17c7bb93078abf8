package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/cuongbtq/alliance-chat/internal/api/auth"
	"github.com/cuongbtq/alliance-chat/internal/api/handler"
	"github.com/cuongbtq/alliance-chat/internal/api/router"
	"github.com/cuongbtq/alliance-chat/internal/chat/broadcast"
	"github.com/cuongbtq/alliance-chat/internal/chat/membership"
	"github.com/cuongbtq/alliance-chat/internal/chat/presence"
	chatstorage "github.com/cuongbtq/alliance-chat/internal/chat/storage"
	"github.com/cuongbtq/alliance-chat/internal/chat/ws"
	"github.com/cuongbtq/alliance-chat/internal/config"
	"github.com/cuongbtq/alliance-chat/internal/translation"
	"github.com/cuongbtq/alliance-chat/internal/translation/notifier"
	"github.com/cuongbtq/alliance-chat/internal/translation/queue"
	"github.com/cuongbtq/alliance-chat/internal/translation/storage"
	"github.com/cuongbtq/alliance-chat/internal/translation/sweeper"
	"github.com/cuongbtq/alliance-chat/internal/translation/translator"
	"github.com/cuongbtq/alliance-chat/shared/database"
	"github.com/cuongbtq/alliance-chat/shared/logger"
	"github.com/cuongbtq/alliance-chat/shared/rabbitmq"
	"github.com/cuongbtq/alliance-chat/shared/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("CHAT_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/chat-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting chat service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbClient, err := initDatabase(ctx, &cfg.Database, appLogger.Component("database"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	redisClient, err := initRedis(&cfg.Redis, appLogger.Component("redis"))
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	defer redisClient.Close()

	systemClock := clock.New()

	// Result sinks: live user streams, plus the broker relay when enabled.
	results := notifier.New(appLogger.Component("notifier"))
	sinks := notifier.Multi{results}

	var rabbitClient *rabbitmq.Client
	var relay *notifier.Relay
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		relay = notifier.NewRelay(&notifier.RelayConfig{
			Logger:         appLogger.Component("relay"),
			Publisher:      rabbitClient,
			Buffer:         cfg.RabbitMQ.Relay.Buffer,
			PublishTimeout: cfg.RabbitMQ.Relay.PublishTimeout,
		})
		relay.Start(ctx)
		sinks = append(sinks, relay)
	}

	jobStore := storage.NewStorage(dbClient.GetDB(), appLogger.Component("job_store"))

	translatorOpts := []translator.Option{
		translator.WithTimeout(cfg.Translation.Timeout),
		translator.WithAPIKey(cfg.Translation.APIKey),
	}
	if cfg.Translation.MaxConnsPerHost > 0 {
		translatorOpts = append(translatorOpts, translator.WithMaxConnsPerHost(cfg.Translation.MaxConnsPerHost))
	}

	dispatchQueue := queue.New(&queue.Config{
		Logger:          appLogger.Component("queue"),
		Store:           jobStore,
		Translator:      translator.NewClient(cfg.Translation.BaseURL, translatorOpts...),
		Notifier:        sinks,
		Clock:           systemClock,
		Interval:        cfg.Translation.DispatchInterval,
		MaxRetries:      cfg.Translation.MaxRetries,
		RetryDelay:      cfg.Translation.RetryDelay,
		DispatchTimeout: cfg.Translation.DispatchTimeout,
	})
	if err := dispatchQueue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start translation queue: %w", err)
	}

	jobSweeper := sweeper.New(&sweeper.Config{
		Logger:     appLogger.Component("sweeper"),
		Store:      jobStore,
		Clock:      systemClock,
		Schedule:   cfg.Translation.SweepSchedule,
		Retention:  cfg.Translation.Retention,
		MaxRetries: cfg.Translation.MaxRetries,
	})
	if err := jobSweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job sweeper: %w", err)
	}

	hub := broadcast.NewHub(appLogger.Component("broadcast"), cfg.Chat.HeartbeatInterval)
	go hub.Run(ctx)

	tracker := presence.NewTracker(appLogger.Component("presence"), hub, systemClock, cfg.Chat.TypingWindow)

	healthChecks := map[string]handler.HealthCheck{
		"database": dbClient.HealthCheck,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}
	if rabbitClient != nil {
		healthChecks["rabbitmq"] = rabbitClient.HealthCheck
	}

	r := initRouter(cfg, &handler.Dependencies{
		Logger:       appLogger.Component("api"),
		Clock:        systemClock,
		Messages:     chatstorage.NewStorage(dbClient.GetDB()),
		Membership:   membership.NewStore(redisClient, cfg.Chat.MembershipPrefix),
		Hub:          hub,
		Typing:       tracker,
		Translations: translation.NewService(appLogger.Component("translation"), jobStore, dispatchQueue, systemClock),
		Results:      results,
		Queue:        dispatchQueue,
		Upgrader:     ws.NewUpgrader(cfg.Chat.AllowedOrigins),
		HistoryLimit: cfg.Chat.HistoryLimit,
		// Hub heartbeats cover room streams; user streams ping on the same period.
		ResultPingPeriod: cfg.Chat.HeartbeatInterval,
		HealthChecks:     healthChecks,
		HealthDetail: map[string]handler.HealthDetail{
			"database": func() any { return dbClient.Stats() },
		},
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	appLogger.Info("Chat service is running",
		slog.String("address", addr),
		slog.Bool("relay_enabled", relay != nil),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case serveErr = <-errChan:
		appLogger.Error("Server failed", slog.Any("error", serveErr))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	tracker.Stop()
	jobSweeper.Stop()
	dispatchQueue.Stop()
	if relay != nil {
		relay.Stop()
	}
	cancel()

	appLogger.Info("Chat service shutdown complete")
	return serveErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   cfg.TimeFormat,
	})
}

// initDatabase opens the configured SQL database and applies the schema
func initDatabase(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, error) {
	client, err := database.NewClient(&database.Config{
		Driver:          cfg.Driver,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := client.Migrate(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// initRedis connects the membership store backend
func initRedis(cfg *config.RedisConfig, logger *slog.Logger) (*goredis.Client, error) {
	return redis.NewClient(&redis.Config{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ publisher used by the result relay
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, deps *handler.Dependencies) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps, router.Options{
		Validator:      auth.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		AllowedOrigins: cfg.Chat.AllowedOrigins,
	})
}
