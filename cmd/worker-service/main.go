package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/inference-queue/internal/config"
	"github.com/cuongbtq/inference-queue/internal/worker"
	"github.com/cuongbtq/inference-queue/internal/worker/classifier"
	"github.com/cuongbtq/inference-queue/internal/worker/storage"
	"github.com/cuongbtq/inference-queue/shared/logger"
	"github.com/cuongbtq/inference-queue/shared/postgresql"
	"github.com/cuongbtq/inference-queue/shared/rabbitmq"
	"github.com/cuongbtq/inference-queue/shared/redis"
	"github.com/joho/godotenv"
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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	model, err := classifier.New(classifier.Config{
		Type:        cfg.Model.Type,
		WeightsPath: cfg.Model.WeightsPath,
		Label:       cfg.Model.Label,
	})
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	appLogger.Info("Model loaded", slog.String("model", model.Name()))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	redisClient, err := redis.NewClient(ctx, &redis.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		ResultTTL:    cfg.Redis.ResultTTL,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		PoolSize:     cfg.Redis.PoolSize,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	rabbitClient := rabbitmq.NewClient(rabbitMQConfig(&cfg.RabbitMQ), appLogger.Logger)
	if err := rabbitClient.Connect(ctx); err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	if err := rabbitClient.DeclareWorkTopology(); err != nil {
		return fmt.Errorf("failed to declare queue topology: %w", err)
	}

	workerCfg := &worker.Config{
		Logger:      appLogger.Logger,
		Broker:      rabbitClient,
		Store:       redisClient,
		Model:       model,
		Queue:       cfg.RabbitMQ.Work.Queue,
		RetryKey:    cfg.RabbitMQ.DeadLetter.Queue,
		ConsumerTag: consumerTag(cfg.RabbitMQ.Consumer.Tag),
		MaxRetries:  cfg.Worker.MaxRetries,
	}

	if cfg.Database.Enabled() {
		ledger, closeDB, err := initLedger(ctx, &cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize failure ledger: %w", err)
		}
		defer closeDB()
		workerCfg.Ledger = ledger
	}

	workerInstance := worker.NewWorker(workerCfg)

	errChan := make(chan error, 1)
	go func() {
		errChan <- workerInstance.Start(ctx)
	}()

	appLogger.Info("Worker service started successfully")

	select {
	case <-ctx.Done():
		appLogger.Info("Received signal, shutting down gracefully")
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Worker error",
				slog.Any("error", err),
			)
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit",
			slog.Duration("shutdown_timeout", cfg.Worker.ShutdownTimeout),
		)
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      "worker-service",
	})
}

// initLedger connects to PostgreSQL and makes sure the failed_jobs table exists
func initLedger(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*storage.Storage, func(), error) {
	dbClient, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	ledger := storage.NewStorage(dbClient.GetDB(), logger)
	if err := ledger.EnsureSchema(ctx); err != nil {
		dbClient.Close()
		return nil, nil, err
	}

	return ledger, func() { dbClient.Close() }, nil
}

func rabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		URL:                  cfg.URL,
		Host:                 cfg.Host,
		Port:                 cfg.Port,
		User:                 cfg.User,
		Password:             cfg.Password,
		VHost:                cfg.VHost,
		WorkExchange:         cfg.Work.Exchange,
		WorkQueue:            cfg.Work.Queue,
		WorkQueueTTL:         cfg.Work.MessageTTL,
		DeadLetterExchange:   cfg.DeadLetter.Exchange,
		DeadLetterQueue:      cfg.DeadLetter.Queue,
		DeadLetterRoutingKey: cfg.DeadLetter.RoutingKey,
		RetryDelay:           cfg.DeadLetter.RetryDelay,
		RetryAttempts:        cfg.Connection.RetryAttempts,
		RetryInterval:        cfg.Connection.RetryInterval,
		Heartbeat:            cfg.Connection.Heartbeat,
		ConnectionTimeout:    cfg.Connection.ConnectionTimeout,
		PublishTimeout:       cfg.Publish.Timeout,
		PrefetchCount:        cfg.Consumer.PrefetchCount,
	}
}

// consumerTag falls back to one built from the host name and pid
func consumerTag(configured string) string {
	if configured != "" {
		return configured
	}

	host, err := os.Hostname()
	if err != nil {
		return fmt.Sprintf("inference-worker-%d", os.Getpid())
	}
	return fmt.Sprintf("inference-worker-%s-%d", host, os.Getpid())
}
