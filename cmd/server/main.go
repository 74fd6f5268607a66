package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"social_chat/internal/config"
	"social_chat/internal/docstore"
	"social_chat/internal/events"
	"social_chat/internal/handler"
	"social_chat/internal/metrics"
	"social_chat/internal/middleware"
	"social_chat/internal/repository"
	"social_chat/internal/service"
	"social_chat/internal/storage"
	"social_chat/pkg/logger"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger := logger.New(cfg.Log.Level)
	metrics.Init()

	// Подключение к MongoDB: беседы, сообщения, звонки, комнаты
	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		appLogger.Fatal("Failed to connect to MongoDB", "error", err)
	}
	defer func() {
		_ = mongoClient.Disconnect(context.Background())
	}()
	if err := mongoClient.Ping(context.Background(), nil); err != nil {
		appLogger.Fatal("Failed to ping MongoDB", "error", err)
	}
	appLogger.Info("MongoDB connection established")
	store := docstore.NewMongoStore(mongoClient.Database(cfg.Mongo.Database), appLogger)

	// Подключение к PostgreSQL: история звонков и аудит
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", "error", err)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		appLogger.Fatal("Failed to ping database", "error", err)
	}
	appLogger.Info("Database connection established")

	// Подключение к Redis: присутствие, черновики, rate limit
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		appLogger.Fatal("Failed to connect to Redis", "error", err)
	}
	appLogger.Info("Redis connection established")

	// События для сервиса уведомлений
	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, appLogger)
		appLogger.Info("Kafka publisher configured", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	} else {
		appLogger.Warn("Kafka brokers not configured, events are dropped")
	}
	defer publisher.Close()

	uploader, err := storage.NewS3Uploader(context.Background(), cfg.S3, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to init S3 uploader", "error", err)
	}
	if cfg.S3.Bucket == "" {
		appLogger.Warn("S3 bucket not configured, media uploads will fail")
	}

	clk := clock.New()

	// Инициализация репозиториев
	repos := repository.NewRepositories(store, dbPool, rdb, cfg.Presence.RecordTTL, appLogger)

	// Инициализация сервисов
	services := service.NewServices(repos, uploader, publisher, clk, cfg, appLogger)
	defer services.Typing.Close()

	// Инициализация middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.AccessSecret, cfg.JWT.Issuer, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, appLogger)

	// Инициализация handlers
	handlers := handler.NewHandlers(services, repos, cfg, clk, appLogger)

	// Настройка роутера
	router := setupRouter(handlers, authMiddleware, rateLimitMiddleware, cfg, appLogger)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweepEndedCalls(sweepCtx, services.Call, clk, cfg.Calls.SweepInterval, appLogger)

	// WriteTimeout не ставим: WebSocket-потоки живут дольше любого таймаута
	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		appLogger.Info("Starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Ожидание сигнала для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server exited")
}

// sweepEndedCalls периодически архивирует и удаляет завершенные звонки
func sweepEndedCalls(ctx context.Context, calls service.CallService, clk clock.Clock, interval time.Duration, log logger.Logger) {
	if interval <= 0 {
		log.Warn("Call sweep disabled")
		return
	}
	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := calls.CleanupEndedCalls(ctx)
			if err != nil {
				log.Error("Failed to clean up ended calls", "error", err)
				continue
			}
			if removed > 0 {
				log.Info("Ended calls archived", "count", removed)
			}
		}
	}
}

func setupRouter(
	handlers *handler.Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler(log))
	router.Use(middleware.DeviceMiddleware())

	handlers.Register(router, authMiddleware, rateLimitMiddleware)

	return router
}
