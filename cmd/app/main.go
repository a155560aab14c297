package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	v1 "github.com/GrayCatHQ/graycat-aiserver/internal/controller/http/v1"
	"github.com/GrayCatHQ/graycat-aiserver/internal/domain/entity"
	"github.com/GrayCatHQ/graycat-aiserver/internal/domain/usecase"
	psqlRepo "github.com/GrayCatHQ/graycat-aiserver/internal/repository/psql"
	"github.com/GrayCatHQ/graycat-aiserver/internal/repository/rabbitmq"
	redisRepo "github.com/GrayCatHQ/graycat-aiserver/internal/repository/redis"
	s3Repo "github.com/GrayCatHQ/graycat-aiserver/internal/repository/s3"
	"github.com/GrayCatHQ/graycat-aiserver/pkg/client/psql"
	redisClient "github.com/GrayCatHQ/graycat-aiserver/pkg/client/redis"
	s3Client "github.com/GrayCatHQ/graycat-aiserver/pkg/client/s3"
	"github.com/GrayCatHQ/graycat-aiserver/pkg/middleware"
	"github.com/GrayCatHQ/graycat-aiserver/pkg/observability"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Config struct {
	HTTPAddr    string
	MetricsAddr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	APITokens []string

	RateLimit       int
	RateLimitWindow time.Duration

	// Optional collaborators; empty settings disable them.
	RabbitMQURL string

	PSQLHost     string
	PSQLPort     int
	PSQLUser     string
	PSQLPassword string
	PSQLDBName   string
	PSQLSSLMode  string

	S3Host      string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
}

func main() {
	logger := observability.NewLogger()
	slog.SetDefault(logger)

	cfg := loadConfig()
	ctx := context.Background()

	rdb, err := redisClient.NewRedisClient(ctx, redisClient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	broker := redisRepo.NewBrokerRepo(rdb)

	var events usecase.EventPublisher
	if cfg.RabbitMQURL != "" {
		conn, err := amqp.Dial(cfg.RabbitMQURL)
		if err != nil {
			slog.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer conn.Close()

		pub, err := rabbitmq.NewEventPublisher(conn, "inference.events", "jobs.lifecycle")
		if err != nil {
			slog.Error("failed to init event publisher", "error", err)
			os.Exit(1)
		}
		events = pub
	}

	var jobLog usecase.JobLogRepo
	if cfg.PSQLHost != "" {
		db, err := psql.NewPostgresDB(psql.Config{
			Host:     cfg.PSQLHost,
			Port:     cfg.PSQLPort,
			User:     cfg.PSQLUser,
			Password: cfg.PSQLPassword,
			DBName:   cfg.PSQLDBName,
			SslMode:  cfg.PSQLSSLMode,
		})
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		if err := db.AutoMigrate(&entity.JobRecord{}); err != nil {
			slog.Error("failed to migrate job records", "error", err)
			os.Exit(1)
		}
		jobLog = psqlRepo.NewGormJobLog(db)
	}

	var archive usecase.Archiver
	if cfg.S3Host != "" {
		storage, err := s3Client.NewS3Client(cfg.S3Host, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket)
		if err != nil {
			slog.Error("failed to init s3 client", "error", err)
			os.Exit(1)
		}
		archive = s3Repo.NewTranscriptRepo(storage)
	}

	uc := usecase.NewDispatchUseCase(broker, events, jobLog, archive)
	handler := v1.NewInferenceHandler(uc)

	if len(cfg.APITokens) == 0 {
		slog.Warn("no API tokens configured, all authenticated requests will be rejected")
	}
	tokens := middleware.NewTokenSet(cfg.APITokens)

	r := gin.Default()
	r.GET("/health", handler.Health)

	authed := r.Group("/", middleware.BearerAuthMiddleware(tokens))
	if cfg.RateLimit > 0 {
		authed.Use(middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RedisClient: rdb,
			Limit:       cfg.RateLimit,
			Window:      cfg.RateLimitWindow,
			KeyPrefix:   "rl:",
		}))
	}
	authed.GET("/", handler.Root)
	authed.POST("/template", handler.GetTemplate)
	authed.POST("/tokenize", handler.Tokenize)
	authed.POST("/completion", handler.Completion)
	authed.POST("/slots", handler.Slots)

	observability.StartMetricsServer(cfg.MetricsAddr)

	slog.Info("gateway starting", "addr", cfg.HTTPAddr)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		slog.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig() Config {
	if err := godotenv.Load("./.env.local"); err != nil {
		slog.Info("no .env file found, falling back to OS environment variables")
	}

	getEnv := func(key, fallback string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		return fallback
	}
	getEnvInt := func(key string, fallback int) int {
		val := os.Getenv(key)
		if val == "" {
			return fallback
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			slog.Error("invalid integer env value", "key", key, "value", val)
			os.Exit(1)
		}
		return n
	}

	var tokens []string
	if raw := os.Getenv("API_TOKENS"); raw != "" {
		tokens = strings.Split(raw, ",")
		slog.Info("loaded API tokens from environment", "count", len(tokens))
	}

	cfg := Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":8081"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASS"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		APITokens: tokens,

		RateLimit:       getEnvInt("RATE_LIMIT", 0),
		RateLimitWindow: time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SEC", 1)) * time.Second,

		RabbitMQURL: buildRabbitURL(),

		PSQLHost:     os.Getenv("PSQL_HOST"),
		PSQLPort:     getEnvInt("PSQL_PORT", 5432),
		PSQLUser:     os.Getenv("PSQL_USER"),
		PSQLPassword: os.Getenv("PSQL_PASSWORD"),
		PSQLDBName:   os.Getenv("PSQL_DB"),
		PSQLSSLMode:  getEnv("PSQL_SSLMODE", "disable"),

		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
	}
	if host := os.Getenv("S3_HOST"); host != "" {
		cfg.S3Host = host + ":" + getEnv("S3_PORT", "9000")
	}
	return cfg
}

func buildRabbitURL() string {
	if url := os.Getenv("RABBITMQ_URL"); url != "" {
		return url
	}
	host := os.Getenv("RABBITMQ_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("RABBITMQ_USER")
	password := os.Getenv("RABBITMQ_PASSWORD")
	port := os.Getenv("RABBITMQ_PORT")
	if port == "" {
		port = "5672"
	}
	return "amqp://" + user + ":" + password + "@" + host + ":" + port + "/"
}
