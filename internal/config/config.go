package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env  string
	Port int

	DBURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	QueueName           string
	DeadLetterQueueName string
	VisibilityTimeout   time.Duration
	QueueMaxReceives    int

	SchedulerTick       time.Duration
	SchedulerBatchLimit int
	RecoveryBatchLimit  int

	WorkerConcurrency int
	WorkerHealthAddr  string
	ReaperInterval    time.Duration

	// Raw override string ("30s", "5m"); parsed by the schedule package.
	// Invalid values are ignored there, not here.
	DeliveryTimeOverride string

	AdminJWTSecret string

	OTLPEndpoint string
}

func Load() Config {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	return Config{
		Env:   getEnv("APP_ENV", "dev"),
		Port:  getEnvInt("PORT", 8080),
		DBURL: buildDBURL(),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		QueueName:           getEnv("QUEUE_NAME", "chime:deliveries"),
		DeadLetterQueueName: getEnv("DLQ_NAME", "chime:deliveries:dead"),
		VisibilityTimeout:   time.Duration(getEnvInt("QUEUE_VISIBILITY_TIMEOUT_SECONDS", 30)) * time.Second,
		QueueMaxReceives:    getEnvInt("QUEUE_MAX_RECEIVES", 5),

		SchedulerTick:       time.Duration(getEnvInt("SCHEDULER_TICK_SECONDS", 60)) * time.Second,
		SchedulerBatchLimit: getEnvInt("SCHEDULER_BATCH_LIMIT", 100),
		RecoveryBatchLimit:  getEnvInt("RECOVERY_BATCH_LIMIT", 1000),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		WorkerHealthAddr:  getEnv("WORKER_HEALTH_ADDR", ":8081"),
		ReaperInterval:    time.Duration(getEnvInt("QUEUE_REAPER_INTERVAL_SECONDS", 10)) * time.Second,

		DeliveryTimeOverride: getEnv("DELIVERY_TIME_OVERRIDE", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

func buildDBURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "chime")
	pass := getEnv("DB_PASSWORD", "chime")
	name := getEnv("DB_NAME", "chime")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Println(err)
			return fallback
		}

		return num
	}
	return fallback
}
