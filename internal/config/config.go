package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	AllowedOrigin string

	// Storage selection: DatabaseURL wins, then SQLitePath; with neither
	// set the in-memory store is used.
	DatabaseURL string
	SQLitePath  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RemoteBaseURL string
	RemoteToken   string

	SyncInterval  time.Duration
	SyncBatchSize int
	BackoffMin    time.Duration
	BackoffMax    time.Duration
	ProbeInterval time.Duration

	AuthSecret            string
	AccessTokenTTLMinutes int

	SummaryTTLSeconds int

	Environment string
	LogLevel    string
}

func Load() Config {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	summaryTTL, err := strconv.Atoi(getEnv("SUMMARY_TTL_SECONDS", "20"))
	if err != nil || summaryTTL < 1 {
		summaryTTL = 20
	}

	cfg := Config{
		Port:          getEnv("PORT", "8080"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SQLitePath:    os.Getenv("SQLITE_PATH"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		RemoteBaseURL: strings.TrimSpace(os.Getenv("REMOTE_BASE_URL")),
		RemoteToken:   strings.TrimSpace(os.Getenv("REMOTE_TOKEN")),

		SyncInterval:  getDuration("SYNC_INTERVAL_SECONDS", 300*time.Second),
		SyncBatchSize: getInt("SYNC_BATCH_SIZE", 200),
		BackoffMin:    getDuration("SYNC_BACKOFF_MIN_SECONDS", time.Second),
		BackoffMax:    getDuration("SYNC_BACKOFF_MAX_SECONDS", 60*time.Second),
		ProbeInterval: getDuration("PROBE_INTERVAL_SECONDS", 30*time.Second),

		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,

		SummaryTTLSeconds: summaryTTL,

		Environment: getEnv("APP_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getInt(key string, fallback int) int {
	parsed, err := strconv.Atoi(os.Getenv(key))
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	parsed, err := strconv.Atoi(os.Getenv(key))
	if err != nil || parsed < 1 {
		return fallback
	}
	return time.Duration(parsed) * time.Second
}
