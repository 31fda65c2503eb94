package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Redis     RedisConfig
	DB        DBConfig
	Auth      AuthConfig
	Server    ServerConfig
	RateLimit RateLimitConfig
	Reconcile ReconcileConfig
}

type DBConfig struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	LogSQL       bool
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type ServerConfig struct {
	Port string
}

type RateLimitConfig struct {
	Rate string
}

type ReconcileConfig struct {
	MaxAttempts int
}

func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, using environment variables")
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	maxOpen, _ := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "20"))
	logSQL, _ := strconv.ParseBool(getEnv("DB_LOG_SQL", "false"))
	attempts, _ := strconv.Atoi(getEnv("RECONCILE_MAX_ATTEMPTS", "3"))
	ttl, err := time.ParseDuration(getEnv("JWT_TTL", "24h"))
	if err != nil {
		ttl = 24 * time.Hour
	}

	return Config{
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
			Enabled:  getEnv("REDIS_ENABLED", "true") == "true",
		},
		DB: DBConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			DSN:          getEnv("GARAGE_DSN", ""),
			MaxOpenConns: maxOpen,
			LogSQL:       logSQL,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			TokenTTL:  ttl,
		},
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		RateLimit: RateLimitConfig{
			Rate: getEnv("RATE_LIMIT", "300-M"),
		},
		Reconcile: ReconcileConfig{
			MaxAttempts: attempts,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
