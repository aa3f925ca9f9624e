package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	ObsHTTPAddr  string
	DatabaseURL  string
	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string
	JWTSecret    string
	JWTIssuer    string
	JWTAudience  string
	InstanceID   string
	ServiceName  string

	RateLimitRequests int
	RateLimitWindow   string
}

func Load() *Config {
	// Local development convenience; missing .env is fine
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:     fixPort(getEnv("HTTP_PORT", ":8080")),
		ObsHTTPAddr:  fixPort(getEnv("OBS_HTTP_PORT", ":9090")),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "pairchat-events"),
		JWTSecret:    getEnv("JWT_SECRET", "secret"),
		JWTIssuer:    getEnv("JWT_ISSUER", ""),
		JWTAudience:  getEnv("JWT_AUDIENCE", ""),
		InstanceID:   getEnv("INSTANCE_ID", getEnv("HOSTNAME", "")),
		ServiceName:  getEnv("SERVICE_NAME", "pairchat"),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 300),
		RateLimitWindow:   getEnv("RATE_LIMIT_WINDOW", "1m"),
	}
}

func fixPort(port string) string {
	if port != "" && !strings.HasPrefix(port, ":") {
		return ":" + port
	}
	return port
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
