package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	StaticDir  string

	StoreBackend string
	RedisURL     string
	RedisKey     string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	Location       string
	Currency       string
	IntervalNights int

	CapacityMin     int
	CapacityMax     int
	DefaultCapacity int
	DefaultAxisMax  int

	MapCenterLat float64
	MapCenterLng float64

	MaxConcurrency   int
	RateLimitMs      int
	MaxRetries       int
	RefreshTimeoutMs int

	ChromeBin string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", "127.0.0.1:8000"),
		StaticDir:  getEnv("STATIC_DIR", "./static"),

		StoreBackend: getEnv("STORE_BACKEND", "redis"),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisKey:     getEnv("REDIS_KEY", "stl:dataset"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "viewer"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "viewer123"),
		PostgresDB:       getEnv("POSTGRES_DB", "rental_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		Location:       getEnv("SEARCH_LOCATION", "*"),
		Currency:       getEnv("SEARCH_CURRENCY", "EUR"),
		IntervalNights: getEnvInt("SEARCH_INTERVAL_NIGHTS", 1),

		CapacityMin:     getEnvInt("CAPACITY_MIN", 1),
		CapacityMax:     getEnvInt("CAPACITY_MAX", 16),
		DefaultCapacity: getEnvInt("DEFAULT_CAPACITY", 4),
		DefaultAxisMax:  getEnvInt("DEFAULT_AXIS_MAX", 100),

		MapCenterLat: getEnvFloat("MAP_CENTER_LAT", 48.845916),
		MapCenterLng: getEnvFloat("MAP_CENTER_LNG", 2.551666),

		MaxConcurrency:   getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:      getEnvInt("RATE_LIMIT_MS", 2000),
		MaxRetries:       getEnvInt("MAX_RETRIES", 3),
		RefreshTimeoutMs: getEnvInt("REFRESH_TIMEOUT_MS", 300000),

		ChromeBin: getEnv("CHROME_BIN", ""),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// ClampCapacity forces a capacity threshold into the configured range.
func (c *Config) ClampCapacity(capacity int) int {
	if capacity < c.CapacityMin {
		return c.CapacityMin
	}
	if capacity > c.CapacityMax {
		return c.CapacityMax
	}
	return capacity
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}
