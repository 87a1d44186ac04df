package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendFile     = "file"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// StoreConfig selects and configures the medicine backend.
type StoreConfig struct {
	Backend  string
	DataFile string
	BoltFile string
	Database DatabaseConfig
}

// DatabaseConfig holds PostgreSQL connection settings, used only by the
// postgres backend.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

type LogConfig struct {
	Mode       string
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type MetricsConfig struct {
	Enabled bool
	Token   string
}

// AppConfig is populated from environment variables. A .env file is picked up
// by importing _ "github.com/joho/godotenv/autoload" in main; real environment
// variables take precedence.
type AppConfig struct {
	Port             string
	Store            StoreConfig
	Log              LogConfig
	Metrics          MetricsConfig
	AllowedOrigins   []string
	WriteLimitPerMin int
	ShutdownTimeout  time.Duration
}

func Load() *AppConfig {
	return &AppConfig{
		Port: getEnv("PORT", "8000"),
		Store: StoreConfig{
			Backend:  strings.ToLower(getEnv("STORE_BACKEND", BackendFile)),
			DataFile: getEnv("DATA_FILE", "data.json"),
			BoltFile: getEnv("BOLT_FILE", "medicines.db"),
			Database: DatabaseConfig{
				Host:               getEnv("DB_HOST", ""),
				Port:               getEnv("DB_PORT", "5432"),
				User:               getEnv("DB_USER", ""),
				Password:           getEnv("DB_PASSWORD", ""),
				Name:               getEnv("DB_NAME", ""),
				SSLMode:            getEnv("DB_SSLMODE", "disable"),
				MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
				MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
				ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
			},
		},
		Log: LogConfig{
			Mode:       getEnv("LOG_MODE", "production"),
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 64),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 7),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 7),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", false),
			Token:   getEnv("METRICS_TOKEN", ""),
		},
		AllowedOrigins:   getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		WriteLimitPerMin: getEnvInt("WRITE_LIMIT_PER_MIN", 0),
		ShutdownTimeout:  getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
