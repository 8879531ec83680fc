package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sashko-guz/kvstore/internal/storage"
	"github.com/sashko-guz/kvstore/internal/storage/drivers"
)

type Config struct {
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	StorageTimeout time.Duration
	MaxValueBytes  int64
	EnableMetrics  bool
	LogLevel       string

	Storage storage.Config
}

// Load reads the configuration from the environment. Variables that are
// unset or malformed keep their defaults.
func Load() *Config {
	return &Config{
		Port:              getEnv("PORT", "8000"),
		ReadTimeout:       getEnvDurationSeconds("HTTP_READ_TIMEOUT_SECONDS", 5),
		ReadHeaderTimeout: getEnvDurationSeconds("HTTP_READ_HEADER_TIMEOUT_SECONDS", 2),
		WriteTimeout:      getEnvDurationSeconds("HTTP_WRITE_TIMEOUT_SECONDS", 30),
		IdleTimeout:       getEnvDurationSeconds("HTTP_IDLE_TIMEOUT_SECONDS", 120),
		MaxHeaderBytes:    getEnvInt("HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   getEnvDurationSeconds("SHUTDOWN_TIMEOUT_SECONDS", 15),

		StorageTimeout: getEnvDurationSeconds("STORAGE_TIMEOUT_SECONDS", 0),
		MaxValueBytes:  int64(getEnvInt("MAX_VALUE_BYTES", 0)),
		EnableMetrics:  getEnvBool("ENABLE_METRICS", false),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		Storage: loadStorage(),
	}
}

func loadStorage() storage.Config {
	httpCfg := &drivers.HTTPConfig{
		MaxIdleConns:          getEnvInt("S3_HTTP_MAX_IDLE_CONNS", 0),
		MaxIdleConnsPerHost:   getEnvInt("S3_HTTP_MAX_IDLE_CONNS_PER_HOST", 0),
		MaxConnsPerHost:       getEnvInt("S3_HTTP_MAX_CONNS_PER_HOST", 0),
		IdleConnTimeout:       getEnvInt("S3_HTTP_IDLE_CONN_TIMEOUT_SECONDS", 0),
		ConnectTimeout:        getEnvInt("S3_HTTP_CONNECT_TIMEOUT_SECONDS", 0),
		RequestTimeout:        getEnvInt("S3_HTTP_REQUEST_TIMEOUT_SECONDS", 0),
		ResponseHeaderTimeout: getEnvInt("S3_HTTP_RESPONSE_HEADER_TIMEOUT_SECONDS", 0),
	}

	return storage.Config{
		Driver: storage.Driver(strings.ToLower(getEnv("STORAGE_BACKEND", string(storage.DriverLocal)))),
		Local: storage.LocalConfig{
			Root: getEnv("STORAGE_DIR", "./storage"),
		},
		S3: drivers.S3Options{
			Bucket:    getEnv("S3_BUCKET", "example-bucket"),
			Region:    getEnv("S3_REGION", "us-east-1"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			BaseURL:   os.Getenv("S3_ENDPOINT"),
		},
		Minio: drivers.MinioOptions{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    getEnv("MINIO_BUCKET", "example-bucket"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			Region:    getEnv("MINIO_REGION", "us-east-1"),
		},
		HTTP: httpCfg,
		Cache: &storage.CacheConfig{
			Memory: storage.MemoryCacheOptions{
				Enabled:   getEnvBool("CACHE_MEMORY_ENABLED", false),
				Kind:      getEnv("CACHE_MEMORY_KIND", "ristretto"),
				MaxSizeMB: getEnvInt("CACHE_MEMORY_MAX_SIZE_MB", 64),
				MaxItems:  getEnvInt("CACHE_MEMORY_MAX_ITEMS", 0),
			},
			Disk: storage.DiskCacheOptions{
				Enabled:        getEnvBool("CACHE_DISK_ENABLED", false),
				Dir:            getEnv("CACHE_DISK_DIR", "./cache"),
				MaxSizeMB:      getEnvInt("CACHE_DISK_MAX_SIZE_MB", 0),
				ClearOnStartup: getEnvBool("CACHE_DISK_CLEAR_ON_STARTUP", false),
			},
			TTLSeconds: getEnvInt("CACHE_TTL_SECONDS", 300),
		},
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}

	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}

// getEnvDurationSeconds accepts 0, which disables the timeout it configures
func getEnvDurationSeconds(key string, defaultSeconds int) time.Duration {
	seconds := defaultSeconds
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
			seconds = parsed
		}
	}
	return time.Duration(seconds) * time.Second
}
