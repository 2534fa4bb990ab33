package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds shared runtime configuration for the runner and API services.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string
	LogLevel    string

	ConcurrencyCap     int
	PlatformCap        int
	CoolDown           time.Duration
	NoProxyBackoff     time.Duration
	ProfileLockTimeout time.Duration

	ResolverTimeout      time.Duration
	ResolverAllowedHosts []string
	ResolverUserAgent    string
	RentalRateCapacity   int
	RentalRateRefill     float64

	LivenessURLTemplate string
	LivenessTimeout     time.Duration
	LivenessRPS         float64

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	JournalKey    string
	JournalMaxLen int64

	PostgresDSN string

	ChromePath     string
	SessionTimeout time.Duration

	ImageOutputDir       string
	ImageS3Bucket        string
	ImageS3Region        string
	ImageS3Endpoint      string
	ImageS3PathStyle     bool
	ImageMaxBytes        int64
	ImageMaxEdge         int
	ImageDownloadTimeout time.Duration
}

// DefaultUserAgent is the static browser-like agent sent to the rental service.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Load reads configuration from environment variables with sane defaults for local runs.
func Load() Config {
	return Config{
		Env:         getEnv("APP_ENV", "dev"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		ConcurrencyCap:     getEnvInt("CONCURRENCY_CAP", 1),
		PlatformCap:        getEnvInt("PLATFORM_CAP", runtime.NumCPU()),
		CoolDown:           getEnvDuration("COOL_DOWN", 10*time.Second),
		NoProxyBackoff:     getEnvDuration("NO_PROXY_BACKOFF", 10*time.Second),
		ProfileLockTimeout: getEnvDuration("PROFILE_LOCK_TIMEOUT", 0),

		ResolverTimeout:      getEnvDuration("RESOLVER_TIMEOUT", 60*time.Second),
		ResolverAllowedHosts: getEnvList("RESOLVER_ALLOWED_HOSTS", []string{"proxyxoay.shop", "proxyxoay.org"}),
		ResolverUserAgent:    getEnv("RESOLVER_USER_AGENT", DefaultUserAgent),
		RentalRateCapacity:   getEnvInt("RENTAL_RATE_CAPACITY", 0),
		RentalRateRefill:     getEnvFloat("RENTAL_RATE_REFILL_PER_SEC", 1),

		LivenessURLTemplate: getEnv("LIVENESS_URL_TEMPLATE", "https://graph.facebook.com/%s/picture?type=normal&redirect=false"),
		LivenessTimeout:     getEnvDuration("LIVENESS_TIMEOUT", 30*time.Second),
		LivenessRPS:         getEnvFloat("LIVENESS_RPS", 0),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		JournalKey:    getEnv("JOURNAL_KEY", "scheduler:journal"),
		JournalMaxLen: int64(getEnvInt("JOURNAL_MAX_LEN", 10000)),

		PostgresDSN: getEnv("POSTGRES_DSN", ""),

		ChromePath:     getEnv("CHROME_PATH", ""),
		SessionTimeout: getEnvDuration("SESSION_TIMEOUT", 10*time.Minute),

		ImageOutputDir:       getEnv("IMAGE_OUTPUT_DIR", "./output"),
		ImageS3Bucket:        getEnv("IMAGE_S3_BUCKET", ""),
		ImageS3Region:        getEnv("IMAGE_S3_REGION", "us-east-1"),
		ImageS3Endpoint:      getEnv("IMAGE_S3_ENDPOINT", ""),
		ImageS3PathStyle:     getEnvBool("IMAGE_S3_PATH_STYLE", false),
		ImageMaxBytes:        int64(getEnvInt("IMAGE_MAX_BYTES", 25*1024*1024)),
		ImageMaxEdge:         getEnvInt("IMAGE_MAX_EDGE", 1280),
		ImageDownloadTimeout: getEnvDuration("IMAGE_DOWNLOAD_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
