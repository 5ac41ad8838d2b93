package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	NodeID      int64

	HTTPAddr        string
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Analysis   AnalysisConfig
	Attachment AttachmentConfig
	RateLimit  RateLimitConfig
}

type AnalysisConfig struct {
	Provider string

	AzureEndpoint string
	AzureKey      string
	Language      string

	GeminiAPIKey   string
	GeminiModel    string
	MaxTextLength  int
	RequestTimeout time.Duration
}

type AttachmentConfig struct {
	Backend   string
	Container string

	CloudinaryURL       string
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string

	LocalDir      string
	PublicBaseURL string
}

type RateLimitConfig struct {
	Enabled   bool
	RedisAddr string
	RedisPass string
	RedisDB   int
	Rate      float64
	Burst     int
}

const (
	AnalysisProviderAzure  = "azure"
	AnalysisProviderGemini = "gemini"

	AttachmentBackendLocal      = "local"
	AttachmentBackendCloudinary = "cloudinary"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:         getenv("APP_SERVICE", "feedbackhub"),
		AppVersion:      getenv("APP_VERSION", "0.1.0"),
		Environment:     getenv("ENVIRONMENT", "development"),
		NodeID:          getenvInt64("SNOWFLAKE_NODE_ID", 1),
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		ShutdownTimeout: getenvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxUploadBytes:  getenvInt64("MAX_UPLOAD_BYTES", 10<<20),
		OTLPEndpoint:    getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "postgres")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "feedback"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "feedback.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Analysis: AnalysisConfig{
			Provider:       strings.ToLower(getenv("ANALYSIS_PROVIDER", AnalysisProviderAzure)),
			AzureEndpoint:  strings.TrimRight(strings.TrimSpace(getenv("AZURE_LANGUAGE_ENDPOINT", "")), "/"),
			AzureKey:       strings.TrimSpace(getenv("AZURE_LANGUAGE_KEY", "")),
			Language:       getenv("ANALYSIS_LANGUAGE", "en"),
			GeminiAPIKey:   strings.TrimSpace(getenv("GEMINI_API_KEY", "")),
			GeminiModel:    getenv("GEMINI_MODEL", "gemini-2.5-flash"),
			MaxTextLength:  getenvInt("ANALYSIS_MAX_TEXT_LENGTH", 5120),
			RequestTimeout: getenvDuration("ANALYSIS_REQUEST_TIMEOUT", 15*time.Second),
		},
		Attachment: AttachmentConfig{
			Backend:             strings.ToLower(getenv("ATTACHMENT_BACKEND", AttachmentBackendLocal)),
			Container:           getenv("ATTACHMENT_CONTAINER", "feedback-uploads"),
			CloudinaryURL:       strings.TrimSpace(getenv("CLOUDINARY_URL", "")),
			CloudinaryCloudName: strings.TrimSpace(getenv("CLOUDINARY_CLOUD_NAME", "")),
			CloudinaryAPIKey:    strings.TrimSpace(getenv("CLOUDINARY_API_KEY", "")),
			CloudinaryAPISecret: strings.TrimSpace(getenv("CLOUDINARY_API_SECRET", "")),
			LocalDir:            getenv("ATTACHMENT_LOCAL_DIR", "./data"),
			PublicBaseURL:       strings.TrimRight(getenv("ATTACHMENT_PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		},
		RateLimit: RateLimitConfig{
			Enabled:   getenvBool("SUBMIT_RATE_LIMIT_ENABLED", false),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			RedisPass: getenv("REDIS_PASSWORD", ""),
			RedisDB:   getenvInt("REDIS_DB", 0),
			Rate:      getenvFloat("SUBMIT_RATE_LIMIT_RATE", 0.5),
			Burst:     getenvInt("SUBMIT_RATE_LIMIT_BURST", 5),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	return int(getenvInt64(key, int64(def)))
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
