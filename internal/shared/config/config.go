package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string
	DatabaseURL     string
	SQLitePath      string
	RedisURL        string
	QueueURL        string
	JWTSecret       string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	Converter         string
	ConversionURL     string
	ConversionAPIKey  string
	ConversionTimeout time.Duration
	ConversionDPI     float64

	ExtractionURL     string
	ExtractionAPIKey  string
	ExtractionModel   string
	ExtractionTimeout time.Duration

	StructuringURL     string
	StructuringAPIKey  string
	StructuringModel   string
	StructuringTimeout time.Duration

	CredentialsProvider string
	OAuthTokenURL       string
	OAuthClientID       string
	OAuthClientSecret   string
	OAuthScopes         []string

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	PersistAttempts  int

	MaxFilesPerBatch int
	MaxFileBytes     int64
	BatchRetention   time.Duration
	LookupTimeout    time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")
	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		DatabaseURL:     dbURL,
		SQLitePath:      getEnv("SQLITE_PATH", ""),
		RedisURL:        getEnv("REDIS_URL", ""),
		QueueURL:        getEnv("INGEST_SQS_QUEUE_URL", ""),
		JWTSecret:       getEnv("JWT_SECRET", ""),

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", "ingest/"),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),

		Converter:         normalizeConverter(getEnv("CONVERTER", "http")),
		ConversionURL:     getEnv("CONVERSION_URL", ""),
		ConversionAPIKey:  getEnv("CONVERSION_API_KEY", ""),
		ConversionTimeout: getDuration("CONVERSION_TIMEOUT", 60*time.Second),
		ConversionDPI:     getFloat("CONVERSION_DPI", 150),

		ExtractionURL:     getEnv("EXTRACTION_URL", "https://api.openai.com/v1/chat/completions"),
		ExtractionAPIKey:  getEnv("EXTRACTION_API_KEY", ""),
		ExtractionModel:   getEnv("EXTRACTION_MODEL", "gpt-4o-mini"),
		ExtractionTimeout: getDuration("EXTRACTION_TIMEOUT", 45*time.Second),

		StructuringURL:     getEnv("STRUCTURING_URL", "https://api.openai.com/v1/chat/completions"),
		StructuringAPIKey:  getEnv("STRUCTURING_API_KEY", ""),
		StructuringModel:   getEnv("STRUCTURING_MODEL", "gpt-4o-mini"),
		StructuringTimeout: getDuration("STRUCTURING_TIMEOUT", 90*time.Second),

		CredentialsProvider: strings.ToLower(getEnv("CREDENTIALS_PROVIDER", "env")),
		OAuthTokenURL:       getEnv("OAUTH_TOKEN_URL", ""),
		OAuthClientID:       getEnv("OAUTH_CLIENT_ID", ""),
		OAuthClientSecret:   getEnv("OAUTH_CLIENT_SECRET", ""),
		OAuthScopes:         splitAndTrim(getEnv("OAUTH_SCOPES", "")),

		RetryMaxAttempts: getInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getDuration("RETRY_BASE_DELAY", 300*time.Millisecond),
		RetryMaxDelay:    getDuration("RETRY_MAX_DELAY", 5*time.Second),
		PersistAttempts:  getInt("PERSIST_MAX_ATTEMPTS", 3),

		MaxFilesPerBatch: getInt("MAX_FILES_PER_BATCH", 10),
		MaxFileBytes:     int64(getInt("MAX_FILE_BYTES", 10<<20)),
		BatchRetention:   getDuration("BATCH_RETENTION", 30*time.Minute),
		LookupTimeout:    getDuration("CHECKPOINT_LOOKUP_TIMEOUT", 2*time.Second),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		log.Printf("config %s invalid int %q, using %d", key, raw, def)
		return def
	}
	return val
}

func getFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil || val <= 0 {
		log.Printf("config %s invalid number %q, using %v", key, raw, def)
		return def
	}
	return val
}

// getDuration accepts Go durations ("45s") or plain seconds ("45").
func getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	val, err := time.ParseDuration(raw)
	if err != nil || val <= 0 {
		log.Printf("config %s invalid duration %q, using %s", key, raw, def)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeConverter(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "fitz", "local", "mupdf":
		return "fitz"
	default:
		return "http"
	}
}
