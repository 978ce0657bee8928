package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"litigation-backend/internal/shared/telemetry"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	LogLevel        string
	LogPretty       bool
	DatabaseURL     string
	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	S3Endpoint      string
	SSEKMSKeyID     string
	Minio           MinioConfig
	QueueURL        string
	ServiceSecret   string
	ProvidersFile   string
	CORSAllowOrigin []string
	// CredentialsSeed is "site:account:secret,..." used only by in-memory repositories.
	CredentialsSeed string

	Tokens    TokenConfig
	Pricing   PricingConfig
	Retrieval RetrievalConfig
	Browser   BrowserConfig

	RetrySweepSchedule string
	RetrySweepWindow   time.Duration
	RetrySweepLimit    int
	TokenPruneSchedule string

	WorkerConcurrency int
	WorkerShutdown    time.Duration
}

// MinioConfig configures the MinIO object store backend.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// TokenConfig controls token lifetime and interactive refresh.
type TokenConfig struct {
	// TTL is the lifetime the external site actually grants, not the one it advertises.
	TTL          time.Duration
	LoginTimeout time.Duration
}

// PricingConfig controls the premium-quote endpoint and fan-out.
type PricingConfig struct {
	Site            string
	BaseURL         string
	Path            string
	TokenHeader     string
	InstitutionCode string
	Timeout         time.Duration
	RequestsPerSec  float64
	Burst           int
	MaxConcurrency  int
}

// RetrievalConfig controls document interception, fallback and downloads.
type RetrievalConfig struct {
	Site             string
	TaskURLTemplate  string
	DocumentsPattern string
	InterceptTimeout time.Duration
	ScrapeTimeout    time.Duration
	DownloadTimeout  time.Duration
	DelayMin         time.Duration
	DelayMax         time.Duration
}

// BrowserConfig controls the chromedp allocator.
type BrowserConfig struct {
	ExecPath     string
	Headless     bool
	UserAgent    string
	LoginURL     string
	TokenPattern string
	TokenPath    string
	StorageKey   string

	// AccountSelector and SecretSelector prefill the login form when set.
	AccountSelector string
	SecretSelector  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		telemetry.Error("config.missing_database_url", nil)
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogPretty:       getBool("LOG_PRETTY", false),
		DatabaseURL:     dbURL,
		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),
		Minio: MinioConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "documents"),
			UseSSL:    getBool("MINIO_USE_SSL", false),
		},
		QueueURL:        getEnv("QUEUE_URL", ""),
		ServiceSecret:   getEnv("SERVICE_JWT_SECRET", ""),
		ProvidersFile:   getEnv("PROVIDERS_FILE", "providers.yaml"),
		CORSAllowOrigin: splitList(getEnv("CORS_ALLOW_ORIGIN", "http://localhost:5173")),
		CredentialsSeed: os.Getenv("CREDENTIALS_SEED"),
		Tokens: TokenConfig{
			TTL:          getDuration("TOKEN_TTL", 10*time.Minute),
			LoginTimeout: getDuration("LOGIN_TIMEOUT", 3*time.Minute),
		},
		Pricing: PricingConfig{
			Site:            getEnv("QUOTE_SITE", "court"),
			BaseURL:         getEnv("PRICE_BASE_URL", "https://zxfw.court.gov.cn"),
			Path:            getEnv("PRICE_PATH", "/yzw/yzw-zxfw-bqfw/api/v1/bqfw/premium"),
			TokenHeader:     getEnv("PRICE_TOKEN_HEADER", "Bearer"),
			InstitutionCode: getEnv("PRICE_INSTITUTION_CODE", ""),
			Timeout:         getDuration("PRICE_TIMEOUT", 15*time.Second),
			RequestsPerSec:  getFloat("PRICE_RPS", 4),
			Burst:           getInt("PRICE_BURST", 2),
			MaxConcurrency:  getInt("QUOTE_MAX_CONCURRENCY", 8),
		},
		Retrieval: RetrievalConfig{
			Site:             getEnv("DOCUMENT_SITE", "court"),
			TaskURLTemplate:  getEnv("DOCUMENT_TASK_URL", "https://zxfw.court.gov.cn/zxfw/#/pagesAjkj/app/wssd/index?qdbh={task}"),
			DocumentsPattern: getEnv("DOCUMENT_API_PATTERN", "getWsListBySdbhNew"),
			InterceptTimeout: getDuration("INTERCEPT_TIMEOUT", 30*time.Second),
			ScrapeTimeout:    getDuration("SCRAPE_TIMEOUT", 60*time.Second),
			DownloadTimeout:  getDuration("DOWNLOAD_TIMEOUT", 60*time.Second),
			DelayMin:         getDuration("DOWNLOAD_DELAY_MIN", time.Second),
			DelayMax:         getDuration("DOWNLOAD_DELAY_MAX", 2*time.Second),
		},
		Browser: BrowserConfig{
			ExecPath:     getEnv("BROWSER_EXEC_PATH", ""),
			Headless:     getBool("BROWSER_HEADLESS", true),
			UserAgent:    getEnv("BROWSER_USER_AGENT", ""),
			LoginURL:     getEnv("LOGIN_URL", "https://zxfw.court.gov.cn/zxfw/#/pagesGrzx/pc/login/index"),
			TokenPattern: getEnv("LOGIN_TOKEN_PATTERN", "/api/v1/login"),
			TokenPath:    getEnv("LOGIN_TOKEN_PATH", "data.token"),
			StorageKey:   getEnv("BROWSER_TOKEN_STORAGE_KEY", "token"),

			AccountSelector: getEnv("LOGIN_ACCOUNT_SELECTOR", ""),
			SecretSelector:  getEnv("LOGIN_SECRET_SELECTOR", ""),
		},
		RetrySweepSchedule: getEnv("RETRY_SWEEP_SCHEDULE", "@every 10m"),
		RetrySweepWindow:   getDuration("RETRY_SWEEP_WINDOW", 6*time.Hour),
		RetrySweepLimit:    getInt("RETRY_SWEEP_LIMIT", 50),
		TokenPruneSchedule: getEnv("TOKEN_PRUNE_SCHEDULE", "@every 5m"),
		WorkerConcurrency:  getInt("WORKER_CONCURRENCY", 4),
		WorkerShutdown:     getDuration("WORKER_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return val
}

func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
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
	if err != nil {
		return def
	}
	return val
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil || val <= 0 {
		return def
	}
	return val
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
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
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "minio":
		return "minio"
	default:
		return "local"
	}
}

// IsDevLike reports whether env allows in-memory fallbacks.
func IsDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
