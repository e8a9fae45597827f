package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// セッションストアの種別。
const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
	SessionStoreFile     = "file"
)

// 株価プロバイダーの種別。
const (
	QuoteProviderHTTP   = "http"
	QuoteProviderStatic = "static"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Session
	SessionTTL              time.Duration
	SessionStore            string
	SessionFile             string
	SessionSweepInterval    time.Duration
	SessionSweepJobInterval time.Duration

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Ledger
	InitialWalletBalance decimal.Decimal
	Currency             string
	BcryptCost           int

	// Quote
	QuoteProvider     string
	QuoteBaseURL      string
	QuoteAPIToken     string
	QuotePricePath    string
	QuoteTimePath     string
	QuoteTimeout      time.Duration
	QuoteCacheTTL     time.Duration
	QuoteAllowPrivate bool
	QuoteStaticPrices map[string]decimal.Decimal

	// Rate Limit
	RateLimitGeneral int
	RateLimitTrade   int

	// Logging
	LogLevel slog.Level

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	balance, err := getEnvDecimal("INITIAL_WALLET_BALANCE", decimal.NewFromInt(10000))
	if err != nil {
		return nil, err
	}
	cfg.InitialWalletBalance = balance

	prices, err := parseStaticPrices(os.Getenv("QUOTE_STATIC_PRICES"))
	if err != nil {
		return nil, err
	}
	cfg.QuoteStaticPrices = prices

	// Optional fields with defaults
	cfg.SessionTTL = time.Duration(getEnvInt("SESSION_TTL_HOURS", 24)) * time.Hour
	cfg.SessionStore = getEnvChoice("SESSION_STORE", SessionStorePostgres,
		SessionStorePostgres, SessionStoreRedis, SessionStoreFile)
	cfg.SessionFile = getEnvString("SESSION_FILE", "./sessions.json")
	cfg.SessionSweepInterval = getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute)
	cfg.SessionSweepJobInterval = getEnvDuration("SESSION_SWEEP_JOB_INTERVAL", time.Hour)
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.Currency = strings.ToUpper(getEnvString("CURRENCY", "USD"))
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.QuoteProvider = getEnvChoice("QUOTE_PROVIDER", QuoteProviderHTTP,
		QuoteProviderHTTP, QuoteProviderStatic)
	cfg.QuoteBaseURL = strings.TrimRight(getEnvString("QUOTE_BASE_URL", "https://eodhd.com/api"), "/")
	cfg.QuoteAPIToken = getEnvString("QUOTE_API_TOKEN", "demo")
	cfg.QuotePricePath = getEnvString("QUOTE_PRICE_PATH", "$.close")
	cfg.QuoteTimePath = getEnvString("QUOTE_TIME_PATH", "$.timestamp")
	cfg.QuoteTimeout = getEnvDuration("QUOTE_TIMEOUT", 5*time.Second)
	cfg.QuoteCacheTTL = getEnvDuration("QUOTE_CACHE_TTL", 0)
	cfg.QuoteAllowPrivate = getEnvBool("QUOTE_ALLOW_PRIVATE", false)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitTrade = getEnvInt("RATE_LIMIT_TRADE", 30)
	cfg.LogLevel = getEnvLogLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvChoice は許可された値のいずれかを返す。それ以外はデフォルト値。
func getEnvChoice(key, defaultVal string, allowed ...string) string {
	v := strings.ToLower(os.Getenv(key))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return defaultVal
}

func getEnvLogLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}

// getEnvDecimal は金額を読み込む。残高に関わる値のため、不正値はエラーとする。
func getEnvDecimal(key string, defaultVal decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

// parseStaticPrices は "AAPL=189.50,MSFT=411.20" 形式の価格表を解析する。
func parseStaticPrices(v string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal)
	if strings.TrimSpace(v) == "" {
		return prices, nil
	}
	for _, pair := range strings.Split(v, ",") {
		ticker, price, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("invalid QUOTE_STATIC_PRICES entry: %q", pair)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(price))
		if err != nil || !d.IsPositive() {
			return nil, fmt.Errorf("invalid QUOTE_STATIC_PRICES price for %s: %q", ticker, price)
		}
		prices[strings.ToUpper(strings.TrimSpace(ticker))] = d
	}
	return prices, nil
}
