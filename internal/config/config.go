package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Configはアプリ全体の設定
type Config struct {
	Port string // サーバーポート（8080）

	DatabaseURL      string // あればPOSTGRES_*より優先
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     int
	PostgresSSLMode  string

	JWTSecret string // JWT署名シークレット

	GoEnv    string // dev/prod
	LogLevel string

	OmiseSecretKey                string
	OmiseAPIURL                   string
	OmiseWebhookSecret            string
	OmiseWebhookSignatureOptional bool // trueなら署名なしWebhookを警告付きで受ける

	PaymentPollFallback time.Duration // この経過後はrefreshなしでもゲートウェイを見る
	PaymentPollWindow   time.Duration // ポーリングを打ち切るまで

	GitHubToken     string
	VerifyRateLimit float64 // /keys/verify のIPごとの秒間リクエスト数
}

// Loadは環境変数
func Load() (Config, error) {
	cfg := Config{
		Port: getenv("PORT", "8080"),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", "disable"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		GoEnv:    os.Getenv("GO_ENV"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		OmiseSecretKey:     os.Getenv("OMISE_SECRET_KEY"),
		OmiseAPIURL:        getenv("OMISE_API_URL", "https://api.omise.co"),
		OmiseWebhookSecret: os.Getenv("OMISE_WEBHOOK_SECRET"),

		GitHubToken: os.Getenv("GITHUB_TOKEN"),
	}

	var err error
	if cfg.OmiseWebhookSignatureOptional, err = parseBool("OMISE_WEBHOOK_SIGNATURE_OPTIONAL", false); err != nil {
		return Config{}, err
	}
	if cfg.PaymentPollFallback, err = parseDuration("PAYMENT_POLL_FALLBACK", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.PaymentPollWindow, err = parseDuration("PAYMENT_POLL_WINDOW", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.VerifyRateLimit, err = parseFloat("VERIFY_RATE_LIMIT", 5); err != nil {
		return Config{}, err
	}

	//DB接続はDATABASE_URLかPOSTGRES_*のどちらか
	if cfg.DatabaseURL == "" {
		pgPort, err := mustAtoi("POSTGRES_PORT")
		if err != nil {
			return Config{}, err
		}
		cfg.PostgresPort = pgPort

		if cfg.PostgresUser == "" {
			return Config{}, fmt.Errorf("POSTGRES_USER is required")
		}
		if cfg.PostgresPassword == "" {
			return Config{}, fmt.Errorf("POSTGRES_PASSWORD is required")
		}
		if cfg.PostgresDB == "" {
			return Config{}, fmt.Errorf("POSTGRES_DB is required")
		}
		if cfg.PostgresHost == "" {
			return Config{}, fmt.Errorf("POSTGRES_HOST is required")
		}
	}

	//必須チェック
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.GoEnv == "" {
		return Config{}, fmt.Errorf("GO_ENV is required")
	}
	if cfg.OmiseSecretKey == "" {
		return Config{}, fmt.Errorf("OMISE_SECRET_KEY is required")
	}
	if cfg.OmiseWebhookSecret == "" && !cfg.OmiseWebhookSignatureOptional {
		return Config{}, fmt.Errorf("OMISE_WEBHOOK_SECRET is required")
	}
	if cfg.PaymentPollWindow < cfg.PaymentPollFallback {
		return Config{}, fmt.Errorf("PAYMENT_POLL_WINDOW must be >= PAYMENT_POLL_FALLBACK")
	}

	return cfg, nil
}

// Migrate用。DB設定だけ見る
func LoadDatabase() (Config, error) {
	cfg := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", "disable"),
		GoEnv:            getenv("GO_ENV", "prod"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
	}
	if cfg.DatabaseURL != "" {
		return cfg, nil
	}
	pgPort, err := mustAtoi("POSTGRES_PORT")
	if err != nil {
		return Config{}, err
	}
	cfg.PostgresPort = pgPort
	return cfg, nil
}

func (c Config) IsDev() bool {
	return c.GoEnv == "dev"
}

func getenv(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func mustAtoi(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func parseBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be bool: %w", key, err)
	}
	return b, nil
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be duration: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func parseFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	if f <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return f, nil
}
