package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	BotToken    string
	AdminChatID int64
	BotUsername string

	DBSource      string
	RedisAddr     string
	RedisPassword string
	SessionTTL    time.Duration

	Port     string
	Env      string
	APIToken string

	ReferralBonus           decimal.Decimal
	MinReferralWithdrawal   decimal.Decimal
	MinSellAmount           decimal.Decimal
	MaxSellAmount           decimal.Decimal
	MinAddressLength        int
	RestoreRejectedReferral bool

	CoinPaymentsPublicKey  string
	CoinPaymentsPrivateKey string
	CoinPaymentsURL        string
	BuyerRefundEmail       string

	UserRateLimit float64
	UserRateBurst int
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable is required")
	}
	adminRaw := os.Getenv("ADMIN_CHAT_ID")
	if adminRaw == "" {
		return nil, fmt.Errorf("ADMIN_CHAT_ID environment variable is required")
	}
	adminID, err := strconv.ParseInt(adminRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_CHAT_ID must be a numeric chat id: %w", err)
	}

	cfg := &Config{
		BotToken:    token,
		AdminChatID: adminID,
		BotUsername: getEnv("BOT_USERNAME", "USDT2FIATXBOT"),

		DBSource:      os.Getenv("DB_SOURCE"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		Port:     getEnv("SERVER_PORT", "8080"),
		Env:      getEnv("ENVIRONMENT", "development"),
		APIToken: os.Getenv("ADMIN_API_TOKEN"),

		CoinPaymentsPublicKey:  os.Getenv("COINPAYMENTS_PUBLIC_KEY"),
		CoinPaymentsPrivateKey: os.Getenv("COINPAYMENTS_PRIVATE_KEY"),
		CoinPaymentsURL:        os.Getenv("COINPAYMENTS_URL"),
		BuyerRefundEmail:       os.Getenv("BUYER_REFUND_EMAIL"),
	}

	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 0); err != nil {
		return nil, err
	}
	if cfg.ReferralBonus, err = getDecimal("REFERRAL_BONUS", "1.50"); err != nil {
		return nil, err
	}
	if cfg.MinReferralWithdrawal, err = getDecimal("MIN_REFERRAL_WITHDRAWAL", "50.00"); err != nil {
		return nil, err
	}
	if cfg.MinSellAmount, err = getDecimal("MIN_SELL_AMOUNT", "25"); err != nil {
		return nil, err
	}
	if cfg.MaxSellAmount, err = getDecimal("MAX_SELL_AMOUNT", "50000"); err != nil {
		return nil, err
	}
	if cfg.MinSellAmount.GreaterThan(cfg.MaxSellAmount) {
		return nil, fmt.Errorf("MIN_SELL_AMOUNT must not exceed MAX_SELL_AMOUNT")
	}
	if cfg.MinAddressLength, err = getInt("MIN_ADDRESS_LENGTH", 30); err != nil {
		return nil, err
	}
	if cfg.UserRateBurst, err = getInt("USER_RATE_BURST", 5); err != nil {
		return nil, err
	}
	if cfg.UserRateLimit, err = strconv.ParseFloat(getEnv("USER_RATE_LIMIT", "3"), 64); err != nil {
		return nil, fmt.Errorf("USER_RATE_LIMIT: %w", err)
	}

	switch policy := getEnv("REFERRAL_REJECT_POLICY", "forfeit"); policy {
	case "forfeit":
	case "restore":
		cfg.RestoreRejectedReferral = true
	default:
		return nil, fmt.Errorf("REFERRAL_REJECT_POLICY must be forfeit or restore, got %q", policy)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDecimal(key, fallback string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, fallback))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}

// getDuration accepts Go durations ("30m") or plain seconds.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
