package utils

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every setting read from the environment.
type Config struct {
	Env      string
	Port     string
	LogLevel string

	DBDriver    string
	DatabaseURL string

	JWTSecret string
	JWTTTL    time.Duration

	TokenSecret   string
	PublicBaseURL string

	DefaultCountry     string
	CORSOrigins        []string
	RateLimitPerMinute int
	WebhookSecret      string

	OrderTTL     time.Duration
	OverflowRate float64
	StatelessTTL time.Duration

	GatewayTimeout time.Duration

	PushinPayBaseURL       string
	PushinPayToken         string
	PushinPayOverflowToken string

	SyncPayBaseURL              string
	SyncPayClientID             string
	SyncPayClientSecret         string
	SyncPayOverflowClientID     string
	SyncPayOverflowClientSecret string
	SyncPayDefaultCPF           string

	TelegramBotToken    string
	TelegramAdminChatID int64

	SMTPServer string
	SMTPPort   string
	SMTPUser   string
	SMTPPass   string
	FromAddr   string
	FromName   string

	AdminEmail    string
	AdminPassword string
}

func LoadEnv() {
	godotenv.Load()
}

// LoadConfig reads the process environment (after LoadEnv) into a Config.
func LoadConfig() Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("JWT_TTL", "720h")
	v.SetDefault("DEFAULT_COUNTRY", "BR")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 60)
	v.SetDefault("ORDER_TTL", "2h")
	v.SetDefault("OVERFLOW_RATE", 0)
	v.SetDefault("STATELESS_TTL", "24h")
	v.SetDefault("GATEWAY_TIMEOUT", "15s")
	v.SetDefault("PUSHINPAY_BASE_URL", "https://api.pushinpay.com.br")
	v.SetDefault("SYNCPAY_BASE_URL", "https://api.syncpayments.com.br")

	return Config{
		Env:      v.GetString("APP_ENV"),
		Port:     v.GetString("PORT"),
		LogLevel: v.GetString("LOG_LEVEL"),

		DBDriver:    strings.ToLower(v.GetString("DB_DRIVER")),
		DatabaseURL: v.GetString("DATABASE_URL"),

		JWTSecret: v.GetString("JWT_SECRET"),
		JWTTTL:    v.GetDuration("JWT_TTL"),

		TokenSecret:   v.GetString("TOKEN_SECRET"),
		PublicBaseURL: strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),

		DefaultCountry:     strings.ToUpper(v.GetString("DEFAULT_COUNTRY")),
		CORSOrigins:        splitList(v.GetString("CORS_ORIGINS")),
		RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
		WebhookSecret:      v.GetString("WEBHOOK_SECRET"),

		OrderTTL:     v.GetDuration("ORDER_TTL"),
		OverflowRate: v.GetFloat64("OVERFLOW_RATE"),
		StatelessTTL: v.GetDuration("STATELESS_TTL"),

		GatewayTimeout: v.GetDuration("GATEWAY_TIMEOUT"),

		PushinPayBaseURL:       v.GetString("PUSHINPAY_BASE_URL"),
		PushinPayToken:         v.GetString("PUSHINPAY_TOKEN"),
		PushinPayOverflowToken: v.GetString("PUSHINPAY_OVERFLOW_TOKEN"),

		SyncPayBaseURL:              v.GetString("SYNCPAY_BASE_URL"),
		SyncPayClientID:             v.GetString("SYNCPAY_CLIENT_ID"),
		SyncPayClientSecret:         v.GetString("SYNCPAY_CLIENT_SECRET"),
		SyncPayOverflowClientID:     v.GetString("SYNCPAY_OVERFLOW_CLIENT_ID"),
		SyncPayOverflowClientSecret: v.GetString("SYNCPAY_OVERFLOW_CLIENT_SECRET"),
		SyncPayDefaultCPF:           v.GetString("SYNCPAY_DEFAULT_CPF"),

		TelegramBotToken:    v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramAdminChatID: v.GetInt64("TELEGRAM_ADMIN_CHAT_ID"),

		SMTPServer: v.GetString("SMTP_SERVER"),
		SMTPPort:   v.GetString("SMTP_PORT"),
		SMTPUser:   v.GetString("SMTP_USER"),
		SMTPPass:   v.GetString("SMTP_PASS"),
		FromAddr:   v.GetString("FROM_ADDR"),
		FromName:   v.GetString("FROM_NAME"),

		AdminEmail:    v.GetString("ADMIN_EMAIL"),
		AdminPassword: v.GetString("ADMIN_PASSWORD"),
	}
}

// Production reports whether APP_ENV is "production".
func (c Config) Production() bool {
	return c.Env == "production"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
