/**
 * @description
 * Configuration management for the enrollment-service. Values come from the
 * environment, optionally seeded from a `.env` file, through Viper.
 *
 * @dependencies
 * - github.com/spf13/viper: configuration loading and env binding.
 */

package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultCompletionThreshold = 0.90
	defaultIntentTTLHours      = 24
)

// Config holds all the configuration variables for the enrollment-service.
type Config struct {
	ServerPort                 string  `mapstructure:"SERVER_PORT"`
	DatabaseURL                string  `mapstructure:"DATABASE_URL"`
	RedisURL                   string  `mapstructure:"REDIS_URL"`
	RedisKeyPrefix             string  `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL                string  `mapstructure:"RABBITMQ_URL"`
	EventsExchange             string  `mapstructure:"EVENTS_EXCHANGE"`
	AlertsExchange             string  `mapstructure:"ALERTS_EXCHANGE"`
	PaymentEventExchange       string  `mapstructure:"PAYMENT_EVENT_EXCHANGE"`
	PaymentEventQueue          string  `mapstructure:"PAYMENT_EVENT_QUEUE"`
	PaymentAPIBaseURL          string  `mapstructure:"PAYMENT_API_BASE_URL"`
	PaymentAPIKey              string  `mapstructure:"PAYMENT_API_KEY"`
	PaymentWebhookSecret       string  `mapstructure:"PAYMENT_WEBHOOK_SECRET"`
	CheckoutSuccessURL         string  `mapstructure:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL          string  `mapstructure:"CHECKOUT_CANCEL_URL"`
	DefaultCurrency            string  `mapstructure:"DEFAULT_CURRENCY"`
	ClerkJWKSURL               string  `mapstructure:"CLERK_JWKS_URL"`
	InternalAPIKey             string  `mapstructure:"INTERNAL_API_KEY"`
	ContentBaseURL             string  `mapstructure:"CONTENT_BASE_URL"`
	PaymentIntentTTLHours      int     `mapstructure:"PAYMENT_INTENT_TTL_HOURS"`
	IntentExpirySchedule       string  `mapstructure:"INTENT_EXPIRY_SCHEDULE"`
	CompletionThreshold        float64 `mapstructure:"COMPLETION_THRESHOLD"`
	CheckoutRateLimitPerMinute int     `mapstructure:"CHECKOUT_RATE_LIMIT_PER_MINUTE"`
	AccessCacheTTLSeconds      int     `mapstructure:"ACCESS_CACHE_TTL_SECONDS"`
	CORSAllowedOriginsRaw      string  `mapstructure:"CORS_ALLOWED_ORIGINS"`

	// CORSAllowedOrigins is CORS_ALLOWED_ORIGINS split on commas.
	CORSAllowedOrigins []string `mapstructure:"-"`
}

// LoadConfig reads configuration from the environment and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_KEY_PREFIX", "enrollment")
	viper.SetDefault("EVENTS_EXCHANGE", "learning.events")
	viper.SetDefault("ALERTS_EXCHANGE", "ops.alerts")
	viper.SetDefault("PAYMENT_EVENT_EXCHANGE", "payments.webhooks")
	viper.SetDefault("DEFAULT_CURRENCY", "USD")
	viper.SetDefault("PAYMENT_INTENT_TTL_HOURS", defaultIntentTTLHours)
	viper.SetDefault("INTENT_EXPIRY_SCHEDULE", "@every 15m")
	viper.SetDefault("COMPLETION_THRESHOLD", defaultCompletionThreshold)
	viper.SetDefault("CHECKOUT_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("ACCESS_CACHE_TTL_SECONDS", 600)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "ENROLLMENT_REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("ALERTS_EXCHANGE")
	_ = viper.BindEnv("PAYMENT_EVENT_EXCHANGE")
	_ = viper.BindEnv("PAYMENT_EVENT_QUEUE")
	_ = viper.BindEnv("PAYMENT_API_BASE_URL")
	_ = viper.BindEnv("PAYMENT_API_KEY")
	_ = viper.BindEnv("PAYMENT_WEBHOOK_SECRET")
	_ = viper.BindEnv("CHECKOUT_SUCCESS_URL")
	_ = viper.BindEnv("CHECKOUT_CANCEL_URL")
	_ = viper.BindEnv("DEFAULT_CURRENCY")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "ENROLLMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("CONTENT_BASE_URL")
	_ = viper.BindEnv("PAYMENT_INTENT_TTL_HOURS")
	_ = viper.BindEnv("INTENT_EXPIRY_SCHEDULE")
	_ = viper.BindEnv("COMPLETION_THRESHOLD")
	_ = viper.BindEnv("COMPLETION_THRESHOLD_PERCENT")
	_ = viper.BindEnv("CHECKOUT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("ACCESS_CACHE_TTL_SECONDS")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("ENROLLMENT_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSuffix(strings.TrimSpace(config.RedisKeyPrefix), ":")
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "enrollment"
	}
	config.PaymentWebhookSecret = strings.TrimSpace(config.PaymentWebhookSecret)
	if config.PaymentWebhookSecret == "" {
		log.Printf("level=warn component=config msg=\"PAYMENT_WEBHOOK_SECRET is empty; every webhook will be rejected\"")
	}

	config.DefaultCurrency = strings.ToUpper(strings.TrimSpace(config.DefaultCurrency))
	if len(config.DefaultCurrency) != 3 {
		log.Printf("level=warn component=config msg=\"invalid DEFAULT_CURRENCY; falling back to USD\" value=%q", config.DefaultCurrency)
		config.DefaultCurrency = "USD"
	}

	// COMPLETION_THRESHOLD_PERCENT (e.g. 90) wins over the fractional form when set.
	if viper.IsSet("COMPLETION_THRESHOLD_PERCENT") {
		raw := strings.TrimSpace(viper.GetString("COMPLETION_THRESHOLD_PERCENT"))
		if raw != "" {
			percent, parseErr := strconv.ParseFloat(raw, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid COMPLETION_THRESHOLD_PERCENT\" value=%q err=%v", raw, parseErr)
			} else {
				config.CompletionThreshold = percent / 100
			}
		}
	}
	if config.CompletionThreshold <= 0 || config.CompletionThreshold > 1 {
		log.Printf("level=warn component=config msg=\"completion threshold out of range; using default\" threshold=%f", config.CompletionThreshold)
		config.CompletionThreshold = defaultCompletionThreshold
	}

	if config.PaymentIntentTTLHours <= 0 {
		config.PaymentIntentTTLHours = defaultIntentTTLHours
	}
	if strings.TrimSpace(config.IntentExpirySchedule) == "" {
		config.IntentExpirySchedule = "@every 15m"
	}
	if config.CheckoutRateLimitPerMinute < 0 {
		config.CheckoutRateLimitPerMinute = 0
	}
	if config.AccessCacheTTLSeconds < 0 {
		config.AccessCacheTTLSeconds = 0
	}
	config.CORSAllowedOrigins = splitOrigins(config.CORSAllowedOriginsRaw)
	if len(config.CORSAllowedOrigins) == 0 {
		log.Printf("level=warn component=config msg=\"CORS_ALLOWED_ORIGINS is empty; browser clients will be refused\"")
	}

	return
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		origin := strings.TrimSuffix(strings.TrimSpace(part), "/")
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
