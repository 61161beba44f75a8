/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`

	FlutterwaveBaseURL     string `mapstructure:"FLUTTERWAVE_BASE_URL"`
	FlutterwaveSecretKey   string `mapstructure:"FLUTTERWAVE_SECRET_KEY"`
	FlutterwaveWebhookHash string `mapstructure:"FLUTTERWAVE_WEBHOOK_HASH"`
	PaymentRedirectURL     string `mapstructure:"PAYMENT_REDIRECT_URL"`

	JWTSecret      string `mapstructure:"JWT_SECRET"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	VerifyRateLimitPerMinute   int `mapstructure:"VERIFY_RATE_LIMIT_PER_MINUTE"`
	TransferRateLimitPerMinute int `mapstructure:"SPARK_TRANSFER_RATE_LIMIT_PER_MINUTE"`

	SubscriptionSweepSchedule string `mapstructure:"SUBSCRIPTION_SWEEP_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("FLUTTERWAVE_BASE_URL", "https://api.flutterwave.com")
	viper.SetDefault("PAYMENT_REDIRECT_URL", "https://app.connecta.work/payments/callback")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "ledger:rate_limit")
	viper.SetDefault("VERIFY_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("SPARK_TRANSFER_RATE_LIMIT_PER_MINUTE", 20)
	viper.SetDefault("SUBSCRIPTION_SWEEP_SCHEDULE", "@every 1h")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("FLUTTERWAVE_BASE_URL")
	_ = viper.BindEnv("FLUTTERWAVE_SECRET_KEY")
	_ = viper.BindEnv("FLUTTERWAVE_WEBHOOK_HASH")
	_ = viper.BindEnv("PAYMENT_REDIRECT_URL")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "LEDGER_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("ALLOWED_ORIGINS")
	_ = viper.BindEnv("VERIFY_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("SPARK_TRANSFER_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("SUBSCRIPTION_SWEEP_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("LEDGER_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "ledger:rate_limit"
	}
	config.FlutterwaveBaseURL = strings.TrimRight(strings.TrimSpace(config.FlutterwaveBaseURL), "/")

	if config.VerifyRateLimitPerMinute <= 0 {
		config.VerifyRateLimitPerMinute = 30
	}
	if config.TransferRateLimitPerMinute <= 0 {
		config.TransferRateLimitPerMinute = 20
	}
	if strings.TrimSpace(config.SubscriptionSweepSchedule) == "" {
		config.SubscriptionSweepSchedule = "@every 1h"
	}

	return
}

// Origins splits the comma-separated ALLOWED_ORIGINS value. An empty value
// disables CORS entirely, which is correct for pure service-to-service use.
func (c Config) Origins() []string {
	raw := strings.TrimSpace(c.AllowedOrigins)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
