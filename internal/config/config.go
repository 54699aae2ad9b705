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

// Config holds all the configuration variables for the wallet service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	VTUAPIBaseURL           string `mapstructure:"VTU_API_BASE_URL"`
	VTUAPIKey               string `mapstructure:"VTU_API_KEY"`
	PaystackSecretKey       string `mapstructure:"PAYSTACK_SECRET_KEY"`
	PaystackCallbackURL     string `mapstructure:"PAYSTACK_CALLBACK_URL"`
	JWTSecret               string `mapstructure:"JWT_SECRET"`
	SweepIntervalSeconds    int    `mapstructure:"SWEEP_INTERVAL_SECONDS"`
	FundingMaxAgeHours      int    `mapstructure:"FUNDING_MAX_AGE_HOURS"`
	FundingGraceHours       int    `mapstructure:"FUNDING_GRACE_HOURS"`
	SpendRateLimitPerMinute int    `mapstructure:"SPEND_RATE_LIMIT_PER_MINUTE"`
	PINMaxAttempts          int    `mapstructure:"PIN_MAX_ATTEMPTS"`
	PINLockoutSeconds       int    `mapstructure:"PIN_LOCKOUT_SECONDS"`
	WorkerPoolSize          int    `mapstructure:"WORKER_POOL_SIZE"`
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
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "vendapay:rate_limit")
	viper.SetDefault("SWEEP_INTERVAL_SECONDS", 60)
	viper.SetDefault("FUNDING_MAX_AGE_HOURS", 24)
	viper.SetDefault("FUNDING_GRACE_HOURS", 48)
	viper.SetDefault("SPEND_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("PIN_MAX_ATTEMPTS", 5)
	viper.SetDefault("PIN_LOCKOUT_SECONDS", 900)
	viper.SetDefault("WORKER_POOL_SIZE", 8)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("VTU_API_BASE_URL")
	_ = viper.BindEnv("VTU_API_KEY")
	_ = viper.BindEnv("PAYSTACK_SECRET_KEY")
	_ = viper.BindEnv("PAYSTACK_CALLBACK_URL")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("SWEEP_INTERVAL_SECONDS")
	_ = viper.BindEnv("FUNDING_MAX_AGE_HOURS")
	_ = viper.BindEnv("FUNDING_GRACE_HOURS")
	_ = viper.BindEnv("SPEND_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("PIN_MAX_ATTEMPTS")
	_ = viper.BindEnv("PIN_LOCKOUT_SECONDS")
	_ = viper.BindEnv("WORKER_POOL_SIZE")

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

	// Platform-assigned port wins when present.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "vendapay:rate_limit"
	}

	// Clamp obviously broken values back to defaults.
	if config.SweepIntervalSeconds < 10 {
		config.SweepIntervalSeconds = 60
	}
	if config.FundingMaxAgeHours <= 0 {
		config.FundingMaxAgeHours = 24
	}
	if config.FundingGraceHours < config.FundingMaxAgeHours {
		config.FundingGraceHours = 48
	}
	if config.SpendRateLimitPerMinute < 0 {
		config.SpendRateLimitPerMinute = 0
	}
	if config.PINMaxAttempts <= 0 {
		config.PINMaxAttempts = 5
	}
	if config.PINLockoutSeconds <= 0 {
		config.PINLockoutSeconds = 900
	}
	if config.WorkerPoolSize <= 0 || config.WorkerPoolSize > 64 {
		config.WorkerPoolSize = 8
	}

	return
}
