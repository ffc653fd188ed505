/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - go.uber.org/zap: warnings about coerced values.
 */

package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	defaultServerPort         = "8080"
	defaultLockPrefix         = "disbursement:lock"
	defaultLockTTLSeconds     = 30
	defaultEventExchange      = "disbursement.events"
	defaultDonationEventQueue = "disbursement_service.donations"
	defaultExplorerURL        = "https://horizon-testnet.stellar.org"
	defaultNetworkPassphrase  = "Test SDF Network ; September 2015"
	defaultBaseFee            = 100
	defaultTxValiditySeconds  = 300
	defaultCallTimeoutSeconds = 20
	defaultBreakerMaxFailures = 5
	defaultApprovalThreshold  = 2
	defaultReconcileSchedule  = "@every 1m"
	defaultStaleAfterSeconds  = 120
	defaultActionRateLimit    = 30
	defaultRateLimitPrefix    = "disbursement:rate_limit"
	defaultLogLevel           = "info"
	maxTxValiditySeconds      = 3600
	minTxValiditySeconds      = 30
	maxApprovalThreshold      = 20
)

// Config holds all the configuration variables for the disbursement-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	LockPrefix                 string `mapstructure:"LOCK_PREFIX"`
	LockTTLSeconds             int    `mapstructure:"LOCK_TTL_SECONDS"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	EventExchange              string `mapstructure:"EVENT_EXCHANGE"`
	DonationEventQueue         string `mapstructure:"DONATION_EVENT_QUEUE"`
	LedgerGatewayURL           string `mapstructure:"LEDGER_GATEWAY_URL"`
	LedgerExplorerURL          string `mapstructure:"LEDGER_EXPLORER_URL"`
	LedgerNetworkPassphrase    string `mapstructure:"LEDGER_NETWORK_PASSPHRASE"`
	LedgerBaseFee              int    `mapstructure:"LEDGER_BASE_FEE"`
	LedgerTxValiditySeconds    int    `mapstructure:"LEDGER_TX_VALIDITY_SECONDS"`
	LedgerCallTimeoutSeconds   int    `mapstructure:"LEDGER_CALL_TIMEOUT_SECONDS"`
	LedgerBreakerMaxFailures   int    `mapstructure:"LEDGER_BREAKER_MAX_FAILURES"`
	DefaultApprovalThreshold   int    `mapstructure:"DEFAULT_APPROVAL_THRESHOLD"`
	AuthJWKSURL                string `mapstructure:"AUTH_JWKS_URL"`
	CORSAllowedOrigins         string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	ReconcileSchedule          string `mapstructure:"RECONCILE_SCHEDULE"`
	ReconcileStaleAfterSeconds int    `mapstructure:"RECONCILE_STALE_AFTER_SECONDS"`
	ActionRateLimitPerMinute   int    `mapstructure:"ACTION_RATE_LIMIT_PER_MINUTE"`
	RateLimitPrefix            string `mapstructure:"RATE_LIMIT_PREFIX"`
	LogLevel                   string `mapstructure:"LOG_LEVEL"`
}

// LockTTL is the Redis lock expiry.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// TxValidity is the envelope time bound.
func (c Config) TxValidity() time.Duration {
	return time.Duration(c.LedgerTxValiditySeconds) * time.Second
}

// LedgerCallTimeout bounds each Ledger Gateway call.
func (c Config) LedgerCallTimeout() time.Duration {
	return time.Duration(c.LedgerCallTimeoutSeconds) * time.Second
}

// ReconcileStaleAfter is the processing age after which the reconciler steps in.
func (c Config) ReconcileStaleAfter() time.Duration {
	return time.Duration(c.ReconcileStaleAfterSeconds) * time.Second
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	return LoadConfigWithLogger(path, zap.NewNop())
}

// LoadConfigWithLogger is LoadConfig with warnings about coerced values reported to logger.
func LoadConfigWithLogger(path string, logger *zap.Logger) (config Config, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("config")

	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("LOCK_PREFIX", defaultLockPrefix)
	viper.SetDefault("LOCK_TTL_SECONDS", defaultLockTTLSeconds)
	viper.SetDefault("EVENT_EXCHANGE", defaultEventExchange)
	viper.SetDefault("DONATION_EVENT_QUEUE", defaultDonationEventQueue)
	viper.SetDefault("LEDGER_EXPLORER_URL", defaultExplorerURL)
	viper.SetDefault("LEDGER_NETWORK_PASSPHRASE", defaultNetworkPassphrase)
	viper.SetDefault("LEDGER_BASE_FEE", defaultBaseFee)
	viper.SetDefault("LEDGER_TX_VALIDITY_SECONDS", defaultTxValiditySeconds)
	viper.SetDefault("LEDGER_CALL_TIMEOUT_SECONDS", defaultCallTimeoutSeconds)
	viper.SetDefault("LEDGER_BREAKER_MAX_FAILURES", defaultBreakerMaxFailures)
	viper.SetDefault("DEFAULT_APPROVAL_THRESHOLD", defaultApprovalThreshold)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("RECONCILE_SCHEDULE", defaultReconcileSchedule)
	viper.SetDefault("RECONCILE_STALE_AFTER_SECONDS", defaultStaleAfterSeconds)
	viper.SetDefault("ACTION_RATE_LIMIT_PER_MINUTE", defaultActionRateLimit)
	viper.SetDefault("RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("LOG_LEVEL", defaultLogLevel)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "DISBURSEMENT_REDIS_URL")
	_ = viper.BindEnv("LOCK_PREFIX")
	_ = viper.BindEnv("LOCK_TTL_SECONDS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("DONATION_EVENT_QUEUE")
	_ = viper.BindEnv("LEDGER_GATEWAY_URL")
	_ = viper.BindEnv("LEDGER_EXPLORER_URL")
	_ = viper.BindEnv("LEDGER_NETWORK_PASSPHRASE")
	_ = viper.BindEnv("LEDGER_BASE_FEE")
	_ = viper.BindEnv("LEDGER_TX_VALIDITY_SECONDS")
	_ = viper.BindEnv("LEDGER_CALL_TIMEOUT_SECONDS")
	_ = viper.BindEnv("LEDGER_BREAKER_MAX_FAILURES")
	_ = viper.BindEnv("DEFAULT_APPROVAL_THRESHOLD")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("RECONCILE_STALE_AFTER_SECONDS")
	_ = viper.BindEnv("ACTION_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("LOG_LEVEL")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("failed to read config file; using environment values", zap.Error(err))
		}
		err = nil
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.ServerPort = strings.TrimSpace(config.ServerPort)
	if config.ServerPort == "" {
		config.ServerPort = defaultServerPort
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.LedgerGatewayURL = strings.TrimRight(strings.TrimSpace(config.LedgerGatewayURL), "/")
	config.LedgerExplorerURL = strings.TrimRight(strings.TrimSpace(config.LedgerExplorerURL), "/")
	config.AuthJWKSURL = strings.TrimSpace(config.AuthJWKSURL)
	config.LogLevel = strings.ToLower(strings.TrimSpace(config.LogLevel))

	config.LockPrefix = defaultString(config.LockPrefix, defaultLockPrefix)
	config.EventExchange = defaultString(config.EventExchange, defaultEventExchange)
	config.DonationEventQueue = defaultString(config.DonationEventQueue, defaultDonationEventQueue)
	config.LedgerExplorerURL = defaultString(config.LedgerExplorerURL, defaultExplorerURL)
	config.LedgerNetworkPassphrase = defaultString(config.LedgerNetworkPassphrase, defaultNetworkPassphrase)
	config.ReconcileSchedule = defaultString(config.ReconcileSchedule, defaultReconcileSchedule)
	config.RateLimitPrefix = defaultString(config.RateLimitPrefix, defaultRateLimitPrefix)
	config.LogLevel = defaultString(config.LogLevel, defaultLogLevel)

	if config.LockTTLSeconds <= 0 {
		config.LockTTLSeconds = defaultLockTTLSeconds
	}
	if config.LedgerBaseFee < defaultBaseFee {
		log.Warn("ledger base fee below network minimum; raising", zap.Int("base_fee", config.LedgerBaseFee))
		config.LedgerBaseFee = defaultBaseFee
	}
	if config.LedgerTxValiditySeconds < minTxValiditySeconds {
		log.Warn("transaction validity too short; raising", zap.Int("seconds", config.LedgerTxValiditySeconds))
		config.LedgerTxValiditySeconds = minTxValiditySeconds
	}
	if config.LedgerTxValiditySeconds > maxTxValiditySeconds {
		log.Warn("transaction validity too long; capping", zap.Int("seconds", config.LedgerTxValiditySeconds))
		config.LedgerTxValiditySeconds = maxTxValiditySeconds
	}
	if config.LedgerCallTimeoutSeconds <= 0 {
		config.LedgerCallTimeoutSeconds = defaultCallTimeoutSeconds
	}
	if config.LedgerBreakerMaxFailures <= 0 {
		config.LedgerBreakerMaxFailures = defaultBreakerMaxFailures
	}
	if config.DefaultApprovalThreshold < 1 {
		log.Warn("approval threshold below one; using default", zap.Int("threshold", config.DefaultApprovalThreshold))
		config.DefaultApprovalThreshold = defaultApprovalThreshold
	}
	if config.DefaultApprovalThreshold > maxApprovalThreshold {
		log.Warn("approval threshold too high; capping", zap.Int("threshold", config.DefaultApprovalThreshold))
		config.DefaultApprovalThreshold = maxApprovalThreshold
	}
	if config.ReconcileStaleAfterSeconds <= 0 {
		config.ReconcileStaleAfterSeconds = defaultStaleAfterSeconds
	}
	if config.ActionRateLimitPerMinute < 0 {
		config.ActionRateLimitPerMinute = 0
	}

	return
}

func defaultString(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
