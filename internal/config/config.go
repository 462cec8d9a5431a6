package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"wadispatch/internal/constants"
	"wadispatch/internal/models"
	"wadispatch/internal/security"
	"wadispatch/internal/validation"
)

// EnvPrefix prefixes every environment override. WADISPATCH_GATEWAY_ACCESS_TOKEN
// overrides gateway.access_token.
const EnvPrefix = "WADISPATCH"

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	ErrMissingPhoneNumberID = models.ConfigError{Message: "missing gateway phone number id"}
	ErrMissingAccessToken   = models.ConfigError{Message: "missing gateway access token"}
	ErrMissingDBPath        = models.ConfigError{Message: "missing database path"}
	ErrMissingDBURL         = models.ConfigError{Message: "missing database url"}
)

// LoadConfig reads a JSON or YAML file, applies WADISPATCH_ environment
// overrides and fills defaults. An empty path loads from defaults and
// environment only.
func LoadConfig(path string) (*models.Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if err := security.ValidateConfigPath(path); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	if err := validateSecurity(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("production", false)

	v.SetDefault("server.port", constants.DefaultServerPort)
	v.SetDefault("server.read_timeout_sec", constants.DefaultServerReadTimeoutSec)
	v.SetDefault("server.write_timeout_sec", constants.DefaultServerWriteTimeoutSec)
	v.SetDefault("server.idle_timeout_sec", constants.DefaultServerIdleTimeoutSec)

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "wadispatch.db")
	v.SetDefault("database.url", "")
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.encryption_secret", "")
	v.SetDefault("database.retention_days", constants.DefaultRetentionDays)

	v.SetDefault("gateway.api_base_url", constants.DefaultGatewayBaseURL)
	v.SetDefault("gateway.api_version", constants.DefaultGatewayAPIVersion)
	v.SetDefault("gateway.phone_number_id", "")
	v.SetDefault("gateway.access_token", "")
	v.SetDefault("gateway.timeout_sec", constants.DefaultGatewayTimeoutSec)
	v.SetDefault("gateway.breaker_max_failures", constants.DefaultBreakerMaxFailures)
	v.SetDefault("gateway.breaker_reset_sec", constants.DefaultBreakerResetSec)

	v.SetDefault("queue.process_interval_sec", constants.DefaultQueueProcessIntervalSec)
	v.SetDefault("queue.batch_size", constants.DefaultQueueBatchSize)
	v.SetDefault("queue.max_retries", constants.DefaultMaxRetries)
	v.SetDefault("queue.retry_base_ms", constants.DefaultRetryBaseMs)
	v.SetDefault("queue.retry_multiplier", constants.DefaultRetryMultiplier)
	v.SetDefault("queue.retry_max_delay_ms", constants.DefaultRetryMaxDelayMs)
	v.SetDefault("queue.stale_processing_sec", constants.DefaultStaleProcessingSec)
	v.SetDefault("queue.sweep_interval_sec", constants.DefaultSweepIntervalSec)

	v.SetDefault("health.check_interval_sec", constants.DefaultHealthCheckIntervalSec)
	v.SetDefault("health.check_timeout_sec", constants.DefaultHealthCheckTimeoutSec)
	v.SetDefault("health.daily_quota", 0)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("webhook.verify_token", "")
	v.SetDefault("webhook.app_secret", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "wadispatch")
	v.SetDefault("tracing.service_version", "")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.sample_rate", 0.1)
	v.SetDefault("tracing.use_console", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file_path", "")
	v.SetDefault("logging.max_size_mb", constants.DefaultLogMaxSizeMB)
	v.SetDefault("logging.max_files", constants.DefaultLogMaxFiles)
}

func validate(c *models.Config) error {
	if c.Gateway.PhoneNumberID == "" {
		return ErrMissingPhoneNumberID
	}
	if c.Gateway.AccessToken == "" {
		return ErrMissingAccessToken
	}
	if _, err := url.ParseRequestURI(c.Gateway.APIBaseURL); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid gateway api_base_url: %v", err)}
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return ErrMissingDBPath
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			return ErrMissingDBURL
		}
		if err := validation.ValidateConnectionPool(c.Database.MinConns, c.Database.MaxConns); err != nil {
			return err
		}
	default:
		return models.ConfigError{Message: fmt.Sprintf("unsupported database driver: %q", c.Database.Driver)}
	}
	if err := validation.ValidateRetentionDays(c.Database.RetentionDays); err != nil {
		return err
	}

	if c.Queue.MaxRetries < 0 {
		return models.ConfigError{Message: "queue.max_retries cannot be negative"}
	}
	if c.Queue.BatchSize <= 0 {
		c.Queue.BatchSize = constants.DefaultQueueBatchSize
	}
	if c.Queue.ProcessIntervalSec <= 0 {
		c.Queue.ProcessIntervalSec = constants.DefaultQueueProcessIntervalSec
	}
	if c.Queue.RetryBaseMs <= 0 {
		c.Queue.RetryBaseMs = constants.DefaultRetryBaseMs
	}
	if c.Queue.RetryMultiplier < 1 {
		c.Queue.RetryMultiplier = constants.DefaultRetryMultiplier
	}
	if c.Queue.StaleProcessingSec <= 0 {
		c.Queue.StaleProcessingSec = constants.DefaultStaleProcessingSec
	}
	if c.Queue.SweepIntervalSec <= 0 {
		c.Queue.SweepIntervalSec = constants.DefaultSweepIntervalSec
	}
	if c.Gateway.TimeoutSec <= 0 {
		c.Gateway.TimeoutSec = constants.DefaultGatewayTimeoutSec
	}
	if err := validation.ValidateTimeout(c.Gateway.TimeoutSec, "gateway.timeout_sec"); err != nil {
		return err
	}
	if c.Health.DailyQuota < 0 {
		return models.ConfigError{Message: "health.daily_quota cannot be negative"}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port: %d", c.Server.Port)}
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return models.ConfigError{Message: "redis.address is required when redis is enabled"}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing.sample_rate must be between 0 and 1"}
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid logging.level: %q", c.Logging.Level)}
	}
	return nil
}

// validateSecurity applies the production-only rules. Outside production
// it only warns.
func validateSecurity(c *models.Config) error {
	if !c.Production {
		if c.Webhook.AppSecret == "" {
			fmt.Fprintf(os.Stderr, "WARNING: webhook app secret not set; provider status webhooks will be rejected. Set %s_WEBHOOK_APP_SECRET.\n", EnvPrefix)
		}
		return nil
	}

	if c.Webhook.AppSecret == "" {
		return models.ConfigError{Message: fmt.Sprintf("webhook app secret is required in production (set %s_WEBHOOK_APP_SECRET)", EnvPrefix)}
	}
	if c.Webhook.VerifyToken == "" {
		return models.ConfigError{Message: "webhook verify token is required in production"}
	}
	if !strings.HasPrefix(c.Gateway.APIBaseURL, "https://") {
		return models.ConfigError{Message: "gateway api_base_url must use https in production"}
	}
	if c.Logging.Level == "debug" || c.Logging.Level == "trace" {
		return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
	}
	return nil
}
