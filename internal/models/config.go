package models

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Database DatabaseConfig `json:"database" mapstructure:"database"`
	Gateway  GatewayConfig  `json:"gateway" mapstructure:"gateway"`
	Queue    QueueConfig    `json:"queue" mapstructure:"queue"`
	Health   HealthConfig   `json:"health" mapstructure:"health"`
	Redis    RedisConfig    `json:"redis" mapstructure:"redis"`
	Webhook  WebhookConfig  `json:"webhook" mapstructure:"webhook"`
	Tracing  TracingConfig  `json:"tracing" mapstructure:"tracing"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	// Production enables the stricter security validation.
	Production bool `json:"production" mapstructure:"production"`
}

type ServerConfig struct {
	Port            int `json:"port" mapstructure:"port"`
	ReadTimeoutSec  int `json:"read_timeout_sec" mapstructure:"read_timeout_sec"`
	WriteTimeoutSec int `json:"write_timeout_sec" mapstructure:"write_timeout_sec"`
	IdleTimeoutSec  int `json:"idle_timeout_sec" mapstructure:"idle_timeout_sec"`
}

// DatabaseConfig selects and configures the message store.
type DatabaseConfig struct {
	Driver           string `json:"driver" mapstructure:"driver"` // sqlite or postgres
	Path             string `json:"path" mapstructure:"path"`
	URL              string `json:"url" mapstructure:"url"`
	MinConns         int    `json:"min_conns" mapstructure:"min_conns"`
	MaxConns         int    `json:"max_conns" mapstructure:"max_conns"`
	EncryptionSecret string `json:"encryption_secret" mapstructure:"encryption_secret"`
	RetentionDays    int    `json:"retention_days" mapstructure:"retention_days"`
}

// GatewayConfig configures the WhatsApp Cloud API client.
type GatewayConfig struct {
	APIBaseURL         string `json:"api_base_url" mapstructure:"api_base_url"`
	APIVersion         string `json:"api_version" mapstructure:"api_version"`
	PhoneNumberID      string `json:"phone_number_id" mapstructure:"phone_number_id"`
	AccessToken        string `json:"access_token" mapstructure:"access_token"`
	TimeoutSec         int    `json:"timeout_sec" mapstructure:"timeout_sec"`
	BreakerMaxFailures int    `json:"breaker_max_failures" mapstructure:"breaker_max_failures"`
	BreakerResetSec    int    `json:"breaker_reset_sec" mapstructure:"breaker_reset_sec"`
}

// QueueConfig holds queue processing and retry configuration
type QueueConfig struct {
	ProcessIntervalSec int     `json:"process_interval_sec" mapstructure:"process_interval_sec"`
	BatchSize          int     `json:"batch_size" mapstructure:"batch_size"`
	MaxRetries         int     `json:"max_retries" mapstructure:"max_retries"`
	RetryBaseMs        int     `json:"retry_base_ms" mapstructure:"retry_base_ms"`
	RetryMultiplier    float64 `json:"retry_multiplier" mapstructure:"retry_multiplier"`
	RetryMaxDelayMs    int     `json:"retry_max_delay_ms" mapstructure:"retry_max_delay_ms"`
	StaleProcessingSec int     `json:"stale_processing_sec" mapstructure:"stale_processing_sec"`
	SweepIntervalSec   int     `json:"sweep_interval_sec" mapstructure:"sweep_interval_sec"`
}

type HealthConfig struct {
	CheckIntervalSec int   `json:"check_interval_sec" mapstructure:"check_interval_sec"`
	CheckTimeoutSec  int   `json:"check_timeout_sec" mapstructure:"check_timeout_sec"`
	DailyQuota       int64 `json:"daily_quota" mapstructure:"daily_quota"`
}

// RedisConfig enables the shared quota counter. When disabled the counter
// is kept in process memory.
type RedisConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Address  string `json:"address" mapstructure:"address"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
}

type WebhookConfig struct {
	VerifyToken string `json:"verify_token" mapstructure:"verify_token"`
	AppSecret   string `json:"app_secret" mapstructure:"app_secret"`
}

type TracingConfig struct {
	Enabled        bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName    string  `json:"service_name" mapstructure:"service_name"`
	ServiceVersion string  `json:"service_version" mapstructure:"service_version"`
	Environment    string  `json:"environment" mapstructure:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate" mapstructure:"sample_rate"`
	UseConsole     bool    `json:"use_console" mapstructure:"use_console"`
}

type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	FilePath  string `json:"file_path" mapstructure:"file_path"`
	MaxSizeMB int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxFiles  int    `json:"max_files" mapstructure:"max_files"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
