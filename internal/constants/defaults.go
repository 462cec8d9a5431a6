package constants

// Default queue configuration values
const (
	DefaultQueueProcessIntervalSec = 10
	DefaultQueueBatchSize          = 10
	DefaultMaxRetries              = 3
	DefaultRetryBaseMs             = 5000
	DefaultRetryMultiplier         = 2.0
	DefaultRetryMaxDelayMs         = 0
	DefaultStaleProcessingSec      = 300
	DefaultSweepIntervalSec        = 60
	DefaultRetentionDays           = 0
	DefaultRetentionIntervalHours  = 24
	DefaultSweepBatchSize          = 100
	DefaultServerPort              = 8082
)

// Message constraints
const (
	MaxContentLength         = 4096
	MinDestinationDigits     = 7
	MaxDestinationDigits     = 15
	DefaultConversationLimit = 50
	MaxConversationLimit     = 500
	MaxRequestBodyBytes      = 64 << 10
)

// Default timeout values
const (
	DefaultGatewayTimeoutSec      = 30
	DefaultDatabaseRetryAttempts  = 3
	DefaultGracefulShutdownSec    = 30
	DefaultHealthCheckIntervalSec = 60
	DefaultHealthCheckTimeoutSec  = 10
	DefaultBackoffInitialMs       = 500
	DefaultBackoffMaxSec          = 5
	DefaultServerReadTimeoutSec   = 15
	DefaultServerWriteTimeoutSec  = 15
	DefaultServerIdleTimeoutSec   = 60
	DefaultConfigWatchIntervalSec = 5
)

// Gateway defaults
const (
	DefaultGatewayBaseURL        = "https://graph.facebook.com"
	DefaultGatewayAPIVersion     = "v21.0"
	DefaultBreakerMaxFailures    = 5
	DefaultBreakerResetSec       = 30
	DefaultEventSubscriberBuffer = 64
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
	DefaultMessageIDLength = 8
)

// Log rotation defaults
const (
	DefaultLogMaxSizeMB = 50
	DefaultLogMaxFiles  = 5
)
