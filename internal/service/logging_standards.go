package service

// Standard field names for structured logs. Use these exact names so log
// queries work across components.
const (
	// Core identifiers
	LogFieldMessageID         = "message_id"
	LogFieldQueueID           = "queue_id"
	LogFieldConversationID    = "conversation_id"
	LogFieldDestination       = "destination"
	LogFieldProviderMessageID = "provider_message_id"

	// Component and operation
	LogFieldComponent = "component"
	LogFieldOperation = "operation"

	// Queue state
	LogFieldPriority    = "priority"
	LogFieldRetryCount  = "retry_count"
	LogFieldMaxRetries  = "max_retries"
	LogFieldNextRetryAt = "next_retry_at"
	LogFieldStatus      = "status"
	LogFieldMessageType = "message_type"
	LogFieldOutcome     = "outcome"

	// Performance and counts
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldClaimed  = "claimed"

	// HTTP
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"
	LogFieldMethod    = "method"
	LogFieldPath      = "path"
	LogFieldRoute     = "route"
	LogFieldRemoteIP  = "remote_ip"
	LogFieldUserAgent = "user_agent"
	LogFieldSize      = "size_bytes"

	// Errors
	LogFieldErrorCode   = "error_code"
	LogFieldFailureKind = "failure_kind"
	LogFieldStatusCode  = "status_code"
)

// Log levels:
//
// DEBUG: per-entry flow detail, gateway request outcomes.
// INFO: startup and shutdown, batches that claimed work, terminal outcomes.
// WARN: retries, stale entries reclaimed, health degraded, skipped CAS writes.
// ERROR: repository failures, health down.
//
// Destinations are always masked. Message content is never logged.
