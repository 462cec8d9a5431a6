package models

import "time"

type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusDown     HealthStatus = "down"
)

// Sub-check names reported in HealthReport.Details.
const (
	CheckCredentials  = "credentials"
	CheckConnectivity = "connectivity"
	CheckQuota        = "quota"
	CheckSender       = "sender"
)

// CheckResult is the outcome of a single health sub-check.
type CheckResult struct {
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// HealthReport is a point-in-time aggregate of the gateway readiness checks.
type HealthReport struct {
	Status    HealthStatus           `json:"status"`
	Details   map[string]CheckResult `json:"details"`
	Error     string                 `json:"error,omitempty"`
	CheckedAt time.Time              `json:"checked_at"`
}

func (r HealthReport) check(name string) bool {
	res, ok := r.Details[name]
	return ok && res.Healthy
}

func (r HealthReport) CredentialsOK() bool  { return r.check(CheckCredentials) }
func (r HealthReport) ConnectivityOK() bool { return r.check(CheckConnectivity) }
func (r HealthReport) QuotaOK() bool        { return r.check(CheckQuota) }
func (r HealthReport) SenderOK() bool       { return r.check(CheckSender) }

// DeliveryStatistics is a snapshot of the process-wide delivery counters.
type DeliveryStatistics struct {
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Read      int64 `json:"read"`
	Failed    int64 `json:"failed"`
}
