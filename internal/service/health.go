package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"wadispatch/internal/constants"
	"wadispatch/internal/metrics"
	"wadispatch/internal/models"
	"wadispatch/pkg/whatsapp/types"
)

// QuotaReader reports how many messages were sent today.
type QuotaReader interface {
	Used(ctx context.Context) (int64, error)
}

// HealthGauge exports the overall status as 2 healthy, 1 degraded, 0 down.
type HealthGauge interface {
	SetGatewayHealth(v float64)
}

type HealthConfig struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
	DailyQuota    int64
}

type healthCheck struct {
	name string
	run  func(ctx context.Context) error
}

// checkPanic carries a panic out of a sub-check goroutine.
type checkPanic struct {
	check string
	value interface{}
}

func (p *checkPanic) Error() string {
	return fmt.Sprintf("health check %s panicked: %v", p.check, p.value)
}

// HealthMonitor combines the gateway readiness sub-checks into one report.
type HealthMonitor struct {
	checks   []healthCheck
	cfg      HealthConfig
	registry *metrics.Registry
	gauge    HealthGauge
	logger   *logrus.Entry

	mu   sync.RWMutex
	last *models.HealthReport
}

func NewHealthMonitor(prober types.Prober, quota QuotaReader, cfg HealthConfig, registry *metrics.Registry, gauge HealthGauge, logger *logrus.Logger) *HealthMonitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = constants.DefaultHealthCheckIntervalSec * time.Second
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = constants.DefaultHealthCheckTimeoutSec * time.Second
	}
	if registry == nil {
		registry = metrics.NewRegistry()
	}

	m := &HealthMonitor{
		cfg:      cfg,
		registry: registry,
		gauge:    gauge,
		logger:   componentLogger(logger, "health_monitor"),
	}
	m.checks = []healthCheck{
		{name: models.CheckCredentials, run: prober.CheckCredentials},
		{name: models.CheckConnectivity, run: prober.Ping},
		{name: models.CheckQuota, run: func(ctx context.Context) error { return checkQuota(ctx, quota, cfg.DailyQuota) }},
		{name: models.CheckSender, run: func(ctx context.Context) error { return checkSender(ctx, prober) }},
	}
	return m
}

func checkQuota(ctx context.Context, quota QuotaReader, dailyQuota int64) error {
	if dailyQuota <= 0 || quota == nil {
		return nil
	}
	used, err := quota.Used(ctx)
	if err != nil {
		return err
	}
	if used >= dailyQuota {
		return fmt.Errorf("daily quota exhausted (%d/%d)", used, dailyQuota)
	}
	return nil
}

func checkSender(ctx context.Context, prober types.Prober) error {
	profile, err := prober.SenderProfile(ctx)
	if err != nil {
		return err
	}
	if profile.VerifiedName == "" {
		return fmt.Errorf("sender has no verified name")
	}
	if profile.QualityRating == types.QualityRed {
		return fmt.Errorf("sender quality rating is %s", profile.QualityRating)
	}
	return nil
}

// CheckAPIStatus runs every sub-check concurrently. A sub-check error marks
// it unhealthy and the report degraded; a panic anywhere yields down. It
// never panics itself.
func (m *HealthMonitor) CheckAPIStatus(ctx context.Context) (report models.HealthReport) {
	report = models.HealthReport{
		Details:   make(map[string]models.CheckResult, len(m.checks)),
		CheckedAt: time.Now().UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			report.Status = models.HealthStatusDown
			report.Error = fmt.Sprintf("health check panicked: %v", r)
		}
	}()

	results := make([]models.CheckResult, len(m.checks))
	var g errgroup.Group
	for i, c := range m.checks {
		i, c := i, c
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					results[i] = models.CheckResult{Healthy: false, Error: "panic"}
					err = &checkPanic{check: c.name, value: r}
				}
			}()
			results[i] = m.runCheck(ctx, c)
			return nil
		})
	}
	waitErr := g.Wait()

	healthy := true
	for i, c := range m.checks {
		report.Details[c.name] = results[i]
		healthy = healthy && results[i].Healthy
	}

	var panicked *checkPanic
	switch {
	case stderrors.As(waitErr, &panicked):
		report.Status = models.HealthStatusDown
		report.Error = panicked.Error()
	case healthy:
		report.Status = models.HealthStatusHealthy
	default:
		report.Status = models.HealthStatusDegraded
	}
	return report
}

func (m *HealthMonitor) runCheck(ctx context.Context, c healthCheck) models.CheckResult {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()

	start := time.Now()
	err := c.run(ctx)
	result := models.CheckResult{
		Healthy:   err == nil,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

// Start checks on every interval, caches the latest report and logs status
// changes.
func (m *HealthMonitor) Start(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	m.logger.WithField("check_interval", m.cfg.CheckInterval.String()).Info("Starting health monitor")
	m.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}

// Refresh runs a check, records it and returns the report.
func (m *HealthMonitor) Refresh(ctx context.Context) models.HealthReport {
	report := m.CheckAPIStatus(ctx)

	m.mu.Lock()
	previous := m.last
	m.last = &report
	m.mu.Unlock()

	m.record(report)

	if previous == nil || previous.Status != report.Status {
		entry := m.logger.WithFields(logrus.Fields{
			LogFieldStatus: report.Status,
			"previous":     previousStatus(previous),
			"details":      report.Details,
		})
		switch report.Status {
		case models.HealthStatusHealthy:
			entry.Info("Gateway health changed")
		case models.HealthStatusDegraded:
			entry.Warn("Gateway health changed")
		default:
			entry.WithField("error", report.Error).Error("Gateway health changed")
		}
	}
	return report
}

// LastReport returns the most recent report from Refresh, if any.
func (m *HealthMonitor) LastReport() (models.HealthReport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return models.HealthReport{}, false
	}
	return *m.last, true
}

func (m *HealthMonitor) record(report models.HealthReport) {
	v := healthValue(report.Status)
	m.registry.SetGauge("gateway_health_status", v, nil, "Gateway health: 2 healthy, 1 degraded, 0 down")
	for name, res := range report.Details {
		ok := 0.0
		if res.Healthy {
			ok = 1
		}
		m.registry.SetGauge("gateway_subcheck_healthy", ok, map[string]string{"check": name}, "Gateway sub-check health")
	}
	if m.gauge != nil {
		m.gauge.SetGatewayHealth(v)
	}
}

func healthValue(s models.HealthStatus) float64 {
	switch s {
	case models.HealthStatusHealthy:
		return 2
	case models.HealthStatusDegraded:
		return 1
	default:
		return 0
	}
}

func previousStatus(r *models.HealthReport) string {
	if r == nil {
		return "unknown"
	}
	return string(r.Status)
}
