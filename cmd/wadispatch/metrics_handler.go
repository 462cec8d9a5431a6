package main

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"wadispatch/internal/metrics"
	"wadispatch/internal/models"
	"wadispatch/internal/service"
	"wadispatch/internal/tracing"
	"wadispatch/pkg/circuitbreaker"
)

type metricsResponse struct {
	metrics.Snapshot
	Delivery   models.DeliveryStatistics    `json:"delivery"`
	QueueDepth map[models.QueueStatus]int64 `json:"queue_depth,omitempty"`
	Breaker    *circuitbreaker.Stats        `json:"breaker,omitempty"`
}

// handleMetrics returns the in-process metrics snapshot together with the
// delivery counters and current queue depth.
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestInfo := tracing.GetRequestInfo(r.Context())
		fields := logrus.Fields{
			service.LogFieldRequestID: requestInfo.RequestID,
			service.LogFieldTraceID:   requestInfo.TraceID,
		}

		resp := metricsResponse{Snapshot: s.deps.Registry.Snapshot()}
		if s.deps.Stats != nil {
			resp.Delivery = s.deps.Stats.GetStatistics()
		}
		if s.deps.Messages != nil {
			depth, err := s.deps.Messages.QueueDepth(r.Context())
			if err != nil {
				s.logger.WithFields(fields).WithError(err).Warn("Failed to read queue depth")
			} else {
				resp.QueueDepth = depth
				for status, n := range depth {
					s.deps.Registry.SetGauge("queue_depth", float64(n),
						map[string]string{"status": string(status)}, "Queue entries by status")
				}
			}
		}
		if s.deps.Breaker != nil {
			st := s.deps.Breaker.BreakerStats()
			resp.Breaker = &st
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(resp); err != nil {
			s.logger.WithFields(fields).WithError(err).Error("Failed to encode metrics response")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		s.logger.WithFields(fields).Debug("Metrics endpoint served")
	}
}
