package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"wadispatch/internal/constants"
	apperrors "wadispatch/internal/errors"
	"wadispatch/internal/events"
	"wadispatch/internal/metrics"
	"wadispatch/internal/middleware"
	"wadispatch/internal/models"
	"wadispatch/internal/service"
	"wadispatch/internal/tracing"
	"wadispatch/internal/validation"
	"wadispatch/pkg/circuitbreaker"
)

type messageEnqueuer interface {
	Enqueue(ctx context.Context, req service.EnqueueRequest) (*service.EnqueueResult, error)
}

type batchTrigger interface {
	Trigger()
}

type healthRefresher interface {
	Refresh(ctx context.Context) models.HealthReport
}

type conversationReader interface {
	ListConversation(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	QueueDepth(ctx context.Context) (map[models.QueueStatus]int64, error)
}

type statisticsReader interface {
	GetStatistics() models.DeliveryStatistics
}

type breakerReporter interface {
	BreakerStats() circuitbreaker.Stats
}

type eventSubscriber interface {
	Subscribe() (<-chan events.StatusEvent, func())
}

// ServerDeps are the components the HTTP API fronts.
type ServerDeps struct {
	Enqueuer   messageEnqueuer
	Processor  batchTrigger
	Health     healthRefresher
	Messages   conversationReader
	Stats      statisticsReader
	Sink       service.StatsSink
	Events     eventSubscriber
	Breaker    breakerReporter
	Registry   *metrics.Registry
	Prometheus http.Handler
}

type Server struct {
	router    *mux.Router
	cfg       *models.Config
	deps      ServerDeps
	logger    *logrus.Logger
	errLogger *apperrors.Logger
	server    *http.Server
	verbose   bool
}

func NewServer(cfg *models.Config, deps ServerDeps, logger *logrus.Logger, verbose bool) *Server {
	if deps.Registry == nil {
		deps.Registry = metrics.NewRegistry()
	}
	if deps.Sink == nil {
		deps.Sink = service.NewMultiSink()
	}
	s := &Server{
		router:    mux.NewRouter(),
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		errLogger: apperrors.NewLogger(logger),
		verbose:   verbose,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.deps.Registry, s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	if s.deps.Prometheus != nil {
		s.router.Handle("/metrics/prometheus", s.deps.Prometheus).Methods(http.MethodGet)
	}

	s.router.HandleFunc("/messages", s.handleEnqueue()).Methods(http.MethodPost)
	// Registered before the conversation route, which would otherwise match "events".
	s.router.HandleFunc("/messages/events", s.handleEvents()).Methods(http.MethodGet)
	s.router.HandleFunc("/messages/{conversationId}", s.handleConversation()).Methods(http.MethodGet)
	s.router.HandleFunc("/queue/process", s.handleProcess()).Methods(http.MethodPost)

	webhook := middleware.WebhookObservabilityMiddleware(s.deps.Registry, s.logger, "whatsapp")
	s.router.Handle("/webhooks/whatsapp", webhook(s.handleWebhookVerify())).Methods(http.MethodGet)
	s.router.Handle("/webhooks/whatsapp", webhook(s.handleWebhookStatus())).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	port := s.cfg.Server.Port
	if port == 0 {
		port = constants.DefaultServerPort
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  secondsOr(s.cfg.Server.ReadTimeoutSec, constants.DefaultServerReadTimeoutSec),
		WriteTimeout: secondsOr(s.cfg.Server.WriteTimeoutSec, constants.DefaultServerWriteTimeoutSec),
		IdleTimeout:  secondsOr(s.cfg.Server.IdleTimeoutSec, constants.DefaultServerIdleTimeoutSec),
	}

	s.logger.WithField("port", port).Info("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func secondsOr(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

func (s *Server) handleEnqueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.EnqueueRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, constants.MaxRequestBodyBytes))
		if err := dec.Decode(&req); err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body").
				WithUserMessage("request body must be a JSON object"))
			return
		}

		ctx := context.WithValue(r.Context(), service.VerboseContextKey, s.verbose)
		res, err := s.deps.Enqueuer.Enqueue(ctx, req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, res)
	}
}

func (s *Server) handleConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := mux.Vars(r)["conversationId"]

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				s.writeError(w, r, apperrors.NewValidationError("limit", raw, "limit must be an integer"))
				return
			}
			limit = n
		}

		msgs, err := s.deps.Messages.ListConversation(r.Context(), conversationID, validation.ValidateConversationLimit(limit))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if msgs == nil {
			msgs = []models.Message{}
		}
		s.writeJSON(w, http.StatusOK, msgs)
	}
}

func (s *Server) handleProcess() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.deps.Processor.Trigger()
		s.writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := s.deps.Health.Refresh(r.Context())

		status := http.StatusOK
		if report.Status == models.HealthStatusDown {
			status = http.StatusServiceUnavailable
		}
		s.writeJSON(w, status, report)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("Failed to encode response")
	}
}

// writeError maps err onto the JSON error envelope and logs it with its
// error code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := tracing.GetRequestID(r.Context())
	status := apperrors.HTTPStatusCode(err)

	fields := logrus.Fields{service.LogFieldRequestID: requestID}
	if status >= http.StatusInternalServerError {
		s.errLogger.LogError(err, "Request failed", fields)
	} else {
		s.errLogger.LogWarn(err, "Request rejected", fields)
	}

	s.writeJSON(w, status, apperrors.ToHTTPResponse(err, requestID))
}
