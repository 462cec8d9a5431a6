package main

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	apperrors "wadispatch/internal/errors"
	"wadispatch/internal/models"
	"wadispatch/internal/privacy"
	"wadispatch/internal/security"
	"wadispatch/internal/service"
)

// handleWebhookVerify answers the Cloud API subscription handshake.
func (s *Server) handleWebhookVerify() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mode := q.Get("hub.mode")
		token := q.Get("hub.verify_token")
		challenge := q.Get("hub.challenge")

		expected := s.cfg.Webhook.VerifyToken
		if mode != "subscribe" || expected == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			s.writeError(w, r, apperrors.NewAuthError("webhook verification failed"))
			return
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
	}
}

// handleWebhookStatus consumes delivery receipts. Receipts feed the delivery
// statistics only; queue entry status is owned by the processor.
func (s *Server) handleWebhookStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := security.VerifySignature(r, s.cfg.Webhook.AppSecret)
		if err != nil {
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeAuthentication, "invalid webhook signature").
				WithUserMessage("invalid webhook signature"))
			return
		}

		var payload models.WhatsAppWebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid webhook payload").
				WithUserMessage("webhook body must be a JSON object"))
			return
		}

		recorded := 0
		for _, receipt := range payload.Receipts() {
			if service.RecordReceipt(s.deps.Sink, receipt.Status) {
				recorded++
			}
			s.logger.WithFields(logrus.Fields{
				service.LogFieldProviderMessageID: privacy.MaskID(receipt.ID),
				service.LogFieldDestination:       privacy.MaskPhoneNumber(receipt.RecipientID),
				service.LogFieldStatus:            receipt.Status,
			}).Debug("Delivery receipt received")
		}

		s.writeJSON(w, http.StatusOK, map[string]int{"recorded": recorded})
	}
}
