package models

// Provider receipt statuses carried by status webhooks.
const (
	ReceiptSent      = "sent"
	ReceiptDelivered = "delivered"
	ReceiptRead      = "read"
	ReceiptFailed    = "failed"
)

// WhatsAppWebhookPayload is the envelope the Cloud API posts to the
// webhook endpoint. Only status receipts are consumed.
type WhatsAppWebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

type WebhookValue struct {
	MessagingProduct string          `json:"messaging_product"`
	Statuses         []StatusReceipt `json:"statuses"`
}

// StatusReceipt reports a delivery state change for a previously sent
// message, identified by the provider message id.
type StatusReceipt struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// Receipts flattens every status receipt in the payload.
func (p WhatsAppWebhookPayload) Receipts() []StatusReceipt {
	var out []StatusReceipt
	for _, e := range p.Entry {
		for _, c := range e.Changes {
			out = append(out, c.Value.Statuses...)
		}
	}
	return out
}
