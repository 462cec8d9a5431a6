package models

import "time"

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeDocument MessageType = "document"
	MessageTypeAudio    MessageType = "audio"
)

// Valid reports whether t is one of the supported message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeDocument, MessageTypeAudio:
		return true
	}
	return false
}

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

type MessageStatus string

const (
	MessageStatusScheduled MessageStatus = "scheduled"
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusFailed    MessageStatus = "failed"
)

// Terminal reports whether no further delivery transition is possible.
func (s MessageStatus) Terminal() bool {
	return s == MessageStatusSent || s == MessageStatusFailed
}

// Message is one communication unit. Status is the sole source of truth for
// the delivery outcome; Content never changes after creation.
type Message struct {
	ID                string        `json:"id"`
	ConversationID    string        `json:"conversationId"`
	Destination       string        `json:"destination"`
	Content           string        `json:"content"`
	MessageType       MessageType   `json:"messageType"`
	Direction         Direction     `json:"direction"`
	Status            MessageStatus `json:"status"`
	ProviderMessageID *string       `json:"providerMessageId,omitempty"`
	SentAt            *time.Time    `json:"sentAt,omitempty"`
	FailedAt          *time.Time    `json:"failedAt,omitempty"`
	ErrorDetails      *string       `json:"errorDetails,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}
