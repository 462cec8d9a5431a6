package types

import (
	"errors"
	"fmt"
)

// OutboundMessage is the gateway-facing view of a queued message. For media
// kinds Content is the public URL of the asset.
type OutboundMessage struct {
	To      string
	Kind    MessageKind
	Content string
}

// SendResult carries the provider acknowledgement of an accepted send.
type SendResult struct {
	ProviderMessageID string
	WaID              string
}

// SendMessageRequest is the Cloud API request body for POST /messages.
type SendMessageRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             MessageKind  `json:"type"`
	Text             *TextBody    `json:"text,omitempty"`
	Image            *MediaObject `json:"image,omitempty"`
	Document         *MediaObject `json:"document,omitempty"`
	Audio            *MediaObject `json:"audio,omitempty"`
}

type TextBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type MediaObject struct {
	Link string `json:"link"`
}

// SendMessageResponse is the Cloud API success body.
type SendMessageResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// APIErrorResponse is the Cloud API error envelope.
type APIErrorResponse struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		FBTraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}

// PhoneNumberProfile is the subset of the phone-number node used by the
// sender health check.
type PhoneNumberProfile struct {
	ID                 string `json:"id"`
	VerifiedName       string `json:"verified_name"`
	QualityRating      string `json:"quality_rating"`
	DisplayPhoneNumber string `json:"display_phone_number"`
}

// FailureKind tags a delivery failure as retryable or not.
type FailureKind int

const (
	Transient FailureKind = iota
	Permanent
)

func (k FailureKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// DeliveryError is returned by every gateway send that did not produce a
// provider acknowledgement.
type DeliveryError struct {
	Kind       FailureKind
	StatusCode int
	Code       int
	Reason     string
	Err        error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Code != 0:
		return fmt.Sprintf("%s delivery failure: status %d, code %d: %s", e.Kind, e.StatusCode, e.Code, e.Reason)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s delivery failure: status %d: %s", e.Kind, e.StatusCode, e.Reason)
	default:
		return fmt.Sprintf("%s delivery failure: %s", e.Kind, e.Reason)
	}
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func (e *DeliveryError) Permanent() bool {
	return e.Kind == Permanent
}

func NewTransient(reason string, err error) *DeliveryError {
	return &DeliveryError{Kind: Transient, Reason: reason, Err: err}
}

func NewPermanent(reason string, err error) *DeliveryError {
	return &DeliveryError{Kind: Permanent, Reason: reason, Err: err}
}

// AsDeliveryError extracts a *DeliveryError from err. Errors of any other
// type are reported as transient so that unknown failures are retried.
func AsDeliveryError(err error) *DeliveryError {
	if err == nil {
		return nil
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de
	}
	return NewTransient(err.Error(), err)
}

// ClassifyHTTP maps an HTTP status and Cloud API error code to a kind.
func ClassifyHTTP(statusCode, apiCode int) FailureKind {
	switch {
	case statusCode == 408 || statusCode == 429 || statusCode >= 500:
		return Transient
	case TransientErrorCodes[apiCode]:
		return Transient
	case statusCode >= 400:
		return Permanent
	default:
		return Transient
	}
}
