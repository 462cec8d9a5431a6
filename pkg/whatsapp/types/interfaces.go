package types

import "context"

// Gateway sends one message and reports its outcome. Failures are always
// *DeliveryError.
type Gateway interface {
	Send(ctx context.Context, msg OutboundMessage) (*SendResult, error)
}

// Prober exposes the read-only calls used by health checks.
type Prober interface {
	CheckCredentials(ctx context.Context) error
	Ping(ctx context.Context) error
	SenderProfile(ctx context.Context) (*PhoneNumberProfile, error)
}

// Client is the full gateway surface.
type Client interface {
	Gateway
	Prober
}
