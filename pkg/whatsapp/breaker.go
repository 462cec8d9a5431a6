package whatsapp

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"wadispatch/pkg/circuitbreaker"
	"wadispatch/pkg/whatsapp/types"
)

// GuardedClient wraps a Client with a circuit breaker on Send. Only
// transient failures count toward opening the breaker; while it is open
// sends fail fast as transient without touching the network.
type GuardedClient struct {
	types.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedClient builds the breaker-wrapped client. Extra options are
// applied after the defaults.
func NewGuardedClient(inner types.Client, maxFailures uint32, resetAfter time.Duration, logger *logrus.Logger, extra ...circuitbreaker.Option) *GuardedClient {
	opts := []circuitbreaker.Option{
		circuitbreaker.WithFailurePredicate(func(err error) bool {
			return !types.AsDeliveryError(err).Permanent()
		}),
	}
	if logger != nil {
		opts = append(opts, circuitbreaker.WithLogger(logger))
	}
	opts = append(opts, extra...)
	cb := circuitbreaker.New("whatsapp-gateway", maxFailures, resetAfter, opts...)
	return &GuardedClient{Client: inner, breaker: cb}
}

func (g *GuardedClient) Send(ctx context.Context, msg types.OutboundMessage) (*types.SendResult, error) {
	var result *types.SendResult
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var sendErr error
		result, sendErr = g.Client.Send(ctx, msg)
		return sendErr
	})
	if err != nil {
		if circuitbreaker.IsCircuitBreakerError(err) {
			return nil, types.NewTransient("gateway circuit open", err)
		}
		return nil, err
	}
	return result, nil
}

// BreakerStats exposes the breaker state for the metrics endpoint.
func (g *GuardedClient) BreakerStats() circuitbreaker.Stats {
	return g.breaker.GetStats()
}
