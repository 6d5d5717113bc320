package stripe

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/helioscale/helioscale/internal/config"
	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/helioscale/helioscale/internal/gateway"
	"github.com/helioscale/helioscale/internal/logger"
	"github.com/stripe/stripe-go/v82"
)

// Client implements gateway.Client on top of the Stripe API. Every
// call is bounded by the configured timeout so a hung gateway request
// cannot stall a billing cycle.
type Client struct {
	sc      *stripe.Client
	timeout time.Duration
	logger  *logger.Logger
}

var _ gateway.Client = (*Client)(nil)

// NewClient creates a new Stripe-backed gateway client.
func NewClient(cfg config.StripeConfig, logger *logger.Logger) *Client {
	return &Client{
		sc:      stripe.NewClient(cfg.SecretKey, nil),
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// callContext bounds a gateway call with the configured timeout.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// wrapErr classifies a Stripe API failure. Deadline hits map to the
// ambiguous gateway-timeout mark so callers know to re-check state
// before acting.
func (c *Client) wrapErr(ctx context.Context, err error, op, resourceID string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ierr.WithError(err).
			WithHint("The payment gateway did not respond in time").
			WithReportableDetails(map[string]any{
				"operation":   op,
				"resource_id": resourceID,
			}).
			Mark(ierr.ErrGatewayTimeout)
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return ierr.WithError(err).
				WithHintf("Resource %s not found at the payment gateway", resourceID).
				Mark(ierr.ErrNotFound)
		}
		return ierr.WithError(err).
			WithHint("The payment gateway rejected the request").
			WithReportableDetails(map[string]any{
				"operation":   op,
				"resource_id": resourceID,
				"stripe_code": string(stripeErr.Code),
			}).
			Mark(ierr.ErrGateway)
	}

	return ierr.WithError(err).
		WithHint("The payment gateway call failed").
		WithReportableDetails(map[string]any{
			"operation":   op,
			"resource_id": resourceID,
		}).
		Mark(ierr.ErrGateway)
}
