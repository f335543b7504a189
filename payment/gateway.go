package payment

import (
	"context"
	"fmt"

	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap"
)

// Gateway is the payment collaborator contract used by the core: create or
// confirm a payment intent keyed by order. Refunds are never initiated here.
type Gateway interface {
	CreateIntent(ctx context.Context, orderNumber string, amountCents int64, currency string) (string, error)
	IsPaid(ctx context.Context, intentID string) (bool, error)
}

// GatewayError wraps a non-2xx response from the payment gateway
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway returned status %d: %s", e.StatusCode, e.Message)
}

// StripeOptions provides initialization parameters for StripeGateway
type StripeOptions struct {
	Client *client.API
	Logger *zap.Logger
}

// StripeGateway implements Gateway on top of Stripe PaymentIntents
type StripeGateway struct {
	StripeOptions
}

var _ Gateway = &StripeGateway{}

// NewStripeClient returns an initialized Stripe API client
func NewStripeClient(key string) *client.API {
	sc := &client.API{}
	sc.Init(key, nil)
	return sc
}

// NewStripeGateway returns a StripeGateway
func NewStripeGateway(option StripeOptions) (*StripeGateway, error) {
	if option.Client == nil {
		return nil, fmt.Errorf("nil Client is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &StripeGateway{
		StripeOptions: option,
	}, nil
}

// CreateIntent creates a PaymentIntent for the order. The idempotency key is
// derived deterministically from the order number, so a crash-and-retry of
// order creation cannot double-charge.
func (g *StripeGateway) CreateIntent(ctx context.Context, orderNumber string, amountCents int64, currency string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(shortuuid.NewWithNamespace("order:" + orderNumber)),
			Metadata: map[string]string{
				"orderNumber": orderNumber,
			},
		},
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
	}
	intent, err := g.Client.PaymentIntents.New(params)
	if err != nil {
		return "", wrapStripeError(err)
	}
	return intent.ID, nil
}

// IsPaid re-reads the intent state from Stripe; the core never trusts a
// locally carried payment flag
func (g *StripeGateway) IsPaid(ctx context.Context, intentID string) (bool, error) {
	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	intent, err := g.Client.PaymentIntents.Get(intentID, params)
	if err != nil {
		return false, wrapStripeError(err)
	}
	return intent.Status == stripe.PaymentIntentStatusSucceeded, nil
}

func wrapStripeError(err error) error {
	if sErr, ok := err.(*stripe.Error); ok {
		return &GatewayError{
			StatusCode: sErr.HTTPStatusCode,
			Message:    sErr.Msg,
		}
	}
	return extErrors.Wrap(err, "Cannot reach payment gateway")
}
