package services

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// StripeService charges cards through the Stripe API. Amounts are taken in
// the store's currency units and converted to cents on the wire.
type StripeService struct {
	api *client.API
}

func NewStripeService(secretKey string) *StripeService {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeService{api: api}
}

// Charge creates a one-off charge against the given card token and returns
// the Stripe charge id. The idempotency key dedupes re-issued charges for
// the same payment at the Stripe side.
func (s *StripeService) Charge(ctx context.Context, token string, amount float64, idempotencyKey, description string) (string, error) {
	params := &stripe.ChargeParams{
		Amount:      stripe.Int64(int64(amount * 100)),
		Currency:    stripe.String(string(stripe.CurrencyUSD)),
		Description: stripe.String(description),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	if err := params.SetSource(token); err != nil {
		return "", fmt.Errorf("set charge source: %w", err)
	}

	ch, err := s.api.Charges.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe charge: %w", err)
	}
	return ch.ID, nil
}
