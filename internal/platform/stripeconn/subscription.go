package stripeconn

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
)

// CreateSubscription creates a recurring subscription for a customer on the
// given price. Only invoked for invoice line items carrying a recurring
// product; a zero trialDays starts the subscription immediately.
func (c *Connector) CreateSubscription(ctx context.Context, customerRef, priceRef string, trialDays int64, metadata map[string]string) (string, error) {
	if !c.configured {
		return "", ErrNotConfigured
	}

	var sub *stripe.Subscription
	err := c.withRetry(ctx, "subscription.create", func() error {
		params := &stripe.SubscriptionParams{
			Customer: stripe.String(customerRef),
			Items: []*stripe.SubscriptionItemsParams{
				{Price: stripe.String(priceRef)},
			},
		}
		params.Context = ctx
		if trialDays > 0 {
			params.TrialPeriodDays = stripe.Int64(trialDays)
		}
		for k, v := range metadata {
			params.AddMetadata(k, v)
		}
		var err error
		sub, err = c.api.Subscriptions.New(params)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("stripe: create subscription for %s: %w", customerRef, err)
	}
	return sub.ID, nil
}
