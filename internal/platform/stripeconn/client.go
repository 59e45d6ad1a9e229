// Package stripeconn wraps the Stripe SDK behind a process-lifetime client
// handle and the narrow operations the reconciliation pipeline needs:
// customer directory lookup, authoritative charge re-fetch, and subscription
// creation. All calls run with a bounded timeout and a small fixed retry
// budget for rate-limit and server-error responses.
package stripeconn

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

// Config controls the shared Stripe client.
type Config struct {
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

var (
	sharedOnce sync.Once
	sharedAPI  *client.API
)

// shared returns the process-lifetime Stripe API handle, constructing it on
// first use. Safe to call repeatedly; later configs are ignored.
func shared(cfg Config) *client.API {
	sharedOnce.Do(func() {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		api := &client.API{}
		api.Init(cfg.APIKey, stripe.NewBackends(&http.Client{Timeout: timeout}))
		sharedAPI = api
	})
	return sharedAPI
}

// Customer is the connector's view of an upstream customer record.
type Customer struct {
	Ref         string
	Email       string
	Name        string
	Phone       string
	Description string
	Metadata    map[string]string
	AddressLine string
	City        string
	State       string
	PostalCode  string
	Deleted     bool
}

// Connector performs upstream Stripe calls for the reconciliation core.
// A zero API key degrades every call to a logged no-op error so the
// pipeline can continue without enrichment.
type Connector struct {
	api        *client.API
	maxRetries int
	log        zerolog.Logger
	configured bool
}

// New builds a Connector on the shared client handle.
func New(cfg Config, log zerolog.Logger) *Connector {
	c := &Connector{
		maxRetries: cfg.MaxRetries,
		log:        log.With().Str("component", "stripeconn").Logger(),
		configured: cfg.APIKey != "",
	}
	if c.configured {
		c.api = shared(cfg)
	}
	return c
}

// ErrNotConfigured is returned when no Stripe API key was supplied.
var ErrNotConfigured = fmt.Errorf("stripe: api key not configured")

// LookupCustomer fetches the upstream customer record. A missing or deleted
// customer returns (nil, nil): callers treat absence as "continue without
// this data".
func (c *Connector) LookupCustomer(ctx context.Context, customerRef string) (*Customer, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}

	var cust *stripe.Customer
	err := c.withRetry(ctx, "customer.get", func() error {
		params := &stripe.CustomerParams{}
		params.Context = ctx
		var err error
		cust, err = c.api.Customers.Get(customerRef, params)
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stripe: fetch customer %s: %w", customerRef, err)
	}
	if cust == nil || cust.Deleted {
		return nil, nil
	}
	return mapCustomer(cust), nil
}

// FetchCharge retrieves the authoritative charge, with refunds expanded, for
// drift reconciliation.
func (c *Connector) FetchCharge(ctx context.Context, chargeRef string) (*stripe.Charge, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}

	var ch *stripe.Charge
	err := c.withRetry(ctx, "charge.get", func() error {
		params := &stripe.ChargeParams{}
		params.Context = ctx
		params.AddExpand("refunds")
		params.AddExpand("customer")
		var err error
		ch, err = c.api.Charges.Get(chargeRef, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stripe: fetch charge %s: %w", chargeRef, err)
	}
	return ch, nil
}

func mapCustomer(cust *stripe.Customer) *Customer {
	out := &Customer{
		Ref:         cust.ID,
		Email:       cust.Email,
		Name:        cust.Name,
		Phone:       cust.Phone,
		Description: cust.Description,
		Metadata:    cust.Metadata,
	}
	if cust.Address != nil {
		out.AddressLine = cust.Address.Line1
		out.City = cust.Address.City
		out.State = cust.Address.State
		out.PostalCode = cust.Address.PostalCode
	}
	return out
}

// withRetry runs fn, retrying on 429/5xx responses with exponential backoff.
// The retry budget is small and fixed; anything else fails immediately.
func (c *Connector) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !isRetryable(err) || attempt >= c.maxRetries {
			return err
		}

		delay := backoffDelay(attempt)
		c.log.Warn().
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Err(err).
			Msg("stripe call failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func backoffDelay(attempt int) time.Duration {
	return 500 * time.Millisecond << uint(attempt)
}

func isRetryable(err error) bool {
	serr, ok := err.(*stripe.Error)
	if !ok {
		return false
	}
	return serr.HTTPStatusCode == http.StatusTooManyRequests || serr.HTTPStatusCode >= 500
}

func isNotFound(err error) bool {
	serr, ok := err.(*stripe.Error)
	if !ok {
		return false
	}
	return serr.HTTPStatusCode == http.StatusNotFound
}
