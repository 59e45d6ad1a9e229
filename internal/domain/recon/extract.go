package recon

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v74"
)

// Extractors reduce each upstream payload shape to the one normalized
// PaymentEvent. Payload ambiguity stops here: nothing past this file looks at
// a raw Stripe object except the drift sync, which re-fetches charges by
// design.

// ExtractFromCharge normalizes a settled charge.
func ExtractFromCharge(ch *stripe.Charge, eventID, eventType string) PaymentEvent {
	ev := PaymentEvent{
		EventID:     eventID,
		EventType:   eventType,
		ChargeRef:   ch.ID,
		Amount:      ch.Amount,
		Currency:    string(ch.Currency),
		Description: ch.Description,
		Metadata:    ch.Metadata,
		PaidAt:      time.Unix(ch.Created, 0).UTC(),
	}
	if ch.Customer != nil {
		ev.CustomerRef = ch.Customer.ID
	}
	if ch.PaymentIntent != nil {
		ev.PaymentIntentRef = ch.PaymentIntent.ID
	}
	if ch.Invoice != nil {
		ev.InvoiceRef = ch.Invoice.ID
	}
	ev.Email = ch.ReceiptEmail
	if bd := ch.BillingDetails; bd != nil {
		ev.Name = bd.Name
		ev.Phone = bd.Phone
		if ev.Email == "" {
			ev.Email = bd.Email
		}
		if addr := bd.Address; addr != nil {
			ev.AddressLine1 = addr.Line1
			ev.AddressLine2 = addr.Line2
			ev.City = addr.City
			ev.State = addr.State
			ev.PostalCode = addr.PostalCode
		}
	}
	return ev
}

// ExtractFromPaymentIntent normalizes a succeeded payment intent. Billing
// details live on the intent's latest charge, which the upstream payload may
// carry as a bare reference; in that case the charge is re-fetched. A failed
// fetch degrades to the intent's own fields.
func ExtractFromPaymentIntent(ctx context.Context, pi *stripe.PaymentIntent, charges ChargeFetcher, eventID, eventType string) PaymentEvent {
	ch := pi.LatestCharge
	if ch != nil && ch.BillingDetails == nil && ch.ID != "" && charges != nil {
		if fetched, err := charges.FetchCharge(ctx, ch.ID); err == nil && fetched != nil {
			ch = fetched
		}
	}

	var ev PaymentEvent
	if ch != nil && ch.BillingDetails != nil {
		ev = ExtractFromCharge(ch, eventID, eventType)
	} else {
		ev = PaymentEvent{EventID: eventID, EventType: eventType}
		if ch != nil {
			ev.ChargeRef = ch.ID
		}
	}

	ev.PaymentIntentRef = pi.ID
	ev.Amount = pi.Amount
	ev.Currency = string(pi.Currency)
	if pi.Description != "" {
		ev.Description = pi.Description
	}
	if len(pi.Metadata) > 0 {
		ev.Metadata = pi.Metadata
	}
	if pi.Customer != nil {
		ev.CustomerRef = pi.Customer.ID
	}
	if ev.Email == "" {
		ev.Email = pi.ReceiptEmail
	}
	if pi.Invoice != nil {
		ev.InvoiceRef = pi.Invoice.ID
	}
	if ev.PaidAt.IsZero() {
		ev.PaidAt = time.Unix(pi.Created, 0).UTC()
	}
	return ev
}

// ExtractFromCheckoutSession normalizes a completed checkout session.
func ExtractFromCheckoutSession(sess *stripe.CheckoutSession, eventID, eventType string) PaymentEvent {
	ev := PaymentEvent{
		EventID:   eventID,
		EventType: eventType,
		Amount:    sess.AmountTotal,
		Currency:  string(sess.Currency),
		Metadata:  sess.Metadata,
		PaidAt:    time.Unix(sess.Created, 0).UTC(),
	}
	if sess.Customer != nil {
		ev.CustomerRef = sess.Customer.ID
	}
	if sess.PaymentIntent != nil {
		ev.PaymentIntentRef = sess.PaymentIntent.ID
	}
	if sess.Invoice != nil {
		ev.InvoiceRef = sess.Invoice.ID
	}
	if cd := sess.CustomerDetails; cd != nil {
		ev.Email = cd.Email
		ev.Name = cd.Name
		ev.Phone = cd.Phone
		if addr := cd.Address; addr != nil {
			ev.AddressLine1 = addr.Line1
			ev.AddressLine2 = addr.Line2
			ev.City = addr.City
			ev.State = addr.State
			ev.PostalCode = addr.PostalCode
		}
	}
	return ev
}

// ExtractFromInvoice normalizes a paid invoice notification.
func ExtractFromInvoice(inv *stripe.Invoice, eventID, eventType string) PaymentEvent {
	ev := PaymentEvent{
		EventID:     eventID,
		EventType:   eventType,
		InvoiceRef:  inv.ID,
		Amount:      inv.AmountPaid,
		Currency:    string(inv.Currency),
		Description: inv.Description,
		Metadata:    inv.Metadata,
		Email:       inv.CustomerEmail,
		Name:        inv.CustomerName,
		Phone:       inv.CustomerPhone,
	}
	ev.HasRecurring = HasRecurringLine(inv)
	if inv.Customer != nil {
		ev.CustomerRef = inv.Customer.ID
	}
	if inv.PaymentIntent != nil {
		ev.PaymentIntentRef = inv.PaymentIntent.ID
	}
	if inv.Charge != nil {
		ev.ChargeRef = inv.Charge.ID
	}
	if ev.Description == "" && inv.Lines != nil && len(inv.Lines.Data) > 0 {
		ev.Description = inv.Lines.Data[0].Description
	}
	if st := inv.StatusTransitions; st != nil && st.PaidAt > 0 {
		ev.PaidAt = time.Unix(st.PaidAt, 0).UTC()
	} else {
		ev.PaidAt = time.Unix(inv.Created, 0).UTC()
	}
	return ev
}

// ExtractRefund normalizes a refund notification.
func ExtractRefund(ref *stripe.Refund, eventID string) RefundEvent {
	ev := RefundEvent{
		EventID:    eventID,
		RefundRef:  ref.ID,
		Amount:     ref.Amount,
		Currency:   string(ref.Currency),
		Reason:     string(ref.Reason),
		RefundedAt: time.Unix(ref.Created, 0).UTC(),
	}
	if ref.Charge != nil {
		ev.ChargeRef = ref.Charge.ID
	}
	if ref.PaymentIntent != nil {
		ev.PaymentIntentRef = ref.PaymentIntent.ID
	}
	return ev
}

// HasRecurringLine reports whether any line item on the upstream invoice is
// priced as a recurring product, which is what gates subscription creation.
func HasRecurringLine(inv *stripe.Invoice) bool {
	if inv == nil || inv.Lines == nil {
		return false
	}
	for _, line := range inv.Lines.Data {
		if line.Price != nil && line.Price.Recurring != nil {
			return true
		}
	}
	return false
}
