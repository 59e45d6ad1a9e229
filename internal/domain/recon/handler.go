package recon

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/telecare/revsync/internal/platform/db"
)

// Handler exposes the webhook entry point and the manual reconciliation
// surfaces.
type Handler struct {
	orch          *Orchestrator
	reconciler    *Reconciler
	charges       ChargeFetcher
	webhookSecret string
	log           zerolog.Logger
}

// NewHandler builds a Handler. An empty webhookSecret disables signature
// verification, which is only acceptable outside production; config
// validation enforces that.
func NewHandler(orch *Orchestrator, reconciler *Reconciler, charges ChargeFetcher, webhookSecret string, log zerolog.Logger) *Handler {
	return &Handler{
		orch:          orch,
		reconciler:    reconciler,
		charges:       charges,
		webhookSecret: webhookSecret,
		log:           log.With().Str("component", "recon_handler").Logger(),
	}
}

// RegisterRoutes wires the webhook and admin endpoints.
func (h *Handler) RegisterRoutes(webhooks, admin *echo.Group) {
	webhooks.POST("/stripe", h.HandleStripeWebhook)
	admin.POST("/invoices/:id/sync", h.SyncInvoice)
	admin.GET("/reconciliations", h.ListReconciliations)
}

// HandleStripeWebhook verifies, parses and dispatches one upstream event.
// The response is always 2xx once the payload is structurally valid: failed
// processing is recorded in the ledger, and retrying is the transport's job
// only for malformed or unverifiable deliveries.
func (h *Handler) HandleStripeWebhook(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable payload")
	}

	var event stripe.Event
	if h.webhookSecret != "" {
		event, err = webhook.ConstructEvent(payload, c.Request().Header.Get("Stripe-Signature"), h.webhookSecret)
		if err != nil {
			h.log.Warn().Err(err).Msg("webhook signature verification failed")
			return echo.NewHTTPError(http.StatusBadRequest, "signature verification failed")
		}
	} else if err := json.Unmarshal(payload, &event); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed event payload")
	}

	ctx := c.Request().Context()
	switch event.Type {
	case "charge.succeeded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed charge payload")
		}
		return c.JSON(http.StatusOK, h.orch.Process(ctx, ExtractFromCharge(&ch, event.ID, string(event.Type))))

	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed payment intent payload")
		}
		return c.JSON(http.StatusOK, h.orch.Process(ctx, ExtractFromPaymentIntent(ctx, &pi, h.charges, event.ID, string(event.Type))))

	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed checkout session payload")
		}
		return c.JSON(http.StatusOK, h.orch.Process(ctx, ExtractFromCheckoutSession(&sess, event.ID, string(event.Type))))

	case "invoice.paid", "invoice.payment_succeeded":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed invoice payload")
		}
		return c.JSON(http.StatusOK, h.orch.Process(ctx, ExtractFromInvoice(&inv, event.ID, string(event.Type))))

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed charge payload")
		}
		return c.JSON(http.StatusOK, h.reconciler.ApplyRefund(ctx, refundEventFromCharge(&ch, event.ID, string(event.Type))))

	case "refund.created", "refund.updated":
		var ref stripe.Refund
		if err := json.Unmarshal(event.Data.Raw, &ref); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed refund payload")
		}
		ev := ExtractRefund(&ref, event.ID)
		ev.EventType = string(event.Type)
		return c.JSON(http.StatusOK, h.reconciler.ApplyRefund(ctx, ev))

	default:
		h.log.Debug().Str("event_id", event.ID).Str("event_type", string(event.Type)).
			Msg("unhandled event type acknowledged")
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}
}

// refundEventFromCharge builds a RefundEvent from a charge.refunded payload,
// preferring the newest refund sub-object (which carries the per-refund
// amount) over the charge's cumulative total. When the refund list is absent
// only the charge's lifetime AmountRefunded is available, so the event is
// marked cumulative and the reconciler treats it as a target total rather
// than a fresh delta.
func refundEventFromCharge(ch *stripe.Charge, eventID, eventType string) RefundEvent {
	if ch.Refunds != nil && len(ch.Refunds.Data) > 0 {
		ev := ExtractRefund(ch.Refunds.Data[0], eventID)
		ev.EventType = eventType
		if ev.ChargeRef == "" {
			ev.ChargeRef = ch.ID
		}
		return ev
	}
	ev := RefundEvent{
		EventID:    eventID,
		EventType:  eventType,
		ChargeRef:  ch.ID,
		Amount:     ch.AmountRefunded,
		Cumulative: true,
		Currency:   string(ch.Currency),
	}
	if ch.PaymentIntent != nil {
		ev.PaymentIntentRef = ch.PaymentIntent.ID
	}
	return ev
}

// SyncInvoice runs on-demand drift correction for one invoice.
func (h *Handler) SyncInvoice(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid invoice id")
	}
	out := h.reconciler.SyncInvoice(c.Request().Context(), id)
	if !out.Success {
		return c.JSON(http.StatusUnprocessableEntity, out)
	}
	return c.JSON(http.StatusOK, out)
}

// ListReconciliations pages through the clinic's ledger, newest first.
func (h *Handler) ListReconciliations(c echo.Context) error {
	ctx := c.Request().Context()
	clinicID := db.ClinicFromContext(ctx)
	if clinicID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "clinic scope required")
	}

	limit := queryInt(c, "limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	rows, total, err := h.orch.ledger.List(ctx, clinicID, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Int64("clinic_id", clinicID).Msg("listing reconciliations failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "listing reconciliations failed")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"total":   total,
		"limit":   limit,
		"offset":  offset,
		"results": rows,
	})
}

func queryInt(c echo.Context, name string, def int) int {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
