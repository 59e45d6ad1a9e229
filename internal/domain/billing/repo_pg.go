package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/revsync/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Invoice Repository ===========

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

func (r *invoiceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const invCols = `id, clinic_id, patient_id, status, currency, amount_due, amount_paid,
	description, stripe_invoice_id, commission_generated, subscription_created,
	paid_at, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.ClinicID, &inv.PatientID, &inv.Status, &inv.Currency,
		&inv.AmountDue, &inv.AmountPaid, &inv.Description, &inv.StripeInvoiceID,
		&inv.CommissionGenerated, &inv.SubscriptionCreated,
		&inv.PaidAt, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	now := time.Now().UTC()
	inv.CreatedAt, inv.UpdatedAt = now, now
	q := r.conn(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO invoices (id, clinic_id, patient_id, status, currency, amount_due, amount_paid,
			description, stripe_invoice_id, commission_generated, subscription_created, paid_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		inv.ID, inv.ClinicID, inv.PatientID, inv.Status, inv.Currency, inv.AmountDue, inv.AmountPaid,
		inv.Description, inv.StripeInvoiceID, inv.CommissionGenerated, inv.SubscriptionCreated, inv.PaidAt)
	if err != nil {
		return err
	}
	for i := range inv.LineItems {
		li := &inv.LineItems[i]
		if li.ID == uuid.Nil {
			li.ID = uuid.New()
		}
		li.InvoiceID = inv.ID
		if _, err := q.Exec(ctx, `
			INSERT INTO invoice_line_items (id, invoice_id, description, quantity, unit_amount, amount)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			li.ID, li.InvoiceID, li.Description, li.Quantity, li.UnitAmount, li.Amount); err != nil {
			return err
		}
	}
	return nil
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoices WHERE id = $1`, id))
	if err != nil || inv == nil {
		return inv, err
	}
	if err := r.loadLineItems(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *invoiceRepoPG) GetByStripeInvoiceID(ctx context.Context, clinicID int64, ref string) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invCols+` FROM invoices WHERE clinic_id = $1 AND stripe_invoice_id = $2`, clinicID, ref))
	if err != nil || inv == nil {
		return inv, err
	}
	if err := r.loadLineItems(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *invoiceRepoPG) loadLineItems(ctx context.Context, inv *Invoice) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, description, quantity, unit_amount, amount
		FROM invoice_line_items WHERE invoice_id = $1 ORDER BY amount DESC`, inv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var li LineItem
		if err := rows.Scan(&li.ID, &li.InvoiceID, &li.Description, &li.Quantity, &li.UnitAmount, &li.Amount); err != nil {
			return err
		}
		inv.LineItems = append(inv.LineItems, li)
	}
	return rows.Err()
}

func (r *invoiceRepoPG) Update(ctx context.Context, inv *Invoice) error {
	inv.UpdatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoices SET status=$2, amount_due=$3, amount_paid=$4, description=$5,
			stripe_invoice_id=$6, commission_generated=$7, subscription_created=$8,
			paid_at=$9, updated_at=NOW()
		WHERE id = $1`,
		inv.ID, inv.Status, inv.AmountDue, inv.AmountPaid, inv.Description,
		inv.StripeInvoiceID, inv.CommissionGenerated, inv.SubscriptionCreated, inv.PaidAt)
	return err
}

func (r *invoiceRepoPG) ListByPatient(ctx context.Context, clinicID int64, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM invoices WHERE clinic_id = $1 AND patient_id = $2`,
		clinicID, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+invCols+` FROM invoices
		WHERE clinic_id = $1 AND patient_id = $2
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		clinicID, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Invoice
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(&inv.ID, &inv.ClinicID, &inv.PatientID, &inv.Status, &inv.Currency,
			&inv.AmountDue, &inv.AmountPaid, &inv.Description, &inv.StripeInvoiceID,
			&inv.CommissionGenerated, &inv.SubscriptionCreated,
			&inv.PaidAt, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &inv)
	}
	return out, total, rows.Err()
}

// =========== Payment Repository ===========

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pool: pool} }

func (r *paymentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const payCols = `id, clinic_id, patient_id, invoice_id, amount, amount_refunded, currency,
	status, method, stripe_payment_intent_id, stripe_charge_id, received_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.ClinicID, &p.PatientID, &p.InvoiceID, &p.Amount, &p.AmountRefunded,
		&p.Currency, &p.Status, &p.Method, &p.StripePaymentIntentID, &p.StripeChargeID,
		&p.ReceivedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payments (id, clinic_id, patient_id, invoice_id, amount, amount_refunded,
			currency, status, method, stripe_payment_intent_id, stripe_charge_id, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		p.ID, p.ClinicID, p.PatientID, p.InvoiceID, p.Amount, p.AmountRefunded,
		p.Currency, p.Status, p.Method, p.StripePaymentIntentID, p.StripeChargeID, p.ReceivedAt)
	return err
}

func (r *paymentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return scanPayment(r.conn(ctx).QueryRow(ctx, `SELECT `+payCols+` FROM payments WHERE id = $1`, id))
}

func (r *paymentRepoPG) GetByPaymentIntentID(ctx context.Context, clinicID int64, ref string) (*Payment, error) {
	return scanPayment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+payCols+` FROM payments WHERE clinic_id = $1 AND stripe_payment_intent_id = $2`, clinicID, ref))
}

func (r *paymentRepoPG) GetByChargeID(ctx context.Context, clinicID int64, ref string) (*Payment, error) {
	return scanPayment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+payCols+` FROM payments WHERE clinic_id = $1 AND stripe_charge_id = $2`, clinicID, ref))
}

func (r *paymentRepoPG) GetByProcessorRef(ctx context.Context, chargeRef, paymentIntentRef string) (*Payment, error) {
	if chargeRef == "" && paymentIntentRef == "" {
		return nil, nil
	}
	return scanPayment(r.conn(ctx).QueryRow(ctx, `
		SELECT `+payCols+` FROM payments
		WHERE ($1 <> '' AND stripe_charge_id = $1)
		   OR ($2 <> '' AND stripe_payment_intent_id = $2)
		ORDER BY created_at DESC LIMIT 1`, chargeRef, paymentIntentRef))
}

func (r *paymentRepoPG) Update(ctx context.Context, p *Payment) error {
	p.UpdatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE payments SET amount=$2, amount_refunded=$3, status=$4, method=$5,
			stripe_payment_intent_id=$6, stripe_charge_id=$7, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Amount, p.AmountRefunded, p.Status, p.Method,
		p.StripePaymentIntentID, p.StripeChargeID)
	return err
}

func (r *paymentRepoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+payCols+` FROM payments WHERE invoice_id = $1 ORDER BY received_at ASC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.ClinicID, &p.PatientID, &p.InvoiceID, &p.Amount, &p.AmountRefunded,
			&p.Currency, &p.Status, &p.Method, &p.StripePaymentIntentID, &p.StripeChargeID,
			&p.ReceivedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
