package recon

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

type ledgerRepoPG struct{ pool *pgxpool.Pool }

func NewLedgerRepoPG(pool *pgxpool.Pool) LedgerRepository { return &ledgerRepoPG{pool: pool} }

func (r *ledgerRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const ledgerCols = `id, stripe_event_id, event_type, clinic_id,
	extracted_email, extracted_name, extracted_phone, customer_ref,
	status, matched_by, confidence, patient_id, invoice_id, payment_id,
	patient_created, error_message, processed_at`

func scanLedger(row pgx.Row) (*Reconciliation, error) {
	var rec Reconciliation
	err := row.Scan(&rec.ID, &rec.StripeEventID, &rec.EventType, &rec.ClinicID,
		&rec.ExtractedEmail, &rec.ExtractedName, &rec.ExtractedPhone, &rec.CustomerRef,
		&rec.Status, &rec.MatchedBy, &rec.Confidence, &rec.PatientID, &rec.InvoiceID, &rec.PaymentID,
		&rec.PatientCreated, &rec.ErrorMessage, &rec.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ledgerRepoPG) Create(ctx context.Context, rec *Reconciliation) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payment_reconciliations (id, stripe_event_id, event_type, clinic_id,
			extracted_email, extracted_name, extracted_phone, customer_ref,
			status, matched_by, confidence, patient_id, invoice_id, payment_id,
			patient_created, error_message, processed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		rec.ID, rec.StripeEventID, rec.EventType, rec.ClinicID,
		rec.ExtractedEmail, rec.ExtractedName, rec.ExtractedPhone, rec.CustomerRef,
		rec.Status, rec.MatchedBy, rec.Confidence, rec.PatientID, rec.InvoiceID, rec.PaymentID,
		rec.PatientCreated, rec.ErrorMessage, rec.ProcessedAt)
	return err
}

func (r *ledgerRepoPG) GetByEventID(ctx context.Context, eventID string) (*Reconciliation, error) {
	return scanLedger(r.conn(ctx).QueryRow(ctx,
		`SELECT `+ledgerCols+` FROM payment_reconciliations WHERE stripe_event_id = $1`, eventID))
}

func (r *ledgerRepoPG) List(ctx context.Context, clinicID int64, limit, offset int) ([]*Reconciliation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM payment_reconciliations WHERE clinic_id = $1`, clinicID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+ledgerCols+` FROM payment_reconciliations
		WHERE clinic_id = $1 ORDER BY processed_at DESC LIMIT $2 OFFSET $3`,
		clinicID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Reconciliation
	for rows.Next() {
		var rec Reconciliation
		if err := rows.Scan(&rec.ID, &rec.StripeEventID, &rec.EventType, &rec.ClinicID,
			&rec.ExtractedEmail, &rec.ExtractedName, &rec.ExtractedPhone, &rec.CustomerRef,
			&rec.Status, &rec.MatchedBy, &rec.Confidence, &rec.PatientID, &rec.InvoiceID, &rec.PaymentID,
			&rec.PatientCreated, &rec.ErrorMessage, &rec.ProcessedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &rec)
	}
	return out, total, rows.Err()
}
