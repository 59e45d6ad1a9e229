package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/revsync/internal/platform/db"
	"github.com/telecare/revsync/internal/platform/phi"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct {
	pool   *pgxpool.Pool
	cipher phi.Cipher
}

// NewRepoPG creates the Postgres patient repository. A nil cipher stores
// identity fields as plaintext (development environments).
func NewRepoPG(pool *pgxpool.Pool, cipher phi.Cipher) Repository {
	return &repoPG{pool: pool, cipher: cipher}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `id, clinic_id, patient_number, first_name, last_name,
	email, phone, address_line1, address_line2, city, state, postal_code,
	date_of_birth, stripe_customer_id, source, profile_status, notes,
	metadata, created_at, updated_at`

// phiFields enumerates the encrypted columns so encrypt/decrypt stays in one
// place.
func (r *repoPG) phiFields(p *Patient) []*string {
	return []*string{
		&p.FirstName, &p.LastName, &p.Email, &p.Phone,
		&p.AddressLine1, &p.AddressLine2, &p.City, &p.State, &p.PostalCode,
		&p.DateOfBirth,
	}
}

func (r *repoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.ClinicID, &p.PatientNumber, &p.FirstName, &p.LastName,
		&p.Email, &p.Phone, &p.AddressLine1, &p.AddressLine2, &p.City, &p.State, &p.PostalCode,
		&p.DateOfBirth, &p.StripeCustomerID, &p.Source, &p.ProfileStatus, &p.Notes,
		&p.Metadata, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	// Decrypt identity fields in place. A field that fails to decrypt keeps
	// its raw stored value so legacy plaintext rows remain usable.
	for _, f := range r.phiFields(&p) {
		*f = phi.DecryptOrRaw(r.cipher, *f)
	}
	return &p, nil
}

func (r *repoPG) encrypted(p *Patient) (*Patient, error) {
	out := *p
	for i, f := range r.phiFields(&out) {
		ct, err := phi.EncryptOrRaw(r.cipher, *f)
		if err != nil {
			return nil, fmt.Errorf("encrypt patient field %d: %w", i, err)
		}
		*f = ct
	}
	return &out, nil
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	enc, err := r.encrypted(p)
	if err != nil {
		return err
	}

	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (id, clinic_id, patient_number, first_name, last_name,
			email, phone, address_line1, address_line2, city, state, postal_code,
			date_of_birth, stripe_customer_id, source, profile_status, notes, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		enc.ID, enc.ClinicID, enc.PatientNumber, enc.FirstName, enc.LastName,
		enc.Email, enc.Phone, enc.AddressLine1, enc.AddressLine2, enc.City, enc.State, enc.PostalCode,
		enc.DateOfBirth, enc.StripeCustomerID, enc.Source, enc.ProfileStatus, enc.Notes, enc.Metadata)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *repoPG) GetByStripeCustomerID(ctx context.Context, customerRef string) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE stripe_customer_id = $1`, customerRef))
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	enc, err := r.encrypted(p)
	if err != nil {
		return err
	}

	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE patients SET first_name=$2, last_name=$3, email=$4, phone=$5,
			address_line1=$6, address_line2=$7, city=$8, state=$9, postal_code=$10,
			date_of_birth=$11, stripe_customer_id=$12, source=$13, profile_status=$14,
			notes=$15, metadata=$16, updated_at=NOW()
		WHERE id = $1`,
		enc.ID, enc.FirstName, enc.LastName, enc.Email, enc.Phone,
		enc.AddressLine1, enc.AddressLine2, enc.City, enc.State, enc.PostalCode,
		enc.DateOfBirth, enc.StripeCustomerID, enc.Source, enc.ProfileStatus,
		enc.Notes, enc.Metadata)
	return err
}

func (r *repoPG) UpdateStripeCustomerID(ctx context.Context, id uuid.UUID, customerRef string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE patients SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1`,
		id, customerRef)
	return err
}

func (r *repoPG) FindByEmailPlain(ctx context.Context, clinicID int64, email string) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients
		 WHERE clinic_id = $1 AND LOWER(TRIM(email)) = $2
		 ORDER BY created_at DESC LIMIT 1`,
		clinicID, NormalizeEmail(email)))
}

func (r *repoPG) FindByPhonePlain(ctx context.Context, clinicID int64, variants []string) (*Patient, error) {
	if len(variants) == 0 {
		return nil, nil
	}
	return r.scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients
		 WHERE clinic_id = $1 AND REGEXP_REPLACE(phone, '[^0-9]', '', 'g') = ANY($2)
		 ORDER BY created_at DESC LIMIT 1`,
		clinicID, variants))
}

func (r *repoPG) FindByNamePlain(ctx context.Context, clinicID int64, first, last string) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients
		 WHERE clinic_id = $1 AND LOWER(first_name) = LOWER($2) AND LOWER(last_name) = LOWER($3)
		 ORDER BY created_at DESC LIMIT 1`,
		clinicID, first, last))
}

func (r *repoPG) ListRecent(ctx context.Context, clinicID int64, limit int) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patients
		 WHERE clinic_id = $1 ORDER BY created_at DESC LIMIT $2`,
		clinicID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func (r *repoPG) NextPatientNumber(ctx context.Context, clinicID int64) (int64, error) {
	// Atomic upsert-increment: two concurrent provisioners for the same
	// clinic serialize on the row and never see the same number.
	var n int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_counters (clinic_id, last_number) VALUES ($1, 1)
		ON CONFLICT (clinic_id)
		DO UPDATE SET last_number = patient_counters.last_number + 1
		RETURNING last_number`,
		clinicID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next patient number for clinic %d: %w", clinicID, err)
	}
	return n, nil
}
