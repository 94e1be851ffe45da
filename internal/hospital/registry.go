package hospital

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no hospital exists for the given code.
var ErrNotFound = errors.New("hospital: not found")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Directory resolves hospitals by code.
type Directory interface {
	Get(ctx context.Context, code string) (*Hospital, error)
}

// Registry is the postgres-backed hospital directory.
type Registry struct {
	db DB
}

// NewRegistry creates a hospital registry.
func NewRegistry(db DB) *Registry {
	return &Registry{db: db}
}

// Get returns the hospital record for a code.
func (r *Registry) Get(ctx context.Context, code string) (*Hospital, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, code, name, address, contact, base_url, username, password, payment_gateway_key, deferred_capture
		FROM hospitals
		WHERE code = $1`, code)

	var h Hospital
	err := row.Scan(&h.ID, &h.Code, &h.Name, &h.Address, &h.Contact,
		&h.BaseURL, &h.Username, &h.Password, &h.PaymentGatewayKey, &h.DeferredCapture)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("hospital: get %q: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("hospital: get %q: %w", code, err)
	}
	return &h, nil
}

// UpsertPatientAccount records the hospital-side patient identifier for a
// family member so later bookings reuse the same hospital account.
func (r *Registry) UpsertPatientAccount(ctx context.Context, hospitalCode, familyMemberID, hospitalPatientID string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO patient_hospital_accounts (hospital_code, family_member_id, hospital_patient_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (hospital_code, family_member_id)
		DO UPDATE SET hospital_patient_id = EXCLUDED.hospital_patient_id, updated_at = now()`,
		hospitalCode, familyMemberID, hospitalPatientID)
	if err != nil {
		return fmt.Errorf("hospital: upsert patient account: %w", err)
	}
	return nil
}
