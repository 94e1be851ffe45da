// Package patient resolves family member profiles: the app account holder or
// a dependent on whose behalf appointments are booked.
package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when no family member exists for the given id.
var ErrNotFound = errors.New("patient: not found")

// FamilyMember is a patient profile under a user account.
type FamilyMember struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"userId"`
	Name        string    `json:"name"`
	Gender      string    `json:"gender"`
	DateOfBirth string    `json:"dateOfBirth"` // YYYY-MM-DD
	Phone       string    `json:"phone"`
	Email       string    `json:"email"`
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads family member profiles from postgres.
type Store struct {
	db DB
}

// NewStore creates a patient store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Get returns the family member for an id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*FamilyMember, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, name, gender, date_of_birth, phone, email
		FROM family_members
		WHERE id = $1`, id)

	var m FamilyMember
	err := row.Scan(&m.ID, &m.UserID, &m.Name, &m.Gender, &m.DateOfBirth, &m.Phone, &m.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("patient: get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("patient: get %s: %w", id, err)
	}
	return &m, nil
}
