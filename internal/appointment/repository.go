package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no appointment exists for the given id.
var ErrNotFound = errors.New("appointment: not found")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists appointments. Writes are last-write-wins on the whole row;
// concurrent conflicting transitions on the same appointment are not fenced.
type Store struct {
	db DB
}

// NewStore creates an appointment store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const appointmentColumns = `
	id, user_id, patient, hospital, doctor_id, doctor_name,
	speciality_code, speciality_name, status, status_log,
	slot_reservation_id, charge, payment_txn_no, payment_details,
	appointment_date, appointment_time, video_consultation,
	booking_id, appointment_ext_id, visit_id, bill_id, receipt_id,
	doctor_phone, reporting_time, read, active, created_at, updated_at`

// Create inserts a new appointment row.
func (s *Store) Create(ctx context.Context, a *Appointment) error {
	patient, hosp, statusLog, charge, paymentDetails, err := marshalDocs(a)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)`,
		a.ID, a.UserID, patient, hosp, a.DoctorID, a.DoctorName,
		a.SpecialityCode, a.SpecialityName, string(a.Status), statusLog,
		a.SlotReservationID, charge, a.PaymentTxnNo, paymentDetails,
		a.AppointmentDate, a.AppointmentTime, a.VideoConsultation,
		a.BookingID, a.AppointmentID, a.VisitID, a.BillID, a.ReceiptID,
		a.DoctorPhone, a.ReportingTime, a.Read, a.Active, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("appointment: create: %w", err)
	}
	return nil
}

// Update replaces the whole row for the aggregate, not individual fields, so
// a transition persists exactly the state the machine computed.
func (s *Store) Update(ctx context.Context, a *Appointment) error {
	patient, hosp, statusLog, charge, paymentDetails, err := marshalDocs(a)
	if err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()

	tag, err := s.db.Exec(ctx, `
		UPDATE appointments SET
			patient = $2, hospital = $3, doctor_id = $4, doctor_name = $5,
			speciality_code = $6, speciality_name = $7, status = $8, status_log = $9,
			slot_reservation_id = $10, charge = $11, payment_txn_no = $12, payment_details = $13,
			appointment_date = $14, appointment_time = $15, video_consultation = $16,
			booking_id = $17, appointment_ext_id = $18, visit_id = $19, bill_id = $20,
			receipt_id = $21, doctor_phone = $22, reporting_time = $23,
			read = $24, active = $25, updated_at = $26
		WHERE id = $1`,
		a.ID, patient, hosp, a.DoctorID, a.DoctorName,
		a.SpecialityCode, a.SpecialityName, string(a.Status), statusLog,
		a.SlotReservationID, charge, a.PaymentTxnNo, paymentDetails,
		a.AppointmentDate, a.AppointmentTime, a.VideoConsultation,
		a.BookingID, a.AppointmentID, a.VisitID, a.BillID, a.ReceiptID,
		a.DoctorPhone, a.ReportingTime, a.Read, a.Active, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("appointment: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointment: update %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

// Get returns one appointment by id, including soft-deleted rows.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments WHERE id = $1`, id)
	a, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("appointment: get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("appointment: get %s: %w", id, err)
	}
	return a, nil
}

// ListByUser returns the active appointments for a user, newest first.
func (s *Store) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE user_id = $1 AND active = true
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("appointment: list by user: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointment: list by user: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointment: list by user: %w", err)
	}
	return out, nil
}

// MarkRead flags an appointment as seen by the patient.
func (s *Store) MarkRead(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments SET read = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("appointment: mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointment: mark read %s: %w", id, ErrNotFound)
	}
	return nil
}

func marshalDocs(a *Appointment) (patient, hosp, statusLog, charge, paymentDetails []byte, err error) {
	if patient, err = json.Marshal(a.Patient); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("appointment: marshal patient: %w", err)
	}
	if hosp, err = json.Marshal(a.Hospital); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("appointment: marshal hospital: %w", err)
	}
	if statusLog, err = json.Marshal(a.StatusLog); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("appointment: marshal status log: %w", err)
	}
	if charge, err = json.Marshal(a.Charge); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("appointment: marshal charge: %w", err)
	}
	if paymentDetails, err = json.Marshal(a.PaymentDetails); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("appointment: marshal payment details: %w", err)
	}
	return patient, hosp, statusLog, charge, paymentDetails, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	var patient, hosp, statusLog, charge, paymentDetails []byte

	err := row.Scan(&a.ID, &a.UserID, &patient, &hosp, &a.DoctorID, &a.DoctorName,
		&a.SpecialityCode, &a.SpecialityName, &status, &statusLog,
		&a.SlotReservationID, &charge, &a.PaymentTxnNo, &paymentDetails,
		&a.AppointmentDate, &a.AppointmentTime, &a.VideoConsultation,
		&a.BookingID, &a.AppointmentID, &a.VisitID, &a.BillID, &a.ReceiptID,
		&a.DoctorPhone, &a.ReportingTime, &a.Read, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.Status = Status(status)
	if err := json.Unmarshal(patient, &a.Patient); err != nil {
		return nil, fmt.Errorf("unmarshal patient: %w", err)
	}
	if err := json.Unmarshal(hosp, &a.Hospital); err != nil {
		return nil, fmt.Errorf("unmarshal hospital: %w", err)
	}
	if err := json.Unmarshal(statusLog, &a.StatusLog); err != nil {
		return nil, fmt.Errorf("unmarshal status log: %w", err)
	}
	if err := json.Unmarshal(charge, &a.Charge); err != nil {
		return nil, fmt.Errorf("unmarshal charge: %w", err)
	}
	if err := json.Unmarshal(paymentDetails, &a.PaymentDetails); err != nil {
		return nil, fmt.Errorf("unmarshal payment details: %w", err)
	}
	return &a, nil
}
