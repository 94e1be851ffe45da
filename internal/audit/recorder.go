// Package audit appends immutable lifecycle event records for every
// appointment transition, success or failure.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how a transition attempt ended.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeValidationError Outcome = "validation_error"
	OutcomePolicyViolation Outcome = "policy_violation"
	OutcomeUpstreamError   Outcome = "upstream_error"
)

// Event is one immutable audit record. Rows are only ever inserted.
type Event struct {
	ID         string          `json:"id"`
	ObjectID   string          `json:"object_id"`
	ObjectName string          `json:"object_name"`
	Action     string          `json:"action"`
	FromStatus string          `json:"from_status,omitempty"`
	ToStatus   string          `json:"to_status,omitempty"`
	Outcome    Outcome         `json:"outcome"`
	ErrorText  string          `json:"error_text,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	RemoteIP   string          `json:"remote_ip,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Recorder writes audit events to postgres.
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates an audit recorder.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Record inserts one audit event. Callers treat failures as non-fatal: an
// audit write must never fail the transition that produced it.
func (r *Recorder) Record(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.ObjectName == "" {
		event.ObjectName = "Appointment"
	}

	query := `
		INSERT INTO audit_events (
			id, object_id, object_name, action, from_status, to_status,
			outcome, error_text, user_id, remote_ip, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.ObjectID,
		event.ObjectName,
		event.Action,
		nullString(event.FromStatus),
		nullString(event.ToStatus),
		string(event.Outcome),
		nullString(event.ErrorText),
		nullString(event.UserID),
		nullString(event.RemoteIP),
		[]byte(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: record event: %w", err)
	}
	return nil
}

// ListByObject returns events for one object, oldest first.
func (r *Recorder) ListByObject(ctx context.Context, objectID, objectName string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, object_id, object_name, action, from_status, to_status,
		       outcome, error_text, user_id, remote_ip, details, created_at
		FROM audit_events
		WHERE object_id = $1 AND object_name = $2
		ORDER BY created_at ASC`, objectID, objectName)
	if err != nil {
		return nil, fmt.Errorf("audit: list by object: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var fromStatus, toStatus, errorText, userID, remoteIP sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &e.ObjectID, &e.ObjectName, &e.Action,
			&fromStatus, &toStatus, &e.Outcome, &errorText, &userID, &remoteIP,
			&details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.FromStatus = fromStatus.String
		e.ToStatus = toStatus.String
		e.ErrorText = errorText.String
		e.UserID = userID.String
		e.RemoteIP = remoteIP.String
		e.Details = json.RawMessage(details)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: list by object: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
