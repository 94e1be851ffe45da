// Package policy resolves per-hospital configuration values, falling back to
// a hospital-independent default entry.
package policy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// DefaultHospitalCode keys the hospital-independent fallback entries.
const DefaultHospitalCode = "DEFAULT"

// PolicyCodeCancelReschedule selects the cancel/reschedule window payload.
const PolicyCodeCancelReschedule = "CANCEL_RESCHEDULE_WINDOW"

// Window is the minimum lead time, in hours, required before the scheduled
// appointment time for reschedule and cancel to be permitted.
type Window struct {
	RescheduleHours int `json:"reschedule"`
	CancelHours     int `json:"cancel"`
}

// DB abstracts the pgx query interface for loading policies.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Engine is the read-only policy lookup, loaded once at startup and injected
// into the orchestrator. It is safe for concurrent reads.
type Engine struct {
	byKey map[string]json.RawMessage
}

// NewEngine builds an engine from an explicit (hospitalCode, policyCode) →
// payload map. Keys are formed with Key.
func NewEngine(entries map[string]json.RawMessage) *Engine {
	if entries == nil {
		entries = map[string]json.RawMessage{}
	}
	return &Engine{byKey: entries}
}

// Key forms the lookup key for a hospital and policy code.
func Key(hospitalCode, policyCode string) string {
	return hospitalCode + "/" + policyCode
}

// Load reads all hospital policies from postgres and builds the engine.
func Load(ctx context.Context, db DB) (*Engine, error) {
	rows, err := db.Query(ctx, `SELECT hospital_code, policy_code, payload FROM hospital_policies`)
	if err != nil {
		return nil, fmt.Errorf("policy: load: %w", err)
	}
	defer rows.Close()

	entries := map[string]json.RawMessage{}
	for rows.Next() {
		var hospitalCode, policyCode string
		var payload []byte
		if err := rows.Scan(&hospitalCode, &policyCode, &payload); err != nil {
			return nil, fmt.Errorf("policy: scan: %w", err)
		}
		entries[Key(hospitalCode, policyCode)] = json.RawMessage(payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("policy: load: %w", err)
	}
	return NewEngine(entries), nil
}

// Lookup returns the raw payload for a hospital and policy code, consulting
// the DEFAULT hospital when no hospital-specific entry exists.
func (e *Engine) Lookup(hospitalCode, policyCode string) (json.RawMessage, bool) {
	if payload, ok := e.byKey[Key(hospitalCode, policyCode)]; ok {
		return payload, true
	}
	payload, ok := e.byKey[Key(DefaultHospitalCode, policyCode)]
	return payload, ok
}

// CancelRescheduleWindow resolves the cancel/reschedule window for a
// hospital. A zero Window (no lead time required) is returned when neither a
// hospital-specific nor a default entry exists or the payload is malformed.
func (e *Engine) CancelRescheduleWindow(hospitalCode string) Window {
	payload, ok := e.Lookup(hospitalCode, PolicyCodeCancelReschedule)
	if !ok {
		return Window{}
	}
	var w Window
	if err := json.Unmarshal(payload, &w); err != nil {
		return Window{}
	}
	return w
}
