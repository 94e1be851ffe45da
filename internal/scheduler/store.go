package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides CRUD operations for reminders and notifications.
type Store struct {
	db DB
}

// NewStore creates a scheduler store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// DeleteRemindersByObject removes every reminder keyed by the object.
func (s *Store) DeleteRemindersByObject(ctx context.Context, objectID, objectName string) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM reminders WHERE object_id = $1 AND object_name = $2`,
		objectID, objectName)
	if err != nil {
		return fmt.Errorf("scheduler: delete reminders: %w", err)
	}
	return nil
}

// InsertReminder inserts a new reminder row.
func (s *Store) InsertReminder(ctx context.Context, r *Reminder) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	r.Active = true

	_, err := s.db.Exec(ctx, `
		INSERT INTO reminders (id, object_id, object_name, family_member_id, remind_at, title, body, phone, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.ObjectID, r.ObjectName, r.FamilyMemberID, r.RemindAt,
		r.Title, r.Body, r.Phone, r.Active, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("scheduler: insert reminder: %w", err)
	}
	return nil
}

// DeactivateReminder flags the reminder for an object inactive without
// deleting it, preserving the row for history.
func (s *Store) DeactivateReminder(ctx context.Context, objectID, objectName string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE reminders SET active = false, updated_at = now()
		WHERE object_id = $1 AND object_name = $2`,
		objectID, objectName)
	if err != nil {
		return fmt.Errorf("scheduler: deactivate reminder: %w", err)
	}
	return nil
}

// GetReminderByObject returns the active reminder for an object, if any.
func (s *Store) GetReminderByObject(ctx context.Context, objectID, objectName string) (*Reminder, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, object_id, object_name, family_member_id, remind_at, title, body, phone, active, created_at, updated_at
		FROM reminders
		WHERE object_id = $1 AND object_name = $2 AND active = true`,
		objectID, objectName)

	var r Reminder
	err := row.Scan(&r.ID, &r.ObjectID, &r.ObjectName, &r.FamilyMemberID, &r.RemindAt,
		&r.Title, &r.Body, &r.Phone, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scheduler: get reminder: %w", err)
	}
	return &r, nil
}

// DeleteNotificationsByObject removes every notification keyed by the object.
func (s *Store) DeleteNotificationsByObject(ctx context.Context, objectID, objectName string) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM notifications WHERE object_id = $1 AND object_name = $2`,
		objectID, objectName)
	if err != nil {
		return fmt.Errorf("scheduler: delete notifications: %w", err)
	}
	return nil
}

// InsertNotification inserts a new pending notification row.
func (s *Store) InsertNotification(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.Status == "" {
		n.Status = NotificationPending
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO notifications (id, object_id, object_name, user_id, notify_at, title, body, phone, status, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		n.ID, n.ObjectID, n.ObjectName, n.UserID, n.NotifyAt,
		n.Title, n.Body, n.Phone, string(n.Status), n.RetryCount, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("scheduler: insert notification: %w", err)
	}
	return nil
}

// ListDueNotifications returns pending notifications whose notify_at is on or
// before the given time, oldest first.
func (s *Store) ListDueNotifications(ctx context.Context, asOf time.Time, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, object_id, object_name, user_id, notify_at, title, body, phone, status, retry_count, created_at, updated_at
		FROM notifications
		WHERE status = 'PENDING' AND notify_at <= $1
		ORDER BY notify_at ASC LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list due notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var status string
		if err := rows.Scan(&n.ID, &n.ObjectID, &n.ObjectName, &n.UserID, &n.NotifyAt,
			&n.Title, &n.Body, &n.Phone, &status, &n.RetryCount, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scheduler: scan notification: %w", err)
		}
		n.Status = NotificationStatus(status)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scheduler: list due notifications: %w", err)
	}
	return out, nil
}

// MarkNotificationSent transitions a notification PENDING → SENT.
func (s *Store) MarkNotificationSent(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications SET status = 'SENT', updated_at = now()
		WHERE id = $1 AND status = 'PENDING'`, id)
	if err != nil {
		return fmt.Errorf("scheduler: mark notification sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("scheduler: mark notification sent: no pending notification with id %s", id)
	}
	return nil
}

// MarkNotificationFailed bumps the retry count; once maxRetries is exceeded
// the notification is parked as FAILED.
func (s *Store) MarkNotificationFailed(ctx context.Context, id uuid.UUID, maxRetries int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= $2 THEN 'FAILED' ELSE 'PENDING' END,
		    updated_at = now()
		WHERE id = $1`, id, maxRetries)
	if err != nil {
		return fmt.Errorf("scheduler: mark notification failed: %w", err)
	}
	return nil
}
