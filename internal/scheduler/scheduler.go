// Package scheduler owns the reminder and notification queues. Scheduling is
// a replace operation keyed by (objectId, objectName): stale entries for the
// same object are deleted before the new one is written, so repeated
// reschedules never accumulate duplicates.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/varaprasadreddy9676/patient-care-sub000/pkg/logging"
)

// ReminderStore is the persistence surface the scheduler drives.
type ReminderStore interface {
	DeleteRemindersByObject(ctx context.Context, objectID, objectName string) error
	InsertReminder(ctx context.Context, r *Reminder) error
	DeactivateReminder(ctx context.Context, objectID, objectName string) error
	DeleteNotificationsByObject(ctx context.Context, objectID, objectName string) error
	InsertNotification(ctx context.Context, n *Notification) error
}

// Scheduler persists deduplicated reminders and notifications. Delivery is
// handled separately by the worker.
type Scheduler struct {
	store  ReminderStore
	logger *logging.Logger
}

// New creates a scheduler.
func New(store ReminderStore, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{store: store, logger: logger}
}

// ScheduleReminder replaces any reminder keyed by the object with the given
// one. Superseded reminders are deleted, not updated.
func (s *Scheduler) ScheduleReminder(ctx context.Context, r Reminder) error {
	if r.ObjectID == "" || r.ObjectName == "" {
		return fmt.Errorf("scheduler: schedule reminder: object key required")
	}
	if err := s.store.DeleteRemindersByObject(ctx, r.ObjectID, r.ObjectName); err != nil {
		return err
	}
	if err := s.store.InsertReminder(ctx, &r); err != nil {
		return err
	}
	s.logger.Info("scheduler: reminder scheduled",
		"object_id", r.ObjectID,
		"object_name", r.ObjectName,
		"remind_at", r.RemindAt.Format(time.RFC3339),
	)
	return nil
}

// ScheduleNotification replaces any notification keyed by the object with the
// given one.
func (s *Scheduler) ScheduleNotification(ctx context.Context, n Notification) error {
	if n.ObjectID == "" || n.ObjectName == "" {
		return fmt.Errorf("scheduler: schedule notification: object key required")
	}
	if err := s.store.DeleteNotificationsByObject(ctx, n.ObjectID, n.ObjectName); err != nil {
		return err
	}
	if err := s.store.InsertNotification(ctx, &n); err != nil {
		return err
	}
	s.logger.Info("scheduler: notification scheduled",
		"object_id", n.ObjectID,
		"object_name", n.ObjectName,
		"notify_at", n.NotifyAt.Format(time.RFC3339),
	)
	return nil
}

// ClearReminder performs the deletion half only, used when the owning object
// reaches a state where no reminder should fire.
func (s *Scheduler) ClearReminder(ctx context.Context, objectID, objectName string) error {
	return s.store.DeleteRemindersByObject(ctx, objectID, objectName)
}

// ClearNotifications performs the deletion half only.
func (s *Scheduler) ClearNotifications(ctx context.Context, objectID, objectName string) error {
	return s.store.DeleteNotificationsByObject(ctx, objectID, objectName)
}

// DeactivateReminder keeps the reminder row but stops it from firing.
func (s *Scheduler) DeactivateReminder(ctx context.Context, objectID, objectName string) error {
	return s.store.DeactivateReminder(ctx, objectID, objectName)
}
