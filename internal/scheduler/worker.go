package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/varaprasadreddy9676/patient-care-sub000/internal/observability/metrics"
	"github.com/varaprasadreddy9676/patient-care-sub000/pkg/logging"
)

// NotificationSource lists and settles due notifications.
type NotificationSource interface {
	ListDueNotifications(ctx context.Context, asOf time.Time, limit int) ([]Notification, error)
	MarkNotificationSent(ctx context.Context, id uuid.UUID) error
	MarkNotificationFailed(ctx context.Context, id uuid.UUID, maxRetries int) error
}

// Dispatcher delivers one notification to the patient's device or phone.
type Dispatcher interface {
	SendSMS(ctx context.Context, phone, text, hospitalCode string) error
}

// Worker drains due notifications and dispatches them. Failed dispatches are
// retried on later passes until the retry budget is spent.
type Worker struct {
	source     NotificationSource
	dispatcher Dispatcher
	maxRetries int
	metrics    *metrics.AppointmentMetrics
	logger     *logging.Logger
}

// NewWorker creates a notification dispatch worker. m may be nil.
func NewWorker(source NotificationSource, dispatcher Dispatcher, maxRetries int, m *metrics.AppointmentMetrics, logger *logging.Logger) *Worker {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{source: source, dispatcher: dispatcher, maxRetries: maxRetries, metrics: m, logger: logger}
}

// ProcessDue dispatches every due notification once. Returns the number
// successfully sent.
func (w *Worker) ProcessDue(ctx context.Context) (int, error) {
	due, err := w.source.ListDueNotifications(ctx, time.Now().UTC(), 100)
	if err != nil {
		return 0, fmt.Errorf("scheduler worker: list due: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	w.logger.Info("scheduler worker: processing due notifications", "count", len(due))

	sent := 0
	for i := range due {
		n := &due[i]
		if err := w.dispatchOne(ctx, n); err != nil {
			w.metrics.ObserveDispatch("failed")
			w.logger.Error("scheduler worker: dispatch failed",
				"id", n.ID, "object_id", n.ObjectID, "retry_count", n.RetryCount, "error", err)
			if err := w.source.MarkNotificationFailed(ctx, n.ID, w.maxRetries); err != nil {
				w.logger.Error("scheduler worker: mark failed", "id", n.ID, "error", err)
			}
			continue
		}
		w.metrics.ObserveDispatch("sent")
		if err := w.source.MarkNotificationSent(ctx, n.ID); err != nil {
			w.logger.Error("scheduler worker: mark sent", "id", n.ID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// Run polls on the given interval until the context is cancelled.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessDue(ctx); err != nil {
				w.logger.Error("scheduler worker: pass failed", "error", err)
			}
		}
	}
}

func (w *Worker) dispatchOne(ctx context.Context, n *Notification) error {
	text := n.Title
	if n.Body != "" {
		text = n.Title + ": " + n.Body
	}
	return w.dispatcher.SendSMS(ctx, n.Phone, text, "")
}
