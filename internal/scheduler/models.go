package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// ObjectNameAppointment is the object name under which appointment reminders
// and notifications are keyed.
const ObjectNameAppointment = "Appointment"

// NotificationStatus tracks delivery of a push-style notification.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "PENDING"
	NotificationSent    NotificationStatus = "SENT"
	NotificationFailed  NotificationStatus = "FAILED"
)

// Reminder is a future-dated prompt attached to a patient. At most one
// active reminder exists per (ObjectID, ObjectName) pair.
type Reminder struct {
	ID             uuid.UUID `json:"id"`
	ObjectID       string    `json:"objectId"`
	ObjectName     string    `json:"objectName"`
	FamilyMemberID uuid.UUID `json:"familyMemberId"`
	RemindAt       time.Time `json:"remindAt"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	Phone          string    `json:"phone"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Notification is a push-style message attached to a user. Cleared and
// recreated whenever the owning appointment event recurs.
type Notification struct {
	ID         uuid.UUID          `json:"id"`
	ObjectID   string             `json:"objectId"`
	ObjectName string             `json:"objectName"`
	UserID     uuid.UUID          `json:"userId"`
	NotifyAt   time.Time          `json:"notifyAt"`
	Title      string             `json:"title"`
	Body       string             `json:"body"`
	Phone      string             `json:"phone"`
	Status     NotificationStatus `json:"status"`
	RetryCount int                `json:"retryCount"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}
