package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks the lifecycle of an appointment.
type Status string

const (
	StatusDraft                Status = "DRAFT"
	StatusPaymentPending       Status = "PAYMENT_PENDING"
	StatusPaymentSuccess       Status = "PAYMENT_SUCCESS"
	StatusPaymentFailed        Status = "PAYMENT_FAILED"
	StatusScheduled            Status = "SCHEDULED"
	StatusAwaitingConfirmation Status = "AWAITING_CONFIRMATION_FROM_HOSPITAL"
	StatusRescheduled          Status = "RE_SCHEDULED"
	StatusStarted              Status = "STARTED"
	StatusClosed               Status = "CLOSED"
	StatusCancelled            Status = "CANCELLED"
	StatusDeleted              Status = "DELETED"

	// MarkerSlotNotFree is appended to the status log when the hospital
	// rejects a slot reservation. It is a log marker, not a status the
	// appointment can hold.
	MarkerSlotNotFree Status = "SLOT_NOT_FREE"
)

// legalTransitions enumerates every allowed status change. Missing pairs are
// rejected without mutating the appointment.
var legalTransitions = map[Status][]Status{
	StatusDraft:                {StatusPaymentPending, StatusCancelled, StatusDeleted},
	StatusPaymentPending:       {StatusPaymentSuccess, StatusPaymentFailed, StatusCancelled, StatusDeleted},
	StatusPaymentSuccess:       {StatusScheduled, StatusAwaitingConfirmation, StatusCancelled, StatusDeleted},
	StatusPaymentFailed:        {StatusCancelled, StatusDeleted},
	StatusScheduled:            {StatusRescheduled, StatusStarted, StatusCancelled, StatusDeleted},
	StatusAwaitingConfirmation: {StatusScheduled, StatusCancelled, StatusDeleted},
	StatusRescheduled:          {StatusScheduled, StatusRescheduled, StatusStarted, StatusCancelled, StatusDeleted},
	StatusStarted:              {StatusClosed, StatusCancelled, StatusDeleted},
	StatusClosed:               {StatusStarted, StatusDeleted},
	StatusCancelled:            {StatusDeleted},
	StatusDeleted:              {},
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further lifecycle transitions are expected.
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusCancelled || s == StatusDeleted
}

// StatusEntry is one element of the append-only status log.
type StatusEntry struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// HospitalSnapshot is copied from the hospital directory at creation time so
// later hospital edits do not retroactively change historical appointments.
type HospitalSnapshot struct {
	ID      uuid.UUID `json:"id"`
	Code    string    `json:"code"`
	Name    string    `json:"name"`
	Address string    `json:"address"`
	Contact string    `json:"contact"`
}

// PatientSnapshot is copied from the family member profile at creation time.
type PatientSnapshot struct {
	FamilyMemberID uuid.UUID `json:"familyMemberId"`
	Name           string    `json:"name"`
	Gender         string    `json:"gender"`
	DateOfBirth    string    `json:"dateOfBirth"`
	Phone          string    `json:"phone"`
	Email          string    `json:"email"`
}

// ConsultationCharge carries the price quoted at booking time.
type ConsultationCharge struct {
	Price        int64  `json:"price"` // minor currency units
	Currency     string `json:"currency"`
	Description  string `json:"description,omitempty"`
	DiscountCode string `json:"discountCode,omitempty"`
}

// PaymentDetails records gateway references accumulated over the lifecycle.
type PaymentDetails struct {
	GatewayKey      string `json:"gatewayKey,omitempty"`
	BankReference   string `json:"bankReference,omitempty"`
	GatewayResponse string `json:"gatewayResponse,omitempty"`
	DeferredCapture bool   `json:"deferredCapture,omitempty"`
	CaptureResponse string `json:"captureResponse,omitempty"`
	CaptureError    string `json:"captureError,omitempty"`
}

// Appointment is the central aggregate driven by the state machine.
type Appointment struct {
	ID uuid.UUID `json:"id"`

	// Immutable at creation.
	UserID         uuid.UUID        `json:"userId"`
	Patient        PatientSnapshot  `json:"patient"`
	Hospital       HospitalSnapshot `json:"hospital"`
	DoctorID       string           `json:"doctorId"`
	DoctorName     string           `json:"doctorName"`
	SpecialityCode string           `json:"specialityCode"`
	SpecialityName string           `json:"specialityName"`

	// Mutable transactional fields.
	Status            Status             `json:"status"`
	StatusLog         []StatusEntry      `json:"statusLog"`
	SlotReservationID int64              `json:"slotReservationId"` // 0 = no active reservation
	Charge            ConsultationCharge `json:"consultationCharge"`
	PaymentTxnNo      string             `json:"paymentTransactionNo,omitempty"`
	PaymentDetails    PaymentDetails     `json:"paymentDetails"`
	AppointmentDate   string             `json:"appointmentDate"` // YYYY-MM-DD
	AppointmentTime   string             `json:"appointmentTime"` // HH:MM, 24h
	VideoConsultation bool               `json:"videoConsultation"`

	// External system identifiers, populated progressively.
	BookingID     string `json:"bookingId,omitempty"`
	AppointmentID string `json:"appointmentId,omitempty"`
	VisitID       string `json:"visitId,omitempty"`
	BillID        string `json:"billId,omitempty"`
	ReceiptID     string `json:"receiptId,omitempty"`
	DoctorPhone   string `json:"doctorPhone,omitempty"`
	ReportingTime string `json:"reportingTime,omitempty"`

	Read   bool `json:"read"`
	Active bool `json:"active"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SetStatus moves the aggregate to a new status and appends the matching
// status log entry. The log is the exact ordered history of every value the
// status has held, so it is never written independently of the status field.
func (a *Appointment) SetStatus(s Status, at time.Time) {
	a.Status = s
	a.StatusLog = append(a.StatusLog, StatusEntry{Status: s, At: at.UTC()})
}

// MarkStatusLog appends a marker entry without changing the current status.
// Used for events worth auditing that are not themselves states, such as a
// rejected slot reservation.
func (a *Appointment) MarkStatusLog(s Status, at time.Time) {
	a.StatusLog = append(a.StatusLog, StatusEntry{Status: s, At: at.UTC()})
}

// ScheduledAt resolves the combined appointment date and time in the given
// location. Returns the zero time when either field is unparseable.
func (a *Appointment) ScheduledAt(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", a.AppointmentDate+" "+a.AppointmentTime, loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// NewAppointment builds a DRAFT aggregate with its opening status log entry.
func NewAppointment(userID uuid.UUID, patient PatientSnapshot, hosp HospitalSnapshot, now time.Time) *Appointment {
	a := &Appointment{
		ID:        uuid.New(),
		UserID:    userID,
		Patient:   patient,
		Hospital:  hosp,
		Active:    true,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	a.SetStatus(StatusDraft, now)
	return a
}
