package hospital

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Hospital is a partner hospital record: the public snapshot fields copied
// onto appointments plus the connection options for its booking system.
type Hospital struct {
	ID      uuid.UUID `json:"id"`
	Code    string    `json:"code"`
	Name    string    `json:"name"`
	Address string    `json:"address"`
	Contact string    `json:"contact"`

	// Booking system connection options.
	BaseURL  string `json:"-"`
	Username string `json:"-"`
	Password string `json:"-"`

	// Payment gateway configuration for this hospital.
	PaymentGatewayKey string `json:"-"`
	DeferredCapture   bool   `json:"-"`
}

// PatientInfo is the patient payload sent to the hospital booking system.
type PatientInfo struct {
	Name        string `json:"name"`
	Gender      string `json:"gender"`
	DateOfBirth string `json:"dateOfBirth"`
	Phone       string `json:"phone"`
	Email       string `json:"email,omitempty"`
}

// ReserveSlotRequest asks the hospital to place a temporary hold on a slot.
type ReserveSlotRequest struct {
	DoctorID          string `json:"doctorId"`
	SpecialityCode    string `json:"specialityCode"`
	AppointmentDate   string `json:"appointmentDate"`
	AppointmentTime   string `json:"appointmentTime"`
	VideoConsultation bool   `json:"videoConsultation"`
}

// ReserveSlotResponse carries the hold reference. A zero ReservationID is
// never returned by a successful reservation.
type ReserveSlotResponse struct {
	ReservationID int64 `json:"reservationId"`
}

// CreateAppointmentRequest confirms a held slot into a hospital appointment.
type CreateAppointmentRequest struct {
	ReservationID        int64       `json:"reservationId"`
	DoctorID             string      `json:"doctorId"`
	SpecialityCode       string      `json:"specialityCode"`
	AppointmentDate      string      `json:"appointmentDate"`
	AppointmentTime      string      `json:"appointmentTime"`
	VideoConsultation    bool        `json:"videoConsultation"`
	Patient              PatientInfo `json:"patient"`
	BillAmount           int64       `json:"billAmount"` // minor currency units
	PaymentTransactionNo string      `json:"paymentTransactionNo,omitempty"`
}

// CreateAppointmentResponse returns the hospital-assigned identifiers.
type CreateAppointmentResponse struct {
	AppointmentID string `json:"appointmentId"`
	BookingID     string `json:"bookingId"`
	VisitID       string `json:"visitId"`
	BillID        string `json:"billId"`
	ReceiptID     string `json:"receiptId"`
	DoctorPhone   string `json:"doctorPhone"`
	ReportingTime string `json:"reportingTime"`
}

// RescheduleRequest moves an existing hospital appointment to a new slot.
type RescheduleRequest struct {
	DoctorID        string `json:"doctorId"`
	AppointmentDate string `json:"appointmentDate"`
	AppointmentTime string `json:"appointmentTime"`
}

// RescheduleResponse returns the identifiers of the moved appointment.
type RescheduleResponse struct {
	AppointmentID string `json:"appointmentId"`
	BookingID     string `json:"bookingId"`
	VisitID       string `json:"visitId"`
	ReportingTime string `json:"reportingTime"`
}

// UpstreamError is a failure reported by the hospital booking system. The
// upstream message is preserved verbatim for operator diagnosis.
type UpstreamError struct {
	Op         string
	Message    string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("hospital: %s: upstream error (status %d): %s", e.Op, e.StatusCode, e.Message)
}

// AuthFailure reports whether the upstream rejected our credentials, which
// entitles the caller to a single token refresh and retry.
func (e *UpstreamError) AuthFailure() bool {
	if e.StatusCode == 401 {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "access denied") || strings.Contains(msg, "token expired")
}
