// Package appointment owns the appointment aggregate and the state machine
// that drives it through reservation, payment, hospital confirmation, and the
// consultation itself. Each transition is a linear sequence of awaited calls:
// validate, consult policy, call the hospital gateway, persist, then fire
// side effects (audit, reminders, notifications, messages).
package appointment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/varaprasadreddy9676/patient-care-sub000/internal/audit"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/hospital"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/messaging"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/observability/metrics"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/patient"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/payments"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/policy"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/scheduler"
	"github.com/varaprasadreddy9676/patient-care-sub000/pkg/logging"
)

var serviceTracer = otel.Tracer("patientcare.internal.appointment")

// reminderLead is how long before the scheduled time the patient reminder
// fires.
const reminderLead = time.Hour

// Repository persists the aggregate.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	Update(ctx context.Context, a *Appointment) error
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]Appointment, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
}

// BookingGateway is the hospital booking system adapter.
type BookingGateway interface {
	ReserveSlot(ctx context.Context, hospitalCode string, req hospital.ReserveSlotRequest) (*hospital.ReserveSlotResponse, error)
	ReleaseSlot(ctx context.Context, hospitalCode string, reservationID int64) error
	CreateAppointment(ctx context.Context, hospitalCode string, req hospital.CreateAppointmentRequest) (*hospital.CreateAppointmentResponse, error)
	RescheduleAppointment(ctx context.Context, hospitalCode, appointmentID string, req hospital.RescheduleRequest) (*hospital.RescheduleResponse, error)
	CancelAppointment(ctx context.Context, hospitalCode, appointmentID string) error
}

// PatientDirectory resolves family member profiles for snapshotting.
type PatientDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.FamilyMember, error)
}

// HospitalDirectory resolves hospital records for snapshotting.
type HospitalDirectory interface {
	Get(ctx context.Context, code string) (*hospital.Hospital, error)
}

// AccountMapper records the patient's hospital-side identifier.
type AccountMapper interface {
	UpsertPatientAccount(ctx context.Context, hospitalCode, familyMemberID, hospitalPatientID string) error
}

// PolicyEngine resolves per-hospital lead-time windows.
type PolicyEngine interface {
	CancelRescheduleWindow(hospitalCode string) policy.Window
}

// AuditRecorder appends immutable transition records.
type AuditRecorder interface {
	Record(ctx context.Context, event audit.Event) error
}

// Notifier is the reminder/notification scheduler.
type Notifier interface {
	ScheduleReminder(ctx context.Context, r scheduler.Reminder) error
	ScheduleNotification(ctx context.Context, n scheduler.Notification) error
	ClearReminder(ctx context.Context, objectID, objectName string) error
	ClearNotifications(ctx context.Context, objectID, objectName string) error
	DeactivateReminder(ctx context.Context, objectID, objectName string) error
}

// Messenger sends best-effort patient and doctor communications.
type Messenger interface {
	SendSMS(ctx context.Context, phone, text, hospitalCode string) error
	SendEmail(ctx context.Context, msg messaging.EmailMessage) error
	SendWhatsApp(ctx context.Context, phone string, params []string) error
}

// PaymentCapturer collects previously authorized funds.
type PaymentCapturer interface {
	Capture(ctx context.Context, transactionNo string, amountMinor int64) (*payments.CaptureResult, error)
}

// RequestContext identifies who triggered a transition and from where, for
// the audit trail.
type RequestContext struct {
	UserID   uuid.UUID
	RemoteIP string
}

// Service is the appointment state machine.
type Service struct {
	repo      Repository
	gateway   BookingGateway
	patients  PatientDirectory
	hospitals HospitalDirectory
	accounts  AccountMapper
	policies  PolicyEngine
	auditor   AuditRecorder
	notifier  Notifier
	messenger Messenger
	capturer  PaymentCapturer
	metrics   *metrics.AppointmentMetrics
	logger    *logging.Logger
}

// ServiceConfig wires the state machine's collaborators.
type ServiceConfig struct {
	Repo      Repository
	Gateway   BookingGateway
	Patients  PatientDirectory
	Hospitals HospitalDirectory
	Accounts  AccountMapper
	Policies  PolicyEngine
	Auditor   AuditRecorder
	Notifier  Notifier
	Messenger Messenger
	Capturer  PaymentCapturer
	Metrics   *metrics.AppointmentMetrics
	Logger    *logging.Logger
}

// NewService creates the appointment state machine.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:      cfg.Repo,
		gateway:   cfg.Gateway,
		patients:  cfg.Patients,
		hospitals: cfg.Hospitals,
		accounts:  cfg.Accounts,
		policies:  cfg.Policies,
		auditor:   cfg.Auditor,
		notifier:  cfg.Notifier,
		messenger: cfg.Messenger,
		capturer:  cfg.Capturer,
		metrics:   cfg.Metrics,
		logger:    logger,
	}
}

// CreateRequest begins a booking for a family member.
type CreateRequest struct {
	FamilyMemberID    uuid.UUID          `json:"familyMemberId"`
	HospitalCode      string             `json:"hospitalCode"`
	DoctorID          string             `json:"doctorId"`
	DoctorName        string             `json:"doctorName"`
	SpecialityCode    string             `json:"specialityCode"`
	SpecialityName    string             `json:"specialityName"`
	AppointmentDate   string             `json:"appointmentDate"`
	AppointmentTime   string             `json:"appointmentTime"`
	VideoConsultation bool               `json:"videoConsultation"`
	Charge            ConsultationCharge `json:"consultationCharge"`
}

// Create snapshots the patient and hospital, reserves the slot with the
// hospital, and leaves the appointment in PAYMENT_PENDING. When the hospital
// rejects the slot the appointment is kept in DRAFT with a SLOT_NOT_FREE
// marker and the caller is told to pick a different slot; no retry happens
// here, the client re-submits.
func (s *Service) Create(ctx context.Context, rctx RequestContext, req CreateRequest) (*Appointment, error) {
	ctx, span := serviceTracer.Start(ctx, "appointment.create")
	defer span.End()

	if req.FamilyMemberID == uuid.Nil || req.HospitalCode == "" || req.DoctorID == "" ||
		req.AppointmentDate == "" || req.AppointmentTime == "" {
		s.metrics.ObserveTransition("create", "validation_error")
		return nil, NewError(CodeValidationFailed, "familyMemberId, hospitalCode, doctorId, appointmentDate and appointmentTime are required")
	}

	member, err := s.patients.Get(ctx, req.FamilyMemberID)
	if err != nil {
		s.metrics.ObserveTransition("create", "validation_error")
		return nil, WrapError(CodeValidationFailed, "unknown family member", err)
	}
	hosp, err := s.hospitals.Get(ctx, req.HospitalCode)
	if err != nil {
		s.metrics.ObserveTransition("create", "validation_error")
		return nil, WrapError(CodeValidationFailed, "unknown hospital", err)
	}

	now := time.Now()
	// Snapshots are copies, not references: later edits to the hospital or
	// profile never rewrite historical appointments.
	a := NewAppointment(member.UserID, PatientSnapshot{
		FamilyMemberID: member.ID,
		Name:           member.Name,
		Gender:         member.Gender,
		DateOfBirth:    member.DateOfBirth,
		Phone:          member.Phone,
		Email:          member.Email,
	}, HospitalSnapshot{
		ID:      hosp.ID,
		Code:    hosp.Code,
		Name:    hosp.Name,
		Address: hosp.Address,
		Contact: hosp.Contact,
	}, now)
	a.DoctorID = req.DoctorID
	a.DoctorName = req.DoctorName
	a.SpecialityCode = req.SpecialityCode
	a.SpecialityName = req.SpecialityName
	a.AppointmentDate = req.AppointmentDate
	a.AppointmentTime = req.AppointmentTime
	a.VideoConsultation = req.VideoConsultation
	a.Charge = req.Charge
	a.PaymentDetails.GatewayKey = hosp.PaymentGatewayKey
	a.PaymentDetails.DeferredCapture = hosp.DeferredCapture
	span.SetAttributes(attribute.String("appointment.id", a.ID.String()))

	reservation, gerr := s.gateway.ReserveSlot(ctx, hosp.Code, hospital.ReserveSlotRequest{
		DoctorID:          req.DoctorID,
		SpecialityCode:    req.SpecialityCode,
		AppointmentDate:   req.AppointmentDate,
		AppointmentTime:   req.AppointmentTime,
		VideoConsultation: req.VideoConsultation,
	})
	if gerr != nil {
		s.metrics.ObserveGatewayCall("reserve_slot", "error")
		a.MarkStatusLog(MarkerSlotNotFree, time.Now())
		if err := s.repo.Create(ctx, a); err != nil {
			return nil, err
		}
		s.record(ctx, rctx, a, "create", "", string(StatusDraft), audit.OutcomeUpstreamError, gerr)
		s.metrics.ObserveTransition("create", "upstream_error")
		return a, WrapError(CodeSlotNotFree, "the selected slot is no longer available, please choose a different slot", gerr)
	}
	s.metrics.ObserveGatewayCall("reserve_slot", "success")

	a.SlotReservationID = reservation.ReservationID
	a.SetStatus(StatusPaymentPending, time.Now())
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	s.record(ctx, rctx, a, "create", string(StatusDraft), string(StatusPaymentPending), audit.OutcomeSuccess, nil)
	s.metrics.ObserveTransition("create", "success")
	s.logger.Info("appointment: created",
		"appointment_id", a.ID, "hospital_code", hosp.Code, "reservation_id", a.SlotReservationID)
	return a, nil
}

// ConfirmRequest completes payment for a pending appointment.
type ConfirmRequest struct {
	PaymentTransactionNo string `json:"paymentTransactionNo"`
	BankReference        string `json:"bankReference"`
}

// Confirm validates the payment reference and confirms the held slot with
// the hospital. A missing reference with a non-zero charge fails the payment
// outright with no gateway call. A hospital-side failure after a captured
// payment parks the appointment in AWAITING_CONFIRMATION_FROM_HOSPITAL for
// operator retry; the payment is deliberately not rolled back so a retry can
// never double-charge.
func (s *Service) Confirm(ctx context.Context, rctx RequestContext, id uuid.UUID, req ConfirmRequest) (*Appointment, error) {
	ctx, span := serviceTracer.Start(ctx, "appointment.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("appointment.id", id.String()))

	a, err := s.load(ctx, rctx, id)
	if err != nil {
		s.metrics.ObserveTransition("confirm", "validation_error")
		return nil, err
	}
	from := string(a.Status)
	if a.Status != StatusPaymentPending {
		s.record(ctx, rctx, a, "confirm", from, from, audit.OutcomeValidationError, nil)
		s.metrics.ObserveTransition("confirm", "validation_error")
		return nil, NewError(CodeInvalidTransition, fmt.Sprintf("cannot confirm an appointment in status %s", a.Status))
	}

	if req.PaymentTransactionNo == "" && a.Charge.Price > 0 {
		a.SetStatus(StatusPaymentFailed, time.Now())
		if err := s.repo.Update(ctx, a); err != nil {
			return nil, err
		}
		s.record(ctx, rctx, a, "confirm", from, string(StatusPaymentFailed), audit.OutcomeValidationError, nil)
		s.metrics.ObserveTransition("confirm", "payment_failed")
		return a, NewError(CodePaymentFailed, "payment transaction reference is required")
	}

	a.PaymentTxnNo = req.PaymentTransactionNo
	a.PaymentDetails.BankReference = req.BankReference
	a.SetStatus(StatusPaymentSuccess, time.Now())

	created, gerr := s.gateway.CreateAppointment(ctx, a.Hospital.Code, hospital.CreateAppointmentRequest{
		ReservationID:     a.SlotReservationID,
		DoctorID:          a.DoctorID,
		SpecialityCode:    a.SpecialityCode,
		AppointmentDate:   a.AppointmentDate,
		AppointmentTime:   a.AppointmentTime,
		VideoConsultation: a.VideoConsultation,
		Patient: hospital.PatientInfo{
			Name:        a.Patient.Name,
			Gender:      a.Patient.Gender,
			DateOfBirth: a.Patient.DateOfBirth,
			Phone:       a.Patient.Phone,
			Email:       a.Patient.Email,
		},
		BillAmount:           a.Charge.Price,
		PaymentTransactionNo: a.PaymentTxnNo,
	})
	if gerr != nil {
		s.metrics.ObserveGatewayCall("create_appointment", "error")
		// Money is captured but the hospital slot is not confirmed. Hold the
		// appointment for operator retry instead of refunding, so a retry
		// cannot double-charge the patient.
		a.SetStatus(StatusAwaitingConfirmation, time.Now())
		if err := s.repo.Update(ctx, a); err != nil {
			return nil, err
		}
		s.record(ctx, rctx, a, "confirm", from, string(StatusAwaitingConfirmation), audit.OutcomeUpstreamError, gerr)
		s.metrics.ObserveTransition("confirm", "upstream_error")
		return a, WrapError(CodeConfirmationFailed, "payment received but the hospital could not confirm the appointment", gerr)
	}
	s.metrics.ObserveGatewayCall("create_appointment", "success")

	a.AppointmentID = created.AppointmentID
	a.BookingID = created.BookingID
	a.VisitID = created.VisitID
	a.BillID = created.BillID
	a.ReceiptID = created.ReceiptID
	a.DoctorPhone = created.DoctorPhone
	a.ReportingTime = created.ReportingTime
	a.SetStatus(StatusScheduled, time.Now())
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}

	s.scheduleFollowups(ctx, a)
	s.sendReceipt(ctx, a)
	if s.accounts != nil && created.VisitID != "" {
		if err := s.accounts.UpsertPatientAccount(ctx, a.Hospital.Code, a.Patient.FamilyMemberID.String(), created.VisitID); err != nil {
			s.logger.Error("appointment: patient account mapping failed",
				"appointment_id", a.ID, "error", err)
		}
	}

	s.record(ctx, rctx, a, "confirm", from, string(StatusScheduled), audit.OutcomeSuccess, nil)
	s.metrics.ObserveTransition("confirm", "success")
	s.logger.Info("appointment: scheduled",
		"appointment_id", a.ID, "hospital_appointment_id", a.AppointmentID, "booking_id", a.BookingID)
	return a, nil
}

// PaymentFailed records a client-reported payment gateway failure.
func (s *Service) PaymentFailed(ctx context.Context, rctx RequestContext, id uuid.UUID, gatewayResponse string) (*Appointment, error) {
	ctx, span := serviceTracer.Start(ctx, "appointment.payment_failed")
	defer span.End()

	a, err := s.load(ctx, rctx, id)
	if err != nil {
		return nil, err
	}
	from := string(a.Status)
	if !CanTransition(a.Status, StatusPaymentFailed) {
		s.record(ctx, rctx, a, "payment_failed", from, from, audit.OutcomeValidationError, nil)
		return nil, NewError(CodeInvalidTransition, fmt.Sprintf("cannot fail payment in status %s", a.Status))
	}

	a.PaymentDetails.GatewayResponse = gatewayResponse
	a.SetStatus(StatusPaymentFailed, time.Now())
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	s.record(ctx, rctx, a, "payment_failed", from, string(StatusPaymentFailed), audit.OutcomeSuccess, nil)
	s.metrics.ObserveTransition("payment_failed", "success")
	return a, nil
}

// RescheduleRequest moves a scheduled appointment to a new slot.
type RescheduleRequest struct {
	AppointmentDate string `json:"appointmentDate"`
	AppointmentTime string `json:"appointmentTime"`
	DoctorID        string `json:"doctorId"`
}

// Reschedule enforces the hospital's reschedule window before touching the
// gateway, then replaces the local record with the hospital's new
// identifiers and recomputes reminders.
func (s *Service) Reschedule(ctx context.Context, rctx RequestContext, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	ctx, span := serviceTracer.Start(ctx, "appointment.reschedule")
	defer span.End()

	a, err := s.load(ctx, rctx, id)
	if err != nil {
		s.metrics.ObserveTransition("reschedule", "validation_error")
		return nil, err
	}
	from := string(a.Status)
	if a.Status != StatusScheduled && a.Status != StatusRescheduled {
		s.record(ctx, rctx, a, "reschedule", from, from, audit.OutcomeValidationError, nil)
		s.metrics.ObserveTransition("reschedule", "validation_error")
		return nil, NewError(CodeInvalidTransition, fmt.Sprintf("cannot reschedule an appointment in status %s", a.Status))
	}
	if req.AppointmentDate == "" || req.AppointmentTime == "" {
		s.metrics.ObserveTransition("reschedule", "validation_error")
		return nil, NewError(CodeValidationFailed, "appointmentDate and appointmentTime are required")
	}

	window := s.policies.CancelRescheduleWindow(a.Hospital.Code)
	if remaining := time.Until(a.ScheduledAt(time.UTC)); !a.ScheduledAt(time.UTC).IsZero() &&
		remaining < time.Duration(window.RescheduleHours)*time.Hour {
		s.record(ctx, rctx, a, "reschedule", from, from, audit.OutcomePolicyViolation, nil)
		s.metrics.ObserveTransition("reschedule", "policy_violation")
		return nil, NewError(CodeRescheduleFailed,
			fmt.Sprintf("appointments can only be rescheduled at least %d hours in advance", window.RescheduleHours))
	}

	doctorID := req.DoctorID
	if doctorID == "" {
		doctorID = a.DoctorID
	}
	moved, gerr := s.gateway.RescheduleAppointment(ctx, a.Hospital.Code, a.AppointmentID, hospital.RescheduleRequest{
		DoctorID:        doctorID,
		AppointmentDate: req.AppointmentDate,
		AppointmentTime: req.AppointmentTime,
	})
	if gerr != nil {
		s.metrics.ObserveGatewayCall("reschedule_appointment", "error")
		s.record(ctx, rctx, a, "reschedule", from, from, audit.OutcomeUpstreamError, gerr)
		s.metrics.ObserveTransition("reschedule", "upstream_error")
		return nil, WrapError(CodeRescheduleFailed, "the hospital could not reschedule the appointment", gerr)
	}
	s.metrics.ObserveGatewayCall("reschedule_appointment", "success")

	a.DoctorID = doctorID
	a.AppointmentDate = req.AppointmentDate
	a.AppointmentTime = req.AppointmentTime
	if moved.AppointmentID != "" {
		a.AppointmentID = moved.AppointmentID
	}
	if moved.BookingID != "" {
		a.BookingID = moved.BookingID
	}
	if moved.VisitID != "" {
		a.VisitID = moved.VisitID
	}
	a.ReportingTime = moved.ReportingTime
	a.SetStatus(StatusRescheduled, time.Now())
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}

	s.scheduleFollowups(ctx, a)
	s.send(ctx, a.Patient.Phone, fmt.Sprintf("Your appointment with %s at %s has been moved to %s %s.",
		a.DoctorName, a.Hospital.Name, a.AppointmentDate, a.AppointmentTime), a.Hospital.Code)

	s.record(ctx, rctx, a, "reschedule", from, string(StatusRescheduled), audit.OutcomeSuccess, nil)
	s.metrics.ObserveTransition("reschedule", "success")
	return a, nil
}

// Cancel cancels the appointment with the hospital, zeroes the slot hold, and
// clears pending reminders and notifications.
func (s *Service) Cancel(ctx context.Context, rctx RequestContext, id uuid.UUID) (*Appointment, error) {
	ctx, span := serviceTracer.Start(ctx, "appointment.cancel")
	defer span.End()

	a, err := s.load(ctx, rctx, id)
	if err != nil {
		s.metrics.ObserveTransition("cancel", "validation_error")
		return nil, err
	}
	from := string(a.Status)
	if a.Status.IsTerminal() {
		s.record(ctx, rctx, a, "cancel", from, from, audit.OutcomeValidationError, nil)
		s.metrics.ObserveTransition("cancel", "validation_error")
		return nil, NewError(CodeInvalidTransition, fmt.Sprintf("cannot cancel an appointment in status %s", a.Status))
	}

	// The cancellation window is resolved but not enforced; reschedule
	// enforces its window while cancel historically has not.
	// TODO(product): decide whether the cancel window should be enforced.
	window := s.policies.CancelRescheduleWindow(a.Hospital.Code)
	s.logger.Debug("appointment: cancel window resolved but not enforced",
		"appointment_id", a.ID, "cancel_hours", window.CancelHours)

	if a.AppointmentID != "" {
		if gerr := s.gateway.CancelAppointment(ctx, a.Hospital.Code, a.AppointmentID); gerr != nil {
			s.metrics.ObserveGatewayCall("cancel_appointment", "error")
			s.record(ctx, rctx, a, "cancel", from, from, audit.OutcomeUpstreamError, gerr)
			s.metrics.ObserveTransition("cancel", "upstream_error")
			return nil, WrapError(CodeCancelFailed, "the hospital could not cancel the appointment", gerr)
		}
		s.metrics.ObserveGatewayCall("cancel_appointment", "success")
	} else if a.SlotReservationID != 0 {
		// Not yet confirmed hospital-side: release the hold instead.
		if gerr := s.gateway.ReleaseSlot(ctx, a.Hospital.Code, a.SlotReservationID); gerr != nil {
			s.metrics.ObserveGatewayCall("release_slot", "error")
			s.record(ctx, rctx, a, "cancel", from, from, audit.OutcomeUpstreamError, gerr)
			s.metrics.ObserveTransition("cancel", "upstream_error")
			return nil, WrapError(CodeCancelFailed, "the hospital could not release the slot reservation", gerr)
		}
		s.metrics.ObserveGatewayCall("release_slot", "success")
	}

	a.SlotReservationID = 0
	a.SetStatus(StatusCancelled, time.Now())
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}

	s.clearFollowups(ctx, a)
	s.send(ctx, a.Patient.Phone, fmt.Sprintf("Your appointment with %s at %s on %s %s has been cancelled.",
		a.DoctorName, a.Hospital.Name, a.AppointmentDate, a.AppointmentTime), a.Hospital.Code)
	s.send(ctx, a.DoctorPhone, fmt.Sprintf("Appointment with %s on %s %s has been cancelled by the patient.",
		a.Patient.Name, a.AppointmentDate, a.AppointmentTime), a.Hospital.Code)

	s.record(ctx, rctx, a, "cancel", from, string(StatusCancelled), audit.OutcomeSuccess, nil)
	s.metrics.ObserveTransition("cancel", "success")
	return a, nil
}

// Start marks a video consultation as begun by the doctor. Hospital-initiated
// and tolerant of re-entry from CLOSED.
func (s *Service) Start(ctx context.Context, rctx RequestContext, id uuid.UUID) (*Appointment, error) {
	ctx, span := serviceTracer.Start(ctx, "appointment.start")
	defer span.End()

	a, err := s.load(ctx, RequestContext{}, id)
	if err != nil {
		s.metrics.ObserveTransition("start", "validation_error")
		return nil, err
	}
	from := string(a.Status)
	if a.Status != StatusScheduled && a.Status != StatusRescheduled && a.Status != StatusClosed {
		s.record(ctx, rctx, a, "start", from, from, audit.OutcomeValidationError, nil)
		s.metrics.ObserveTransition("start", "validation_error")
		return nil, NewError(CodeInvalidTransition, fmt.Sprintf("cannot start a consultation in status %s", a.Status))
	}
	if !a.VideoConsultation {
		s.record(ctx, rctx, a, "start", from, from, audit.OutcomeValidationError, nil)
		s.metrics.ObserveTransition("start", "validation_error")
		return nil, NewError(CodeValidationFailed, "only video consultations can be started remotely")
	}

	a.SetStatus(StatusStarted, time.Now())
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		if err := s.notifier.ScheduleNotification(ctx, scheduler.Notification{
			ObjectID:   a.ID.String(),
			ObjectName: scheduler.ObjectNameAppointment,
			UserID:     a.UserID,
			NotifyAt:   time.Now().UTC(),
			Title:      "Your doctor has joined",
			Body:       fmt.Sprintf("%s is ready for your video consultation.", a.DoctorName),
			Phone:      a.Patient.Phone,
		}); err != nil {
			s.logger.Error("appointment: start notification failed", "appointment_id", a.ID, "error", err)
		}
	}
	s.send(ctx, a.Patient.Phone, fmt.Sprintf("%s has joined your video consultation. Please join now.", a.DoctorName), a.Hospital.Code)

	s.record(ctx, rctx, a, "start", from, string(StatusStarted), audit.OutcomeSuccess, nil)
	s.metrics.ObserveTransition("start", "success")
	return a, nil
}

// Close ends a started consultation. For deferred-capture gateways the
// authorized payment is captured here; a capture failure is recorded on the
// payment details for reconciliation and never blocks the close.
func (s *Service) Close(ctx context.Context, rctx RequestContext, id uuid.UUID) (*Appointment, error) {
	ctx, span := serviceTracer.Start(ctx, "appointment.close")
	defer span.End()

	a, err := s.load(ctx, RequestContext{}, id)
	if err != nil {
		s.metrics.ObserveTransition("close", "validation_error")
		return nil, err
	}
	from := string(a.Status)
	if a.Status != StatusStarted {
		s.record(ctx, rctx, a, "close", from, from, audit.OutcomeValidationError, nil)
		s.metrics.ObserveTransition("close", "validation_error")
		return nil, NewError(CodeInvalidTransition, fmt.Sprintf("cannot close a consultation in status %s", a.Status))
	}

	if a.PaymentDetails.DeferredCapture && a.PaymentTxnNo != "" && a.Charge.Price > 0 && s.capturer != nil {
		result, cerr := s.capturer.Capture(ctx, a.PaymentTxnNo, a.Charge.Price)
		if cerr != nil {
			a.PaymentDetails.CaptureError = cerr.Error()
			s.logger.Error("appointment: payment capture failed, recorded for reconciliation",
				"appointment_id", a.ID, "transaction_no", a.PaymentTxnNo, "error", cerr)
		} else {
			raw, _ := json.Marshal(result)
			a.PaymentDetails.CaptureResponse = string(raw)
			a.PaymentDetails.CaptureError = ""
		}
	}

	a.SetStatus(StatusClosed, time.Now())
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		if err := s.notifier.DeactivateReminder(ctx, a.ID.String(), scheduler.ObjectNameAppointment); err != nil {
			s.logger.Error("appointment: deactivate reminder failed", "appointment_id", a.ID, "error", err)
		}
	}

	s.record(ctx, rctx, a, "close", from, string(StatusClosed), audit.OutcomeSuccess, nil)
	s.metrics.ObserveTransition("close", "success")
	return a, nil
}

// Delete soft-deletes an appointment that never reached the hospital. A live
// slot hold is released best-effort first; release failure is reported in the
// logs but does not block the delete, the booking is abandoned either way.
func (s *Service) Delete(ctx context.Context, rctx RequestContext, id uuid.UUID) (*Appointment, error) {
	ctx, span := serviceTracer.Start(ctx, "appointment.delete")
	defer span.End()

	a, err := s.load(ctx, rctx, id)
	if err != nil {
		s.metrics.ObserveTransition("delete", "validation_error")
		return nil, err
	}
	from := string(a.Status)
	switch a.Status {
	case StatusDraft, StatusPaymentPending, StatusPaymentFailed:
	default:
		s.record(ctx, rctx, a, "delete", from, from, audit.OutcomeValidationError, nil)
		s.metrics.ObserveTransition("delete", "validation_error")
		return nil, NewError(CodeInvalidTransition, fmt.Sprintf("cannot delete an appointment in status %s", a.Status))
	}

	if a.SlotReservationID != 0 {
		if gerr := s.gateway.ReleaseSlot(ctx, a.Hospital.Code, a.SlotReservationID); gerr != nil {
			s.metrics.ObserveGatewayCall("release_slot", "error")
			s.logger.Error("appointment: slot release failed during delete",
				"appointment_id", a.ID, "reservation_id", a.SlotReservationID, "error", gerr)
		} else {
			s.metrics.ObserveGatewayCall("release_slot", "success")
		}
		a.SlotReservationID = 0
	}

	a.Active = false
	a.SetStatus(StatusDeleted, time.Now())
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}

	s.clearFollowups(ctx, a)
	s.record(ctx, rctx, a, "delete", from, string(StatusDeleted), audit.OutcomeSuccess, nil)
	s.metrics.ObserveTransition("delete", "success")
	return a, nil
}

// Get returns one appointment owned by the requesting user.
func (s *Service) Get(ctx context.Context, rctx RequestContext, id uuid.UUID) (*Appointment, error) {
	return s.load(ctx, rctx, id)
}

// List returns the requesting user's active appointments, newest first.
func (s *Service) List(ctx context.Context, rctx RequestContext, limit int) ([]Appointment, error) {
	return s.repo.ListByUser(ctx, rctx.UserID, limit)
}

// MarkRead flags an appointment as seen by the patient.
func (s *Service) MarkRead(ctx context.Context, rctx RequestContext, id uuid.UUID) error {
	if _, err := s.load(ctx, rctx, id); err != nil {
		return err
	}
	return s.repo.MarkRead(ctx, id)
}

// load fetches the aggregate and checks ownership. A zero UserID skips the
// ownership check, used by hospital-initiated transitions.
func (s *Service) load(ctx context.Context, rctx RequestContext, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, WrapError(CodeNotFound, "appointment not found", err)
	}
	if rctx.UserID != uuid.Nil && a.UserID != rctx.UserID {
		return nil, NewError(CodeNotFound, "appointment not found")
	}
	return a, nil
}

// scheduleFollowups replaces the reminder (and, for video consultations, the
// push notification) keyed by this appointment. Failures are logged, never
// surfaced: the transition is already committed.
func (s *Service) scheduleFollowups(ctx context.Context, a *Appointment) {
	if s.notifier == nil {
		return
	}
	remindAt := a.ScheduledAt(time.UTC).Add(-reminderLead)
	if err := s.notifier.ScheduleReminder(ctx, scheduler.Reminder{
		ObjectID:       a.ID.String(),
		ObjectName:     scheduler.ObjectNameAppointment,
		FamilyMemberID: a.Patient.FamilyMemberID,
		RemindAt:       remindAt,
		Title:          "Upcoming appointment",
		Body: fmt.Sprintf("Appointment with %s at %s on %s %s.",
			a.DoctorName, a.Hospital.Name, a.AppointmentDate, a.AppointmentTime),
		Phone: a.Patient.Phone,
	}); err != nil {
		s.logger.Error("appointment: schedule reminder failed", "appointment_id", a.ID, "error", err)
	}

	if !a.VideoConsultation {
		return
	}
	if err := s.notifier.ScheduleNotification(ctx, scheduler.Notification{
		ObjectID:   a.ID.String(),
		ObjectName: scheduler.ObjectNameAppointment,
		UserID:     a.UserID,
		NotifyAt:   remindAt,
		Title:      "Video consultation soon",
		Body: fmt.Sprintf("Your video consultation with %s starts at %s.",
			a.DoctorName, a.AppointmentTime),
		Phone: a.Patient.Phone,
	}); err != nil {
		s.logger.Error("appointment: schedule notification failed", "appointment_id", a.ID, "error", err)
	}
}

func (s *Service) clearFollowups(ctx context.Context, a *Appointment) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.ClearReminder(ctx, a.ID.String(), scheduler.ObjectNameAppointment); err != nil {
		s.logger.Error("appointment: clear reminder failed", "appointment_id", a.ID, "error", err)
	}
	if err := s.notifier.ClearNotifications(ctx, a.ID.String(), scheduler.ObjectNameAppointment); err != nil {
		s.logger.Error("appointment: clear notifications failed", "appointment_id", a.ID, "error", err)
	}
}

// sendReceipt emails and texts the booking receipt, best-effort.
func (s *Service) sendReceipt(ctx context.Context, a *Appointment) {
	if s.messenger == nil {
		return
	}
	body := fmt.Sprintf(`Dear %s,

Your appointment is confirmed.

Doctor: %s
Hospital: %s, %s
Date: %s %s
Booking reference: %s
Amount paid: %d.%02d %s

Please arrive 15 minutes before your reporting time%s.`,
		a.Patient.Name, a.DoctorName, a.Hospital.Name, a.Hospital.Address,
		a.AppointmentDate, a.AppointmentTime, a.BookingID,
		a.Charge.Price/100, a.Charge.Price%100, a.Charge.Currency,
		reportingSuffix(a.ReportingTime))

	if err := s.messenger.SendEmail(ctx, messaging.EmailMessage{
		To:      a.Patient.Email,
		ToName:  a.Patient.Name,
		Subject: fmt.Sprintf("Appointment confirmed - %s, %s %s", a.DoctorName, a.AppointmentDate, a.AppointmentTime),
		Body:    body,
	}); err != nil {
		s.logger.Error("appointment: receipt email failed", "appointment_id", a.ID, "error", err)
	}
	s.send(ctx, a.Patient.Phone, fmt.Sprintf("Appointment confirmed with %s at %s on %s %s. Booking ref %s.",
		a.DoctorName, a.Hospital.Name, a.AppointmentDate, a.AppointmentTime, a.BookingID), a.Hospital.Code)
	if a.Patient.Phone != "" {
		// Template placeholders: patient, doctor, hospital, when, booking ref.
		if err := s.messenger.SendWhatsApp(ctx, a.Patient.Phone, []string{
			a.Patient.Name,
			a.DoctorName,
			a.Hospital.Name,
			a.AppointmentDate + " " + a.AppointmentTime,
			a.BookingID,
		}); err != nil {
			s.logger.Error("appointment: receipt whatsapp failed", "appointment_id", a.ID, "error", err)
		}
	}
}

// send delivers an SMS, best-effort.
func (s *Service) send(ctx context.Context, phone, text, hospitalCode string) {
	if s.messenger == nil || phone == "" {
		return
	}
	if err := s.messenger.SendSMS(ctx, phone, text, hospitalCode); err != nil {
		s.logger.Error("appointment: sms failed", "phone", phone, "error", err)
	}
}

// record appends one audit event, fire-and-forget: an audit failure is
// logged and never fails the transition that produced it.
func (s *Service) record(ctx context.Context, rctx RequestContext, a *Appointment, action, fromStatus, toStatus string, outcome audit.Outcome, cause error) {
	if s.auditor == nil {
		return
	}
	event := audit.Event{
		ObjectID:   a.ID.String(),
		ObjectName: "Appointment",
		Action:     action,
		FromStatus: fromStatus,
		ToStatus:   toStatus,
		Outcome:    outcome,
		UserID:     userIDString(rctx.UserID),
		RemoteIP:   rctx.RemoteIP,
	}
	if cause != nil {
		event.ErrorText = cause.Error()
	}
	if err := s.auditor.Record(ctx, event); err != nil {
		s.logger.Error("appointment: audit write failed",
			"appointment_id", a.ID, "action", action, "error", err)
	}
}

func userIDString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func reportingSuffix(reportingTime string) string {
	if reportingTime == "" {
		return ""
	}
	return fmt.Sprintf(" (reporting time %s)", reportingTime)
}
