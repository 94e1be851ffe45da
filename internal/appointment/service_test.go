package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varaprasadreddy9676/patient-care-sub000/internal/audit"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/hospital"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/messaging"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/patient"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/payments"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/policy"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/scheduler"
)

type fakeRepo struct {
	items   map[uuid.UUID]Appointment
	updates int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{items: map[uuid.UUID]Appointment{}}
}

func (r *fakeRepo) put(a *Appointment) {
	copied := *a
	copied.StatusLog = append([]StatusEntry(nil), a.StatusLog...)
	r.items[a.ID] = copied
}

func (r *fakeRepo) Create(_ context.Context, a *Appointment) error {
	r.put(a)
	return nil
}

func (r *fakeRepo) Update(_ context.Context, a *Appointment) error {
	if _, ok := r.items[a.ID]; !ok {
		return ErrNotFound
	}
	r.updates++
	r.put(a)
	return nil
}

func (r *fakeRepo) Get(_ context.Context, id uuid.UUID) (*Appointment, error) {
	stored, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := stored
	copied.StatusLog = append([]StatusEntry(nil), stored.StatusLog...)
	return &copied, nil
}

func (r *fakeRepo) ListByUser(_ context.Context, userID uuid.UUID, _ int) ([]Appointment, error) {
	var out []Appointment
	for _, a := range r.items {
		if a.UserID == userID && a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeRepo) MarkRead(_ context.Context, id uuid.UUID) error {
	a, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	a.Read = true
	r.items[id] = a
	return nil
}

type fakeGateway struct {
	reserveCalls    int
	releaseCalls    int
	createCalls     int
	rescheduleCalls int
	cancelCalls     int

	reserveErr    error
	createErr     error
	rescheduleErr error
	cancelErr     error
	releaseErr    error
}

func (g *fakeGateway) ReserveSlot(_ context.Context, _ string, _ hospital.ReserveSlotRequest) (*hospital.ReserveSlotResponse, error) {
	g.reserveCalls++
	if g.reserveErr != nil {
		return nil, g.reserveErr
	}
	return &hospital.ReserveSlotResponse{ReservationID: 9001}, nil
}

func (g *fakeGateway) ReleaseSlot(_ context.Context, _ string, _ int64) error {
	g.releaseCalls++
	return g.releaseErr
}

func (g *fakeGateway) CreateAppointment(_ context.Context, _ string, _ hospital.CreateAppointmentRequest) (*hospital.CreateAppointmentResponse, error) {
	g.createCalls++
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &hospital.CreateAppointmentResponse{
		AppointmentID: "H-APT-1",
		BookingID:     "H-BK-1",
		VisitID:       "H-VISIT-1",
		BillID:        "H-BILL-1",
		ReceiptID:     "H-RCPT-1",
		DoctorPhone:   "+911234500000",
		ReportingTime: "14:15",
	}, nil
}

func (g *fakeGateway) RescheduleAppointment(_ context.Context, _ string, _ string, _ hospital.RescheduleRequest) (*hospital.RescheduleResponse, error) {
	g.rescheduleCalls++
	if g.rescheduleErr != nil {
		return nil, g.rescheduleErr
	}
	return &hospital.RescheduleResponse{
		AppointmentID: "H-APT-2",
		BookingID:     "H-BK-2",
		VisitID:       "H-VISIT-2",
		ReportingTime: "09:45",
	}, nil
}

func (g *fakeGateway) CancelAppointment(_ context.Context, _ string, _ string) error {
	g.cancelCalls++
	return g.cancelErr
}

type fakePatients struct {
	member *patient.FamilyMember
}

func (p *fakePatients) Get(_ context.Context, id uuid.UUID) (*patient.FamilyMember, error) {
	if p.member == nil || p.member.ID != id {
		return nil, patient.ErrNotFound
	}
	return p.member, nil
}

type fakeHospitals struct {
	hosp *hospital.Hospital
}

func (h *fakeHospitals) Get(_ context.Context, code string) (*hospital.Hospital, error) {
	if h.hosp == nil || h.hosp.Code != code {
		return nil, hospital.ErrNotFound
	}
	return h.hosp, nil
}

type fakeAccounts struct {
	upserts []string
}

func (a *fakeAccounts) UpsertPatientAccount(_ context.Context, hospitalCode, familyMemberID, hospitalPatientID string) error {
	a.upserts = append(a.upserts, hospitalCode+"/"+familyMemberID+"/"+hospitalPatientID)
	return nil
}

type fakePolicies struct {
	window policy.Window
}

func (p *fakePolicies) CancelRescheduleWindow(string) policy.Window { return p.window }

type fakeAuditor struct {
	events []audit.Event
	err    error
}

func (a *fakeAuditor) Record(_ context.Context, event audit.Event) error {
	a.events = append(a.events, event)
	return a.err
}

func (a *fakeAuditor) last(t *testing.T) audit.Event {
	t.Helper()
	require.NotEmpty(t, a.events)
	return a.events[len(a.events)-1]
}

type fakeNotifier struct {
	reminders       []scheduler.Reminder
	notifications   []scheduler.Notification
	clearedReminder int
	clearedNotifs   int
	deactivated     int
	err             error
}

func (n *fakeNotifier) ScheduleReminder(_ context.Context, r scheduler.Reminder) error {
	n.reminders = append(n.reminders, r)
	return n.err
}

func (n *fakeNotifier) ScheduleNotification(_ context.Context, nf scheduler.Notification) error {
	n.notifications = append(n.notifications, nf)
	return n.err
}

func (n *fakeNotifier) ClearReminder(_ context.Context, _, _ string) error {
	n.clearedReminder++
	return n.err
}

func (n *fakeNotifier) ClearNotifications(_ context.Context, _, _ string) error {
	n.clearedNotifs++
	return n.err
}

func (n *fakeNotifier) DeactivateReminder(_ context.Context, _, _ string) error {
	n.deactivated++
	return n.err
}

type fakeMessenger struct {
	sms      []string
	emails   []messaging.EmailMessage
	whatsapp [][]string
}

func (m *fakeMessenger) SendSMS(_ context.Context, phone, text, _ string) error {
	m.sms = append(m.sms, phone+": "+text)
	return nil
}

func (m *fakeMessenger) SendEmail(_ context.Context, msg messaging.EmailMessage) error {
	m.emails = append(m.emails, msg)
	return nil
}

func (m *fakeMessenger) SendWhatsApp(_ context.Context, phone string, params []string) error {
	m.whatsapp = append(m.whatsapp, append([]string{phone}, params...))
	return nil
}

type fakeCapturer struct {
	calls int
	err   error
}

func (c *fakeCapturer) Capture(_ context.Context, txn string, amount int64) (*payments.CaptureResult, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &payments.CaptureResult{TransactionNo: txn, Status: "CAPTURED", AmountMinor: amount}, nil
}

type serviceFixture struct {
	service   *Service
	repo      *fakeRepo
	gateway   *fakeGateway
	accounts  *fakeAccounts
	policies  *fakePolicies
	auditor   *fakeAuditor
	notifier  *fakeNotifier
	messenger *fakeMessenger
	capturer  *fakeCapturer

	userID uuid.UUID
	member *patient.FamilyMember
}

func newServiceFixture() *serviceFixture {
	userID := uuid.New()
	member := &patient.FamilyMember{
		ID:     uuid.New(),
		UserID: userID,
		Name:   "Asha Rao",
		Phone:  "+919876543210",
		Email:  "asha@example.com",
	}
	f := &serviceFixture{
		repo:      newFakeRepo(),
		gateway:   &fakeGateway{},
		accounts:  &fakeAccounts{},
		policies:  &fakePolicies{window: policy.Window{RescheduleHours: 4, CancelHours: 2}},
		auditor:   &fakeAuditor{},
		notifier:  &fakeNotifier{},
		messenger: &fakeMessenger{},
		capturer:  &fakeCapturer{},
		userID:    userID,
		member:    member,
	}
	f.service = NewService(ServiceConfig{
		Repo:     f.repo,
		Gateway:  f.gateway,
		Patients: &fakePatients{member: member},
		Hospitals: &fakeHospitals{hosp: &hospital.Hospital{
			ID:                uuid.New(),
			Code:              "APOLLO",
			Name:              "Apollo Clinic",
			PaymentGatewayKey: "pg-key",
		}},
		Accounts:  f.accounts,
		Policies:  f.policies,
		Auditor:   f.auditor,
		Notifier:  f.notifier,
		Messenger: f.messenger,
		Capturer:  f.capturer,
	})
	return f
}

func (f *serviceFixture) rctx() RequestContext {
	return RequestContext{UserID: f.userID, RemoteIP: "10.0.0.1"}
}

func (f *serviceFixture) createRequest() CreateRequest {
	return CreateRequest{
		FamilyMemberID:  f.member.ID,
		HospitalCode:    "APOLLO",
		DoctorID:        "DOC-7",
		DoctorName:      "Dr. Menon",
		AppointmentDate: time.Now().Add(72 * time.Hour).Format("2006-01-02"),
		AppointmentTime: "14:30",
		Charge:          ConsultationCharge{Price: 50000, Currency: "INR"},
	}
}

// create drives the fixture through a successful booking up to SCHEDULED.
func (f *serviceFixture) scheduled(t *testing.T, video bool) *Appointment {
	t.Helper()
	req := f.createRequest()
	req.VideoConsultation = video
	a, err := f.service.Create(context.Background(), f.rctx(), req)
	require.NoError(t, err)
	a, err = f.service.Confirm(context.Background(), f.rctx(), a.ID, ConfirmRequest{
		PaymentTransactionNo: "TXN-1", BankReference: "BANK-1",
	})
	require.NoError(t, err)
	require.Equal(t, StatusScheduled, a.Status)
	return a
}

func TestCreateHappyPath(t *testing.T) {
	f := newServiceFixture()

	a, err := f.service.Create(context.Background(), f.rctx(), f.createRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusPaymentPending, a.Status)
	assert.Equal(t, int64(9001), a.SlotReservationID)
	assert.Equal(t, 1, f.gateway.reserveCalls)
	require.Len(t, a.StatusLog, 2)
	assert.Equal(t, StatusDraft, a.StatusLog[0].Status)
	assert.Equal(t, StatusPaymentPending, a.StatusLog[1].Status)
	assert.Equal(t, "Asha Rao", a.Patient.Name)
	assert.Equal(t, "Apollo Clinic", a.Hospital.Name)
	assert.Equal(t, "pg-key", a.PaymentDetails.GatewayKey)

	stored, err := f.repo.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentPending, stored.Status)

	event := f.auditor.last(t)
	assert.Equal(t, "create", event.Action)
	assert.Equal(t, audit.OutcomeSuccess, event.Outcome)
	assert.Equal(t, string(StatusPaymentPending), event.ToStatus)
}

func TestCreateSlotNotFree(t *testing.T) {
	f := newServiceFixture()
	f.gateway.reserveErr = &hospital.UpstreamError{Op: "reserve slot", Message: "SLOT ALREADY BOOKED"}

	a, err := f.service.Create(context.Background(), f.rctx(), f.createRequest())
	require.Error(t, err)

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, CodeSlotNotFree, serr.Code)

	// The draft survives with the rejection marker so the client can retry
	// against the same record.
	require.NotNil(t, a)
	assert.Equal(t, StatusDraft, a.Status)
	assert.Equal(t, int64(0), a.SlotReservationID)
	require.Len(t, a.StatusLog, 2)
	assert.Equal(t, MarkerSlotNotFree, a.StatusLog[1].Status)
	assert.Equal(t, 1, f.gateway.reserveCalls)

	stored, err := f.repo.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, MarkerSlotNotFree, stored.StatusLog[1].Status)

	event := f.auditor.last(t)
	assert.Equal(t, audit.OutcomeUpstreamError, event.Outcome)
}

func TestCreateValidation(t *testing.T) {
	f := newServiceFixture()

	req := f.createRequest()
	req.HospitalCode = ""
	_, err := f.service.Create(context.Background(), f.rctx(), req)

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, CodeValidationFailed, serr.Code)
	assert.Zero(t, f.gateway.reserveCalls)
	assert.Empty(t, f.repo.items)
}

func TestConfirmHappyPath(t *testing.T) {
	f := newServiceFixture()
	a := f.scheduled(t, false)

	assert.Equal(t, "H-APT-1", a.AppointmentID)
	assert.Equal(t, "H-BK-1", a.BookingID)
	assert.Equal(t, "H-VISIT-1", a.VisitID)
	assert.Equal(t, "TXN-1", a.PaymentTxnNo)
	assert.Equal(t, 1, f.gateway.createCalls)

	// DRAFT, PAYMENT_PENDING, PAYMENT_SUCCESS, SCHEDULED in order.
	require.Len(t, a.StatusLog, 4)
	assert.Equal(t, StatusPaymentSuccess, a.StatusLog[2].Status)
	assert.Equal(t, StatusScheduled, a.StatusLog[3].Status)

	require.Len(t, f.notifier.reminders, 1)
	reminder := f.notifier.reminders[0]
	assert.Equal(t, a.ID.String(), reminder.ObjectID)
	assert.Equal(t, scheduler.ObjectNameAppointment, reminder.ObjectName)
	assert.Equal(t, a.ScheduledAt(time.UTC).Add(-time.Hour), reminder.RemindAt)
	// No video consultation, no push notification.
	assert.Empty(t, f.notifier.notifications)

	require.Len(t, f.messenger.emails, 1)
	assert.Equal(t, "asha@example.com", f.messenger.emails[0].To)
	require.Len(t, f.messenger.sms, 1)

	require.Len(t, f.accounts.upserts, 1)
	assert.Contains(t, f.accounts.upserts[0], "H-VISIT-1")
}

func TestConfirmSendsWhatsAppReceipt(t *testing.T) {
	f := newServiceFixture()
	a := f.scheduled(t, false)

	require.Len(t, f.messenger.whatsapp, 1)
	sent := f.messenger.whatsapp[0]
	assert.Equal(t, "+919876543210", sent[0])
	assert.Equal(t, []string{"Asha Rao", "Dr. Menon", "Apollo Clinic",
		a.AppointmentDate + " " + a.AppointmentTime, "H-BK-1"}, sent[1:])
}

func TestConfirmVideoSchedulesNotification(t *testing.T) {
	f := newServiceFixture()
	a := f.scheduled(t, true)

	require.Len(t, f.notifier.notifications, 1)
	assert.Equal(t, a.ID.String(), f.notifier.notifications[0].ObjectID)
}

func TestConfirmMissingPaymentReference(t *testing.T) {
	f := newServiceFixture()
	a, err := f.service.Create(context.Background(), f.rctx(), f.createRequest())
	require.NoError(t, err)

	a, err = f.service.Confirm(context.Background(), f.rctx(), a.ID, ConfirmRequest{})
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, CodePaymentFailed, serr.Code)
	assert.Equal(t, StatusPaymentFailed, a.Status)
	// The hospital is never consulted for a failed payment.
	assert.Zero(t, f.gateway.createCalls)
}

func TestConfirmZeroChargeWithoutReference(t *testing.T) {
	f := newServiceFixture()
	req := f.createRequest()
	req.Charge = ConsultationCharge{}
	a, err := f.service.Create(context.Background(), f.rctx(), req)
	require.NoError(t, err)

	a, err = f.service.Confirm(context.Background(), f.rctx(), a.ID, ConfirmRequest{})
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, a.Status)
	assert.Equal(t, 1, f.gateway.createCalls)
}

func TestConfirmHospitalFailureParksAppointment(t *testing.T) {
	f := newServiceFixture()
	a, err := f.service.Create(context.Background(), f.rctx(), f.createRequest())
	require.NoError(t, err)
	f.gateway.createErr = &hospital.UpstreamError{Op: "create appointment", Message: "HIS DOWN"}

	a, err = f.service.Confirm(context.Background(), f.rctx(), a.ID, ConfirmRequest{PaymentTransactionNo: "TXN-1"})
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, CodeConfirmationFailed, serr.Code)
	assert.Equal(t, StatusAwaitingConfirmation, a.Status)
	// Payment success stays on the record for the operator retry.
	assert.Equal(t, "TXN-1", a.PaymentTxnNo)
	assert.Equal(t, StatusPaymentSuccess, a.StatusLog[len(a.StatusLog)-2].Status)
	assert.Empty(t, f.notifier.reminders)

	stored, err := f.repo.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingConfirmation, stored.Status)
}

func TestConfirmWrongStatus(t *testing.T) {
	f := newServiceFixture()
	a := f.scheduled(t, false)

	_, err := f.service.Confirm(context.Background(), f.rctx(), a.ID, ConfirmRequest{PaymentTransactionNo: "TXN-2"})
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, CodeInvalidTransition, serr.Code)
	assert.Equal(t, 1, f.gateway.createCalls)
}

func TestPaymentFailed(t *testing.T) {
	f := newServiceFixture()
	a, err := f.service.Create(context.Background(), f.rctx(), f.createRequest())
	require.NoError(t, err)

	a, err = f.service.PaymentFailed(context.Background(), f.rctx(), a.ID, `{"reason":"declined"}`)
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentFailed, a.Status)
	assert.Equal(t, `{"reason":"declined"}`, a.PaymentDetails.GatewayResponse)
}

func TestRescheduleHappyPath(t *testing.T) {
	f := newServiceFixture()
	a := f.scheduled(t, false)
	newDate := time.Now().Add(96 * time.Hour).Format("2006-01-02")

	a, err := f.service.Reschedule(context.Background(), f.rctx(), a.ID, RescheduleRequest{
		AppointmentDate: newDate,
		AppointmentTime: "09:30",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusRescheduled, a.Status)
	assert.Equal(t, newDate, a.AppointmentDate)
	assert.Equal(t, "09:30", a.AppointmentTime)
	assert.Equal(t, "H-APT-2", a.AppointmentID)
	assert.Equal(t, "H-BK-2", a.BookingID)
	assert.Equal(t, 1, f.gateway.rescheduleCalls)

	// The reminder is replaced under the same key, not duplicated.
	require.Len(t, f.notifier.reminders, 2)
	assert.Equal(t, a.ID.String(), f.notifier.reminders[1].ObjectID)
	assert.Equal(t, a.ScheduledAt(time.UTC).Add(-time.Hour), f.notifier.reminders[1].RemindAt)
}

func TestRescheduleInsideWindowRejected(t *testing.T) {
	f := newServiceFixture()
	f.policies.window = policy.Window{RescheduleHours: 100}
	a := f.scheduled(t, false)
	before, err := f.repo.Get(context.Background(), a.ID)
	require.NoError(t, err)

	_, err = f.service.Reschedule(context.Background(), f.rctx(), a.ID, RescheduleRequest{
		AppointmentDate: time.Now().Add(200 * time.Hour).Format("2006-01-02"),
		AppointmentTime: "09:30",
	})
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, CodeRescheduleFailed, serr.Code)
	assert.Zero(t, f.gateway.rescheduleCalls)

	// A rejected transition leaves the aggregate byte-for-byte as it was.
	after, err := f.repo.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	event := f.auditor.last(t)
	assert.Equal(t, audit.OutcomePolicyViolation, event.Outcome)
}

func TestRescheduleGatewayFailure(t *testing.T) {
	f := newServiceFixture()
	a := f.scheduled(t, false)
	f.gateway.rescheduleErr = errors.New("boom")
	before, err := f.repo.Get(context.Background(), a.ID)
	require.NoError(t, err)

	_, err = f.service.Reschedule(context.Background(), f.rctx(), a.ID, RescheduleRequest{
		AppointmentDate: time.Now().Add(96 * time.Hour).Format("2006-01-02"),
		AppointmentTime: "09:30",
	})
	require.Error(t, err)

	after, err := f.repo.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCancelScheduled(t *testing.T) {
	f := newServiceFixture()
	a := f.scheduled(t, false)

	a, err := f.service.Cancel(context.Background(), f.rctx(), a.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, a.Status)
	assert.Equal(t, int64(0), a.SlotReservationID)
	assert.Equal(t, 1, f.gateway.cancelCalls)
	assert.Zero(t, f.gateway.releaseCalls)
	assert.Equal(t, 1, f.notifier.clearedReminder)
	assert.Equal(t, 1, f.notifier.clearedNotifs)
	// Patient and doctor both get a text.
	assert.Len(t, f.messenger.sms, 3) // receipt + patient cancel + doctor cancel
}

func TestCancelBeforeHospitalConfirmationReleasesSlot(t *testing.T) {
	f := newServiceFixture()
	a, err := f.service.Create(context.Background(), f.rctx(), f.createRequest())
	require.NoError(t, err)

	a, err = f.service.Cancel(context.Background(), f.rctx(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, a.Status)
	assert.Equal(t, 1, f.gateway.releaseCalls)
	assert.Zero(t, f.gateway.cancelCalls)
}

func TestCancelTerminalRejected(t *testing.T) {
	f := newServiceFixture()
	a := f.scheduled(t, false)
	_, err := f.service.Cancel(context.Background(), f.rctx(), a.ID)
	require.NoError(t, err)

	_, err = f.service.Cancel(context.Background(), f.rctx(), a.ID)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, CodeInvalidTransition, serr.Code)
	assert.Equal(t, 1, f.gateway.cancelCalls)
}

func TestStartVideoConsultation(t *testing.T) {
	f := newServiceFixture()
	a := f.scheduled(t, true)

	a, err := f.service.Start(context.Background(), RequestContext{}, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, a.Status)
}

func TestStartRejectsInPerson(t *testing.T) {
	f := newServiceFixture()
	a := f.scheduled(t, false)

	_, err := f.service.Start(context.Background(), RequestContext{}, a.ID)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, CodeValidationFailed, serr.Code)
}

func TestStartFromPaymentPendingRejected(t *testing.T) {
	f := newServiceFixture()
	a, err := f.service.Create(context.Background(), f.rctx(), f.createRequest())
	require.NoError(t, err)

	_, err = f.service.Start(context.Background(), RequestContext{}, a.ID)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, CodeInvalidTransition, serr.Code)

	stored, err := f.repo.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentPending, stored.Status)
	require.Len(t, stored.StatusLog, 2)
}

func TestStartReentryFromClosed(t *testing.T) {
	f := newServiceFixture()
	a := f.scheduled(t, true)
	_, err := f.service.Start(context.Background(), RequestContext{}, a.ID)
	require.NoError(t, err)
	_, err = f.service.Close(context.Background(), RequestContext{}, a.ID)
	require.NoError(t, err)

	// The doctor rejoining after closing reopens the consultation.
	a, err = f.service.Start(context.Background(), RequestContext{}, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, a.Status)
}

func TestCloseCapturesDeferredPayment(t *testing.T) {
	f := newServiceFixture()
	a := f.scheduled(t, true)
	// Flip the aggregate to deferred capture as a deferred-capture hospital
	// would have at creation.
	stored := f.repo.items[a.ID]
	stored.PaymentDetails.DeferredCapture = true
	f.repo.items[a.ID] = stored

	_, err := f.service.Start(context.Background(), RequestContext{}, a.ID)
	require.NoError(t, err)
	a, err = f.service.Close(context.Background(), RequestContext{}, a.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusClosed, a.Status)
	assert.Equal(t, 1, f.capturer.calls)
	assert.Contains(t, a.PaymentDetails.CaptureResponse, "CAPTURED")
	assert.Empty(t, a.PaymentDetails.CaptureError)
	assert.Equal(t, 1, f.notifier.deactivated)
}

func TestCloseRecordsCaptureFailure(t *testing.T) {
	f := newServiceFixture()
	a := f.scheduled(t, true)
	stored := f.repo.items[a.ID]
	stored.PaymentDetails.DeferredCapture = true
	f.repo.items[a.ID] = stored
	f.capturer.err = errors.New("capture declined")

	_, err := f.service.Start(context.Background(), RequestContext{}, a.ID)
	require.NoError(t, err)
	a, err = f.service.Close(context.Background(), RequestContext{}, a.ID)
	require.NoError(t, err)

	// Capture failure never blocks the close, it is parked for
	// reconciliation.
	assert.Equal(t, StatusClosed, a.Status)
	assert.Equal(t, "capture declined", a.PaymentDetails.CaptureError)
}

func TestCloseTwiceRejected(t *testing.T) {
	f := newServiceFixture()
	a := f.scheduled(t, true)
	_, err := f.service.Start(context.Background(), RequestContext{}, a.ID)
	require.NoError(t, err)
	a, err = f.service.Close(context.Background(), RequestContext{}, a.ID)
	require.NoError(t, err)
	logLen := len(a.StatusLog)

	_, err = f.service.Close(context.Background(), RequestContext{}, a.ID)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, CodeInvalidTransition, serr.Code)

	stored, err := f.repo.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, stored.Status)
	assert.Len(t, stored.StatusLog, logLen)
}

func TestCloseSkipsCaptureForImmediatePayment(t *testing.T) {
	f := newServiceFixture()
	a := f.scheduled(t, true)

	_, err := f.service.Start(context.Background(), RequestContext{}, a.ID)
	require.NoError(t, err)
	_, err = f.service.Close(context.Background(), RequestContext{}, a.ID)
	require.NoError(t, err)
	assert.Zero(t, f.capturer.calls)
}

func TestDeleteReleasesHeldSlot(t *testing.T) {
	f := newServiceFixture()
	a, err := f.service.Create(context.Background(), f.rctx(), f.createRequest())
	require.NoError(t, err)

	a, err = f.service.Delete(context.Background(), f.rctx(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, a.Status)
	assert.False(t, a.Active)
	assert.Equal(t, 1, f.gateway.releaseCalls)
	assert.Equal(t, 1, f.notifier.clearedReminder)
}

func TestDeleteRejectedAfterScheduling(t *testing.T) {
	f := newServiceFixture()
	a := f.scheduled(t, false)

	_, err := f.service.Delete(context.Background(), f.rctx(), a.ID)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, CodeInvalidTransition, serr.Code)
}

func TestDeleteSurvivesReleaseFailure(t *testing.T) {
	f := newServiceFixture()
	a, err := f.service.Create(context.Background(), f.rctx(), f.createRequest())
	require.NoError(t, err)
	f.gateway.releaseErr = errors.New("timeout")

	a, err = f.service.Delete(context.Background(), f.rctx(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, a.Status)
}

func TestOwnershipEnforced(t *testing.T) {
	f := newServiceFixture()
	a := f.scheduled(t, false)

	stranger := RequestContext{UserID: uuid.New()}
	_, err := f.service.Get(context.Background(), stranger, a.ID)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, CodeNotFound, serr.Code)

	_, err = f.service.Cancel(context.Background(), stranger, a.ID)
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, CodeNotFound, serr.Code)
	assert.Zero(t, f.gateway.cancelCalls)
}

func TestAuditFailureNeverBlocksTransition(t *testing.T) {
	f := newServiceFixture()
	f.auditor.err = errors.New("audit store down")

	a, err := f.service.Create(context.Background(), f.rctx(), f.createRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentPending, a.Status)
}

func TestNotifierFailureNeverBlocksConfirm(t *testing.T) {
	f := newServiceFixture()
	f.notifier.err = errors.New("scheduler down")

	a := f.scheduled(t, true)
	assert.Equal(t, StatusScheduled, a.Status)
}

func TestMarkRead(t *testing.T) {
	f := newServiceFixture()
	a := f.scheduled(t, false)

	require.NoError(t, f.service.MarkRead(context.Background(), f.rctx(), a.ID))
	stored := f.repo.items[a.ID]
	assert.True(t, stored.Read)
}
