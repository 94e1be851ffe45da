package appointment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/varaprasadreddy9676/patient-care-sub000/internal/http/middleware"
	"github.com/varaprasadreddy9676/patient-care-sub000/pkg/logging"
)

// Handler exposes the appointment state machine over HTTP.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Routes mounts the patient-facing appointment endpoints. Start and close are
// GET endpoints hit by the hospital's consultation links and carry the
// appointment id as a query parameter.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/appointment", h.Create)
	r.Get("/appointment/start", h.Start)
	r.Get("/appointment/close", h.Close)
	r.Get("/appointment/{id}", h.Get)
	r.Put("/appointment/{id}/confirm", h.Confirm)
	r.Put("/appointment/{id}/paymentFailed", h.PaymentFailed)
	r.Put("/appointment/{id}/reschedule", h.Reschedule)
	r.Put("/appointment/{id}/cancel", h.Cancel)
	r.Put("/appointment/{id}/delete", h.Delete)
	r.Put("/appointment/{id}/read", h.MarkRead)
	r.Get("/appointments", h.List)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "invalid request body")
		return
	}
	a, err := h.service.Create(r.Context(), h.requestContext(r), req)
	if err != nil {
		// A slot conflict still returns the draft so the client can resubmit
		// against the same record.
		if a != nil && errorCode(err) == CodeSlotNotFree {
			h.writeFailure(w, http.StatusConflict, err, a)
			return
		}
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "invalid request body")
		return
	}
	a, err := h.service.Confirm(r.Context(), h.requestContext(r), id, req)
	if err != nil {
		if a != nil {
			h.writeFailure(w, statusForCode(errorCode(err)), err, a)
			return
		}
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) PaymentFailed(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		GatewayResponse string `json:"gatewayResponse"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "invalid request body")
		return
	}
	a, err := h.service.PaymentFailed(r.Context(), h.requestContext(r), id, req.GatewayResponse)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "invalid request body")
		return
	}
	a, err := h.service.Reschedule(r.Context(), h.requestContext(r), id, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := h.service.Cancel(r.Context(), h.requestContext(r), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := h.service.Delete(r.Context(), h.requestContext(r), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := queryID(w, r)
	if !ok {
		return
	}
	a, err := h.service.Start(r.Context(), h.requestContext(r), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	id, ok := queryID(w, r)
	if !ok {
		return
	}
	a, err := h.service.Close(r.Context(), h.requestContext(r), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.MarkRead(r.Context(), h.requestContext(r), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"read": true})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := h.service.Get(r.Context(), h.requestContext(r), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	items, err := h.service.List(r.Context(), h.requestContext(r), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

func (h *Handler) requestContext(r *http.Request) RequestContext {
	return RequestContext{
		UserID:   middleware.UserIDFromContext(r.Context()),
		RemoteIP: r.RemoteAddr,
	}
}

// writeServiceError maps service error codes onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var serr *Error
	if !errors.As(err, &serr) {
		h.logger.Error("appointment: unhandled error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		return
	}
	writeError(w, statusForCode(serr.Code), serr.Code, serr.Message)
}

// writeFailure returns an error envelope that also carries the appointment,
// used when a failed transition still persisted state the client needs.
func (h *Handler) writeFailure(w http.ResponseWriter, status int, err error, a *Appointment) {
	var serr *Error
	code, message := "INTERNAL", "internal server error"
	if errors.As(err, &serr) {
		code, message = serr.Code, serr.Message
	}
	writeJSON(w, status, map[string]any{
		"code":        code,
		"message":     message,
		"appointment": a,
	})
}

func statusForCode(code string) int {
	switch code {
	case CodeValidationFailed:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidTransition, CodeSlotNotFree:
		return http.StatusConflict
	case CodePaymentFailed:
		return http.StatusPaymentRequired
	case CodeRescheduleFailed, CodeCancelFailed, CodeDeleteFailed:
		return http.StatusUnprocessableEntity
	case CodeConfirmationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Code
	}
	return ""
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "invalid appointment id")
		return uuid.Nil, false
	}
	return id, true
}

func queryID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "invalid appointment id")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
