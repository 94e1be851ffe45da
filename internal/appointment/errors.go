package appointment

import "fmt"

// Error codes surfaced to API clients. Codes are stable; messages are not.
const (
	CodeSlotNotFree        = "SLOT_NOT_FREE"
	CodePaymentFailed      = "PAYMENT_FAILED"
	CodeConfirmationFailed = "CONFIRMATION_FAILED"
	CodeRescheduleFailed   = "RESCHEDULE_FAILED"
	CodeCancelFailed       = "CANCEL_FAILED"
	CodeDeleteFailed       = "DELETE_FAILED"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeNotFound           = "NOT_FOUND"
)

// Error carries a stable machine-readable code alongside the operator-facing
// message. Upstream error text is preserved, never swallowed.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a coded error without an underlying cause.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError builds a coded error preserving the underlying cause.
func WrapError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}
