package domain

import (
	"errors"
	"fmt"
)

// Error codes raised by the progression engine.
const (
	CodeGateNotSatisfied   = "GATE_NOT_SATISFIED"
	CodeSkipAlreadyPending = "SKIP_ALREADY_PENDING"
	CodeTipAlreadyPending  = "TIP_ALREADY_PENDING"
	CodeInvalidTipAmount   = "INVALID_TIP_AMOUNT"
	CodePaymentFailed      = "PAYMENT_FAILED"
	CodePaymentCancelled   = "PAYMENT_CANCELLED"
	CodePlayerUnavailable  = "PLAYER_UNAVAILABLE"
	CodeStepLocked         = "STEP_LOCKED"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeGateUnavailable    = "PAYMENT_GATE_UNAVAILABLE"
)

// AppError is the base domain error type.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Status  int               `json:"-"`
	Cause   error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// HasCode reports whether err is, or wraps, an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Standard domain error constructors.

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: "NOT_FOUND", Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Code: "CONFLICT", Message: msg, Status: 409}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: "VALIDATION_ERROR", Message: msg, Status: 400}
}

func ErrValidationDetails(msg string, fields map[string]string) *AppError {
	return &AppError{Code: "VALIDATION_ERROR", Message: msg, Details: fields, Status: 400}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Message: msg, Status: 401}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Message: msg, Status: 403}
}

func ErrRateLimited(msg string) *AppError {
	return &AppError{Code: "RATE_LIMITED", Message: msg, Status: 429}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: "INTERNAL_ERROR", Message: msg, Status: 500, Cause: cause}
}

// Progression engine errors. None of these are fatal; all are recoverable by retry or restart.

func ErrGateNotSatisfied(stepIndex int) *AppError {
	return &AppError{
		Code:    CodeGateNotSatisfied,
		Message: fmt.Sprintf("step %d has not met its completion gate", stepIndex),
		Status:  409,
	}
}

func ErrSkipAlreadyPending(quoteID string) *AppError {
	return &AppError{
		Code:    CodeSkipAlreadyPending,
		Message: fmt.Sprintf("skip %s is already pending", quoteID),
		Status:  409,
	}
}

func ErrTipAlreadyPending(paymentID string) *AppError {
	return &AppError{
		Code:    CodeTipAlreadyPending,
		Message: fmt.Sprintf("tip payment %s is still open", paymentID),
		Details: map[string]string{"payment_id": paymentID},
		Status:  409,
	}
}

func ErrInvalidTipAmount(msg string) *AppError {
	return &AppError{Code: CodeInvalidTipAmount, Message: msg, Status: 400}
}

func ErrPaymentFailed(msg string) *AppError {
	return &AppError{Code: CodePaymentFailed, Message: msg, Status: 402}
}

func ErrPaymentCancelled() *AppError {
	return &AppError{Code: CodePaymentCancelled, Message: "payment was cancelled", Status: 409}
}

func ErrPlayerUnavailable(stepIndex int) *AppError {
	return &AppError{
		Code:    CodePlayerUnavailable,
		Message: fmt.Sprintf("video duration unavailable for step %d; skip remains available", stepIndex),
		Status:  422,
	}
}

func ErrStepLocked(stepIndex, frontier int) *AppError {
	return &AppError{
		Code:    CodeStepLocked,
		Message: fmt.Sprintf("step %d is locked (frontier %d); request a skip", stepIndex, frontier),
		Status:  403,
	}
}

func ErrInvalidTransition(msg string) *AppError {
	return &AppError{Code: CodeInvalidTransition, Message: msg, Status: 409}
}

// ErrGateUnavailable reports that no checkout could be opened. The skip quote is released.
func ErrGateUnavailable(msg string, cause error) *AppError {
	return &AppError{Code: CodeGateUnavailable, Message: msg, Status: 503, Cause: cause}
}
