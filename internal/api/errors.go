package api

import (
	"errors"
	"net/http"
)

type AppError struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
}

func (e *AppError) Error() string {
	return e.Message
}

var (
	ErrBadRequest         = &AppError{Code: http.StatusBadRequest, Message: "bad request"}
	ErrUnauthorized       = &AppError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	ErrForbidden          = &AppError{Code: http.StatusForbidden, Message: "forbidden"}
	ErrNotFound           = &AppError{Code: http.StatusNotFound, Message: "not found"}
	ErrConflict           = &AppError{Code: http.StatusConflict, Message: "conflict"}
	ErrInternalServer     = &AppError{Code: http.StatusInternalServerError, Message: "internal server error"}
	ErrInvalidIdentity    = &AppError{Code: http.StatusUnauthorized, Message: "invalid user identity"}
	ErrInvalidAdminKey    = &AppError{Code: http.StatusForbidden, Message: "invalid admin key"}
	ErrServiceUnavailable = &AppError{Code: http.StatusServiceUnavailable, Message: "service temporarily unavailable"}
	ErrValidation         = &AppError{Code: http.StatusBadRequest, Message: "validation error"}
)

// Machine-readable codes carried by coded error responses.
const (
	CodeRateLimited           = "rate_limited"
	CodeDailyLimitReached     = "DAILY_LIMIT_REACHED"
	CodeReservationInProgress = "RESERVATION_IN_PROGRESS"
	CodeGlobalLimitReached    = "GLOBAL_LIMIT_REACHED"
	CodeQuotaError            = "quota_error"
	CodeUnavailable           = "service_unavailable"
)

func NewBadRequestError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func NewNotFoundError(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: msg}
}

func NewValidationError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func HandleError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		JSONErrorMessage(w, appErr.Code, appErr.Message)
		return
	}
	JSONErrorMessage(w, http.StatusInternalServerError, "internal server error")
}
