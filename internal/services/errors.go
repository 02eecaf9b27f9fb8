package services

import (
	"errors"
	"net/http"
)

// Machine-readable error codes surfaced to callers. Financial-outcome
// paths never return a generic failure.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeTransactionLimit     = "TRANSACTION_LIMIT_EXCEEDED"
	CodeOrgLimit             = "ORG_LIMIT_EXCEEDED"
	CodeProviderNotFound     = "PROVIDER_NOT_FOUND"
	CodeOrganizationNotFound = "ORGANIZATION_NOT_FOUND"
	CodeLocationNotFound     = "LOCATION_NOT_FOUND"
	CodeWalletNotFound       = "WALLET_NOT_FOUND"
	CodeBookingNotFound      = "BOOKING_NOT_FOUND"
	CodeBalanceDue           = "BALANCE_DUE"
	CodeInsufficientBalance  = "INSUFFICIENT_BALANCE"
	CodeAlreadyResolved      = "ALREADY_RESOLVED"
	CodeForbidden            = "FORBIDDEN"
)

// ServiceError is a caller-visible failure with a machine-readable
// code. Validation, authorization, not-found and business-rule errors
// are returned this way before any write happens.
type ServiceError struct {
	Code       string
	Message    string
	Status     int
	BalanceDue *int64 // set for settlement failures that carry the computed amount
}

func (e *ServiceError) Error() string {
	return e.Message
}

func NewServiceError(code, message string, status int) *ServiceError {
	return &ServiceError{Code: code, Message: message, Status: status}
}

func newBalanceDueError(code, message string, balanceDue int64) *ServiceError {
	return &ServiceError{Code: code, Message: message, Status: http.StatusBadRequest, BalanceDue: &balanceDue}
}

// AsServiceError unwraps err to a *ServiceError if there is one.
func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
