package services

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Success    bool              `json:"success"`              // Always false
	Error      string            `json:"error"`                // Error message
	Code       string            `json:"code,omitempty"`       // Machine-readable code
	BalanceDue *int64            `json:"balanceDue,omitempty"` // Outstanding amount, settlement failures only
	Details    map[string]string `json:"details,omitempty"`    // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message, code string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message, Code: code}
	if validationErr != nil {
		if verrs, ok := validationErr.(validator.ValidationErrors); ok {
			errorResp.Details = make(map[string]string)
			for _, err := range verrs {
				errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
			}
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendServiceError sends a typed service failure with its code and,
// for settlement failures, the computed balance due.
func SendServiceError(w http.ResponseWriter, err error) {
	if se, ok := AsServiceError(err); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(se.Status)
		json.NewEncoder(w).Encode(ErrorResponse{
			Error:      se.Code,
			Code:       se.Code,
			BalanceDue: se.BalanceDue,
		})
		return
	}
	SendErrorResponse(w, "Failed to process request", "", http.StatusInternalServerError, nil)
}
