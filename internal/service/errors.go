package service

import (
	"errors"
	"strings"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidOTP       = errors.New("Invalid or expired OTP")
	ErrDuplicateEnquiry = errors.New("Similar enquiry already submitted recently")
	ErrEnquiryNotFound  = errors.New("Enquiry not found")
	ErrDeliveryFailed   = errors.New("Failed to send OTP. Please try again.")
)

// ValidationError reports missing or malformed request fields
type ValidationError struct {
	Message string
	Fields  []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return e.Message + " (" + strings.Join(e.Fields, ", ") + ")"
}

// Is lets errors.Is(err, ErrInvalidInput) match every ValidationError
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func newValidationError(message string, fields ...string) *ValidationError {
	return &ValidationError{Message: message, Fields: fields}
}
