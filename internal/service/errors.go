package service

import (
	"errors"
	"fmt"

	"marketplace/internal/database"
	"marketplace/internal/lifecycle"
)

var (
	ErrNotFound          = database.ErrNotFound
	ErrInvalidTransition = lifecycle.ErrInvalidTransition
	ErrNotAuthorized     = lifecycle.ErrNotAuthorized
	ErrAlreadyClaimed    = database.ErrAlreadyClaimed
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")

	ErrAlreadyReviewed   = fmt.Errorf("%w: booking already reviewed", ErrConflict)
	ErrEditWindowExpired = fmt.Errorf("%w: edit window expired", ErrConflict)
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// UserMessage returns the message shown to the end user for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrAlreadyClaimed):
		return "This emergency request has already been accepted by another provider."
	case errors.Is(err, ErrEditWindowExpired):
		return "Reviews can only be edited within the edit window after submission."
	case errors.Is(err, ErrAlreadyReviewed):
		return "You have already reviewed this booking."
	case errors.Is(err, ErrConflict):
		return "The request conflicts with the current state. Please refresh and try again."
	case errors.Is(err, ErrNotAuthorized):
		return "You are not allowed to act on this record."
	case errors.Is(err, ErrInvalidTransition):
		return "This action is not available in the current status."
	case errors.Is(err, ErrNotFound):
		return "The requested record was not found."
	case errors.Is(err, ErrValidation):
		return "Some of the submitted values are invalid."
	}

	return "An error occurred while processing your request. Please try again later."
}
