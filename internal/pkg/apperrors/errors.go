package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")

	ErrNotFound = errors.New("resource not found")

	ErrForbidden = errors.New("forbidden")

	ErrDuplicateActiveLoan = errors.New("book already borrowed by this borrower")

	ErrLoanLimitExceeded = errors.New("active loan limit reached")

	ErrOutOfStock = errors.New("book is out of stock")

	ErrInvalidDate = errors.New("invalid date")

	ErrAlreadyReturned = errors.New("loan already returned")

	ErrConflict = errors.New("concurrent update conflict")

	ErrInvalidArgument = errors.New("invalid argument")

	ErrValidation = errors.New("validation failed")

	ErrAlreadyExists = errors.New("resource already exists")

	ErrDatabase = errors.New("database error")

	ErrInternalServer = errors.New("internal server error")
)

// Codes exposed to API clients. Infrastructure failures all collapse to CodeInternal.
const (
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeNotFound            = "NOT_FOUND"
	CodeForbidden           = "FORBIDDEN"
	CodeDuplicateActiveLoan = "DUPLICATE_ACTIVE_LOAN"
	CodeLoanLimitExceeded   = "LOAN_LIMIT_EXCEEDED"
	CodeOutOfStock          = "OUT_OF_STOCK"
	CodeInvalidDate         = "INVALID_DATE"
	CodeAlreadyReturned     = "ALREADY_RETURNED"
	CodeConflict            = "CONFLICT"
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeInternal            = "INTERNAL"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrUnauthenticated, CodeUnauthenticated},
	{ErrNotFound, CodeNotFound},
	{ErrForbidden, CodeForbidden},
	{ErrDuplicateActiveLoan, CodeDuplicateActiveLoan},
	{ErrLoanLimitExceeded, CodeLoanLimitExceeded},
	{ErrOutOfStock, CodeOutOfStock},
	{ErrInvalidDate, CodeInvalidDate},
	{ErrAlreadyReturned, CodeAlreadyReturned},
	{ErrConflict, CodeConflict},
	{ErrInvalidArgument, CodeInvalidArgument},
	{ErrValidation, CodeInvalidArgument},
}

// Code returns the client-facing code of the first taxonomy error found in err's chain.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// IsDenial reports whether err is a business rule rejection rather than an infrastructure failure.
func IsDenial(err error) bool {
	switch Code(err) {
	case CodeDuplicateActiveLoan, CodeLoanLimitExceeded, CodeOutOfStock, CodeInvalidDate, CodeAlreadyReturned:
		return true
	}
	return false
}

type ValidationError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

func NewValidationError(field, message string) error {
	return fmt.Errorf("%w: %w", ErrValidation, &ValidationError{Field: field, Message: message})
}

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func WrapDatabaseError(cause error, message string) error {
	return &AppError{
		Code:    "DB_ERROR",
		Message: message,
		Cause:   fmt.Errorf("%w: %w", ErrDatabase, cause),
	}
}
