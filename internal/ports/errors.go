package ports

import (
	"errors"
	"fmt"
)

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Ledger/Signing Specific Errors
	ErrLedgerUnavailable    = errors.New("ledger API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the ledger node")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("signing service authentication failed")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrTransferRejected     = errors.New("ledger rejected the transfer")
	ErrSigningFailed        = errors.New("failed to sign transaction payload")

	// Oracle Specific Errors
	ErrOracleUnavailable = errors.New("price oracle is unavailable")
	ErrPriceUnknown      = errors.New("no price available for symbol")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)

// ValidationError reports a malformed or out-of-range input, naming the offending field.
// It is local and never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports that a referenced resource does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// SettlementError reports that every settlement path failed.
// Both underlying attempt errors are preserved so an operator can
// diagnose which path failed and why.
type SettlementError struct {
	Primary  error // Error from the direct transfer path
	Fallback error // Error from the contract-mediated fallback path
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("both settlement paths failed: primary: %v / fallback: %v", e.Primary, e.Fallback)
}

func (e *SettlementError) Unwrap() []error {
	return []error{e.Primary, e.Fallback}
}
