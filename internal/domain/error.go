package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Payment engine errors
	ErrTerminalState     = errors.New("payment intent is in a terminal state")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrDuplicateEntry    = errors.New("ledger entry already applied for this intent")
	ErrNegativeBalance   = errors.New("balance would become negative")
	ErrUnknownGateway    = errors.New("unknown payment gateway")
	ErrLockBusy          = errors.New("callback already being processed")
	ErrNotEligible       = errors.New("gateway does not offer this payment for the amount")
)
