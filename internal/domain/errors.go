package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrLockHeld            = errors.New("lock already held")
	ErrReadError           = errors.New("ReadError")
	ErrSourceUnavailable   = errors.New("SourceUnavailable")
	ErrDataUnavailable     = errors.New("DataUnavailable")
	ErrNotLiquidatable     = errors.New("NotLiquidatable")
	ErrGasPriceTooHigh     = errors.New("GasPriceTooHigh")
	ErrInsufficientBalance = errors.New("InsufficientBalance")
	ErrSettlementFailed    = errors.New("SettlementFailed")
	ErrSubmissionFailed    = errors.New("SubmissionFailed")
	ErrConfiguration       = errors.New("ConfigurationError")
	ErrCooldownActive      = errors.New("CooldownActive")
	ErrExecutionInFlight   = errors.New("ExecutionInFlight")
	ErrNoOpportunity       = errors.New("NoOpportunity")
)
