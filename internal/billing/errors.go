package billing

import "errors"

var (
	ErrPaymentNotCompleted = errors.New("Payment not completed")
	ErrNotPaid             = errors.New("Analysis not paid")
	ErrMissingAnalysisRef  = errors.New("checkout session has no analysis reference")
	ErrDispatchFailed      = errors.New("pipeline dispatch failed")
)

// ValidationError is a client input problem reported verbatim.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string { return e.Message }

func invalid(msg string) error { return ValidationError{Message: msg} }
