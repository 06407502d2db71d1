package paysession

import "errors"

var (
	ErrSessionNotFound        = errors.New("payment session not found")
	ErrSessionMismatch        = errors.New("payment session does not match the reported payment")
	ErrSessionExpired         = errors.New("payment session expired")
	ErrSessionFailed          = errors.New("payment session already failed")
	ErrVerificationFailed     = errors.New("gateway did not confirm the payment")
	ErrVerificationInProgress = errors.New("payment session is being verified")
)
