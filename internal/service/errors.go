package service

import "errors"

var (
	ErrPaymentNotFound          = errors.New("payment not found")
	ErrPaymentInvalid           = errors.New("payment request invalid")
	ErrInvalidState             = errors.New("payment state does not allow this operation")
	ErrPaymentStoreFailed       = errors.New("payment store failed")
	ErrGatewayUnavailable       = errors.New("payment gateway unavailable")
	ErrGatewayReferenceNotFound = errors.New("payment gateway reference not found")
	ErrGatewayNotConfigured     = errors.New("payment gateway not configured")
	ErrWalletDisabled           = errors.New("wallet channel disabled")
	ErrForbidden                = errors.New("operation not permitted")
)
