package application

import "errors"

var (
	// ErrNoRefreshToken means the credential has no refresh token and needs re-authorization.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrRefreshTokenExpired means the refresh token is past its expiry and needs re-authorization.
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// ErrOAuthExchangeFailed wraps any failure talking to the OAuth token endpoint.
	ErrOAuthExchangeFailed = errors.New("oauth token exchange failed")

	// ErrNotConnected means no credential with an access token exists.
	ErrNotConnected = errors.New("quickbooks not connected")

	// ErrInvoiceAlreadyExists means the shipment already carries an invoice id.
	ErrInvoiceAlreadyExists = errors.New("invoice already exists for shipment")

	// ErrAccountingAPI wraps failures returned by the accounting service.
	ErrAccountingAPI = errors.New("accounting api error")

	// ErrPDFRetrieval wraps failures fetching or storing the invoice PDF.
	ErrPDFRetrieval = errors.New("invoice pdf retrieval failed")

	// ErrInvalidState means an OAuth state parameter failed verification.
	ErrInvalidState = errors.New("invalid oauth state")

	// ErrInvalidTransition means a shipment cannot move to the requested status.
	ErrInvalidTransition = errors.New("invalid shipment status transition")
)
