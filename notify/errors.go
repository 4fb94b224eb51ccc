package notify

import "errors"

var (
	// ErrURLRequired is returned when no webhook endpoint is configured.
	ErrURLRequired = errors.New("webhook url required")

	// ErrSecretRequired is returned when no signing secret is configured.
	ErrSecretRequired = errors.New("webhook secret required")

	// ErrRejected indicates a response that is neither 2xx nor 5xx. It is never retried.
	ErrRejected = errors.New("webhook rejected")

	// ErrServerError indicates a 5xx response.
	ErrServerError = errors.New("webhook server error")

	// ErrDeliveryFailed is returned once every attempt has failed.
	ErrDeliveryFailed = errors.New("webhook delivery failed")

	// ErrInvalidSignature is returned by VerifyRequest on a signature mismatch.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)
