package service

import "errors"

var (
	ErrBookNotFound    = errors.New("book not found")
	ErrBookUnavailable = errors.New("book unavailable")

	ErrRecordNotFound = errors.New("purchase record not found")
	ErrNotCancellable = errors.New("only pending payments can be cancelled")

	ErrDeliveryNotRetryable = errors.New("delivery not retryable")
	ErrMaxAttemptsExceeded  = errors.New("maximum delivery attempts reached")

	ErrDownloadLimitExceeded = errors.New("download limit exceeded")
	ErrFileMissing           = errors.New("book file not found")

	ErrInvalidCredentials = errors.New("invalid email or password")
)
