// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service/transport layers.
var (
	// ErrNotFound indicates the requested entity does not exist (or belongs to someone else).
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates a missing, unparseable or mismatched init-data signature.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConfiguration indicates a missing server secret. Not retryable.
	ErrConfiguration = errors.New("configuration error")

	// ErrRateLimited indicates an active flood-control cool-down.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotReady indicates a code was submitted while no code waiter is armed.
	ErrNotReady = errors.New("not ready")

	// ErrMalformedCipherText indicates a stored session blob that cannot be decrypted.
	ErrMalformedCipherText = errors.New("malformed cipher text")

	// ErrExternalLogin indicates the chat platform rejected or aborted a login.
	ErrExternalLogin = errors.New("external login failed")
)
