package auth

import "errors"

var (
	// ErrInvalidToken indicates a token that failed verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidCredentials indicates a failed email/password login.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
