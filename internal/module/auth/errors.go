package auth

import "errors"

// Module errors.
var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidTokenClaims = errors.New("invalid token claims")
	ErrMissingCredentials = errors.New("missing credentials")
)
