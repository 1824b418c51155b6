package merchant

import "errors"

// Module errors.
var (
	ErrMerchantNotFound   = errors.New("merchant not found")
	ErrEmailAlreadyExists = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMerchantSuspended  = errors.New("merchant suspended")
	ErrInvalidAPIKey      = errors.New("invalid api key")
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
)
