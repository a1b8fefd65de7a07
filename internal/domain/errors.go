package domain

import "errors"

var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUnknownRecipient   = errors.New("unknown recipient")
	ErrPlaintextDisabled  = errors.New("plaintext messages are disabled")
	ErrEmptyCredential    = errors.New("username and password are required")
)
