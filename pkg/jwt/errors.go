package jwt

import "errors"

var (
	ErrMissingSigningKey = errors.New("signing key is required")
	ErrMissingClaims     = errors.New("claims are required")
	ErrInvalidToken      = errors.New("invalid token")
	ErrExpiredToken      = errors.New("token has expired")
	ErrInvalidSignature  = errors.New("invalid token signature")
	ErrUnsupportedAlg    = errors.New("unsupported signing algorithm")
)
