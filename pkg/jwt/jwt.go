// Package jwt implements HMAC-SHA256 signed tokens for stateless
// session authentication, plus HTTP middleware for bearer extraction.
package jwt

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JWT header constants required by RFC 7519.
const (
	HeaderType      = "JWT"
	HeaderAlgorithm = "HS256"
)

// Header represents the JWT header as defined in RFC 7515.
type Header struct {
	Type      string `json:"typ"`
	Algorithm string `json:"alg"`
}

// StandardClaims represents the registered JWT claims defined in RFC 7519.
// Temporal claims use Unix timestamps for consistent validation.
type StandardClaims struct {
	ID        string `json:"jti,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	Audience  string `json:"aud,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	NotBefore int64  `json:"nbf,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
}

// Valid validates the temporal claims against current time.
// Zero values are treated as unset per RFC 7519 and ignored.
func (c StandardClaims) Valid() error {
	now := time.Now().Unix()

	if c.ExpiresAt > 0 && now > c.ExpiresAt {
		return ErrExpiredToken
	}

	if c.NotBefore > 0 && now < c.NotBefore {
		return ErrInvalidToken
	}

	return nil
}

// Service handles JWT token generation and validation using HMAC-SHA256.
// The signing key is kept in memory only and should be cryptographically secure.
type Service struct {
	signingKey []byte
}

// New creates a new JWT service with the provided signing key.
// The key should be at least 32 bytes for adequate security with HMAC-SHA256.
func New(signingKey []byte) (*Service, error) {
	if len(signingKey) == 0 {
		return nil, ErrMissingSigningKey
	}

	return &Service{signingKey: signingKey}, nil
}

// NewFromString creates a new JWT service from a string signing key.
func NewFromString(signingKey string) (*Service, error) {
	if signingKey == "" {
		return nil, ErrMissingSigningKey
	}

	return &Service{signingKey: []byte(signingKey)}, nil
}

// Generate creates a signed JWT string from any JSON-serializable claims structure.
func (s *Service) Generate(claims any) (string, error) {
	if claims == nil {
		return "", ErrMissingClaims
	}

	header := Header{
		Type:      HeaderType,
		Algorithm: HeaderAlgorithm,
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("failed to marshal header: %w", err)
	}

	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}

	payload := base64URLEncode(headerJSON) + "." + base64URLEncode(claimsJSON)
	return payload + "." + s.sign(payload), nil
}

// Parse validates a JWT token and unmarshals its claims into the provided structure.
// Performs cryptographic verification, algorithm validation, and temporal claim checks.
func (s *Service) Parse(tokenString string, claims any) error {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return ErrInvalidToken
	}

	payload := parts[0] + "." + parts[1]
	expected := s.sign(payload)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(parts[2])) != 1 {
		return ErrInvalidSignature
	}

	headerJSON, err := base64URLDecode(parts[0])
	if err != nil {
		return ErrInvalidToken
	}

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return ErrInvalidToken
	}
	if header.Algorithm != HeaderAlgorithm {
		return ErrUnsupportedAlg
	}

	claimsJSON, err := base64URLDecode(parts[1])
	if err != nil {
		return ErrInvalidToken
	}

	if err := json.Unmarshal(claimsJSON, claims); err != nil {
		return ErrInvalidToken
	}

	// Validate temporal claims when the claims type supports it.
	if v, ok := claims.(interface{ Valid() error }); ok {
		return v.Valid()
	}

	var std StandardClaims
	if err := json.Unmarshal(claimsJSON, &std); err == nil {
		return std.Valid()
	}

	return nil
}

func (s *Service) sign(payload string) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(payload))
	return base64URLEncode(mac.Sum(nil))
}

func base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func base64URLDecode(data string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(data)
}
