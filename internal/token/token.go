// Package token issues and verifies the signed confirmation tokens used in
// account flows: sign-up confirmation, email change, password reset and
// reactivation. A token binds a username and email to a purpose and expires
// after a configurable lifetime.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose identifies the flow a confirmation token belongs to. A token
// minted for one purpose never verifies for another.
type Purpose string

const (
	PurposeSignUp        Purpose = "sign-up"
	PurposeEmailChange   Purpose = "email-change"
	PurposeResetPassword Purpose = "reset-password"
	PurposeReactivate    Purpose = "reactivate"
)

// DefaultLifetime is how long a confirmation token stays valid.
const DefaultLifetime = time.Hour

var (
	ErrExpired = errors.New("confirmation token has expired")
	ErrInvalid = errors.New("confirmation token is invalid")
)

// Claims carries the identity a confirmation token vouches for.
type Claims struct {
	Username string  `json:"username"`
	Email    string  `json:"email,omitempty"`
	Purpose  Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

// Service signs and verifies confirmation tokens with a shared HMAC key.
type Service struct {
	signingKey []byte
	issuer     string
	lifetime   time.Duration
}

// NewService builds a token service. A zero lifetime selects
// DefaultLifetime.
func NewService(signingKey, issuer string, lifetime time.Duration) *Service {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		lifetime:   lifetime,
	}
}

// Generate mints a token binding the username and email to the purpose.
func (s *Service) Generate(username, email string, purpose Purpose) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		Email:    email,
		Purpose:  purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

// Verify checks the signature, expiry and purpose of a token and returns its
// claims. An expired token reports ErrExpired; anything else wrong with it
// reports ErrInvalid.
func (s *Service) Verify(tokenString string, purpose Purpose) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(s.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}
	if claims.Purpose != purpose {
		return nil, ErrInvalid
	}
	return claims, nil
}
