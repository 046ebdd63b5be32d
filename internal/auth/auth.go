// Package auth holds the credential validators the gateway consults for routes
// that require authentication.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissing means no credential was presented.
	ErrMissing = errors.New("auth: credential missing")
	// ErrInvalid means a credential was presented but rejected.
	ErrInvalid = errors.New("auth: credential invalid")
)

const bearerPrefix = "Bearer "

// Validator checks the raw Authorization header value. An empty value means absent.
type Validator interface {
	Validate(credential string) error
}

// ValidatorFunc adapts a plain function to Validator.
type ValidatorFunc func(credential string) error

func (f ValidatorFunc) Validate(credential string) error { return f(credential) }

// StaticToken accepts exactly "Bearer <secret>".
type StaticToken struct {
	expected []byte
}

func NewStaticToken(secret string) *StaticToken {
	return &StaticToken{expected: []byte(bearerPrefix + secret)}
}

func (s *StaticToken) Validate(credential string) error {
	if credential == "" {
		return ErrMissing
	}
	if subtle.ConstantTimeCompare([]byte(credential), s.expected) != 1 {
		return ErrInvalid
	}
	return nil
}

// JWT accepts "Bearer <token>" where token is an HS256 JWT signed with Secret.
type JWT struct {
	Secret []byte
	Issuer string // optional; checked when non-empty
	Leeway time.Duration
}

func (j *JWT) Validate(credential string) error {
	if credential == "" {
		return ErrMissing
	}
	raw, ok := strings.CutPrefix(credential, bearerPrefix)
	if !ok || raw == "" {
		return ErrInvalid
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(j.Leeway),
	}
	if j.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.Issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return j.Secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
