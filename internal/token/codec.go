// Copyright 2026 The Warden Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package token encodes and decodes the signed, time-bound bearer tokens
// carrying an administrator's claims. The codec is stateless and pure;
// all failures are returned as sentinel errors, never panics.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Decode failure kinds. Callers distinguish them with errors.Is.
var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
	ErrNotYetValid      = errors.New("token not yet valid")
)

// Claims is the signed bundle of administrator claims carried in a token.
// LoginTime is epoch milliseconds of the login that issued the token.
type Claims struct {
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Permissions []string `json:"permissions"`
	LoginTime   int64    `json:"loginTime"`
	jwt.RegisteredClaims
}

// Codec signs and verifies admin tokens with a symmetric secret loaded
// once at process start.
type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewCodec creates a codec. The secret must be non-empty; the TTL bounds
// every issued token's lifetime.
func NewCodec(secret []byte, issuer string, ttl time.Duration) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: signing secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("token: ttl must be positive")
	}
	return &Codec{secret: secret, issuer: issuer, ttl: ttl}, nil
}

// Encode issues a signed token for the given claims, stamping issuance
// and expiry. The identity fields are taken as-is.
func (c *Codec) Encode(claims Claims) (string, error) {
	now := time.Now()
	claims.Issuer = c.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(c.ttl))

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Decode verifies a raw token and returns its claims.
//
// The raw value must decompose into exactly three non-empty dot-delimited
// segments; anything else fails with ErrMalformedToken before any
// cryptographic work. A correctly signed token missing username, role or
// email also fails with ErrMalformedToken: structural completeness is an
// invariant of the claim set, not a caller concern.
func (c *Codec) Decode(raw string) (*Claims, error) {
	if !wellFormed(raw) {
		return nil, ErrMalformedToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	tok, err := parser.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
			return nil, ErrNotYetValid
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrMalformedToken
		}
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrMalformedToken
	}
	if claims.Username == "" || claims.Role == "" || claims.Email == "" {
		return nil, ErrMalformedToken
	}
	return claims, nil
}

// wellFormed checks the three-segment JWS shape without touching crypto.
func wellFormed(raw string) bool {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
