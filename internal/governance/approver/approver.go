// Package approver issues and verifies the JWT bearer tokens operators
// use to call ApproveTask/RejectTask. Grounded on the example pack's
// service-to-service auth helper (golang-jwt/jwt/v5), adapted from
// RSA-signed service tokens to HMAC-signed short-lived operator
// tokens appropriate for a single-operator runtime.
package approver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrExpired is returned when a token's exp claim has passed.
	ErrExpired = errors.New("approver: token expired")
	// ErrInvalid is returned for any malformed or mis-signed token.
	ErrInvalid = errors.New("approver: invalid token")
)

// Claims identifies the approver making a governance decision.
type Claims struct {
	ApproverID string `json:"approver_id"`
	jwt.RegisteredClaims
}

// Issuer signs operator approval tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
	expiry time.Duration
}

// NewIssuer builds an Issuer. expiry defaults to 15 minutes when zero,
// matching the short window an operator needs to act on a
// NEEDS_CONFIRM countdown.
func NewIssuer(secret []byte, expiry time.Duration) *Issuer {
	if expiry == 0 {
		expiry = 15 * time.Minute
	}
	return &Issuer{secret: secret, expiry: expiry}
}

// Issue mints a bearer token identifying approverID.
func (iss *Issuer) Issue(approverID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		ApproverID: approverID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(iss.expiry)),
			Issuer:    "sentinel",
			Subject:   approverID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(iss.secret)
	if err != nil {
		return "", fmt.Errorf("approver: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token, returning the approver
// identity it asserts.
func (iss *Issuer) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalid, t.Header["alg"])
		}
		return iss.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpired
		}
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalid
	}
	return claims.ApproverID, nil
}
