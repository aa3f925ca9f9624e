// Package auth is the single authentication checkpoint for the real-time
// path: bearer credentials are validated at connection time, before any event
// is processed. Credential issuance lives in an external service; only
// verification (and a mint helper for tests and dev tooling) is here.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Authenticator resolves a bearer credential to a user identifier.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

type JWTAuthenticator struct {
	secret   string
	issuer   string
	audience string
}

func NewJWT(secret, issuer, audience string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret, issuer: issuer, audience: audience}
}

// Authenticate verifies an HS256 token and returns its subject.
func (a *JWTAuthenticator) Authenticate(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return []byte(a.secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	if a.issuer != "" {
		if iss, ok := claims["iss"].(string); !ok || iss != a.issuer {
			return "", ErrInvalidToken
		}
	}
	if a.audience != "" {
		if aud, ok := claims["aud"].(string); !ok || aud != a.audience {
			return "", ErrInvalidToken
		}
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// GenerateAccess creates a signed HS256 JWT access token with the given claims.
func GenerateAccess(secret, userID, issuer, audience string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"iss": issuer,
		"aud": audience,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}
