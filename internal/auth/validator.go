package auth

import (
	"errors"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is malformed or its signature fails.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
)

// Identity is the authenticated user extracted from a bearer token.
type Identity struct {
	UserID int
	Name   string
}

// Claims are the token claims issued by the marketplace auth service.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenValidator verifies bearer tokens issued by the auth service.
// Tokens are HMAC-signed JWTs with the user id in the subject claim.
type TokenValidator struct {
	secret []byte
}

// NewTokenValidator constructs a validator with the shared signing secret.
func NewTokenValidator(secret string) *TokenValidator {
	return &TokenValidator{secret: []byte(secret)}
}

// Validate verifies the token and returns the user identity.
func (v *TokenValidator) Validate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	userID, err := strconv.Atoi(claims.Subject)
	if err != nil || userID == 0 {
		return Identity{}, ErrInvalidToken
	}

	return Identity{UserID: userID, Name: claims.Name}, nil
}
