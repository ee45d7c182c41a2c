// Package services contains the collaborators around the party core:
// catalog access, listener sessions, tokens and guest names.
package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role represents what a token holder may do.
type Role string

const (
	RoleHost     Role = "host"     // Can close the party it created
	RoleListener Role = "listener" // Holds a catalog session and may search
)

// Claims represents the JWT payload for authenticated requests.
// Subject is the party code for host tokens and the session ID for listener tokens.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// AuthService handles JWT token generation and validation.
type AuthService struct {
	secret                []byte
	hostTokenDuration     time.Duration
	listenerTokenDuration time.Duration
}

// NewAuthService creates an AuthService with the given signing secret and token durations.
func NewAuthService(secret string, hostDuration, listenerDuration time.Duration) *AuthService {
	return &AuthService{
		secret:                []byte(secret),
		hostTokenDuration:     hostDuration,
		listenerTokenDuration: listenerDuration,
	}
}

// GenerateToken creates a signed JWT for the given subject and role.
func (s *AuthService) GenerateToken(subject string, role Role) (string, error) {
	duration := s.listenerTokenDuration
	if role == RoleHost {
		duration = s.hostTokenDuration
	}

	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "partyqueue",
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken verifies the JWT signature and expiry, returning the claims if valid.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
