// Package auth turns hosted-provider bearer tokens into request actors.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rentdesk/rentdesk/internal/shared"
)

// ErrInvalidToken is returned for malformed, expired or badly signed tokens.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims are the token claims the API relies on.
type Claims struct {
	jwt.RegisteredClaims
	Role shared.Role `json:"role"`
}

// TokenManager validates and issues HS256 tokens.
type TokenManager struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenManager builds a manager for secret.
func NewTokenManager(secret, issuer string) *TokenManager {
	return &TokenManager{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue signs a token for subject with role, valid for ttl. Operators use it
// to mint service tokens; end-user tokens come from the hosted provider.
func (m *TokenManager) Issue(subject string, role shared.Role, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("auth: subject required")
	}
	if !role.Valid() {
		return "", fmt.Errorf("auth: unknown role %q", role)
	}
	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Validate parses tokenString and returns the actor it identifies.
func (m *TokenManager) Validate(tokenString string) (shared.Actor, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired()}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, opts...)
	if err != nil {
		return shared.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return shared.Actor{}, ErrInvalidToken
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return shared.Actor{}, fmt.Errorf("%w: missing subject or role", ErrInvalidToken)
	}
	return shared.Actor{Subject: claims.Subject, Role: claims.Role}, nil
}
