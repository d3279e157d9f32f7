// Package authn implements admin-token issuance and verification for
// brokerctl's administrative subcommands (peer/unpeer), generalizing
// the teacher's HTTP-API JWT handler to the broker's operator surface.
package authn

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the operator a token was issued to and whether
// they hold admin privilege (peer/unpeer require it; subscribe and
// publish do not).
type Claims struct {
	ClientID string `json:"client_id"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

// TokenAuth issues and validates HS256 admin tokens.
type TokenAuth struct {
	secretKey []byte
	ttl       time.Duration
}

// New returns a TokenAuth signing with secretKey. Tokens are valid for
// ttl from issuance; a zero ttl defaults to 24 hours.
func New(secretKey string, ttl time.Duration) *TokenAuth {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenAuth{secretKey: []byte(secretKey), ttl: ttl}
}

// IssueToken creates a signed token for clientID.
func (a *TokenAuth) IssueToken(clientID string, isAdmin bool) (string, time.Time, error) {
	if clientID == "" {
		return "", time.Time{}, errors.New("authn: client id cannot be empty")
	}

	now := time.Now()
	expiresAt := now.Add(a.ttl)

	claims := Claims{
		ClientID: clientID,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("authn: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a token, accepting an optional "Bearer "
// prefix.
func (a *TokenAuth) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("authn: token cannot be empty")
	}
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("authn: unexpected signing method %v", t.Header["alg"])
		}
		return a.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("authn: invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("authn: token is not valid")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("authn: unexpected claims type")
	}
	return claims, nil
}

// RequireAdmin verifies the token and returns an error if it is valid
// but lacks admin privilege.
func (a *TokenAuth) RequireAdmin(tokenString string) (*Claims, error) {
	claims, err := a.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.IsAdmin {
		return nil, errors.New("authn: admin privilege required")
	}
	return claims, nil
}
