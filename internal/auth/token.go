package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/simplemem/simplemem/pkg/types"
)

// TokenIssuer signs and verifies HS256 bearer tokens binding a user_id and
// an expiry. Tokens are stateless; revocation is handled by expiry alone.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates an issuer with the given signing secret and token
// lifetime in days.
func NewTokenIssuer(secret string, expirationDays int) *TokenIssuer {
	if expirationDays <= 0 {
		expirationDays = 30
	}
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    time.Duration(expirationDays) * 24 * time.Hour,
	}
}

// Issue returns a signed token for userID.
func (t *TokenIssuer) Issue(userID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify validates the signature and expiry and returns the bound user id.
// All failures map to types.ErrAuth so the transport reports a uniform 401
// without leaking why verification failed.
func (t *TokenIssuer) Verify(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return t.secret, nil
		})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", types.ErrAuth, err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", types.ErrAuth)
	}
	return claims.Subject, nil
}

// Refresh verifies the presented token and issues a fresh one for the same
// user. Expired tokens cannot be refreshed.
func (t *TokenIssuer) Refresh(tokenString string) (string, error) {
	userID, err := t.Verify(tokenString)
	if err != nil {
		return "", err
	}
	return t.Issue(userID)
}
