// ABOUTME: Identity source backed by an HS256 session token
// ABOUTME: The token's sub claim is the active account; expired or invalid tokens mean no account

package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenFunc returns the raw session token, or "" when there is none.
type TokenFunc func() (string, error)

// TokenFromFile reads the session token from path. A missing file means no token.
func TokenFromFile(path string) TokenFunc {
	return func() (string, error) {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("reading token file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
}

// TokenSource resolves the account from a signed session token.
type TokenSource struct {
	secret []byte
	token  TokenFunc
}

// NewTokenSource creates a source verifying tokens with secret.
func NewTokenSource(secret []byte, token TokenFunc) *TokenSource {
	return &TokenSource{secret: secret, token: token}
}

// CurrentAccount verifies the current token and returns its subject.
func (s *TokenSource) CurrentAccount(context.Context) (AccountID, error) {
	raw, err := s.token()
	if err != nil {
		return "", err
	}
	if raw == "" {
		return "", nil
	}
	return s.Verify(raw)
}

// Verify validates the token and extracts the account from the "sub" claim.
func (s *TokenSource) Verify(tokenString string) (AccountID, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return AccountID(sub), nil
}

// Issue mints a session token for id that expires after expiresIn.
func (s *TokenSource) Issue(id AccountID, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": string(id),
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}
