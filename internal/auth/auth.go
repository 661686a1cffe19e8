// Package auth issues and verifies session tokens.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is how long a session token stays valid when no TTL is configured.
const DefaultTTL = 30 * 24 * time.Hour

const tokenType = "bearer"

var (
	ErrEmptySecret  = errors.New("auth: signing secret is empty")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Token is a signed session token.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Issuer signs and verifies HS256 session tokens whose subject is a session id.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer. A non-positive ttl uses DefaultTTL.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue mints a token for sessionID.
func (i *Issuer) Issue(sessionID string) (Token, error) {
	if sessionID == "" {
		return Token{}, errors.New("auth: session id is empty")
	}

	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return Token{
		AccessToken: signed,
		TokenType:   tokenType,
		ExpiresAt:   expiresAt.UTC(),
	}, nil
}

// Verify checks the signature and expiry of raw and returns its session id.
func (i *Issuer) Verify(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// ExtractBearerToken extracts the token from the Authorization header
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	if !strings.EqualFold(parts[0], "bearer") {
		return "", fmt.Errorf("unsupported authorization scheme")
	}
	if strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("empty bearer token")
	}

	return strings.TrimSpace(parts[1]), nil
}
