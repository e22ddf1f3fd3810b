// ABOUTME: HS256 org-JWT minting source and local token inspection.
// ABOUTME: Mints a fresh short-lived token per call so server-side expiry is honored.

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrExpiredToken = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
)

// JWTSource mints HS256-signed org JWTs from a shared secret. Every
// Credentials call produces a fresh token, so the source can be used for the
// lifetime of a client without tokens going stale mid-conversation.
type JWTSource struct {
	secret    []byte
	subject   string
	expiresIn time.Duration
}

// NewJWTSource creates a minting source for the given subject. expiresIn
// bounds each minted token's validity; zero defaults to five minutes.
func NewJWTSource(secret []byte, subject string, expiresIn time.Duration) *JWTSource {
	if expiresIn <= 0 {
		expiresIn = 5 * time.Minute
	}
	return &JWTSource{secret: secret, subject: subject, expiresIn: expiresIn}
}

// Credentials implements Source by minting a fresh OrgJWT.
func (s *JWTSource) Credentials(ctx context.Context) (Credentials, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": s.subject,
		"iat": now.Unix(),
		"exp": now.Add(s.expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}
	return OrgJWT{Token: signed}, nil
}

// Verify validates an HS256 token against the source's secret and returns the
// subject claim. Used by the stub service to authenticate requests.
func (s *JWTSource) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
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
		return "", fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	return sub, nil
}

// Validate parses the JWT without signature verification and reports whether
// it has already expired at the given instant. This lets a client fail fast
// before a network round-trip; it is not an authenticity check.
func (c OrgJWT) Validate(now time.Time) error {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(c.Token, claims); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if exp != nil && now.After(exp.Time) {
		return ErrExpiredToken
	}
	return nil
}
