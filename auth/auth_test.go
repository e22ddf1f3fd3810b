// ABOUTME: Tests for credential sources, timeout-bounded fetching, and JWT minting.
// ABOUTME: Covers the auth error taxonomy, exhaustive bearer extraction, and token expiry.

package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_ReturnsCredentials(t *testing.T) {
	src := StaticSource{Creds: OAuth{Token: "tok", OrgID: "00Dxx0000001gPF", UserID: "u-1"}}

	creds, err := Fetch(context.Background(), src, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "tok", BearerToken(creds))
}

func TestFetch_TimeoutIsAuthError(t *testing.T) {
	src := SourceFunc(func(ctx context.Context) (Credentials, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := Fetch(context.Background(), src, 10*time.Millisecond)
	require.Error(t, err)

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.True(t, authErr.Timeout)
}

func TestFetch_SourceFailureIsAuthError(t *testing.T) {
	boom := errors.New("keychain locked")
	src := SourceFunc(func(ctx context.Context) (Credentials, error) {
		return nil, boom
	})

	_, err := Fetch(context.Background(), src, time.Second)

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.False(t, authErr.Timeout)
	assert.ErrorIs(t, err, boom)
}

func TestFetch_NilCredentialsIsAuthError(t *testing.T) {
	src := SourceFunc(func(ctx context.Context) (Credentials, error) {
		return nil, nil
	})

	_, err := Fetch(context.Background(), src, time.Second)

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "oauth-tok", BearerToken(OAuth{Token: "oauth-tok"}))
	assert.Equal(t, "jwt-tok", BearerToken(OrgJWT{Token: "jwt-tok"}))
}

func TestJWTSource_MintAndVerify(t *testing.T) {
	src := NewJWTSource([]byte("secret"), "user@example.com", time.Minute)

	creds, err := src.Credentials(context.Background())
	require.NoError(t, err)

	jwt, ok := creds.(OrgJWT)
	require.True(t, ok)
	require.NotEmpty(t, jwt.Token)

	sub, err := src.Verify(jwt.Token)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", sub)

	require.NoError(t, jwt.Validate(time.Now()))
}

func TestJWTSource_VerifyRejectsWrongSecret(t *testing.T) {
	src := NewJWTSource([]byte("secret"), "user@example.com", time.Minute)
	other := NewJWTSource([]byte("different"), "user@example.com", time.Minute)

	creds, err := src.Credentials(context.Background())
	require.NoError(t, err)

	_, err = other.Verify(creds.(OrgJWT).Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestOrgJWT_ValidateDetectsExpiry(t *testing.T) {
	src := NewJWTSource([]byte("secret"), "user@example.com", time.Minute)

	creds, err := src.Credentials(context.Background())
	require.NoError(t, err)
	jwt := creds.(OrgJWT)

	require.NoError(t, jwt.Validate(time.Now()))
	assert.ErrorIs(t, jwt.Validate(time.Now().Add(2*time.Minute)), ErrExpiredToken)
}

func TestOrgJWT_ValidateRejectsGarbage(t *testing.T) {
	err := OrgJWT{Token: "not-a-jwt"}.Validate(time.Now())
	assert.ErrorIs(t, err, ErrInvalidToken)
}
