// ABOUTME: CredentialSource capability boundary and timeout-bounded fetching.
// ABOUTME: The SDK never persists tokens; every call asks the host for fresh credentials.

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error reports a credential retrieval failure. Timeout is set when the
// caller-configured deadline expired before the source produced credentials.
type Error struct {
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("credential retrieval timed out: %v", e.Err)
	}
	return fmt.Sprintf("credential retrieval failed: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Source supplies current credentials on demand. Implementations must be safe
// for concurrent use and idempotent; they must not block indefinitely — the
// conversation layer applies a caller-defined timeout around every call.
type Source interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Fetch retrieves credentials from src with the given timeout applied.
// A deadline expiry or any source failure is returned as *Error so callers
// can distinguish auth failures from transport failures.
func Fetch(ctx context.Context, src Source, timeout time.Duration) (Credentials, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	creds, err := src.Credentials(ctx)
	if err != nil {
		return nil, &Error{
			Timeout: errors.Is(err, context.DeadlineExceeded),
			Err:     err,
		}
	}
	if creds == nil {
		return nil, &Error{Err: errors.New("source returned nil credentials")}
	}
	return creds, nil
}

// StaticSource returns the same credentials on every call. Intended for
// development and tests; production hosts should mint fresh tokens per call.
type StaticSource struct {
	Creds Credentials
}

// Credentials implements Source.
func (s StaticSource) Credentials(ctx context.Context) (Credentials, error) {
	if s.Creds == nil {
		return nil, errors.New("static source has no credentials")
	}
	return s.Creds, nil
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (Credentials, error)

// Credentials implements Source.
func (f SourceFunc) Credentials(ctx context.Context) (Credentials, error) {
	return f(ctx)
}
