package credential

import (
	"context"
	"log/slog"
	"time"
)

// Kind selects how the token is presented to the VRM API.
type Kind string

const (
	// KindAccess is a personal access token, sent as "Token <t>".
	KindAccess Kind = "access"

	// KindBearer is a login session JWT, sent as "Bearer <t>".
	KindBearer Kind = "bearer"
)

// Credential is the bearer credential for the VRM API.
type Credential struct {
	Token      string    `json:"token"`
	AccountID  string    `json:"account_id"`
	Kind       Kind      `json:"kind"`
	ObtainedAt time.Time `json:"obtained_at"`

	// ExpiresAt is zero when the remote service does not say.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Authorization returns the value of the x-authorization header.
func (c Credential) Authorization() string {
	if c.Kind == KindBearer {
		return "Bearer " + c.Token
	}
	return "Token " + c.Token
}

// Valid reports whether the credential is well formed.
func (c Credential) Valid() bool {
	if c.Token == "" || c.AccountID == "" {
		return false
	}
	return c.Kind == KindAccess || c.Kind == KindBearer
}

// Expired reports whether a known expiry has passed at now.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Equal reports whether two credentials carry the same values.
func (c Credential) Equal(o Credential) bool {
	return c.Token == o.Token &&
		c.AccountID == o.AccountID &&
		c.Kind == o.Kind &&
		c.ObtainedAt.Equal(o.ObtainedAt) &&
		c.ExpiresAt.Equal(o.ExpiresAt)
}

// LogValue implements slog.LogValuer.
func (c Credential) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("account_id", c.AccountID),
		slog.String("kind", string(c.Kind)),
		slog.String("token", Redact(c.Token)),
		slog.Time("obtained_at", c.ObtainedAt),
	}
	if !c.ExpiresAt.IsZero() {
		attrs = append(attrs, slog.Time("expires_at", c.ExpiresAt))
	}
	return slog.GroupValue(attrs...)
}

// Redact keeps the first four characters of a secret.
func Redact(secret string) string {
	const keep = 4
	if len(secret) <= keep {
		return "****"
	}
	return secret[:keep] + "****"
}

// Store persists the credential.
type Store interface {
	// Load returns the cached credential. ok is false when nothing usable
	// is stored; errors are logged, never returned.
	Load(ctx context.Context) (cred Credential, ok bool)

	// Save durably replaces the cached credential.
	Save(ctx context.Context, cred Credential) error

	// Clear removes the cached credential. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// Logger is the logging interface used by stores.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}
