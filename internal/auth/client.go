package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/vrm-cloud-mqtt/internal/credential"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/vrm"
)

// expirySkew is how long before a known expiry a credential is replaced.
const expirySkew = time.Minute

// API is the part of the VRM API used for authentication. *vrm.Client
// satisfies it.
type API interface {
	Login(ctx context.Context, username, password string) (vrm.Session, error)
	ListAccessTokens(ctx context.Context, auth string, userID vrm.ID) ([]vrm.AccessToken, error)
	CreateAccessToken(ctx context.Context, auth string, userID vrm.ID, name string) (string, error)
	RevokeAccessToken(ctx context.Context, auth string, userID, tokenID vrm.ID) error
}

// Config holds the account settings.
type Config struct {
	Username        string
	Password        string
	TokenName       string
	Mode            credential.Kind
	RevokeDuplicate bool
}

// Logger is the logging interface used by the client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Client authenticates against VRM and writes the result to a Store.
//
// Client holds no credential; the caller owns the live one and passes it to
// EnsureValid.
type Client struct {
	api   API
	store credential.Store
	cfg   Config
	now   func() time.Time

	logger   Logger
	loggerMu sync.RWMutex
}

// NewClient creates an auth client. An empty Mode selects access tokens.
func NewClient(api API, store credential.Store, cfg Config) *Client {
	if cfg.Mode == "" {
		cfg.Mode = credential.KindAccess
	}
	return &Client{
		api:    api,
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for authentication events.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// EnsureValid returns cached when it can be used as is, and otherwise
// authenticates.
//
// A cached credential is trusted without contacting VRM. It is replaced when
// it is malformed, of the wrong kind for the configured mode, or within a
// minute of a known expiry.
//
// Parameters:
//   - ctx: Context for the network calls
//   - cached: The caller's current credential, nil when there is none
//
// Returns:
//   - credential.Credential: A credential that has reached the store
//   - error: ErrAuthentication, ErrPersist, or a transient vrm error
func (c *Client) EnsureValid(ctx context.Context, cached *credential.Credential) (credential.Credential, error) {
	if cached != nil && cached.Valid() && cached.Kind == c.cfg.Mode && !cached.Expired(c.now().Add(expirySkew)) {
		return *cached, nil
	}
	if cached != nil {
		c.getLogger().Info("cached credential not usable, authenticating", "credential", *cached)
	}
	return c.Reauthenticate(ctx)
}

// Reauthenticate logs in and obtains a new credential, ignoring any cached
// one. It makes no internal retries.
//
// Parameters:
//   - ctx: Context for the network calls
//
// Returns:
//   - credential.Credential: The new credential, already saved
//   - error: ErrAuthentication when VRM refuses the account or the token
//     request, ErrPersist when saving fails, otherwise the transient vrm error
func (c *Client) Reauthenticate(ctx context.Context) (credential.Credential, error) {
	logger := c.getLogger()
	logger.Debug("logging in to VRM", "username", c.cfg.Username)

	session, err := c.api.Login(ctx, c.cfg.Username, c.cfg.Password)
	if err != nil {
		return credential.Credential{}, classify("login", err)
	}

	cred := credential.Credential{
		AccountID:  session.UserID.String(),
		Kind:       c.cfg.Mode,
		ObtainedAt: c.now().UTC(),
	}

	switch c.cfg.Mode {
	case credential.KindBearer:
		cred.Token = session.Token
		cred.ExpiresAt = sessionExpiry(session.Token)
	default:
		token, err := c.issueAccessToken(ctx, session)
		if err != nil {
			return credential.Credential{}, err
		}
		cred.Token = token
	}

	if err := c.store.Save(ctx, cred); err != nil {
		return credential.Credential{}, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	logger.Info("authenticated with VRM", "credential", cred)
	return cred, nil
}

// Invalidate drops the stored credential so a restart does not reuse one
// that VRM has rejected.
func (c *Client) Invalidate(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// issueAccessToken creates the named access token, revoking same-named
// tokens first when configured to.
func (c *Client) issueAccessToken(ctx context.Context, session vrm.Session) (string, error) {
	logger := c.getLogger()
	bearer := credential.Credential{Token: session.Token, Kind: credential.KindBearer}.Authorization()

	tokens, err := c.api.ListAccessTokens(ctx, bearer, session.UserID)
	if err != nil {
		return "", classify("listing access tokens", err)
	}

	for _, t := range tokens {
		if t.Name != c.cfg.TokenName {
			continue
		}
		if !c.cfg.RevokeDuplicate {
			logger.Warn("access token with this name already exists, requesting another",
				"token_name", t.Name, "token_id", t.ID.String())
			continue
		}
		logger.Info("revoking duplicate access token", "token_name", t.Name, "token_id", t.ID.String())
		if err := c.api.RevokeAccessToken(ctx, bearer, session.UserID, t.ID); err != nil {
			return "", classify("revoking access token", err)
		}
	}

	token, err := c.api.CreateAccessToken(ctx, bearer, session.UserID, c.cfg.TokenName)
	if err != nil {
		return "", classify("creating access token", err)
	}
	return token, nil
}

// classify keeps transient vrm errors as they are and marks everything else
// as an authentication failure.
func classify(op string, err error) error {
	if vrm.IsTransient(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrAuthentication, op, err)
}
