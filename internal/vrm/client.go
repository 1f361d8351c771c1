package vrm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// DefaultBaseURL is the public VRM v2 endpoint.
const DefaultBaseURL = "https://vrmapi.victronenergy.com/v2"

const (
	// defaultTimeout bounds one request when Config.Timeout is zero.
	defaultTimeout = 30 * time.Second

	// maxResponseSize bounds how much of a response body is read.
	maxResponseSize = 8 << 20

	// diagnosticsCount is the page size requested for diagnostics.
	diagnosticsCount = 1000

	// authHeader carries the credential on every authenticated call.
	authHeader = "x-authorization"
)

// Config configures a Client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string

	// HTTPClient replaces the pooled cleanhttp client. Timeout is not
	// applied to a caller-supplied client.
	HTTPClient *http.Client
}

// Client calls the VRM API.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewClient creates a client. An empty BaseURL selects DefaultBaseURL.
func NewClient(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
		httpClient.Timeout = cfg.Timeout
		if httpClient.Timeout <= 0 {
			httpClient.Timeout = defaultTimeout
		}
	}

	ua := cfg.UserAgent
	if ua == "" {
		ua = "vrm-cloud-mqtt"
	}

	return &Client{baseURL: base, userAgent: ua, httpClient: httpClient}
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login exchanges username and password for a session token.
//
// A login the service refuses, whether by status code or by a body without
// a token, unwraps to ErrUnauthorized or ErrForbidden.
func (c *Client) Login(ctx context.Context, username, password string) (Session, error) {
	const path = "/auth/login"

	var resp loginResponse
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, path, "", body, &resp); err != nil {
		return Session{}, err
	}

	if (resp.Status != "" && resp.Status != "login_success") || resp.Token == "" || resp.IDUser == "" {
		return Session{}, &APIError{
			Method:     http.MethodPost,
			Path:       path,
			StatusCode: http.StatusOK,
			Message:    "login not accepted",
			Kind:       ErrUnauthorized,
		}
	}
	return Session{Token: resp.Token, UserID: resp.IDUser}, nil
}

// ListAccessTokens returns the personal access tokens of userID.
func (c *Client) ListAccessTokens(ctx context.Context, auth string, userID ID) ([]AccessToken, error) {
	var resp tokensResponse
	path := "/users/" + url.PathEscape(userID.String()) + "/accesstokens"
	if err := c.do(ctx, http.MethodGet, path, auth, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tokens, nil
}

// CreateAccessToken creates a personal access token called name and returns
// its secret.
func (c *Client) CreateAccessToken(ctx context.Context, auth string, userID ID, name string) (string, error) {
	var resp createTokenResponse
	path := "/users/" + url.PathEscape(userID.String()) + "/accesstokens"
	if err := c.do(ctx, http.MethodPost, path, auth, map[string]string{"name": name}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &APIError{
			Method:  http.MethodPost,
			Path:    path,
			Message: "response carries no token",
			Kind:    ErrBadResponse,
		}
	}
	return resp.Token, nil
}

// RevokeAccessToken deletes the access token tokenID.
func (c *Client) RevokeAccessToken(ctx context.Context, auth string, userID, tokenID ID) error {
	path := "/users/" + url.PathEscape(userID.String()) + "/accesstokens/" + url.PathEscape(tokenID.String())
	var resp envelope
	return c.do(ctx, http.MethodDelete, path, auth, nil, &resp)
}

// Installations lists the sites userID can see.
func (c *Client) Installations(ctx context.Context, auth string, userID ID) ([]Installation, error) {
	var resp installationsResponse
	path := "/users/" + url.PathEscape(userID.String()) + "/installations"
	if err := c.do(ctx, http.MethodGet, path, auth, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// Diagnostics returns the latest diagnostics records of siteID.
func (c *Client) Diagnostics(ctx context.Context, auth string, siteID string) ([]Diagnostic, error) {
	var resp diagnosticsResponse
	path := fmt.Sprintf("/installations/%s/diagnostics?count=%d", url.PathEscape(siteID), diagnosticsCount)
	if err := c.do(ctx, http.MethodGet, path, auth, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// result is satisfied by every response type through the embedded envelope.
type result interface {
	failed() bool
	message() string
}

// do performs one request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path, auth string, in any, out result) error {
	fail := func(kind error, status int, msg string, cause error) error {
		return &APIError{Method: method, Path: path, StatusCode: status, Message: msg, Kind: kind, Err: cause}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fail(ErrRequest, 0, "", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fail(ErrRequest, 0, "", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set(authHeader, auth)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(ErrRequest, 0, "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fail(ErrRequest, resp.StatusCode, "", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// The error body is informative only; ignore it if it does not decode.
		var env envelope
		_ = json.Unmarshal(data, &env) //nolint:errcheck // best effort
		return fail(statusKind(resp.StatusCode), resp.StatusCode, env.message(), nil)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fail(ErrBadResponse, resp.StatusCode, "", err)
	}
	if out.failed() {
		return fail(ErrUnsuccessful, resp.StatusCode, out.message(), nil)
	}
	return nil
}
