package refresh

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/pkg/errors"
)

// ErrUnauthorized signals that the server rejected the long-lived session
// identifier (expired, revoked or absent). The client never retries
// internally; retry policy belongs to the caller.
var ErrUnauthorized = errors.New("session identifier rejected")

const defaultTimeout = 10 * time.Second

// Refresher exchanges the long-lived session identifier for a new
// short-lived credential.
type Refresher interface {
	Refresh(ctx context.Context) (*credentials.Credential, error)
}

// Identifier supplies the long-lived session identifier on the refresh
// request. The browser original relied on an ambient httpOnly cookie; this
// makes the capability explicit while leaving the transport detail (cookie
// vs. header) to the implementation. A Client whose http.Client carries a
// cookie jar needs no Identifier at all.
type Identifier interface {
	Apply(req *http.Request)
}

// CookieIdentifier carries the session identifier as a request cookie.
type CookieIdentifier struct {
	Name  string
	Value string
}

func (c CookieIdentifier) Apply(req *http.Request) {
	req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
}

// HeaderIdentifier carries the session identifier in a request header.
type HeaderIdentifier struct {
	Name  string
	Value string
}

func (h HeaderIdentifier) Apply(req *http.Request) {
	req.Header.Set(h.Name, h.Value)
}

// Client performs the refresh exchange against the authentication service.
// Stateless aside from the network call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	identifier Identifier
	nowTime    func() time.Time
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying http.Client, typically one sharing a
// cookie jar with the rest of the application.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithIdentifier sets an explicit session identifier carrier.
func WithIdentifier(id Identifier) ClientOption {
	return func(c *Client) {
		c.identifier = id
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ClientOption {
	return func(c *Client) {
		c.nowTime = nowFunc
	}
}

// NewClient creates a refresh client for the authentication service at
// baseURL.
func NewClient(baseURL string, options ...ClientOption) *Client {
	client := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		nowTime:    time.Now,
	}
	for _, opt := range options {
		opt(client)
	}
	return client
}

// Refresh exchanges the session identifier for a new credential. A non-2xx
// response means the identifier was not accepted and surfaces ErrUnauthorized.
func (c *Client) Refresh(ctx context.Context) (*credentials.Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/refresh", nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Refresh] build request")
	}
	if c.identifier != nil {
		c.identifier.Apply(req)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Refresh] refresh request")
	}
	defer res.Body.Close()

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return nil, errors.Wrapf(ErrUnauthorized, "[Client.Refresh] status %d", res.StatusCode)
	}

	var body struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "[Client.Refresh] decode response")
	}
	if body.AccessToken == "" {
		return nil, errors.New("[Client.Refresh] response carried no access token")
	}

	return credentials.New(body.AccessToken, c.nowTime()), nil
}
