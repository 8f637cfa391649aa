package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/refresh"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	contentTypeJSON = "application/json"
	requestIDHeader = "X-Request-Id"
	defaultTimeout  = 10 * time.Second
)

// Client issues requests against the authentication service with the current
// credential attached as a bearer token. On a 401 with a credential attached
// it performs exactly one refresh-and-retry cycle before surfacing
// ErrAuthExpired; it never swallows a failure.
type Client struct {
	baseURL    string
	httpClient *http.Client
	refresher  refresh.Refresher
	log        zerolog.Logger
}

// Result is the outcome of a successful call. Refreshed is non-nil when the
// call went through a refresh-and-retry cycle; the caller must adopt the new
// credential before it is observed anywhere else.
type Result struct {
	Refreshed *credentials.Credential
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying http.Client, typically one sharing a
// cookie jar with the refresh client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a request client for the service at baseURL. The
// refresher handles 401 recovery; it may be nil, in which case a 401 is
// surfaced as ErrAuthExpired immediately.
func NewClient(baseURL string, refresher refresh.Refresher, options ...ClientOption) *Client {
	client := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		refresher:  refresher,
		log:        zerolog.Nop(),
	}
	for _, opt := range options {
		opt(client)
	}
	return client
}

// Call issues a request to endpoint with the given credential attached and
// decodes a 2xx response body into out (which may be nil). Failures resolve
// to exactly one of the typed outcomes: *NetworkError when no response was
// produced, *ServerError for a non-2xx non-401 response, ErrAuthExpired when
// authorisation could not be recovered with a single refresh.
func (c *Client) Call(ctx context.Context, method, endpoint string, body any, cred *credentials.Credential, out any) (*Result, error) {
	res, err := c.do(ctx, method, endpoint, body, cred)
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusUnauthorized || cred == nil {
		if err := decodeResponse(res, out); err != nil {
			return nil, err
		}
		return &Result{}, nil
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()

	if c.refresher == nil {
		return nil, errors.Wrapf(ErrAuthExpired, "[Client.Call] %s %s unauthorised", method, endpoint)
	}

	// One refresh-and-retry cycle. A second 401 is terminal; never loop.
	newCred, refreshErr := c.refresher.Refresh(ctx)
	if refreshErr != nil {
		c.log.Debug().Err(refreshErr).Str("endpoint", endpoint).Msg("refresh rejected")
		return nil, errors.Wrapf(ErrAuthExpired, "[Client.Call] refresh failed: %s", refreshErr)
	}

	retryRes, err := c.do(ctx, method, endpoint, body, newCred)
	if err != nil {
		return nil, err
	}
	if retryRes.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, retryRes.Body)
		retryRes.Body.Close()
		return nil, errors.Wrapf(ErrAuthExpired, "[Client.Call] %s %s unauthorised after refresh", method, endpoint)
	}
	if err := decodeResponse(retryRes, out); err != nil {
		return nil, err
	}
	return &Result{Refreshed: newCred}, nil
}

// CallOnce issues a single attempt with no 401 recovery: an unauthorised
// response comes back as a ServerError like any other failure status. Meant
// for calls where refreshing would be pointless, such as the logout
// notification for a credential that is about to be discarded.
func (c *Client) CallOnce(ctx context.Context, method, endpoint string, body any, cred *credentials.Credential, out any) error {
	res, err := c.do(ctx, method, endpoint, body, cred)
	if err != nil {
		return err
	}
	return decodeResponse(res, out)
}

// do builds and issues a single request attempt. The body is re-marshalled
// per attempt so a retry never reuses a drained reader.
func (c *Client) do(ctx context.Context, method, endpoint string, body any, cred *credentials.Credential) (*http.Response, error) {
	var reader io.Reader
	if body != nil && method != http.MethodGet {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrapf(err, "[Client.do] marshal %s body", endpoint)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "[Client.do] build %s request", endpoint)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set(requestIDHeader, uuid.New().String())
	if cred != nil {
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	return res, nil
}

// decodeResponse consumes and closes the response body. Non-2xx responses
// become a ServerError carrying the body as detail.
func decodeResponse(res *http.Response, out any) error {
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return &NetworkError{Err: err}
	}

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return newServerError(res.StatusCode, raw)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "[Client] decode response body")
	}
	return nil
}

func newServerError(status int, body []byte) *ServerError {
	serverErr := &ServerError{StatusCode: status, Body: string(body)}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		serverErr.Message = payload.Message
	}
	return serverErr
}
