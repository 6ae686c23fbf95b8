package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/spotsync/client/internal/apperr"
	"github.com/spotsync/client/internal/models"
	"github.com/spotsync/client/internal/observability"
)

const (
	headerAuthorization = "Authorization"
	headerRequestID     = "X-Request-Id"
	// headerRetryMarker is the one-shot marker attached to the single
	// post-refresh reissue of a request. A request already carrying it
	// is never retried again, which breaks any refresh loop where the
	// new access token is itself rejected.
	headerRetryMarker = "X-Retry-Attempt"

	refreshPath = "/api/auth/refresh"
)

// LogoutFunc is invoked exactly once when an irrecoverable refresh
// failure forces a logout.
type LogoutFunc func()

// Client issues authenticated requests against the authority. It
// attaches the bearer credential, hides token expiry from callers via
// a single-flight refresh, and reissues the failed request exactly
// once with the new token.
type Client struct {
	baseURL string
	http    *http.Client
	creds   *CredentialStore
	group   singleflight.Group
	timeout time.Duration

	onLogout LogoutFunc
	log      *observability.Logger
}

// Options configures a Client.
type Options struct {
	// Timeout bounds each HTTP attempt. Zero means 30s.
	Timeout time.Duration
	// OnLogout is called when a failed refresh clears the credentials.
	OnLogout LogoutFunc
	// HTTPClient overrides the underlying client (tests).
	HTTPClient *http.Client
}

// NewClient creates an authenticated transport client.
func NewClient(baseURL string, creds *CredentialStore, opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		creds:    creds,
		timeout:  timeout,
		onLogout: opts.OnLogout,
		log:      observability.GetLogger(),
	}
}

// Credentials exposes the credential store to login/logout flows.
func (c *Client) Credentials() *CredentialStore {
	return c.creds
}

// BaseURL returns the configured authority base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type requestOptions struct {
	skipAuth bool
}

// RequestOption adjusts a single request.
type RequestOption func(*requestOptions)

// SkipAuth marks a credential-issuing request (login, register). No
// bearer is attached and its failures are never eligible for
// refresh-and-retry.
func SkipAuth() RequestOption {
	return func(o *requestOptions) { o.skipAuth = true }
}

// DoJSON issues a JSON request and decodes a JSON response into out
// (which may be nil). Non-2xx responses come back as a classified
// *apperr.Error; network failures come back raw for apperr.Classify.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out interface{}, opts ...RequestOption) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}
	return c.DoRaw(ctx, method, path, "application/json", body, out, opts...)
}

// DoRaw issues a request with an arbitrary content type (multipart
// uploads). The body is a byte slice so the one retry after refresh
// can replay it.
func (c *Client) DoRaw(ctx context.Context, method, path, contentType string, body []byte, out interface{}, opts ...RequestOption) error {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}

	status, respBody, err := c.attempt(ctx, method, path, contentType, body, o.skipAuth, false)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && !o.skipAuth {
		if _, err := c.refresh(ctx); err != nil {
			return err
		}
		status, respBody, err = c.attempt(ctx, method, path, contentType, body, o.skipAuth, true)
		if err != nil {
			return err
		}
	}

	if status >= 400 {
		return apperr.FromResponse(status, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response body: %w", err)
		}
	}
	return nil
}

// attempt performs one HTTP exchange and drains the body.
func (c *Client) attempt(ctx context.Context, method, path, contentType string, body []byte, skipAuth, retried bool) (int, []byte, error) {
	ctx, span := observability.StartSpan(ctx, fmt.Sprintf("HTTP %s %s", method, path),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" && body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	requestID := uuid.New().String()
	req.Header.Set(headerRequestID, requestID)
	span.SetAttributes(observability.RequestID(requestID))
	if retried {
		req.Header.Set(headerRetryMarker, "1")
	}

	if !skipAuth {
		if pair, ok := c.creds.Get(); ok && pair.AccessToken != "" {
			req.Header.Set(headerAuthorization, "Bearer "+pair.AccessToken)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		observability.RecordError(span, err)
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	observability.SetSuccess(span)
	return resp.StatusCode, respBody, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// refresh rotates the credential pair, at most once in flight per
// credential generation. Concurrent callers observing expiry while a
// refresh is underway wait for that refresh's outcome instead of
// issuing a duplicate call with a now-stale refresh token.
func (c *Client) refresh(ctx context.Context) (models.CredentialPair, error) {
	pair, ok := c.creds.Get()
	if !ok || pair.RefreshToken == "" {
		return models.CredentialPair{}, fmt.Errorf("no refresh credential: %w", apperr.ErrUnauthenticated)
	}

	v, err, _ := c.group.Do(pair.RefreshToken, func() (interface{}, error) {
		cur, ok := c.creds.Get()
		if !ok {
			return nil, apperr.ErrUnauthenticated
		}
		if cur.RefreshToken != pair.RefreshToken {
			// Another flight already rotated the pair.
			return cur, nil
		}
		return c.callRefresh(ctx, cur.RefreshToken)
	})
	if err != nil {
		return models.CredentialPair{}, err
	}
	return v.(models.CredentialPair), nil
}

// callRefresh performs the actual refresh exchange. Any failure here
// is the sole trigger for forced logout: the store is cleared and
// every waiter fails as unauthenticated.
func (c *Client) callRefresh(ctx context.Context, refreshToken string) (interface{}, error) {
	// The refresh outcome is shared by every waiter, so it must not
	// die with the first caller's context.
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("failed to encode refresh request: %w", err)
	}

	status, respBody, err := c.attempt(refreshCtx, http.MethodPost, refreshPath, "application/json", body, true, false)
	if err == nil && status >= 400 {
		err = apperr.FromResponse(status, respBody)
	}
	if err != nil {
		c.log.Warnf("credential refresh failed, logging out: %v", err)
		c.creds.Clear()
		if c.onLogout != nil {
			c.onLogout()
		}
		return nil, fmt.Errorf("credential refresh rejected (%v): %w", err, apperr.ErrUnauthenticated)
	}

	var parsed refreshResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		c.log.Warnf("credential refresh returned malformed body, logging out: %v", err)
		c.creds.Clear()
		if c.onLogout != nil {
			c.onLogout()
		}
		return nil, fmt.Errorf("malformed refresh response: %w", apperr.ErrUnauthenticated)
	}

	newPair := models.CredentialPair{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
	}
	// Both tokens replace the old pair together.
	c.creds.Set(newPair)
	return newPair, nil
}
