package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TokenSource yields an admin bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenResponse is the subset of the OpenID Connect token response we use.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// TokenFetcher performs a client_credentials grant against the realm's token
// endpoint. Every call goes to the network.
type TokenFetcher struct {
	httpClient   *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
}

// NewTokenFetcher builds a fetcher for {serverURL}/realms/{realm}/protocol/openid-connect/token.
func NewTokenFetcher(httpClient *http.Client, serverURL, realm, clientID, clientSecret string) *TokenFetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenFetcher{
		httpClient:   httpClient,
		tokenURL:     fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", strings.TrimRight(serverURL, "/"), url.PathEscape(realm)),
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// Fetch requests a new token. Any failure matches ErrAuthentication.
func (f *TokenFetcher) Fetch(ctx context.Context) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", f.clientID)
	data.Set("client_secret", f.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: create token request: %w", ErrAuthentication, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: token request: %w", ErrAuthentication, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: token endpoint returned status %d: %s", ErrAuthentication, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("%w: decode token response: %w", ErrAuthentication, err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response has no access_token", ErrAuthentication)
	}

	return &tokenResp, nil
}

// Token implements TokenSource.
func (f *TokenFetcher) Token(ctx context.Context) (string, error) {
	resp, err := f.Fetch(ctx)
	if err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}

// CachedTokenSource reuses a fetched token until shortly before it expires.
// Concurrent callers share a single in-flight fetch.
type CachedTokenSource struct {
	fetcher *TokenFetcher
	skew    time.Duration
	now     func() time.Time

	// fetchTimeout bounds a shared fetch, independent of any caller.
	fetchTimeout time.Duration

	group singleflight.Group

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewCachedTokenSource wraps fetcher. Tokens are treated as expired skew
// before the server-reported expiry.
func NewCachedTokenSource(fetcher *TokenFetcher, skew time.Duration) *CachedTokenSource {
	timeout := fetcher.httpClient.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CachedTokenSource{fetcher: fetcher, skew: skew, now: time.Now, fetchTimeout: timeout}
}

// Token returns the cached token or fetches a new one.
func (c *CachedTokenSource) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.expiry) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	// The fetch is shared by every waiter, so it must not die with whichever
	// caller happened to start it. Each caller still gives up on its own ctx.
	ch := c.group.DoChan("admin-token", func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		resp, err := c.fetcher.Fetch(fetchCtx)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.token = resp.AccessToken
		c.expiry = c.now().Add(time.Duration(resp.ExpiresIn)*time.Second - c.skew)
		c.mu.Unlock()

		log.Printf("[Keycloak] Admin token refreshed: expires_in=%ds", resp.ExpiresIn)
		return resp.AccessToken, nil
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: waiting for token: %w", ErrAuthentication, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token so the next call fetches a fresh one.
func (c *CachedTokenSource) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiry = time.Time{}
	c.mu.Unlock()
}
