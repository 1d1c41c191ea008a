// Package keycloak talks to the Keycloak admin REST API on behalf of the
// profile service.
package keycloak

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrAuthentication means no admin token could be obtained, or the
	// provider rejected the one we sent.
	ErrAuthentication = errors.New("keycloak authentication failed")

	// ErrUserDeletionFailed wraps every failure of DeleteUser.
	ErrUserDeletionFailed = errors.New("keycloak user deletion failed")
)

// RequestObserver receives the outcome of each admin API call. Status is 0
// when no response was received.
type RequestObserver interface {
	ObserveIdentityProviderRequest(operation string, status int, elapsed time.Duration)
}

// Config configures a Client.
type Config struct {
	ServerURL    string
	Realm        string
	ClientID     string
	ClientSecret string

	// Timeout bounds each HTTP round trip. Zero means 10s.
	Timeout time.Duration

	// CacheToken reuses admin tokens until they expire instead of fetching
	// one per call.
	CacheToken bool

	// AdminRPS limits admin API calls per second. Zero disables the limit.
	AdminRPS float64

	HTTPClient *http.Client
	Observer   RequestObserver
}

// Client deletes users from a Keycloak realm.
type Client struct {
	httpClient *http.Client
	serverURL  string
	realm      string
	tokens     TokenSource
	limiter    *rate.Limiter
	observer   RequestObserver
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	fetcher := NewTokenFetcher(httpClient, cfg.ServerURL, cfg.Realm, cfg.ClientID, cfg.ClientSecret)

	var tokens TokenSource = fetcher
	if cfg.CacheToken {
		tokens = NewCachedTokenSource(fetcher, 30*time.Second)
	}

	var limiter *rate.Limiter
	if cfg.AdminRPS > 0 {
		burst := int(cfg.AdminRPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.AdminRPS), burst)
	}

	return &Client{
		httpClient: httpClient,
		serverURL:  strings.TrimRight(cfg.ServerURL, "/"),
		realm:      cfg.Realm,
		tokens:     tokens,
		limiter:    limiter,
		observer:   cfg.Observer,
	}
}

// DeleteUser removes the user from the realm. Any 2xx response is success;
// everything else, including a failed token fetch, returns an error matching
// ErrUserDeletionFailed. Deleting an unknown id fails with the provider's 404.
func (c *Client) DeleteUser(ctx context.Context, externalID string) error {
	log.Printf("[Keycloak] Deleting user: external_id=%s", externalID)

	if err := c.deleteUser(ctx, externalID); err != nil {
		log.Printf("[Keycloak] Failed to delete user: external_id=%s err=%v", externalID, err)
		return fmt.Errorf("%w: %w", ErrUserDeletionFailed, err)
	}

	log.Printf("[Keycloak] User deleted: external_id=%s", externalID)
	return nil
}

func (c *Client) deleteUser(ctx context.Context, externalID string) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	deleteURL := fmt.Sprintf("%s/admin/realms/%s/users/%s", c.serverURL, url.PathEscape(c.realm), url.PathEscape(externalID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, deleteURL, nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe("delete_user", 0, time.Since(start))
		return fmt.Errorf("delete request: %w", err)
	}
	defer resp.Body.Close()
	c.observe("delete_user", resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	statusErr := fmt.Errorf("admin API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		if cached, ok := c.tokens.(*CachedTokenSource); ok {
			cached.Invalidate()
		}
		return fmt.Errorf("%w: %w", ErrAuthentication, statusErr)
	}
	return statusErr
}

func (c *Client) observe(operation string, status int, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveIdentityProviderRequest(operation, status, elapsed)
	}
}
