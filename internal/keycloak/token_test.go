package keycloak

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestTokenFetcher_MissingAccessToken(t *testing.T) {
	kc := newFakeKeycloak(t)
	kc.tokenBody = `{"token_type":"Bearer","expires_in":300}`
	srv := kc.server()

	f := NewTokenFetcher(srv.Client(), srv.URL, "openleaf", "id", "secret")
	_, err := f.Token(context.Background())
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestTokenFetcher_MalformedBody(t *testing.T) {
	kc := newFakeKeycloak(t)
	kc.tokenBody = `not json`
	srv := kc.server()

	f := NewTokenFetcher(srv.Client(), srv.URL, "openleaf", "id", "secret")
	_, err := f.Token(context.Background())
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestTokenFetcher_NonSuccessStatus(t *testing.T) {
	kc := newFakeKeycloak(t)
	kc.tokenStatus = http.StatusBadRequest
	srv := kc.server()

	f := NewTokenFetcher(srv.Client(), srv.URL+"/", "openleaf", "id", "secret")
	_, err := f.Token(context.Background())
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestTokenFetcher_Success(t *testing.T) {
	kc := newFakeKeycloak(t)
	srv := kc.server()

	f := NewTokenFetcher(srv.Client(), srv.URL, "openleaf", "id", "secret")
	resp, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.AccessToken != "admin-token" || resp.ExpiresIn != 300 {
		t.Errorf("unexpected token response: %+v", resp)
	}
}

func TestCachedTokenSource_RefreshesAfterExpiry(t *testing.T) {
	kc := newFakeKeycloak(t)
	srv := kc.server()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	src := NewCachedTokenSource(NewTokenFetcher(srv.Client(), srv.URL, "openleaf", "id", "secret"), 30*time.Second)
	src.now = func() time.Time { return now }

	if _, err := src.Token(context.Background()); err != nil {
		t.Fatalf("first token: %v", err)
	}
	now = now.Add(269 * time.Second)
	if _, err := src.Token(context.Background()); err != nil {
		t.Fatalf("cached token: %v", err)
	}
	if kc.tokenCalls.Load() != 1 {
		t.Fatalf("expected cached token inside the expiry window, got %d fetches", kc.tokenCalls.Load())
	}

	now = now.Add(2 * time.Second)
	if _, err := src.Token(context.Background()); err != nil {
		t.Fatalf("refreshed token: %v", err)
	}
	if kc.tokenCalls.Load() != 2 {
		t.Errorf("expected refresh after skewed expiry, got %d fetches", kc.tokenCalls.Load())
	}
}

func TestCachedTokenSource_FailureIsNotCached(t *testing.T) {
	kc := newFakeKeycloak(t)
	kc.tokenStatus = http.StatusServiceUnavailable
	srv := kc.server()

	src := NewCachedTokenSource(NewTokenFetcher(srv.Client(), srv.URL, "openleaf", "id", "secret"), 0)

	if _, err := src.Token(context.Background()); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}

	kc.tokenStatus = http.StatusOK
	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if token != "admin-token" {
		t.Errorf("unexpected token %q", token)
	}
}

func TestCachedTokenSource_ConcurrentCallers(t *testing.T) {
	kc := newFakeKeycloak(t)
	srv := kc.server()

	src := NewCachedTokenSource(NewTokenFetcher(srv.Client(), srv.URL, "openleaf", "id", "secret"), 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := src.Token(context.Background()); err != nil {
				t.Errorf("token: %v", err)
			}
		}()
	}
	wg.Wait()

	// singleflight collapses overlapping refreshes; late arrivals hit the cache.
	if kc.tokenCalls.Load() < 1 || kc.tokenCalls.Load() > 20 {
		t.Errorf("unexpected fetch count %d", kc.tokenCalls.Load())
	}
}

func TestCachedTokenSource_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case arrived <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"shared-token","expires_in":300}`))
	}))
	t.Cleanup(srv.Close)

	src := NewCachedTokenSource(NewTokenFetcher(srv.Client(), srv.URL, "openleaf", "id", "secret"), 0)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := src.Token(firstCtx)
		firstErr <- err
	}()
	<-arrived

	type result struct {
		token string
		err   error
	}
	second := make(chan result, 1)
	go func() {
		token, err := src.Token(context.Background())
		second <- result{token, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) || !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected cancelled caller to get ErrAuthentication wrapping context.Canceled, got %v", err)
	}

	close(release)
	select {
	case res := <-second:
		if res.err != nil {
			t.Fatalf("waiting caller failed after the first caller was cancelled: %v", res.err)
		}
		if res.token != "shared-token" {
			t.Errorf("unexpected token %q", res.token)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiting caller did not return")
	}

	// The shared fetch completed and was cached.
	if token, err := src.Token(context.Background()); err != nil || token != "shared-token" {
		t.Errorf("expected cached token, got %q, %v", token, err)
	}
}
