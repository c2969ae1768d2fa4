package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenSourceCachesAcrossCalls(t *testing.T) {
	var grants int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostFormValue("grant_type"); got != "client_credentials" {
			t.Errorf("unexpected grant_type %q", got)
		}
		n := atomic.AddInt32(&grants, 1)
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":300}`, n)
	}))
	defer srv.Close()

	src := NewTokenSource(srv.URL, AdminCredentials{ClientID: "admin-cli", ClientSecret: "secret"})

	for i := 0; i < 5; i++ {
		token, err := src.Token(context.Background())
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
		if token != "tok-1" {
			t.Fatalf("expected cached token, got %q", token)
		}
	}
	if n := atomic.LoadInt32(&grants); n != 1 {
		t.Fatalf("expected a single grant call, got %d", n)
	}
}

func TestTokenSourceSingleFlight(t *testing.T) {
	var grants int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&grants, 1)
		time.Sleep(20 * time.Millisecond) // widen the concurrent window
		fmt.Fprint(w, `{"access_token":"tok-shared","expires_in":300}`)
	}))
	defer srv.Close()

	src := NewTokenSource(srv.URL, AdminCredentials{ClientID: "admin-cli", ClientSecret: "secret"})

	const n = 16
	var wg sync.WaitGroup
	tokens := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = src.Token(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Token[%d]: %v", i, errs[i])
		}
		if tokens[i] != "tok-shared" {
			t.Fatalf("Token[%d]: unexpected token %q", i, tokens[i])
		}
	}
	if got := atomic.LoadInt32(&grants); got != 1 {
		t.Fatalf("expected a single grant call for %d concurrent callers, got %d", n, got)
	}
}

func TestTokenSourceRefreshesExpiredToken(t *testing.T) {
	var grants int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&grants, 1)
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":300}`, n)
	}))
	defer srv.Close()

	now := time.Now()
	clock := func() time.Time { return now }
	src := NewTokenSource(srv.URL, AdminCredentials{ClientID: "admin-cli", ClientSecret: "secret"},
		WithTokenClock(func() time.Time { return clock() }))

	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "tok-1" {
		t.Fatalf("unexpected first token %q", token)
	}

	// inside the safety margin: 300s lifetime, 280s elapsed, 30s margin
	now = now.Add(280 * time.Second)
	token, err = src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token after expiry: %v", err)
	}
	if token != "tok-2" {
		t.Fatalf("expected refreshed token, got %q", token)
	}
	if got := atomic.LoadInt32(&grants); got != 2 {
		t.Fatalf("expected exactly two grant calls, got %d", got)
	}
}

func TestTokenSourceSafetyMarginForcesEarlyRefresh(t *testing.T) {
	var grants int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&grants, 1)
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":60}`, n)
	}))
	defer srv.Close()

	now := time.Now()
	clock := func() time.Time { return now }
	src := NewTokenSource(srv.URL, AdminCredentials{ClientID: "admin-cli", ClientSecret: "secret"},
		WithSafetyMargin(45*time.Second),
		WithTokenClock(func() time.Time { return clock() }))

	if _, err := src.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}

	// 60s lifetime with a 45s margin: 20s in, the token already counts as expired
	now = now.Add(20 * time.Second)
	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "tok-2" {
		t.Fatalf("expected early refresh, got %q", token)
	}
}

func TestTokenSourceFailureNeverYieldsStaleToken(t *testing.T) {
	var fail atomic.Bool
	var grants int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&grants, 1)
		if fail.Load() {
			http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"access_token":"tok-1","expires_in":300}`)
	}))
	defer srv.Close()

	now := time.Now()
	clock := func() time.Time { return now }
	src := NewTokenSource(srv.URL, AdminCredentials{ClientID: "admin-cli", ClientSecret: "secret"},
		WithTokenClock(func() time.Time { return clock() }))

	if _, err := src.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}

	fail.Store(true)
	now = now.Add(time.Hour)

	_, err := src.Token(context.Background())
	if err == nil {
		t.Fatal("expected error, got stale token")
	}
	if !errors.Is(err, ErrTokenAcquisition) {
		t.Fatalf("expected ErrTokenAcquisition, got %v", err)
	}
}

func TestTokenSourcePasswordGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostFormValue("grant_type"); got != "password" {
			t.Errorf("unexpected grant_type %q", got)
		}
		if got := r.PostFormValue("username"); got != "svc-admin" {
			t.Errorf("unexpected username %q", got)
		}
		fmt.Fprint(w, `{"access_token":"tok-pw","expires_in":300}`)
	}))
	defer srv.Close()

	src := NewTokenSource(srv.URL, AdminCredentials{
		ClientID:     "admin-cli",
		ClientSecret: "secret",
		Username:     "svc-admin",
		Password:     "svc-pass",
	})
	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "tok-pw" {
		t.Fatalf("unexpected token %q", token)
	}
}

func TestComputeExpiryFallsBackToJWTClaim(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	src := NewTokenSource("http://unused", AdminCredentials{},
		WithTokenClock(func() time.Time { return now }))

	// no expires_in and an opaque token: fixed fallback lifetime
	exp := src.computeExpiry(TokenPair{AccessToken: "opaque"})
	if got := exp.Sub(now); got != fallbackTokenTTL {
		t.Fatalf("expected fallback TTL, got %v", got)
	}

	// expires_in wins when present
	exp = src.computeExpiry(TokenPair{AccessToken: "opaque", ExpiresIn: 120})
	if got := exp.Sub(now); got != 2*time.Minute {
		t.Fatalf("expected 2m expiry, got %v", got)
	}

	// no expires_in but the token carries an exp claim
	claimExp := now.Add(10 * time.Minute)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(claimExp),
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	exp = src.computeExpiry(TokenPair{AccessToken: signed})
	if !exp.Equal(claimExp) {
		t.Fatalf("expected expiry from exp claim %v, got %v", claimExp, exp)
	}
}
