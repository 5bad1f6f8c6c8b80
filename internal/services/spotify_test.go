package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/desertthunder/spindex/internal/shared"
	"golang.org/x/oauth2"
)

const pageJSON = `{
	"items": [
		{"added_at": "2024-01-01T00:00:00Z", "track": {
			"id": "t1", "name": "Song",
			"album": {"id": "al1", "name": "Album", "artists": [{"id": "a1", "name": "Artist"}]}
		}}
	],
	"total": 120, "limit": 50, "offset": 0
}`

func TestUserClientLikedTracks(t *testing.T) {
	t.Run("decodes a page", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
				t.Errorf("expected bearer token, got %q", got)
			}
			if got := r.URL.Query().Get("offset"); got != "50" {
				t.Errorf("expected offset 50, got %q", got)
			}
			fmt.Fprint(w, pageJSON)
		}))
		defer server.Close()

		client := NewUserClient("token-1")
		client.SetBaseURL(server.URL)

		page, err := client.LikedTracks(context.Background(), 50, 50)
		if err != nil {
			t.Fatalf("LikedTracks failed: %v", err)
		}
		if page.Total != 120 {
			t.Errorf("expected total 120, got %d", page.Total)
		}
		if len(page.Items) != 1 || page.Items[0].Track.Album.Artists[0].ID != "a1" {
			t.Errorf("unexpected items: %#v", page.Items)
		}
	})

	t.Run("surfaces rate limiting with the mandated delay", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := NewUserClient("token-1")
		client.SetBaseURL(server.URL)

		_, err := client.LikedTracks(context.Background(), 0, 50)
		var rl *RateLimitedError
		if !errors.As(err, &rl) {
			t.Fatalf("expected RateLimitedError, got %v", err)
		}
		if rl.RetryAfter != 7*time.Second {
			t.Errorf("expected 7s retry delay, got %s", rl.RetryAfter)
		}
	})

	t.Run("treats a 429 without Retry-After as fatal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := NewUserClient("token-1")
		client.SetBaseURL(server.URL)

		_, err := client.LikedTracks(context.Background(), 0, 50)
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
	})

	t.Run("surfaces token expiry", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		client := NewUserClient("token-1")
		client.SetBaseURL(server.URL)

		_, err := client.LikedTracks(context.Background(), 0, 50)
		if !errors.Is(err, shared.ErrTokenExpired) {
			t.Fatalf("expected ErrTokenExpired, got %v", err)
		}
	})
}

func TestLenientUserClient(t *testing.T) {
	t.Run("retries transient failures", func(t *testing.T) {
		var calls int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls < 3 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			fmt.Fprint(w, pageJSON)
		}))
		defer server.Close()

		client := NewLenientUserClient("token-1", 100)
		client.SetBaseURL(server.URL)

		page, err := client.LikedTracks(context.Background(), 0, 50)
		if err != nil {
			t.Fatalf("LikedTracks failed: %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
		if page.Total != 120 {
			t.Errorf("expected total 120, got %d", page.Total)
		}
	})

	t.Run("does not retry token expiry", func(t *testing.T) {
		var calls int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		client := NewLenientUserClient("token-1", 100)
		client.SetBaseURL(server.URL)

		_, err := client.LikedTracks(context.Background(), 0, 50)
		if !errors.Is(err, shared.ErrTokenExpired) {
			t.Fatalf("expected ErrTokenExpired, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected a single call, got %d", calls)
		}
	})
}

func TestAppClient(t *testing.T) {
	t.Run("requires credentials", func(t *testing.T) {
		if _, err := NewAppClient("", ""); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Fatalf("expected ErrMissingCredentials, got %v", err)
		}
	})

	t.Run("exchanges refresh tokens", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token": "fresh", "token_type": "Bearer", "expires_in": 3600}`)
		}))
		defer server.Close()

		client, err := NewAppClient("id", "secret")
		if err != nil {
			t.Fatalf("NewAppClient failed: %v", err)
		}
		client.SetTokenURL(server.URL)

		token, err := client.RefreshToken(context.Background(), "refresh-1")
		if err != nil {
			t.Fatalf("RefreshToken failed: %v", err)
		}
		if token.AccessToken != "fresh" {
			t.Errorf("expected access token %q, got %q", "fresh", token.AccessToken)
		}
	})

	t.Run("surfaces rejected refreshes as retrieve errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error": "invalid_grant"}`)
		}))
		defer server.Close()

		client, err := NewAppClient("id", "secret")
		if err != nil {
			t.Fatalf("NewAppClient failed: %v", err)
		}
		client.SetTokenURL(server.URL)

		_, err = client.RefreshToken(context.Background(), "revoked")
		if !errors.Is(err, shared.ErrRefreshFailed) {
			t.Fatalf("expected ErrRefreshFailed, got %v", err)
		}
		var retrieveErr *oauth2.RetrieveError
		if !errors.As(err, &retrieveErr) {
			t.Fatalf("expected RetrieveError in chain, got %v", err)
		}
	})
}
