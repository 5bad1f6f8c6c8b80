package tasks_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/spindex/internal/models"
	"github.com/desertthunder/spindex/internal/queue"
	"github.com/desertthunder/spindex/internal/services"
	"github.com/desertthunder/spindex/internal/shared"
	"github.com/desertthunder/spindex/internal/tasks"
)

func seedPage(t *testing.T, env *tasks.Env, userID string, offset int, pageID string) {
	t.Helper()
	page := &models.LibraryPage{UserID: userID, StartTrackOffset: offset, PageID: pageID}
	if _, err := env.Pages.Insert(context.Background(), page); err != nil {
		t.Fatalf("failed to seed page: %v", err)
	}
}

func TestHandleProcessPage(t *testing.T) {
	ctx := context.Background()

	t.Run("tallies album artists per track", func(t *testing.T) {
		env := newTestEnv(t, func(token string, offset, limit int) (*services.SpotifyPaginatedTracks, error) {
			return libraryOf(10, "a1", "a2")(offset, limit), nil
		})
		seedAccount(t, env.Env, "user-1", "token")
		seedPage(t, env.Env, "user-1", 0, "page-1")

		result, err := tasks.HandleProcessPage(ctx, env.Env, queue.ProcessLibraryPage{UserID: "user-1", PageID: "page-1"})
		if err != nil {
			t.Fatalf("HandleProcessPage failed: %v", err)
		}
		if result.Kind != tasks.ResultSuccess {
			t.Fatalf("expected success, got %v", result.Kind)
		}

		counts, err := env.Artists.ListByUser(ctx, "user-1")
		if err != nil {
			t.Fatalf("ListByUser failed: %v", err)
		}
		if counts["a1"] != 5 || counts["a2"] != 5 {
			t.Errorf("expected 5/5 split over ten tracks, got %#v", counts)
		}

		res, err := env.Results.Get(ctx, "user-1", "page-1")
		if err != nil {
			t.Fatalf("Get result failed: %v", err)
		}
		if !res.WasSuccessful {
			t.Error("expected a successful result row")
		}
	})

	t.Run("duplicate delivery never counts twice", func(t *testing.T) {
		env := newTestEnv(t, func(token string, offset, limit int) (*services.SpotifyPaginatedTracks, error) {
			return libraryOf(4, "a1")(offset, limit), nil
		})
		seedAccount(t, env.Env, "user-1", "token")
		seedPage(t, env.Env, "user-1", 0, "page-1")

		msg := queue.ProcessLibraryPage{UserID: "user-1", PageID: "page-1"}
		if _, err := tasks.HandleProcessPage(ctx, env.Env, msg); err != nil {
			t.Fatalf("first HandleProcessPage failed: %v", err)
		}

		result, err := tasks.HandleProcessPage(ctx, env.Env, msg)
		if err != nil {
			t.Fatalf("second HandleProcessPage failed: %v", err)
		}
		if result.Kind != tasks.ResultSuccess {
			t.Fatalf("expected duplicate to resolve as success, got %v", result.Kind)
		}

		counts, err := env.Artists.ListByUser(ctx, "user-1")
		if err != nil {
			t.Fatalf("ListByUser failed: %v", err)
		}
		if counts["a1"] != 4 {
			t.Errorf("expected count 4 after duplicate delivery, got %d", counts["a1"])
		}
	})

	t.Run("a failed attempt can be reprocessed", func(t *testing.T) {
		env := newTestEnv(t, func(token string, offset, limit int) (*services.SpotifyPaginatedTracks, error) {
			return libraryOf(2, "a1")(offset, limit), nil
		})
		seedAccount(t, env.Env, "user-1", "token")
		seedPage(t, env.Env, "user-1", 0, "page-1")

		failed := &models.LibraryPageResult{UserID: "user-1", PageID: "page-1", WasSuccessful: false}
		if err := env.Results.InsertIgnore(ctx, failed); err != nil {
			t.Fatalf("failed to seed failed result: %v", err)
		}

		result, err := tasks.HandleProcessPage(ctx, env.Env, queue.ProcessLibraryPage{UserID: "user-1", PageID: "page-1"})
		if err != nil {
			t.Fatalf("HandleProcessPage failed: %v", err)
		}
		if result.Kind != tasks.ResultSuccess {
			t.Fatalf("expected success, got %v", result.Kind)
		}

		res, err := env.Results.Get(ctx, "user-1", "page-1")
		if err != nil {
			t.Fatalf("Get result failed: %v", err)
		}
		if !res.WasSuccessful {
			t.Error("expected the failed row to be replaced by a successful one")
		}
	})

	t.Run("missing page reference is permanent", func(t *testing.T) {
		env := newTestEnv(t, nil)
		seedAccount(t, env.Env, "user-1", "token")

		result, err := tasks.HandleProcessPage(ctx, env.Env, queue.ProcessLibraryPage{UserID: "user-1", PageID: "gone"})
		if err != nil {
			t.Fatalf("HandleProcessPage failed: %v", err)
		}
		if result.Kind != tasks.ResultPermanentFailure {
			t.Errorf("expected permanent failure, got %v", result.Kind)
		}
	})

	t.Run("lost account records a failed result", func(t *testing.T) {
		env := newTestEnv(t, nil)
		seedAccount(t, env.Env, "user-1", "token")
		seedPage(t, env.Env, "user-1", 0, "page-1")

		if err := env.Credentials.DeleteByRefreshToken(ctx, "user-1", "refresh-user-1"); err != nil {
			t.Fatalf("failed to drop credentials: %v", err)
		}

		result, err := tasks.HandleProcessPage(ctx, env.Env, queue.ProcessLibraryPage{UserID: "user-1", PageID: "page-1"})
		if err != nil {
			t.Fatalf("HandleProcessPage failed: %v", err)
		}
		if result.Kind != tasks.ResultPermanentFailure {
			t.Fatalf("expected permanent failure, got %v", result.Kind)
		}

		res, err := env.Results.Get(ctx, "user-1", "page-1")
		if err != nil {
			t.Fatalf("Get result failed: %v", err)
		}
		if res.WasSuccessful {
			t.Error("expected a failed result row")
		}
	})

	t.Run("rate limiting defers the page", func(t *testing.T) {
		env := newTestEnv(t, func(token string, offset, limit int) (*services.SpotifyPaginatedTracks, error) {
			return nil, &services.RateLimitedError{RetryAfter: 9 * time.Second}
		})
		seedAccount(t, env.Env, "user-1", "token")
		seedPage(t, env.Env, "user-1", 0, "page-1")

		result, err := tasks.HandleProcessPage(ctx, env.Env, queue.ProcessLibraryPage{UserID: "user-1", PageID: "page-1"})
		if err != nil {
			t.Fatalf("HandleProcessPage failed: %v", err)
		}
		if result.Kind != tasks.ResultTemporaryFailure || result.RetryDelay != 9*time.Second {
			t.Errorf("expected temporary failure with 9s delay, got %#v", result)
		}

		if _, err := env.Results.Get(ctx, "user-1", "page-1"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("no result row should exist yet, got %v", err)
		}
	})
}
