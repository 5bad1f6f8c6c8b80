package tasks_test

import (
	"context"
	"testing"
	"time"

	"github.com/desertthunder/spindex/internal/queue"
	"github.com/desertthunder/spindex/internal/services"
	"github.com/desertthunder/spindex/internal/tasks"
)

func TestHandleInitializeLibrary(t *testing.T) {
	ctx := context.Background()

	t.Run("lays out one page per fifty tracks", func(t *testing.T) {
		env := newTestEnv(t, func(token string, offset, limit int) (*services.SpotifyPaginatedTracks, error) {
			return libraryOf(120, "a1")(offset, limit), nil
		})
		seedAccount(t, env.Env, "user-1", "token")

		result, err := tasks.HandleInitializeLibrary(ctx, env.Env, queue.InitializeLibraryProcessor{UserID: "user-1"})
		if err != nil {
			t.Fatalf("HandleInitializeLibrary failed: %v", err)
		}
		if result.Kind != tasks.ResultSuccess {
			t.Fatalf("expected success, got %v", result.Kind)
		}

		count, err := env.Pages.CountByUser(ctx, "user-1")
		if err != nil {
			t.Fatalf("CountByUser failed: %v", err)
		}
		if count != 3 {
			t.Errorf("expected 3 pages for 120 tracks, got %d", count)
		}

		offers := env.dispatcher.Offers()
		if len(offers) != 3 {
			t.Fatalf("expected 3 enqueued pages, got %d", len(offers))
		}
		for i, offer := range offers {
			msg, ok := offer.Message.(queue.ProcessLibraryPage)
			if !ok {
				t.Fatalf("offer %d is not a ProcessLibraryPage: %#v", i, offer.Message)
			}
			page, err := env.Pages.Get(ctx, msg.PageID)
			if err != nil {
				t.Fatalf("enqueued page %s not in store: %v", msg.PageID, err)
			}
			if page.StartTrackOffset != i*tasks.TrackPageLength {
				t.Errorf("offer %d references offset %d, want %d", i, page.StartTrackOffset, i*tasks.TrackPageLength)
			}
			if offer.Delay != 0 {
				t.Errorf("offer %d has delay %s, want 0", i, offer.Delay)
			}
		}

		indexed, err := env.Users.LibraryIndexed(ctx, "user-1")
		if err != nil {
			t.Fatalf("LibraryIndexed failed: %v", err)
		}
		if !indexed {
			t.Error("expected index flag to be set")
		}
	})

	t.Run("an empty library still gets one page", func(t *testing.T) {
		env := newTestEnv(t, func(token string, offset, limit int) (*services.SpotifyPaginatedTracks, error) {
			return libraryOf(0)(offset, limit), nil
		})
		seedAccount(t, env.Env, "user-1", "token")

		result, err := tasks.HandleInitializeLibrary(ctx, env.Env, queue.InitializeLibraryProcessor{UserID: "user-1"})
		if err != nil {
			t.Fatalf("HandleInitializeLibrary failed: %v", err)
		}
		if result.Kind != tasks.ResultSuccess {
			t.Fatalf("expected success, got %v", result.Kind)
		}

		count, err := env.Pages.CountByUser(ctx, "user-1")
		if err != nil {
			t.Fatalf("CountByUser failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 page for an empty library, got %d", count)
		}
	})

	t.Run("duplicate initialization dies quietly", func(t *testing.T) {
		env := newTestEnv(t, func(token string, offset, limit int) (*services.SpotifyPaginatedTracks, error) {
			return libraryOf(10, "a1")(offset, limit), nil
		})
		seedAccount(t, env.Env, "user-1", "token")

		msg := queue.InitializeLibraryProcessor{UserID: "user-1"}
		if _, err := tasks.HandleInitializeLibrary(ctx, env.Env, msg); err != nil {
			t.Fatalf("first HandleInitializeLibrary failed: %v", err)
		}
		firstOffers := len(env.dispatcher.Offers())

		result, err := tasks.HandleInitializeLibrary(ctx, env.Env, msg)
		if err != nil {
			t.Fatalf("second HandleInitializeLibrary failed: %v", err)
		}
		if result.Kind != tasks.ResultPermanentFailure {
			t.Errorf("expected permanent failure for duplicate, got %v", result.Kind)
		}
		if got := len(env.dispatcher.Offers()); got != firstOffers {
			t.Errorf("duplicate enqueued work: %d offers, want %d", got, firstOffers)
		}
	})

	t.Run("missing account is permanent", func(t *testing.T) {
		env := newTestEnv(t, nil)

		result, err := tasks.HandleInitializeLibrary(ctx, env.Env, queue.InitializeLibraryProcessor{UserID: "ghost"})
		if err != nil {
			t.Fatalf("HandleInitializeLibrary failed: %v", err)
		}
		if result.Kind != tasks.ResultPermanentFailure {
			t.Errorf("expected permanent failure, got %v", result.Kind)
		}
	})

	t.Run("rate limited probe is retried later", func(t *testing.T) {
		env := newTestEnv(t, func(token string, offset, limit int) (*services.SpotifyPaginatedTracks, error) {
			return nil, &services.RateLimitedError{RetryAfter: 4 * time.Second}
		})
		seedAccount(t, env.Env, "user-1", "token")

		result, err := tasks.HandleInitializeLibrary(ctx, env.Env, queue.InitializeLibraryProcessor{UserID: "user-1"})
		if err != nil {
			t.Fatalf("HandleInitializeLibrary failed: %v", err)
		}
		if result.Kind != tasks.ResultTemporaryFailure {
			t.Fatalf("expected temporary failure, got %v", result.Kind)
		}
		if result.RetryDelay != 4*time.Second {
			t.Errorf("expected 4s delay, got %s", result.RetryDelay)
		}

		indexed, err := env.Users.LibraryIndexed(ctx, "user-1")
		if err != nil {
			t.Fatalf("LibraryIndexed failed: %v", err)
		}
		if indexed {
			t.Error("flag must stay clear so the retry can run")
		}
	})
}
