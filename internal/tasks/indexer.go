package tasks

import (
	"context"
	"errors"

	"github.com/desertthunder/spindex/internal/models"
	"github.com/desertthunder/spindex/internal/queue"
	"github.com/desertthunder/spindex/internal/services"
	"github.com/desertthunder/spindex/internal/shared"
)

// TrackPageLength is the fixed page size of the library index. Changing it
// would invalidate the offsets of existing page rows.
const TrackPageLength = 50

// HandleInitializeLibrary lays out the page index for a user's library and
// enqueues one ProcessLibraryPage message per page.
//
// The has_written_library_index flag makes this at-most-once: a set flag,
// like a missing account, resolves to a permanent failure so duplicate
// initializations die quietly. Internal faults also resolve to permanent
// failure rather than retrying, except cancellation, which is returned so
// the caller can requeue the message intact.
func HandleInitializeLibrary(ctx context.Context, env *Env, msg queue.InitializeLibraryProcessor) (MessageResult, error) {
	indexed, err := env.Users.LibraryIndexed(ctx, msg.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			env.Logger.Info("not indexing, account no longer exists", "user_id", msg.UserID)
			return PermanentFailure(), nil
		}
		return initFailure(ctx, env, err)
	}
	if indexed {
		env.Logger.Info("library already indexed", "user_id", msg.UserID)
		return PermanentFailure(), nil
	}

	// One probe call reveals the library size.
	probe, err := ExecuteQuery(ctx, env, msg.UserID,
		func(ctx context.Context, client LibraryClient) (*services.SpotifyPaginatedTracks, error) {
			return client.LikedTracks(ctx, 0, 1)
		})
	if err != nil {
		return initFailure(ctx, env, err)
	}

	switch probe.Status {
	case QueryAccountNotFound:
		return PermanentFailure(), nil
	case QueryRateLimited:
		return TemporaryFailure(probe.RetryDelay), nil
	}

	// An empty library still gets one page, so readers can observe 1/1
	// pages complete instead of polling forever.
	totalPages := (probe.Value.Total + TrackPageLength - 1) / TrackPageLength
	if totalPages < 1 {
		totalPages = 1
	}

	for i := 0; i < totalPages; i++ {
		page := &models.LibraryPage{
			UserID:           msg.UserID,
			StartTrackOffset: i * TrackPageLength,
			PageID:           shared.GenerateID(),
		}

		inserted, err := env.Pages.Insert(ctx, page)
		if err != nil {
			return initFailure(ctx, env, err)
		}
		if !inserted {
			// A duplicate initialization already created this offset and
			// enqueued its work.
			continue
		}

		work := queue.ProcessLibraryPage{UserID: msg.UserID, PageID: page.PageID}
		if err := env.Dispatcher.Offer(ctx, work, 0); err != nil {
			return initFailure(ctx, env, err)
		}
	}

	if err := env.Users.MarkLibraryIndexed(ctx, msg.UserID); err != nil {
		return initFailure(ctx, env, err)
	}

	env.Logger.Info("library index written", "user_id", msg.UserID, "pages", totalPages)
	return Success(), nil
}

// initFailure downgrades an internal fault to a permanent failure, unless
// the fault is the context being done, which must surface as an error so
// the message can be requeued.
func initFailure(ctx context.Context, env *Env, err error) (MessageResult, error) {
	if ctx.Err() != nil {
		return MessageResult{}, ctx.Err()
	}
	env.Logger.Warn("library initialization failed", "error", err)
	return PermanentFailure(), nil
}
