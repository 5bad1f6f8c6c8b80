package tasks

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/desertthunder/spindex/internal/models"
	"github.com/desertthunder/spindex/internal/queue"
	"github.com/desertthunder/spindex/internal/repositories"
	"github.com/desertthunder/spindex/internal/services"
	"github.com/desertthunder/spindex/internal/shared"
)

// HandleProcessPage fetches one library page from Spotify and folds its
// tracks into the per-artist tally.
//
// The fold runs in a single transaction keyed on the page's success row:
// a duplicate delivery collides on that row's primary key, the transaction
// rolls back, and no song is ever counted twice. Unlike initialization,
// internal faults are returned to the caller for retry; processing a page
// is all-or-nothing and repeatable.
func HandleProcessPage(ctx context.Context, env *Env, msg queue.ProcessLibraryPage) (MessageResult, error) {
	page, err := env.Pages.Get(ctx, msg.PageID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			env.Logger.Info("skipping page, referenced page no longer exists", "page_id", msg.PageID)
			return PermanentFailure(), nil
		}
		return MessageResult{}, err
	}

	result, err := ExecuteQuery(ctx, env, msg.UserID,
		func(ctx context.Context, client LibraryClient) (*services.SpotifyPaginatedTracks, error) {
			return client.LikedTracks(ctx, page.StartTrackOffset, TrackPageLength)
		})
	if err != nil {
		return MessageResult{}, err
	}

	switch result.Status {
	case QueryAccountNotFound:
		// Record the page as failed so readers see the index settle rather
		// than hang at n-1 of n pages.
		failed := &models.LibraryPageResult{UserID: msg.UserID, PageID: msg.PageID, WasSuccessful: false}
		if err := env.Results.InsertIgnore(ctx, failed); err != nil {
			return MessageResult{}, err
		}
		return PermanentFailure(), nil

	case QueryRateLimited:
		return TemporaryFailure(result.RetryDelay), nil
	}

	err = shared.WithTx(env.DB, func(tx *sql.Tx) error {
		results := repositories.NewResultRepository(tx)
		artists := repositories.NewArtistRepository(tx)

		// A failed attempt is not durable; clear it and claim the page.
		if err := results.DeleteFailed(ctx, msg.UserID, msg.PageID); err != nil {
			return err
		}
		success := &models.LibraryPageResult{UserID: msg.UserID, PageID: msg.PageID, WasSuccessful: true}
		if err := results.Insert(ctx, success); err != nil {
			return err
		}

		// Sorted by artist id so concurrent pages take row locks in the
		// same order.
		for _, artistID := range artistIDs(result.Value) {
			if err := artists.Upsert(ctx, msg.UserID, artistID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if shared.IsUniqueViolation(err) {
			// The page was already processed; the duplicate dies here.
			env.Logger.Info("page already processed", "page_id", msg.PageID)
			return Success(), nil
		}
		return MessageResult{}, err
	}

	env.Logger.Debug("page processed", "page_id", msg.PageID, "offset", page.StartTrackOffset)
	return Success(), nil
}

// artistIDs extracts the album artists of every track on the page, one
// entry per occurrence, sorted by id.
func artistIDs(page *services.SpotifyPaginatedTracks) []string {
	var ids []string
	for _, item := range page.Items {
		for _, artist := range item.Track.Album.Artists {
			ids = append(ids, artist.ID)
		}
	}
	sort.Strings(ids)
	return ids
}
