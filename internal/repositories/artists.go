package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/desertthunder/spindex/internal/models"
	"github.com/desertthunder/spindex/internal/shared"
)

// ArtistRepository handles the [models.LikedArtist] tally.
type ArtistRepository struct {
	db DBTX
}

// NewArtistRepository creates a new [ArtistRepository] with the given database handle
func NewArtistRepository(db DBTX) *ArtistRepository {
	return &ArtistRepository{db: db}
}

// Upsert creates the tally row with a count of one, or atomically
// increments an existing count. Counts are never decremented.
func (r *ArtistRepository) Upsert(ctx context.Context, userID, artistID string) error {
	query := `
		INSERT INTO user_liked_artist (user_id, spotify_artist_id, song_count)
		VALUES (?, ?, 1)
		ON CONFLICT (user_id, spotify_artist_id)
		DO UPDATE SET song_count = song_count + 1
	`

	if _, err := r.db.ExecContext(ctx, query, userID, artistID); err != nil {
		return fmt.Errorf("failed to upsert liked artist: %w", err)
	}
	return nil
}

// Get retrieves one tally row.
func (r *ArtistRepository) Get(ctx context.Context, userID, artistID string) (*models.LikedArtist, error) {
	query := `
		SELECT user_id, spotify_artist_id, song_count
		FROM user_liked_artist
		WHERE user_id = ? AND spotify_artist_id = ?
	`

	var artist models.LikedArtist
	err := r.db.QueryRowContext(ctx, query, userID, artistID).
		Scan(&artist.UserID, &artist.SpotifyArtistID, &artist.SongCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("liked artist %s/%s: %w", userID, artistID, shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query liked artist: %w", err)
	}

	return &artist, nil
}

// ListByUser returns all tally rows for a user keyed by artist id.
func (r *ArtistRepository) ListByUser(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT spotify_artist_id, song_count FROM user_liked_artist WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query liked artists: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			artistID string
			count    int
		)
		if err := rows.Scan(&artistID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan liked artist: %w", err)
		}
		counts[artistID] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return counts, nil
}
