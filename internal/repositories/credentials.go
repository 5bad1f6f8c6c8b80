package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/spindex/internal/models"
	"github.com/desertthunder/spindex/internal/shared"
)

// CredentialRepository handles [models.SpotifyCredentials] persistence.
//
// The rows are owned by the auth subsystem; the pipeline reads them, bumps
// the access token after a refresh, and deletes them when a refresh is
// rejected so the next login forces re-authorization.
type CredentialRepository struct {
	db DBTX
}

// NewCredentialRepository creates a new [CredentialRepository] with the given database handle
func NewCredentialRepository(db DBTX) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Create inserts a credential row.
func (r *CredentialRepository) Create(ctx context.Context, creds *models.SpotifyCredentials) error {
	query := `
		INSERT INTO spotify_user_credentials (user_id, access_token, refresh_token, access_token_expiration)
		VALUES (?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		creds.UserID, creds.AccessToken, creds.RefreshToken, creds.Expiration.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert credentials: %w", err)
	}

	return nil
}

// Get retrieves the stored credentials for a user.
func (r *CredentialRepository) Get(ctx context.Context, userID string) (*models.SpotifyCredentials, error) {
	query := `
		SELECT user_id, access_token, refresh_token, access_token_expiration
		FROM spotify_user_credentials
		WHERE user_id = ?
	`

	var (
		creds      models.SpotifyCredentials
		expiration int64
	)

	err := r.db.QueryRowContext(ctx, query, userID).
		Scan(&creds.UserID, &creds.AccessToken, &creds.RefreshToken, &expiration)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("credentials for user %s: %w", userID, shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}

	creds.Expiration = time.UnixMilli(expiration)
	return &creds, nil
}

// UpdateAccessToken stores a refreshed access token and its expiration.
func (r *CredentialRepository) UpdateAccessToken(ctx context.Context, userID, accessToken string, expiration time.Time) error {
	query := `
		UPDATE spotify_user_credentials
		SET access_token = ?, access_token_expiration = ?
		WHERE user_id = ?
	`

	_, err := r.db.ExecContext(ctx, query, accessToken, expiration.UnixMilli(), userID)
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}
	return nil
}

// DeleteByRefreshToken removes the credential row matching the given
// refresh token. Called when the upstream rejects a refresh; the match on
// refresh_token keeps a concurrent re-authorization from being clobbered.
func (r *CredentialRepository) DeleteByRefreshToken(ctx context.Context, userID, refreshToken string) error {
	query := `
		DELETE FROM spotify_user_credentials
		WHERE user_id = ? AND refresh_token = ?
	`

	_, err := r.db.ExecContext(ctx, query, userID, refreshToken)
	if err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}
