package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/spindex/internal/models"
	"github.com/desertthunder/spindex/internal/shared"
)

// UserRepository handles [models.AnonymousUser] persistence.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new [UserRepository] with the given database handle
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new anonymous user.
func (r *UserRepository) Create(ctx context.Context, user *models.AnonymousUser) error {
	query := `
		INSERT INTO anonymous_user (id, token, token_expiration, spotify_state_arg, has_written_library_index)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Token, user.TokenExpiration.UnixMilli(), nullable(user.SpotifyStateArg), user.HasWrittenLibraryIndex)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

// Get retrieves a user by ID.
func (r *UserRepository) Get(ctx context.Context, id string) (*models.AnonymousUser, error) {
	query := `
		SELECT id, token, token_expiration, spotify_state_arg, has_written_library_index
		FROM anonymous_user
		WHERE id = ?
	`

	var (
		user       models.AnonymousUser
		expiration int64
		stateArg   sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&user.ID, &user.Token, &expiration, &stateArg, &user.HasWrittenLibraryIndex)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	user.TokenExpiration = time.UnixMilli(expiration)
	if stateArg.Valid {
		user.SpotifyStateArg = stateArg.String
	}

	return &user, nil
}

// LibraryIndexed reports whether the user's library index has already been
// written. A missing account wraps [shared.ErrNotFound].
func (r *UserRepository) LibraryIndexed(ctx context.Context, id string) (bool, error) {
	var indexed bool
	err := r.db.QueryRowContext(ctx,
		"SELECT has_written_library_index FROM anonymous_user WHERE id = ?", id).Scan(&indexed)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("user %s: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to query library index flag: %w", err)
	}
	return indexed, nil
}

// MarkLibraryIndexed sets the has_written_library_index flag. The flag is
// never cleared; indexing happens at most once per account lifetime.
func (r *UserRepository) MarkLibraryIndexed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE anonymous_user SET has_written_library_index = TRUE WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark library indexed: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
