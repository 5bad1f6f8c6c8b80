package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/desertthunder/spindex/internal/models"
	"github.com/desertthunder/spindex/internal/shared"
)

// PageRepository handles [models.LibraryPage] rows, the idempotency ledger
// of indexing work items.
type PageRepository struct {
	db DBTX
}

// NewPageRepository creates a new [PageRepository] with the given database handle
func NewPageRepository(db DBTX) *PageRepository {
	return &PageRepository{db: db}
}

// Insert writes a page row if no row exists for the same (user, offset).
// Returns true when the row was actually inserted, false when a duplicate
// initialization message already created it.
func (r *PageRepository) Insert(ctx context.Context, page *models.LibraryPage) (bool, error) {
	query := `
		INSERT INTO user_library_page (user_id, page_start_track_offset, page_id)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, page.UserID, page.StartTrackOffset, page.PageID)
	if err != nil {
		return false, fmt.Errorf("failed to insert library page: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// Get resolves a page by its opaque id.
func (r *PageRepository) Get(ctx context.Context, pageID string) (*models.LibraryPage, error) {
	query := `
		SELECT user_id, page_start_track_offset, page_id
		FROM user_library_page
		WHERE page_id = ?
	`

	var page models.LibraryPage
	err := r.db.QueryRowContext(ctx, query, pageID).
		Scan(&page.UserID, &page.StartTrackOffset, &page.PageID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("library page %s: %w", pageID, shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query library page: %w", err)
	}

	return &page, nil
}

// CountByUser returns how many page rows exist for a user.
func (r *PageRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM user_library_page WHERE user_id = ?", userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count library pages: %w", err)
	}
	return count, nil
}

// ResultRepository handles [models.LibraryPageResult] rows.
type ResultRepository struct {
	db DBTX
}

// NewResultRepository creates a new [ResultRepository] with the given database handle
func NewResultRepository(db DBTX) *ResultRepository {
	return &ResultRepository{db: db}
}

// Insert writes a result row. A primary-key collision surfaces as a
// unique-violation error; callers decide whether that is expected
// (duplicate delivery of an already-processed page) via
// [shared.IsUniqueViolation].
func (r *ResultRepository) Insert(ctx context.Context, res *models.LibraryPageResult) error {
	query := `
		INSERT INTO user_library_page_result (user_id, page_id, was_successful)
		VALUES (?, ?, ?)
	`

	if _, err := r.db.ExecContext(ctx, query, res.UserID, res.PageID, res.WasSuccessful); err != nil {
		return fmt.Errorf("failed to insert page result: %w", err)
	}
	return nil
}

// InsertIgnore writes a result row, silently keeping any existing row for
// the same (user, page).
func (r *ResultRepository) InsertIgnore(ctx context.Context, res *models.LibraryPageResult) error {
	query := `
		INSERT INTO user_library_page_result (user_id, page_id, was_successful)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, query, res.UserID, res.PageID, res.WasSuccessful); err != nil {
		return fmt.Errorf("failed to insert page result: %w", err)
	}
	return nil
}

// DeleteFailed removes a prior failed result for the page, if any. A
// failed attempt is not a durable fact; only a successful one is.
func (r *ResultRepository) DeleteFailed(ctx context.Context, userID, pageID string) error {
	query := `
		DELETE FROM user_library_page_result
		WHERE user_id = ? AND page_id = ? AND was_successful = FALSE
	`

	if _, err := r.db.ExecContext(ctx, query, userID, pageID); err != nil {
		return fmt.Errorf("failed to delete failed page result: %w", err)
	}
	return nil
}

// Get retrieves the result row for a page.
func (r *ResultRepository) Get(ctx context.Context, userID, pageID string) (*models.LibraryPageResult, error) {
	query := `
		SELECT user_id, page_id, was_successful
		FROM user_library_page_result
		WHERE user_id = ? AND page_id = ?
	`

	var res models.LibraryPageResult
	err := r.db.QueryRowContext(ctx, query, userID, pageID).
		Scan(&res.UserID, &res.PageID, &res.WasSuccessful)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("page result %s/%s: %w", userID, pageID, shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query page result: %w", err)
	}

	return &res, nil
}
