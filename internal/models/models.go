package models

import "time"

// AnonymousUser is an anonymous account row. HasWrittenLibraryIndex is the
// at-most-once guard for indexing: once true it is never reset.
type AnonymousUser struct {
	ID                     string
	Token                  string
	TokenExpiration        time.Time
	SpotifyStateArg        string
	HasWrittenLibraryIndex bool
}

// SpotifyCredentials is the stored access/refresh token pair for one user.
type SpotifyCredentials struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	Expiration   time.Time
}

// Expired reports whether the access token expiration has passed.
func (c SpotifyCredentials) Expired(now time.Time) bool {
	return !c.Expiration.After(now)
}

// LibraryPage identifies one fixed-length slice of a user's liked tracks.
// Unique per (UserID, StartTrackOffset); PageID is an opaque handle minted
// at creation time. Rows are written once and never mutated.
type LibraryPage struct {
	UserID           string
	StartTrackOffset int
	PageID           string
}

// LibraryPageResult records the outcome of processing one LibraryPage.
// At most one successful row may exist per (UserID, PageID); a failed row
// may be deleted and replaced because page processing is all-or-nothing.
type LibraryPageResult struct {
	UserID        string
	PageID        string
	WasSuccessful bool
}

// LikedArtist is the aggregated liked-song count for one artist in one
// user's library. SongCount only ever grows.
type LikedArtist struct {
	UserID          string
	SpotifyArtistID string
	SongCount       int
}
