package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/desertthunder/spindex/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	// Fallback wait for lenient-mode retries when the response carries no
	// Retry-After header.
	defaultRetryWait = 2 * time.Second

	lenientMaxAttempts = 5
)

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Country     string `json:"country"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Artists []SpotifyArtist `json:"artists"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Artists []SpotifyArtist `json:"artists"`
	Album   SpotifyAlbum    `json:"album"`
	URI     string          `json:"uri"`
}

// SpotifySavedTrack represents a track saved in the user's library.
type SpotifySavedTrack struct {
	AddedAt string       `json:"added_at"`
	Track   SpotifyTrack `json:"track"`
}

// SpotifyPaginatedTracks represents a paginated response of saved tracks.
type SpotifyPaginatedTracks struct {
	Items  []SpotifySavedTrack `json:"items"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// UserClient performs bearer-authorized reads against the Spotify API on
// behalf of one user. One client is bound to one access token; create a
// fresh client after a refresh rather than sharing instances across
// concurrent work.
type UserClient struct {
	token      string
	baseURL    string
	httpClient *http.Client

	// lenient clients absorb 429/502/503 themselves, honoring Retry-After
	// and pacing requests with limiter. Precise clients (the worker path)
	// surface a typed signal instead.
	lenient bool
	limiter *rate.Limiter
}

// NewUserClient creates a precise-mode client: 429 and 401 are surfaced as
// typed signals and nothing is retried internally.
func NewUserClient(accessToken string) *UserClient {
	return &UserClient{
		token:      accessToken,
		baseURL:    spotifyBaseURL,
		httpClient: http.DefaultClient,
	}
}

// NewLenientUserClient creates a client that retries 429/502/503 itself,
// pacing requests at reqsPerSecond. Suited to non-interactive batch jobs
// that prefer waiting over propagating rate-limit signals.
func NewLenientUserClient(accessToken string, reqsPerSecond float64) *UserClient {
	if reqsPerSecond <= 0 {
		reqsPerSecond = 5.0
	}
	return &UserClient{
		token:      accessToken,
		baseURL:    spotifyBaseURL,
		httpClient: http.DefaultClient,
		lenient:    true,
		limiter:    rate.NewLimiter(rate.Limit(reqsPerSecond), 1),
	}
}

// SetHTTPClient overrides the underlying [http.Client], primarily for tests.
func (c *UserClient) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetBaseURL overrides the API base URL, primarily for tests.
func (c *UserClient) SetBaseURL(baseURL string) {
	if baseURL != "" {
		c.baseURL = baseURL
	}
}

// LikedTracks retrieves one offset-addressed page of the user's saved tracks.
func (c *UserClient) LikedTracks(ctx context.Context, offset, limit int) (*SpotifyPaginatedTracks, error) {
	endpoint := fmt.Sprintf("/me/tracks?offset=%d&limit=%d", offset, limit)

	var page SpotifyPaginatedTracks
	if err := c.get(ctx, endpoint, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Profile retrieves the authenticated user's profile.
func (c *UserClient) Profile(ctx context.Context) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := c.get(ctx, "/me", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// get performs an authenticated GET, classifying the response before
// decoding. In lenient mode retryable statuses are absorbed here.
func (c *UserClient) get(ctx context.Context, endpoint string, result any) error {
	attempts := 1
	if c.lenient {
		attempts = lenientMaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		retryable, wait, err := c.getOnce(ctx, endpoint, result)
		if err == nil {
			return nil
		}
		if !c.lenient || !retryable {
			return err
		}

		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return lastErr
}

// getOnce performs a single request. retryable and wait only matter to
// lenient mode.
func (c *UserClient) getOnce(ctx context.Context, endpoint string, result any) (retryable bool, wait time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return false, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if result != nil {
			if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
				return false, 0, fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return false, 0, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		delay, ok := retryAfter(resp)
		if !ok {
			return false, 0, &APIError{
				Status:   resp.StatusCode,
				Endpoint: endpoint,
				Body:     "missing Retry-After header on 429 response",
			}
		}
		return true, delay, &RateLimitedError{RetryAfter: delay}

	case resp.StatusCode == http.StatusUnauthorized:
		return false, 0, shared.ErrTokenExpired

	case resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable:
		delay, ok := retryAfter(resp)
		if !ok {
			delay = defaultRetryWait
		}
		return true, delay, &APIError{Status: resp.StatusCode, Endpoint: endpoint, Body: readBody(resp.Body)}

	default:
		return false, 0, &APIError{Status: resp.StatusCode, Endpoint: endpoint, Body: readBody(resp.Body)}
	}
}

// retryAfter parses the Retry-After header, which Spotify expresses in
// whole seconds.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

func readBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	return string(body)
}

// AppClient holds the Spotify application credential pair and exchanges
// refresh tokens for new access tokens.
type AppClient struct {
	config *oauth2.Config
}

// NewAppClient creates a new [AppClient] with the given app credentials.
func NewAppClient(clientID, clientSecret string) (*AppClient, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client id and secret are required", shared.ErrMissingCredentials)
	}

	return &AppClient{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: spotifyTokenURL},
		},
	}, nil
}

// SetTokenURL overrides the token endpoint, primarily for tests.
func (c *AppClient) SetTokenURL(tokenURL string) {
	if tokenURL != "" {
		c.config.Endpoint.TokenURL = tokenURL
	}
}

// RefreshToken performs a grant_type=refresh_token exchange. A non-success
// response from the token endpoint surfaces as *[oauth2.RetrieveError];
// callers treat that as a revoked authorization.
func (c *AppClient) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := c.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrRefreshFailed, err)
	}
	return token, nil
}
