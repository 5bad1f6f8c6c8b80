package tasks

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spindex/internal/metrics"
	"github.com/desertthunder/spindex/internal/queue"
	"github.com/desertthunder/spindex/internal/repositories"
	"github.com/desertthunder/spindex/internal/services"
	"github.com/desertthunder/spindex/internal/shared"
	"golang.org/x/oauth2"
)

// LibraryClient is the slice of the Spotify user API the worker touches.
type LibraryClient interface {
	LikedTracks(ctx context.Context, offset, limit int) (*services.SpotifyPaginatedTracks, error)
	Profile(ctx context.Context) (*services.SpotifyUser, error)
}

// ClientFactory builds a [LibraryClient] bound to one access token.
type ClientFactory func(accessToken string) LibraryClient

// TokenRefresher exchanges a refresh token for a fresh access token.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Env bundles everything a message handler needs.
type Env struct {
	DB          *sql.DB
	Users       *repositories.UserRepository
	Credentials *repositories.CredentialRepository
	Pages       *repositories.PageRepository
	Results     *repositories.ResultRepository
	Artists     *repositories.ArtistRepository
	Dispatcher  queue.Dispatcher
	Refresher   TokenRefresher
	NewClient   ClientFactory
	Logger      *log.Logger
	Metrics     *metrics.Metrics
}

// NewEnv wires an [Env] over a single database handle.
func NewEnv(db *sql.DB, dispatcher queue.Dispatcher, refresher TokenRefresher, factory ClientFactory, logger *log.Logger, m *metrics.Metrics) *Env {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Env{
		DB:          db,
		Users:       repositories.NewUserRepository(db),
		Credentials: repositories.NewCredentialRepository(db),
		Pages:       repositories.NewPageRepository(db),
		Results:     repositories.NewResultRepository(db),
		Artists:     repositories.NewArtistRepository(db),
		Dispatcher:  dispatcher,
		Refresher:   refresher,
		NewClient:   factory,
		Logger:      logger,
		Metrics:     m,
	}
}

// QueryStatus classifies the outcome of [ExecuteQuery].
type QueryStatus int

const (
	// QuerySuccess carries a usable value.
	QuerySuccess QueryStatus = iota
	// QueryAccountNotFound means the account, its credentials, or its
	// Spotify authorization is gone. Not retryable.
	QueryAccountNotFound
	// QueryRateLimited means the API refused the call. Retryable after
	// RetryDelay.
	QueryRateLimited
)

// QueryResult is the three-way outcome of an authorized Spotify query.
type QueryResult[T any] struct {
	Status     QueryStatus
	Value      T
	RetryDelay time.Duration
}

// ExecuteQuery runs an authorized query against the Spotify API on behalf
// of one user, absorbing the token lifecycle:
//
//   - A missing account or missing credentials resolve to
//     [QueryAccountNotFound].
//   - An expired access token triggers exactly one refresh and one retry.
//     A rejected refresh means the user revoked the app's authorization;
//     the stored credentials are deleted so the next login forces
//     re-authorization, and the result is [QueryAccountNotFound].
//   - A rate-limited call, before or after the refresh, resolves to
//     [QueryRateLimited] carrying the server-mandated delay.
//
// Any other failure is returned as an error and carries no result.
func ExecuteQuery[T any](ctx context.Context, env *Env, userID string, query func(ctx context.Context, client LibraryClient) (T, error)) (QueryResult[T], error) {
	var zero QueryResult[T]

	if _, err := env.Users.Get(ctx, userID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			env.Logger.Info("skipping query, account no longer exists", "user_id", userID)
			return QueryResult[T]{Status: QueryAccountNotFound}, nil
		}
		return zero, err
	}

	creds, err := env.Credentials.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			env.Logger.Info("skipping query, no authorized spotify account", "user_id", userID)
			return QueryResult[T]{Status: QueryAccountNotFound}, nil
		}
		return zero, err
	}

	// A stored expiration in the past means the first call could only come
	// back 401, so it is skipped and the refresh happens up front.
	if creds.Expired(time.Now()) {
		env.Logger.Info("stored access token already expired, refreshing", "user_id", userID)
	} else {
		value, err := query(ctx, env.NewClient(creds.AccessToken))
		if err == nil {
			return QueryResult[T]{Status: QuerySuccess, Value: value}, nil
		}

		if rl := rateLimited(err); rl != nil {
			env.Metrics.ObserveRateLimit()
			return QueryResult[T]{Status: QueryRateLimited, RetryDelay: rl.RetryAfter}, nil
		}
		if !errors.Is(err, shared.ErrTokenExpired) {
			return zero, err
		}
		env.Logger.Info("access token expired, refreshing", "user_id", userID)
	}

	token, err := env.Refresher.RefreshToken(ctx, creds.RefreshToken)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			// The authorization server rejected the refresh token, so the
			// user must have revoked the app's access.
			env.Metrics.ObserveTokenRefresh("rejected")
			env.Logger.Info("refresh token rejected, discarding credentials", "user_id", userID)
			if err := env.Credentials.DeleteByRefreshToken(ctx, userID, creds.RefreshToken); err != nil {
				return zero, err
			}
			return QueryResult[T]{Status: QueryAccountNotFound}, nil
		}
		env.Metrics.ObserveTokenRefresh("error")
		return zero, err
	}

	env.Metrics.ObserveTokenRefresh("success")
	if err := env.Credentials.UpdateAccessToken(ctx, userID, token.AccessToken, token.Expiry); err != nil {
		return zero, err
	}

	value, err := query(ctx, env.NewClient(token.AccessToken))
	if err != nil {
		if rl := rateLimited(err); rl != nil {
			env.Metrics.ObserveRateLimit()
			return QueryResult[T]{Status: QueryRateLimited, RetryDelay: rl.RetryAfter}, nil
		}
		return zero, err
	}
	return QueryResult[T]{Status: QuerySuccess, Value: value}, nil
}

func rateLimited(err error) *services.RateLimitedError {
	var rl *services.RateLimitedError
	if errors.As(err, &rl) {
		return rl
	}
	return nil
}
