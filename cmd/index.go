package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/spindex/internal/models"
	"github.com/desertthunder/spindex/internal/queue"
	"github.com/desertthunder/spindex/internal/repositories"
	"github.com/desertthunder/spindex/internal/shared"
	"github.com/urfave/cli/v3"
)

func indexCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Register a user's Spotify tokens and kick off library indexing",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "user",
				Usage: "Account id to index (generated when omitted)",
			},
			&cli.StringFlag{
				Name:     "access-token",
				Usage:    "Spotify access token",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "refresh-token",
				Usage:    "Spotify refresh token",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "expires-in",
				Usage: "Access token lifetime in seconds",
				Value: 3600,
			},
		},
		Action: r.Index,
	}
}

// Index stores the user's tokens and enqueues the initialization message
// on the broker.
func (r *Runner) Index(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	userID := cmd.String("user")
	users := repositories.NewUserRepository(db)

	if userID == "" {
		userID = shared.GenerateID()
		user := &models.AnonymousUser{
			ID:              userID,
			Token:           shared.GenerateID(),
			TokenExpiration: time.Now().Add(30 * 24 * time.Hour),
		}
		if err := users.Create(ctx, user); err != nil {
			return err
		}
		r.logger.Info("created account", "user_id", userID)
	} else if _, err := users.Get(ctx, userID); err != nil {
		return err
	}

	expiration := time.Now().Add(time.Duration(cmd.Int("expires-in")) * time.Second)
	creds := &models.SpotifyCredentials{
		UserID:       userID,
		AccessToken:  cmd.String("access-token"),
		RefreshToken: cmd.String("refresh-token"),
		Expiration:   expiration,
	}
	if err := repositories.NewCredentialRepository(db).Create(ctx, creds); err != nil {
		return err
	}

	dispatcher := queue.NewHTTPDispatcher(r.brokerURL())
	defer dispatcher.Close()

	if err := dispatcher.Offer(ctx, queue.InitializeLibraryProcessor{UserID: userID}, 0); err != nil {
		return fmt.Errorf("failed to enqueue initialization: %w", err)
	}

	r.logger.Info("indexing started", "user_id", userID)
	return nil
}
