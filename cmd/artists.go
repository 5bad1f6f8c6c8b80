package main

import (
	"context"

	"github.com/desertthunder/spindex/internal/repositories"
	"github.com/urfave/cli/v3"
)

func artistsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "artists",
		Usage: "Show a user's per-artist liked-song counts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Usage:    "Account id",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print JSON output",
			},
		},
		Action: r.Artists,
	}
}

// Artists prints the liked-artist tally for one user as JSON.
func (r *Runner) Artists(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	counts, err := repositories.NewArtistRepository(db).ListByUser(ctx, cmd.String("user"))
	if err != nil {
		return err
	}

	return r.writeJSON(counts, cmd.Bool("pretty"))
}
