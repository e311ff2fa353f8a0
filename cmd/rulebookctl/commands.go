package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"rulebook/app/internal/app/bootstrap"
	"rulebook/app/internal/auth"
	"rulebook/app/internal/bgg"
	"rulebook/app/internal/config"
	appdb "rulebook/app/internal/db"
	"rulebook/app/internal/games"
	"rulebook/app/internal/ingest"
	applog "rulebook/app/internal/log"
)

type cli struct {
	out     io.Writer
	verbose bool
	load    func() (*config.Config, error)
}

func newRootCmd(out io.Writer, load func() (*config.Config, error)) *cobra.Command {
	c := &cli{out: out, load: load}

	root := &cobra.Command{
		Use:           "rulebookctl",
		Short:         "rulebookctl - maintenance commands for the rulebook service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log to stderr")
	root.SetOut(out)

	root.AddCommand(c.migrateCmd(), c.tokenCmd(), c.sweepCmd(), c.reprocessCmd(), c.bggCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	return config.Load()
}

func (c *cli) logger(cfg *config.Config) (*logrus.Logger, error) {
	if !c.verbose {
		return applog.Discard(), nil
	}
	return applog.NewLogger(cfg.LogLevel)
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return eris.Wrap(err, "loading configuration")
			}
			logger, err := c.logger(cfg)
			if err != nil {
				return err
			}

			db, err := bootstrap.OpenDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer appdb.Close(db)

			fmt.Fprintln(c.out, "schema is up to date")
			return nil
		},
	}
}

func (c *cli) tokenCmd() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return eris.Wrap(err, "loading configuration")
			}
			verifier, err := auth.NewVerifier(cfg.JWTSecret)
			if err != nil {
				return err
			}
			token, err := verifier.Issue(userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id placed in the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark rules stuck in processing as failed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return eris.Wrap(err, "loading configuration")
			}
			logger, err := c.logger(cfg)
			if err != nil {
				return err
			}

			db, err := bootstrap.OpenDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer appdb.Close(db)

			repo, err := games.NewRepository(db, logger)
			if err != nil {
				return err
			}
			sweeper, err := ingest.NewSweeper(ingest.SweeperOptions{
				Repository: repo,
				Logger:     logger,
				Schedule:   cfg.SweepSchedule,
				StaleAfter: cfg.StaleRuleAfter,
			})
			if err != nil {
				return err
			}

			swept, err := sweeper.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "marked %d stale rules as failed\n", swept)
			return nil
		},
	}
}

func (c *cli) reprocessCmd() *cobra.Command {
	var (
		gameID  string
		userID  string
		paths   []string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Run rule extraction for a game and wait for the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return eris.Wrap(err, "loading configuration")
			}
			logger, err := c.logger(cfg)
			if err != nil {
				return err
			}

			app, err := bootstrap.Build(cmd.Context(), bootstrap.Dependencies{Config: cfg, Logger: logger})
			if err != nil {
				return err
			}
			defer func() {
				_ = app.Cleanup(context.Background())
			}()

			refs := make([]ingest.ImageRef, 0, len(paths))
			for idx, path := range paths {
				order := idx
				refs = append(refs, ingest.ImageRef{Path: path, OrderIndex: &order})
			}

			queued, err := app.Ingest.ProcessRules(cmd.Context(), userID, gameID, refs)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "queued request %s\n", queued.RequestID)

			waitCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := app.Runner.Wait(waitCtx); err != nil {
				return err
			}

			rule, err := app.Games.Rule(cmd.Context(), userID, gameID)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "rule %s finished with status %s\n", rule.ID, rule.ProcessingStatus)
			if rule.ErrorMessage != nil {
				fmt.Fprintf(c.out, "error: %s\n", *rule.ErrorMessage)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&gameID, "game", "", "game id")
	cmd.Flags().StringVar(&userID, "user", "", "game author id")
	cmd.Flags().StringSliceVar(&paths, "path", nil, "storage path of a rules page, in page order")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "how long to wait for extraction")
	_ = cmd.MarkFlagRequired("game")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func (c *cli) bggCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bgg",
		Short: "Query BoardGameGeek",
	}

	search := &cobra.Command{
		Use:   "search [query]",
		Short: "Search BoardGameGeek by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.bggClient()
			if err != nil {
				return err
			}

			hits, err := client.Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Fprintln(c.out, "No games found.")
				return nil
			}
			for _, hit := range hits {
				year := ""
				if hit.YearPublished != nil {
					year = fmt.Sprintf(" (%d)", *hit.YearPublished)
				}
				fmt.Fprintf(c.out, "%d\t%s%s\n", hit.ID, hit.Name, year)
			}
			return nil
		},
	}

	cmd.AddCommand(search)
	return cmd
}

func (c *cli) bggClient() (*bgg.Client, error) {
	cfg, err := c.load()
	if err != nil {
		return nil, eris.Wrap(err, "loading configuration")
	}
	logger, err := c.logger(cfg)
	if err != nil {
		return nil, err
	}
	return bgg.NewClient(bgg.Options{BaseURL: cfg.BGGBaseURL, RPS: cfg.BGGRPS, Logger: logger})
}
