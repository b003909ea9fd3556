package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"quadtree-index/api"
	"quadtree-index/cache"
	"quadtree-index/config"
	"quadtree-index/database"
	"quadtree-index/logging"
	"quadtree-index/migration"
	"quadtree-index/models"
	"quadtree-index/placement"
	"quadtree-index/quadtree"
)

const (
	flagConfig    = "config"
	flagLogLevel  = "log-level"
	flagNoMigrate = "skip-migrations"
	flagNoCache   = "no-cache"
)

func main() {
	var logger golog.Logger

	app := &cli.App{
		Name:  "quadtree-index",
		Usage: "point quadtree index over the unit square",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "override log.level from the configuration",
			},
		},
		Before: func(c *cli.Context) error {
			if err := config.InitConfig(c.String(flagConfig)); err != nil {
				return err
			}
			level := config.Cfg.Log.Level
			if c.IsSet(flagLogLevel) {
				level = c.String(flagLogLevel)
			}
			var err error
			logger, err = logging.New("quadtree", level)
			return err
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP index backed by postgres and redis",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagNoMigrate, Usage: "do not apply migrations on startup"},
					&cli.BoolFlag{Name: flagNoCache, Usage: "run without the redis snapshot cache"},
				},
				Action: func(c *cli.Context) error {
					return serve(c.Context, config.Cfg, !c.Bool(flagNoMigrate), !c.Bool(flagNoCache), logger)
				},
			},
			{
				Name:  "migrate",
				Usage: "apply database migrations and exit",
				Action: func(c *cli.Context) error {
					return migration.RunMigrations(c.Context, config.Cfg.DB, logger)
				},
			},
			{
				Name:  "demo",
				Usage: "insert sample points into an in-memory tree and print it",
				Action: func(c *cli.Context) error {
					return runDemo(c.App.Writer, config.Cfg.Tree, logger)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config, migrate, useCache bool, logger golog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if migrate {
		if err := migration.RunMigrations(ctx, cfg.DB, logger); err != nil {
			return err
		}
	}

	store, err := database.Open(ctx, cfg.DB, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var snapshots placement.Cache
	if useCache {
		rdb, err := cache.InitializeRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()
		snapshots = rdb
	}

	svc, err := placement.NewService(cfg.Tree, store, snapshots, logger)
	if err != nil {
		return err
	}
	stored, err := store.Count(ctx)
	if err != nil {
		return err
	}
	indexed, err := svc.Replay(ctx)
	if err != nil {
		return errors.Wrap(err, "replaying stored points")
	}
	if indexed != stored {
		logger.Warnw("some stored points were not indexed", "stored", stored, "indexed", indexed)
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.RegisterRoutes(svc, logging.Writer(logger.Named("http"))),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Infow("server started", "addr", cfg.Server.Addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// demoPoints mixes every payload kind, including a point on the root's centre and
// one outside the square.
var demoPoints = []quadtree.Item{
	models.Integer(1, 0.1, 0.1),
	models.Float(2.5, 0.8, 0.15),
	models.String("north-west", 0.2, 0.3),
	models.Bool(true, 0.5, 0.5),
	models.Integer(5, 0.6, 0.6),
	models.Float(6.25, 0.35, 0.8),
	models.String("south-east", 0.9, 0.9),
	models.Bool(false, 0.7, 0.2),
	models.Integer(9, 0.55, 0.52),
	models.String("outside", 1.5, 0.2),
}

func runDemo(w io.Writer, cfg config.TreeConfig, logger golog.Logger) error {
	tree, err := quadtree.New(cfg.Capacity, cfg.MaxDepth, logger)
	if err != nil {
		return err
	}
	for _, item := range demoPoints {
		if err := tree.Insert(item); err != nil {
			if !errors.Is(err, quadtree.ErrOutOfBounds) {
				return err
			}
			fmt.Fprintf(w, "rejected %v: %v\n", item, err)
		}
	}
	if err := tree.Fprint(w); err != nil {
		return err
	}
	s := tree.Stats()
	_, err = fmt.Fprintf(w, "items=%d leaves=%d internal=%d depth=%d overflowing=%d\n",
		s.Items, s.Leaves, s.InternalNodes, s.Depth, s.Overflowing)
	return err
}
