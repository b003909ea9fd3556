package migration

import (
	"context"
	"database/sql"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"quadtree-index/config"
)

const (
	connectAttempts = 10
	connectBackoff  = 3 * time.Second
)

// WaitForDB retries connecting until the database answers or ctx is done.
func WaitForDB(ctx context.Context, cfg config.DBConfig, logger golog.Logger) error {
	var err error
	for i := 0; i < connectAttempts; i++ {
		if err = ping(ctx, cfg); err == nil {
			logger.Info("connected to the database successfully")
			return nil
		}
		logger.Infow("waiting for the database to be ready", "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(connectBackoff):
		}
	}
	return errors.Wrap(err, "could not connect to the database")
}

func ping(ctx context.Context, cfg config.DBConfig) error {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PingContext(ctx)
}

// RunMigrations applies every pending migration from cfg.Migrations.
func RunMigrations(ctx context.Context, cfg config.DBConfig, logger golog.Logger) error {
	if err := WaitForDB(ctx, cfg, logger); err != nil {
		return err
	}

	m, err := migrate.New(cfg.Migrations, cfg.URL())
	if err != nil {
		return errors.Wrap(err, "could not start migrations")
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warnw("closing migrations", "source_error", srcErr, "db_error", dbErr)
		}
	}()

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migration failed")
	}
	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return errors.Wrap(verr, "reading migration version")
	}
	logger.Infow("migrations applied successfully", "version", version, "dirty", dirty)
	return nil
}
