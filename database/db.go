package database

import (
	"context"
	"database/sql"

	"github.com/edaniels/golog"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"quadtree-index/config"
	"quadtree-index/models"
	"quadtree-index/quadtree"
)

// ErrNotFound is returned when a point does not exist.
var ErrNotFound = errors.New("point not found")

// checkViolation is the postgres error code for a failed CHECK constraint. The points
// table only has the unit square checks.
const checkViolation = "23514"

// Store is the postgres log of every point accepted by the index.
type Store struct {
	db     *sql.DB
	logger golog.Logger
}

// Open connects to postgres and verifies the connection.
func Open(ctx context.Context, cfg config.DBConfig, logger golog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connecting to database")
	}
	logger.Infow("database connected", "host", cfg.Host, "dbname", cfg.DBName)
	return &Store{db: db, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// SavePoint inserts rec and fills in its ID and creation time.
func (s *Store) SavePoint(ctx context.Context, rec *models.PointRecord) error {
	x, y := rec.Position()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO points (kind, value, x, y, latitude, longitude, geohash)
         VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`,
		string(rec.Kind), rec.Value, x, y, rec.Latitude, rec.Longitude, rec.Geohash,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == checkViolation {
			return errors.Wrapf(quadtree.ErrOutOfBounds, "point (%g, %g) rejected by %s", x, y, pgErr.Constraint)
		}
		return errors.Wrap(err, "failed to save point")
	}
	return nil
}

// GetPoint returns the point with the given ID.
func (s *Store) GetPoint(ctx context.Context, id int64) (*models.PointRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, value, x, y, latitude, longitude, geohash, created_at FROM points WHERE id=$1`, id)
	rec, err := scanPoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrNotFound, "id %d", id)
		}
		return nil, errors.Wrap(err, "failed to load point")
	}
	return rec, nil
}

// ListPoints returns every point in insertion order.
func (s *Store) ListPoints(ctx context.Context) ([]models.PointRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, value, x, y, latitude, longitude, geohash, created_at FROM points ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list points")
	}
	defer rows.Close()

	var recs []models.PointRecord
	for rows.Next() {
		rec, err := scanPoint(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan point")
		}
		recs = append(recs, *rec)
	}
	return recs, errors.Wrap(rows.Err(), "failed to list points")
}

// Count returns the number of stored points.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM points`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count points")
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPoint(row scanner) (*models.PointRecord, error) {
	var (
		rec      models.PointRecord
		kind     string
		x, y     float64
		lat, lon sql.NullFloat64
	)
	if err := row.Scan(&rec.ID, &kind, &rec.Value, &x, &y, &lat, &lon, &rec.Geohash, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Kind = models.Kind(kind)
	rec.X, rec.Y = &x, &y
	if lat.Valid && lon.Valid {
		rec.Latitude, rec.Longitude = &lat.Float64, &lon.Float64
	}
	return &rec, nil
}
