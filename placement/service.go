// Package placement runs the quadtree behind the HTTP API. It persists every accepted
// point before inserting it, rebuilds the tree from the store on startup, and caches
// rendered snapshots.
package placement

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"quadtree-index/cache"
	"quadtree-index/config"
	"quadtree-index/geohash"
	"quadtree-index/models"
	"quadtree-index/quadtree"
)

// Store persists points.
type Store interface {
	SavePoint(ctx context.Context, rec *models.PointRecord) error
	GetPoint(ctx context.Context, id int64) (*models.PointRecord, error)
	ListPoints(ctx context.Context) ([]models.PointRecord, error)
}

// Cache holds rendered snapshots of the tree.
type Cache interface {
	Store(ctx context.Context, snap cache.Snapshot) error
	Load(ctx context.Context) (tree string, stats []byte, err error)
	Cell(ctx context.Context, leaf string) ([]int64, error)
	Invalidate(ctx context.Context) error
}

// Service serialises access to the tree. Points are saved and inserted under the same
// lock, so the tree's insertion order matches the store's ID order and a replay
// rebuilds an identical tree.
type Service struct {
	mu     sync.Mutex
	tree   *quadtree.Quadtree
	cfg    config.TreeConfig
	store  Store
	cache  Cache
	logger golog.Logger
}

// NewService creates a service with an empty tree. cache and logger may be nil.
func NewService(cfg config.TreeConfig, store Store, c Cache, logger golog.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	tree, err := quadtree.New(cfg.Capacity, cfg.MaxDepth, logger)
	if err != nil {
		return nil, err
	}
	return &Service{
		tree:   tree,
		cfg:    cfg,
		store:  store,
		cache:  c,
		logger: logger,
	}, nil
}

// Place validates rec, stores it and inserts it into the tree. On success rec carries
// its assigned ID.
func (s *Service) Place(ctx context.Context, rec *models.PointRecord) error {
	if err := rec.Normalize(); err != nil {
		return err
	}
	if _, err := rec.Item(); err != nil {
		return err
	}
	x, y := rec.Position()
	if !quadtree.InBounds(x, y) {
		return errors.Wrapf(quadtree.ErrOutOfBounds, "point (%g, %g)", x, y)
	}

	s.mu.Lock()
	err := s.place(ctx, rec)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.invalidate(ctx)
	return nil
}

func (s *Service) place(ctx context.Context, rec *models.PointRecord) error {
	if err := s.store.SavePoint(ctx, rec); err != nil {
		return err
	}
	item, err := rec.Item()
	if err != nil {
		return err
	}
	if err := s.tree.Insert(item); err != nil {
		return errors.Wrapf(err, "point %d stored but not indexed", rec.ID)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warnw("failed to invalidate snapshot", "error", err)
	}
}

// Replay rebuilds the tree from every stored point. Points that no longer decode are
// skipped with a warning. It returns the number of points indexed.
func (s *Service) Replay(ctx context.Context) (int, error) {
	recs, err := s.store.ListPoints(ctx)
	if err != nil {
		return 0, err
	}
	tree, err := quadtree.New(s.cfg.Capacity, s.cfg.MaxDepth, s.logger)
	if err != nil {
		return 0, err
	}
	for i := range recs {
		item, err := recs[i].Item()
		if err == nil {
			err = tree.Insert(item)
		}
		if err != nil {
			s.logger.Warnw("skipping stored point", "id", recs[i].ID, "error", err)
		}
	}

	s.mu.Lock()
	s.tree = tree
	s.mu.Unlock()
	s.invalidate(ctx)

	s.logger.Infow("replayed stored points", "stored", len(recs), "indexed", tree.Len())
	return tree.Len(), nil
}

// Get returns a stored point.
func (s *Service) Get(ctx context.Context, id int64) (*models.PointRecord, error) {
	return s.store.GetPoint(ctx, id)
}

// Stats returns the live shape of the tree.
func (s *Service) Stats() quadtree.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Stats()
}

// Audit cross-checks the tree against an independent R-tree lookup.
func (s *Service) Audit() (geohash.AuditReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return geohash.Audit(s.tree)
}

// Snapshot returns the tree dump and JSON stats, from the cache when it is warm. A
// fresh snapshot is rendered and cached under the tree lock, so it cannot land in the
// cache after a later insert has invalidated it.
func (s *Service) Snapshot(ctx context.Context) (string, []byte, error) {
	if s.cache != nil {
		tree, stats, err := s.cache.Load(ctx)
		if err == nil {
			return tree, stats, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warnw("failed to load snapshot", "error", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.renderLocked()
	if err != nil {
		return "", nil, err
	}
	if s.cache != nil {
		if err := s.cache.Store(ctx, snap); err != nil {
			s.logger.Warnw("failed to store snapshot", "error", err)
		}
	}
	return snap.Tree, snap.Stats, nil
}

// renderLocked must be called with s.mu held.
func (s *Service) renderLocked() (cache.Snapshot, error) {
	stats, err := json.Marshal(s.tree.Stats())
	if err != nil {
		return cache.Snapshot{}, errors.Wrap(err, "encoding stats")
	}
	return cache.Snapshot{
		Tree:  s.tree.String(),
		Stats: stats,
		Cells: cells(s.tree),
	}, nil
}

func cells(tree *quadtree.Quadtree) map[string][]int64 {
	out := make(map[string][]int64)
	tree.Walk(func(code quadtree.PositionCode, items []quadtree.Item) bool {
		for _, item := range items {
			if rec, ok := item.(models.Identified); ok {
				out[code.Key()] = append(out[code.Key()], rec.RecordID())
			}
		}
		return true
	})
	return out
}

// Cell returns the IDs of the stored points held by the leaf with the given key, in
// ascending order.
func (s *Service) Cell(ctx context.Context, key string) ([]int64, error) {
	if _, err := quadtree.ParseKey(key); err != nil {
		return nil, err
	}
	if s.cache == nil {
		s.mu.Lock()
		ids := cells(s.tree)[key]
		s.mu.Unlock()
		return sorted(ids), nil
	}

	// A warm snapshot means the cell sets were written with it.
	if _, _, err := s.Snapshot(ctx); err != nil {
		return nil, err
	}
	ids, err := s.cache.Cell(ctx, key)
	if errors.Is(err, cache.ErrMiss) {
		return []int64{}, nil
	}
	if err != nil {
		return nil, err
	}
	return sorted(ids), nil
}

func sorted(ids []int64) []int64 {
	out := append([]int64{}, ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
