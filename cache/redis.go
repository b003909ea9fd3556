package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/edaniels/golog"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"quadtree-index/config"
)

const (
	treeKey    = "quadtree:snapshot:tree"
	statsKey   = "quadtree:snapshot:stats"
	cellPrefix = "quadtree:cell:"
	cellsKey   = "quadtree:cells"
)

// ErrMiss is returned when a snapshot is not cached.
var ErrMiss = errors.New("snapshot not cached")

// CellKey is the redis set holding the record IDs of one leaf.
func CellKey(leaf string) string {
	return cellPrefix + leaf
}

// Snapshot is a rendered view of the tree at one point in time.
type Snapshot struct {
	Tree  string
	Stats []byte
	// Cells maps leaf keys to the record IDs they hold. Only leaves holding at least
	// one stored record are listed.
	Cells map[string][]int64
}

// Snapshots caches tree snapshots and per-leaf occupancy sets in redis.
type Snapshots struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger golog.Logger
}

// InitializeRedis connects to redis and checks the connection.
func InitializeRedis(ctx context.Context, cfg config.RedisConfig, logger golog.Logger) (*Snapshots, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}
	logger.Infow("connected to Redis successfully", "addr", cfg.Addr)
	return NewSnapshots(rdb, cfg.SnapshotTTL, logger), nil
}

// NewSnapshots wraps an existing client.
func NewSnapshots(rdb *redis.Client, ttl time.Duration, logger golog.Logger) *Snapshots {
	return &Snapshots{rdb: rdb, ttl: ttl, logger: logger}
}

// Close closes the client.
func (s *Snapshots) Close() error {
	return s.rdb.Close()
}

// storeAttempts bounds the retries of Store when another writer replaces the cell
// sets at the same time.
const storeAttempts = 5

// Store writes a snapshot. The tree dump, the stats and the cell sets are replaced in
// one transaction so readers never see a mix of two snapshots. The list of current
// cells is watched, so a concurrent Store makes this one retry instead of leaving
// orphaned cell sets behind.
func (s *Snapshots) Store(ctx context.Context, snap Snapshot) error {
	var err error
	for i := 0; i < storeAttempts; i++ {
		err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			return s.replace(ctx, tx, snap)
		}, cellsKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		s.logger.Debugw("snapshot store raced another writer, retrying", "attempt", i+1)
	}
	return errors.Wrap(err, "storing snapshot")
}

func (s *Snapshots) replace(ctx context.Context, tx *redis.Tx, snap Snapshot) error {
	old, err := tx.SMembers(ctx, cellsKey).Result()
	if err != nil {
		return errors.Wrap(err, "listing cached cells")
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, leaf := range old {
			pipe.Del(ctx, CellKey(leaf))
		}
		pipe.Del(ctx, cellsKey)
		for leaf, ids := range snap.Cells {
			members := make([]interface{}, len(ids))
			for i, id := range ids {
				members[i] = id
			}
			pipe.SAdd(ctx, CellKey(leaf), members...)
			pipe.SAdd(ctx, cellsKey, leaf)
			if s.ttl > 0 {
				pipe.Expire(ctx, CellKey(leaf), s.ttl)
			}
		}
		if s.ttl > 0 && len(snap.Cells) > 0 {
			pipe.Expire(ctx, cellsKey, s.ttl)
		}
		pipe.Set(ctx, treeKey, snap.Tree, s.ttl)
		pipe.Set(ctx, statsKey, snap.Stats, s.ttl)
		return nil
	})
	return err
}

// Load returns the cached tree dump and stats, or ErrMiss.
func (s *Snapshots) Load(ctx context.Context) (tree string, stats []byte, err error) {
	vals, err := s.rdb.MGet(ctx, treeKey, statsKey).Result()
	if err != nil {
		return "", nil, errors.Wrap(err, "loading snapshot")
	}
	t, ok1 := vals[0].(string)
	st, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return "", nil, ErrMiss
	}
	return t, []byte(st), nil
}

// Cell returns the record IDs cached for a leaf, or ErrMiss when the leaf is not in
// the current snapshot.
func (s *Snapshots) Cell(ctx context.Context, leaf string) ([]int64, error) {
	members, err := s.rdb.SMembers(ctx, CellKey(leaf)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "loading cell")
	}
	if len(members) == 0 {
		return nil, ErrMiss
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "cell %s holds malformed id %q", leaf, m)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Invalidate drops the cached tree dump and stats. Cell sets stay until the next
// Store replaces them.
func (s *Snapshots) Invalidate(ctx context.Context) error {
	return errors.Wrap(s.rdb.Del(ctx, treeKey, statsKey).Err(), "invalidating snapshot")
}
