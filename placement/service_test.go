package placement

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"quadtree-index/cache"
	"quadtree-index/config"
	"quadtree-index/models"
	"quadtree-index/quadtree"
)

type fakeStore struct {
	mu      sync.Mutex
	recs    []models.PointRecord
	saveErr error
}

func (s *fakeStore) SavePoint(_ context.Context, rec *models.PointRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	rec.ID = int64(len(s.recs) + 1)
	s.recs = append(s.recs, *rec)
	return nil
}

func (s *fakeStore) GetPoint(_ context.Context, id int64) (*models.PointRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 1 || int(id) > len(s.recs) {
		return nil, errors.New("point not found")
	}
	rec := s.recs[id-1]
	return &rec, nil
}

func (s *fakeStore) ListPoints(context.Context) ([]models.PointRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PointRecord{}, s.recs...), nil
}

type fakeCache struct {
	mu          sync.Mutex
	snap        *cache.Snapshot
	stores      int
	invalidates int
	storeErr    error
}

func (c *fakeCache) Store(_ context.Context, snap cache.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores++
	if c.storeErr != nil {
		return c.storeErr
	}
	c.snap = &snap
	return nil
}

func (c *fakeCache) Load(context.Context) (string, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil || c.snap.Tree == "" {
		return "", nil, cache.ErrMiss
	}
	return c.snap.Tree, c.snap.Stats, nil
}

func (c *fakeCache) Cell(_ context.Context, leaf string) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil || len(c.snap.Cells[leaf]) == 0 {
		return nil, cache.ErrMiss
	}
	return c.snap.Cells[leaf], nil
}

func (c *fakeCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidates++
	if c.snap != nil {
		c.snap.Tree, c.snap.Stats = "", nil
	}
	return nil
}

// gatedCache holds its first Store until release is closed.
type gatedCache struct {
	fakeCache
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (c *gatedCache) Store(ctx context.Context, snap cache.Snapshot) error {
	first := false
	c.once.Do(func() { first = true })
	if first {
		close(c.entered)
		<-c.release
	}
	return c.fakeCache.Store(ctx, snap)
}

func f(v float64) *float64 { return &v }

func point(kind models.Kind, value string, x, y float64) *models.PointRecord {
	return &models.PointRecord{Kind: kind, Value: value, X: f(x), Y: f(y)}
}

func newService(t *testing.T, capacity, maxDepth int, store Store, c Cache) *Service {
	t.Helper()
	svc, err := NewService(config.TreeConfig{Capacity: capacity, MaxDepth: maxDepth}, store, c, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return svc
}

func TestNewServiceRejectsBadTree(t *testing.T) {
	_, err := NewService(config.TreeConfig{Capacity: 0, MaxDepth: 4}, &fakeStore{}, nil, golog.NewTestLogger(t))
	test.That(t, errors.Is(err, quadtree.ErrInvalidConfig), test.ShouldBeTrue)
}

func TestPlace(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	c := &fakeCache{}
	svc := newService(t, 2, 4, store, c)

	recs := []*models.PointRecord{
		point(models.KindInteger, "1", 0.1, 0.1),
		point(models.KindFloat, "2.5", 0.9, 0.9),
		point(models.KindBool, "false", 0.2, 0.2),
		{Value: "greenwich", Latitude: f(51.48), Longitude: f(0)},
	}
	for i, rec := range recs {
		test.That(t, svc.Place(ctx, rec), test.ShouldBeNil)
		test.That(t, rec.ID, test.ShouldEqual, int64(i+1))
	}
	test.That(t, recs[3].Kind, test.ShouldEqual, models.KindString)
	test.That(t, recs[3].Geohash, test.ShouldNotBeEmpty)

	stats := svc.Stats()
	test.That(t, stats.Items, test.ShouldEqual, 4)
	test.That(t, stats.InternalNodes, test.ShouldBeGreaterThan, 0)
	test.That(t, c.invalidates, test.ShouldEqual, 4)
	test.That(t, store.recs, test.ShouldHaveLength, 4)

	got, err := svc.Get(ctx, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Value, test.ShouldEqual, "2.5")

	report, err := svc.Audit()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.OK(), test.ShouldBeTrue)
	test.That(t, report.Items, test.ShouldEqual, 4)
}

func TestPlaceRejects(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	svc := newService(t, 8, 4, store, nil)

	err := svc.Place(ctx, point(models.KindString, "far", 1.5, 0.2))
	test.That(t, errors.Is(err, quadtree.ErrOutOfBounds), test.ShouldBeTrue)

	err = svc.Place(ctx, &models.PointRecord{Value: "pole", Latitude: f(-90), Longitude: f(0)})
	test.That(t, errors.Is(err, quadtree.ErrOutOfBounds), test.ShouldBeTrue)

	err = svc.Place(ctx, point(models.KindInteger, "x", 0.5, 0.5))
	test.That(t, errors.Is(err, models.ErrBadValue), test.ShouldBeTrue)

	err = svc.Place(ctx, point("rune", "x", 0.5, 0.5))
	test.That(t, errors.Is(err, models.ErrUnknownKind), test.ShouldBeTrue)

	err = svc.Place(ctx, &models.PointRecord{Kind: models.KindString, Value: "nowhere"})
	test.That(t, errors.Is(err, models.ErrNoPosition), test.ShouldBeTrue)

	test.That(t, store.recs, test.ShouldBeEmpty)
	test.That(t, svc.Stats().Items, test.ShouldEqual, 0)

	store.saveErr = errors.New("disk full")
	err = svc.Place(ctx, point(models.KindString, "ok", 0.5, 0.5))
	test.That(t, err, test.ShouldBeError, store.saveErr)
	test.That(t, svc.Stats().Items, test.ShouldEqual, 0)
}

func TestReplayRebuildsSameTree(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	svc := newService(t, 2, 5, store, nil)
	for i := 0; i < 40; i++ {
		x := float64(i%8)/8 + 0.01
		y := float64(i/8)/5 + 0.02
		test.That(t, svc.Place(ctx, point(models.KindInteger, "7", x, y)), test.ShouldBeNil)
	}
	before, _, err := svc.Snapshot(ctx)
	test.That(t, err, test.ShouldBeNil)

	// A point the current schema can no longer decode is skipped.
	store.recs = append(store.recs, models.PointRecord{ID: 41, Kind: "legacy", Value: "?", X: f(0.3), Y: f(0.3)})

	restarted := newService(t, 2, 5, store, nil)
	n, err := restarted.Replay(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 40)

	after, _, err := restarted.Snapshot(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, after, test.ShouldEqual, before)
}

func TestSnapshotCaching(t *testing.T) {
	ctx := context.Background()
	c := &fakeCache{}
	svc := newService(t, 8, 4, &fakeStore{}, c)
	test.That(t, svc.Place(ctx, point(models.KindString, "a", 0.25, 0.25)), test.ShouldBeNil)

	tree, stats, err := svc.Snapshot(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tree, test.ShouldContainSubstring, "root center=(0.5, 0.5) half=0.5 items=1")
	var decoded quadtree.Stats
	test.That(t, json.Unmarshal(stats, &decoded), test.ShouldBeNil)
	test.That(t, decoded.Items, test.ShouldEqual, 1)
	test.That(t, c.stores, test.ShouldEqual, 1)

	_, _, err = svc.Snapshot(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.stores, test.ShouldEqual, 1)

	test.That(t, svc.Place(ctx, point(models.KindString, "b", 0.75, 0.25)), test.ShouldBeNil)
	tree, _, err = svc.Snapshot(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.stores, test.ShouldEqual, 2)
	test.That(t, tree, test.ShouldContainSubstring, "items=2")

	c.storeErr = errors.New("redis down")
	test.That(t, svc.Place(ctx, point(models.KindString, "c", 0.75, 0.75)), test.ShouldBeNil)
	tree, _, err = svc.Snapshot(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tree, test.ShouldContainSubstring, "items=3")
}

func TestCell(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name  string
		cache Cache
	}{
		{"without cache", nil},
		{"with cache", &fakeCache{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			svc := newService(t, 3, 3, &fakeStore{}, tc.cache)
			for _, rec := range []*models.PointRecord{
				point(models.KindInteger, "1", 0.1, 0.1),
				point(models.KindInteger, "2", 0.9, 0.9),
				point(models.KindInteger, "3", 0.2, 0.1),
			} {
				test.That(t, svc.Place(ctx, rec), test.ShouldBeNil)
			}

			// The root splits on the third point.
			ids, err := svc.Cell(ctx, quadtree.Root().Child(quadtree.NW).Key())
			test.That(t, err, test.ShouldBeNil)
			test.That(t, ids, test.ShouldResemble, []int64{1, 3})

			ids, err = svc.Cell(ctx, quadtree.Root().Child(quadtree.SE).Key())
			test.That(t, err, test.ShouldBeNil)
			test.That(t, ids, test.ShouldResemble, []int64{2})

			ids, err = svc.Cell(ctx, quadtree.Root().Child(quadtree.SW).Key())
			test.That(t, err, test.ShouldBeNil)
			test.That(t, ids, test.ShouldBeEmpty)

			_, err = svc.Cell(ctx, "nonsense")
			test.That(t, errors.Is(err, quadtree.ErrMalformedKey), test.ShouldBeTrue)
		})
	}
}

func TestConcurrentPlace(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	svc := newService(t, 4, 6, store, &fakeCache{})

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				x := float64(w)/8 + float64(i)/400
				errs <- svc.Place(ctx, point(models.KindInteger, "1", x, float64(i)/25))
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		test.That(t, err, test.ShouldBeNil)
	}

	test.That(t, svc.Stats().Items, test.ShouldEqual, 200)
	test.That(t, store.recs, test.ShouldHaveLength, 200)
	report, err := svc.Audit()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.OK(), test.ShouldBeTrue)

	tree, _, err := svc.Snapshot(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.Count(tree, " - "), test.ShouldEqual, 200)
}

func TestNewServiceNilLogger(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	svc, err := NewService(config.TreeConfig{Capacity: 8, MaxDepth: 4}, store, &fakeCache{storeErr: errors.New("redis down")}, nil)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, svc.Place(ctx, point(models.KindString, "a", 0.5, 0.5)), test.ShouldBeNil)
	store.recs = append(store.recs, models.PointRecord{ID: 2, Kind: "legacy", X: f(0.1), Y: f(0.1)})
	n, err := svc.Replay(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 1)
	_, _, err = svc.Snapshot(ctx)
	test.That(t, err, test.ShouldBeNil)
}

func TestSnapshotNotStaleAfterConcurrentPlace(t *testing.T) {
	ctx := context.Background()
	c := &gatedCache{entered: make(chan struct{}), release: make(chan struct{})}
	svc := newService(t, 8, 4, &fakeStore{}, c)

	snapDone := make(chan error, 1)
	go func() {
		_, _, err := svc.Snapshot(ctx)
		snapDone <- err
	}()
	<-c.entered

	placeDone := make(chan error, 1)
	go func() {
		placeDone <- svc.Place(ctx, point(models.KindString, "late", 0.3, 0.3))
	}()
	// Give the insert a chance to finish while the empty snapshot is being stored.
	select {
	case err := <-placeDone:
		placeDone <- err
	case <-time.After(100 * time.Millisecond):
	}
	close(c.release)

	test.That(t, <-snapDone, test.ShouldBeNil)
	test.That(t, <-placeDone, test.ShouldBeNil)
	test.That(t, svc.Stats().Items, test.ShouldEqual, 1)

	tree, _, err := svc.Snapshot(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tree, test.ShouldContainSubstring, "string(late)")

	ids, err := svc.Cell(ctx, quadtree.Root().Key())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids, test.ShouldResemble, []int64{1})
}
