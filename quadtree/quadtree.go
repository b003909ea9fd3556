// Package quadtree implements a point quadtree over the unit square [0,1) x [0,1).
//
// A leaf holds up to a fixed capacity of items. When a leaf fills up and is above the
// maximum depth it splits into four quadrants and hands its items down to them. Leaves
// at the maximum depth keep accepting items past capacity.
//
// A Quadtree is not safe for concurrent use.
package quadtree

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	// DefaultCapacity is the number of items a leaf holds before it subdivides.
	DefaultCapacity = 8
	// DefaultMaxDepth is the deepest level a leaf can be subdivided to.
	DefaultMaxDepth = 4
)

var (
	// ErrOutOfBounds is returned when an item lies outside the unit square.
	ErrOutOfBounds = errors.New("position outside the unit square")
	// ErrInvalidConfig is returned by New for a non-positive capacity or a max depth
	// outside 0..MaxCodeDepth.
	ErrInvalidConfig = errors.New("invalid quadtree configuration")
	// ErrMalformedKey is returned by ParseKey.
	ErrMalformedKey = errors.New("malformed position key")
)

// Quadtree is the root handle of the index.
type Quadtree struct {
	logger   golog.Logger
	root     *Node
	capacity int
	maxDepth int

	size     int
	leaves   int
	internal int
}

// New creates an empty tree. A nil logger discards log output.
func New(capacity, maxDepth int, logger golog.Logger) (*Quadtree, error) {
	if capacity <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "capacity must be positive, got %d", capacity)
	}
	if maxDepth < 0 || maxDepth > MaxCodeDepth {
		return nil, errors.Wrapf(ErrInvalidConfig, "max depth must be in 0..%d, got %d", MaxCodeDepth, maxDepth)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Quadtree{
		logger:   logger,
		root:     newLeaf(Root()),
		capacity: capacity,
		maxDepth: maxDepth,
		leaves:   1,
	}, nil
}

// NewDefault creates an empty tree with DefaultCapacity and DefaultMaxDepth.
func NewDefault(logger golog.Logger) *Quadtree {
	t, err := New(DefaultCapacity, DefaultMaxDepth, logger)
	if err != nil {
		panic(err)
	}
	return t
}

// InBounds reports whether (x, y) lies in [0,1) x [0,1).
func InBounds(x, y float64) bool {
	return x >= 0 && x < 1 && y >= 0 && y < 1
}

// Insert adds item to the tree. Items outside the unit square are rejected with
// ErrOutOfBounds and leave the tree unchanged.
func (t *Quadtree) Insert(item Item) error {
	x, y := item.X(), item.Y()
	if math.IsNaN(x) || math.IsNaN(y) || !InBounds(x, y) {
		return errors.Wrapf(ErrOutOfBounds, "cannot insert item at (%g, %g)", x, y)
	}
	t.root.insert(item, t)
	t.size++
	return nil
}

// Root returns the root node.
func (t *Quadtree) Root() *Node { return t.root }

// Len returns the number of items in the tree.
func (t *Quadtree) Len() int { return t.size }

// Capacity returns the per-leaf capacity.
func (t *Quadtree) Capacity() int { return t.capacity }

// MaxDepth returns the depth below which leaves stop subdividing.
func (t *Quadtree) MaxDepth() int { return t.maxDepth }

// Walk calls fn for every leaf in quadrant order until fn returns false. The items
// slice belongs to the tree and must not be modified.
func (t *Quadtree) Walk(fn func(code PositionCode, items []Item) bool) {
	t.root.walk(func(n *Node) bool {
		return fn(n.code, n.items)
	})
}

// Stats summarises the shape of a tree.
type Stats struct {
	Items         int `json:"items"`
	Leaves        int `json:"leaves"`
	InternalNodes int `json:"internal_nodes"`
	Depth         int `json:"depth"`
	Overflowing   int `json:"overflowing_leaves"`
	Capacity      int `json:"capacity"`
	MaxDepth      int `json:"max_depth"`
}

// Stats walks the tree and reports its shape.
func (t *Quadtree) Stats() Stats {
	s := Stats{
		Items:         t.size,
		Leaves:        t.leaves,
		InternalNodes: t.internal,
		Capacity:      t.capacity,
		MaxDepth:      t.maxDepth,
	}
	t.Walk(func(code PositionCode, items []Item) bool {
		if code.Depth() > s.Depth {
			s.Depth = code.Depth()
		}
		if len(items) > t.capacity {
			s.Overflowing++
		}
		return true
	})
	return s
}
