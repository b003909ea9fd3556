package quadtree

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Quadrant is one of the four sub-regions of a node. Bit 0 selects the upper half
// of the x axis and bit 1 the upper half of the y axis.
type Quadrant uint8

const (
	NW Quadrant = iota // 00: -x, -y
	NE                 // 01: +x, -y
	SW                 // 10: -x, +y
	SE                 // 11: +x, +y
)

// MaxCodeDepth is the deepest level a PositionCode can encode in its 64-bit path.
const MaxCodeDepth = 32

var quadrantNames = [4]string{"NW", "NE", "SW", "SE"}

func (q Quadrant) String() string {
	if q > SE {
		return fmt.Sprintf("Quadrant(%d)", uint8(q))
	}
	return quadrantNames[q]
}

// PositionCode locates a node by the quadrant choices taken from the root. Level 1's
// choice lives in the two lowest bits of the path, level 2's in the next two, and so on.
type PositionCode struct {
	path  uint64
	depth uint8
}

// Root returns the code of the node covering the whole unit square.
func Root() PositionCode {
	return PositionCode{}
}

// Path returns the raw quadrant path.
func (c PositionCode) Path() uint64 { return c.path }

// Depth returns the number of quadrant choices in the path.
func (c PositionCode) Depth() int { return int(c.depth) }

// Child returns the code of quadrant q below c. It panics on a quadrant outside 0..3,
// which only a broken quadrant computation can produce.
func (c PositionCode) Child(q Quadrant) PositionCode {
	if q > SE {
		panic(fmt.Sprintf("quadtree: invalid quadrant %d", uint8(q)))
	}
	if c.depth >= MaxCodeDepth {
		panic(fmt.Sprintf("quadtree: position code at depth %d cannot be extended", c.depth))
	}
	return PositionCode{
		path:  c.path | uint64(q)<<(2*uint(c.depth)),
		depth: c.depth + 1,
	}
}

// Parent returns the code one level up. The root is its own parent.
func (c PositionCode) Parent() PositionCode {
	if c.depth == 0 {
		return c
	}
	d := c.depth - 1
	return PositionCode{
		path:  c.path &^ (uint64(3) << (2 * uint(d))),
		depth: d,
	}
}

// Quadrant returns the choice made at level (1-based).
func (c PositionCode) Quadrant(level int) Quadrant {
	if level < 1 || level > int(c.depth) {
		panic(fmt.Sprintf("quadtree: level %d outside 1..%d", level, c.depth))
	}
	return Quadrant(c.path >> (2 * uint(level-1)) & 3)
}

// Center returns the centre of the node's square.
func (c PositionCode) Center() (x, y float64) {
	x, y = 0.5, 0.5
	step := 0.5
	for level := 1; level <= int(c.depth); level++ {
		step /= 2
		q := c.Quadrant(level)
		if q&1 != 0 {
			x += step
		} else {
			x -= step
		}
		if q&2 != 0 {
			y += step
		} else {
			y -= step
		}
	}
	return x, y
}

// HalfExtent returns half the side length of the node's square.
func (c PositionCode) HalfExtent() float64 {
	return 0.5 / float64(uint64(1)<<c.depth)
}

// Bounds returns the node's square. The min corner is inclusive and the max corner
// exclusive.
func (c PositionCode) Bounds() (minX, minY, maxX, maxY float64) {
	cx, cy := c.Center()
	h := c.HalfExtent()
	return cx - h, cy - h, cx + h, cy + h
}

// Contains reports whether (x, y) falls in the node's half-open square.
func (c PositionCode) Contains(x, y float64) bool {
	minX, minY, maxX, maxY := c.Bounds()
	return x >= minX && x < maxX && y >= minY && y < maxY
}

// String renders the path as dot separated quadrant names, e.g. "SE.NW".
func (c PositionCode) String() string {
	if c.depth == 0 {
		return "root"
	}
	parts := make([]string, c.depth)
	for level := 1; level <= int(c.depth); level++ {
		parts[level-1] = c.Quadrant(level).String()
	}
	return strings.Join(parts, ".")
}

// Key is a compact identifier for the code, stable across runs.
func (c PositionCode) Key() string {
	return fmt.Sprintf("d%d:p%d", c.depth, c.path)
}

// ParseKey is the inverse of Key.
func ParseKey(key string) (PositionCode, error) {
	var depth int
	var path uint64
	if _, err := fmt.Sscanf(key, "d%d:p%d", &depth, &path); err != nil {
		return PositionCode{}, errors.Wrapf(ErrMalformedKey, "%q: %v", key, err)
	}
	if depth < 0 || depth > MaxCodeDepth {
		return PositionCode{}, errors.Wrapf(ErrMalformedKey, "%q: depth outside 0..%d", key, MaxCodeDepth)
	}
	if depth < MaxCodeDepth && path>>(2*uint(depth)) != 0 {
		return PositionCode{}, errors.Wrapf(ErrMalformedKey, "%q: path bits beyond depth", key)
	}
	c := PositionCode{path: path, depth: uint8(depth)}
	if c.Key() != key {
		return PositionCode{}, errors.Wrapf(ErrMalformedKey, "%q", key)
	}
	return c, nil
}
