package geohash

import (
	"fmt"

	"github.com/dhconnelly/rtreego"
	"github.com/pkg/errors"

	"quadtree-index/quadtree"
)

// pointTolerance is the half-width of the probe box built around each item.
const pointTolerance = 1e-12

// leafRect wraps a leaf's square to satisfy the rtreego.Spatial interface.
type leafRect struct {
	code quadtree.PositionCode
	rect rtreego.Rect
}

// Bounds returns the leaf's square.
func (l *leafRect) Bounds() rtreego.Rect {
	return l.rect
}

// Violation describes an item whose leaf does not match an independent lookup.
type Violation struct {
	Leaf    string  `json:"leaf"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Matches int     `json:"matches"`
	Reason  string  `json:"reason"`
}

// AuditReport is the outcome of Audit.
type AuditReport struct {
	Leaves     int         `json:"leaves"`
	Items      int         `json:"items"`
	Violations []Violation `json:"violations,omitempty"`
}

// OK reports whether the audit found nothing wrong.
func (r AuditReport) OK() bool {
	return len(r.Violations) == 0
}

// Audit cross-checks bounds containment with an R-tree built from the leaves. Every
// item must fall in exactly one leaf square under the half-open convention, and that
// leaf must be the one holding it.
func Audit(t *quadtree.Quadtree) (AuditReport, error) {
	var report AuditReport
	rt := rtreego.NewTree(2, 25, 50)
	t.Walk(func(code quadtree.PositionCode, _ []quadtree.Item) bool {
		minX, minY, maxX, maxY := code.Bounds()
		rect, err := rtreego.NewRectFromPoints(rtreego.Point{minX, minY}, rtreego.Point{maxX, maxY})
		if err != nil {
			// Squares always have positive extent down to MaxCodeDepth.
			panic(fmt.Sprintf("geohash: leaf %s has degenerate bounds: %v", code, err))
		}
		rt.Insert(&leafRect{code: code, rect: rect})
		report.Leaves++
		return true
	})

	t.Walk(func(code quadtree.PositionCode, items []quadtree.Item) bool {
		for _, item := range items {
			report.Items++
			x, y := item.X(), item.Y()
			var matches []quadtree.PositionCode
			for _, s := range rt.SearchIntersect(rtreego.Point{x, y}.ToRect(pointTolerance)) {
				leaf := s.(*leafRect)
				if leaf.code.Contains(x, y) {
					matches = append(matches, leaf.code)
				}
			}
			switch {
			case len(matches) != 1:
				report.Violations = append(report.Violations, Violation{
					Leaf: code.String(), X: x, Y: y, Matches: len(matches),
					Reason: "item is not covered by exactly one leaf",
				})
			case matches[0] != code:
				report.Violations = append(report.Violations, Violation{
					Leaf: code.String(), X: x, Y: y, Matches: 1,
					Reason: fmt.Sprintf("item belongs to leaf %s", matches[0]),
				})
			}
		}
		return true
	})
	if report.Items != t.Len() {
		return report, errors.Errorf("audit saw %d items, tree holds %d", report.Items, t.Len())
	}
	return report, nil
}
