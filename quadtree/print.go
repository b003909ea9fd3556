package quadtree

import (
	"fmt"
	"io"
	"strings"
)

// Fprint writes an indented dump of the tree to w, one line per node followed by the
// items of each leaf.
func (t *Quadtree) Fprint(w io.Writer) error {
	return fprintNode(w, t.root, t.capacity)
}

// String returns the dump written by Fprint.
func (t *Quadtree) String() string {
	var sb strings.Builder
	_ = t.Fprint(&sb)
	return sb.String()
}

func fprintNode(w io.Writer, node *Node, capacity int) error {
	indent := strings.Repeat("  ", node.code.Depth())
	cx, cy := node.code.Center()
	h := node.code.HalfExtent()
	if node.nodeType == InternalNode {
		if _, err := fmt.Fprintf(w, "%s%s center=(%g, %g) half=%g\n", indent, node.code, cx, cy, h); err != nil {
			return err
		}
		for _, child := range node.children {
			if err := fprintNode(w, child, capacity); err != nil {
				return err
			}
		}
		return nil
	}

	mark := ""
	if len(node.items) > capacity {
		mark = " overflow"
	}
	if _, err := fmt.Fprintf(w, "%s%s center=(%g, %g) half=%g items=%d%s\n",
		indent, node.code, cx, cy, h, len(node.items), mark); err != nil {
		return err
	}
	for _, item := range node.items {
		if _, err := fmt.Fprintf(w, "%s  - %v @ (%g, %g)\n", indent, item, item.X(), item.Y()); err != nil {
			return err
		}
	}
	return nil
}
