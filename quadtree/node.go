package quadtree

// NodeType tags which variant a Node currently is.
type NodeType uint8

const (
	// LeafNode holds items directly.
	LeafNode NodeType = iota
	// InternalNode owns exactly four children, one per quadrant.
	InternalNode
)

func (t NodeType) String() string {
	if t == InternalNode {
		return "internal"
	}
	return "leaf"
}

// Item is anything with a position in the unit square.
type Item interface {
	X() float64
	Y() float64
}

// Node is a square region of the tree. A leaf keeps its items in insertion order;
// an internal node keeps four children indexed by Quadrant.
type Node struct {
	code     PositionCode
	nodeType NodeType
	items    []Item
	children [4]*Node
}

func newLeaf(code PositionCode) *Node {
	return &Node{code: code, nodeType: LeafNode}
}

// Code returns the node's position code.
func (node *Node) Code() PositionCode { return node.code }

// Type returns whether the node is a leaf or internal.
func (node *Node) Type() NodeType { return node.nodeType }

// Items returns the items of a leaf. It is nil for internal nodes.
func (node *Node) Items() []Item { return node.items }

// Child returns the child in quadrant q, or nil for a leaf.
func (node *Node) Child(q Quadrant) *Node {
	if node.nodeType != InternalNode {
		return nil
	}
	return node.children[q]
}

// quadrantOf picks the child covering (x, y). Coordinates equal to the centre go to
// the upper side, matching the half-open bounds of every node.
func (node *Node) quadrantOf(x, y float64) Quadrant {
	cx, cy := node.code.Center()
	var q Quadrant
	if x >= cx {
		q |= NE
	}
	if y >= cy {
		q |= SW
	}
	return q
}

// insert descends to the leaf covering item and appends it there, subdividing a leaf
// that reaches capacity while it is above maxDepth.
func (node *Node) insert(item Item, t *Quadtree) {
	for node.nodeType == InternalNode {
		node = node.children[node.quadrantOf(item.X(), item.Y())]
	}
	node.items = append(node.items, item)
	if len(node.items) < t.capacity {
		return
	}
	if node.code.Depth() >= t.maxDepth {
		if len(node.items) == t.capacity {
			t.logger.Debugw("leaf reached capacity at max depth, accepting overflow",
				"leaf", node.code.String(), "capacity", t.capacity)
		}
		return
	}
	node.subdivide(t)
}

// subdivide turns a leaf into an internal node and pushes its items down into the
// four new children.
func (node *Node) subdivide(t *Quadtree) {
	items := node.items
	node.items = nil
	for q := NW; q <= SE; q++ {
		node.children[q] = newLeaf(node.code.Child(q))
	}
	node.nodeType = InternalNode
	t.internal++
	t.leaves += 3
	t.logger.Debugw("subdivided leaf", "leaf", node.code.String(), "items", len(items))

	for _, item := range items {
		node.children[node.quadrantOf(item.X(), item.Y())].insert(item, t)
	}
}

// walk visits the leaves below node in quadrant order.
func (node *Node) walk(fn func(*Node) bool) bool {
	if node.nodeType == LeafNode {
		return fn(node)
	}
	for _, child := range node.children {
		if !child.walk(fn) {
			return false
		}
	}
	return true
}
