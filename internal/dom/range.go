package dom

import (
	"fmt"

	"golang.org/x/net/html"
)

// Boundary is a DOM boundary point: a node and an offset into it. For text
// nodes the offset counts UTF-16 code units, for other nodes children.
type Boundary struct {
	Node   *html.Node
	Offset int
}

// Range is a static DOM range. Unlike a browser Range it does not follow
// tree mutations; callers re-derive ranges after changing the tree.
type Range struct {
	Start Boundary
	End   Boundary
}

// NewRange builds a range and checks that both offsets fit their containers,
// that both containers share a tree, and that end does not precede start.
func NewRange(startNode *html.Node, startOffset int, endNode *html.Node, endOffset int) (Range, error) {
	start := Boundary{Node: startNode, Offset: startOffset}
	end := Boundary{Node: endNode, Offset: endOffset}
	for _, b := range []Boundary{start, end} {
		if b.Node == nil || b.Node.Type == html.DoctypeNode {
			return Range{}, fmt.Errorf("dom: invalid boundary container")
		}
		if err := CheckOffset(b.Node, b.Offset); err != nil {
			return Range{}, err
		}
	}
	if rootOf(startNode) != rootOf(endNode) {
		return Range{}, ErrForeignNode
	}
	if ComparePoints(start, end) > 0 {
		return Range{}, ErrBackwardRange
	}
	return Range{Start: start, End: end}, nil
}

// CheckOffset reports whether offset is a valid boundary offset for n. For
// text nodes it must also not fall inside a surrogate pair.
func CheckOffset(n *html.Node, offset int) error {
	if offset < 0 || offset > Length(n) {
		return fmt.Errorf("%w: %d not within [0,%d]", ErrOffsetOutOfRange, offset, Length(n))
	}
	if n.Type == html.TextNode {
		if _, err := byteOffset(n.Data, offset); err != nil {
			return err
		}
	}
	return nil
}

// Collapsed reports whether start and end are the same point.
func (r Range) Collapsed() bool {
	return r.Start == r.End
}

// CommonAncestor returns the deepest node containing both boundary containers.
func (r Range) CommonAncestor() *html.Node {
	if r.Start.Node == r.End.Node {
		return r.Start.Node
	}
	a, b := ancestors(r.Start.Node), ancestors(r.End.Node)
	var common *html.Node
	for i := 0; i < len(a) && i < len(b) && a[i] == b[i]; i++ {
		common = a[i]
	}
	return common
}

// IntersectsNode reports whether n lies at least partially inside the range.
func (r Range) IntersectsNode(n *html.Node) bool {
	p := n.Parent
	if p == nil {
		return rootOf(n) == rootOf(r.Start.Node)
	}
	off := childIndex(n)
	return ComparePoints(Boundary{Node: p, Offset: off}, r.End) < 0 &&
		ComparePoints(Boundary{Node: p, Offset: off + 1}, r.Start) > 0
}

// ComparePoints orders two boundary points in the same tree: -1 when a is
// before b, 0 when equal, 1 when a is after b.
func ComparePoints(a, b Boundary) int {
	if a.Node == b.Node {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return 0
	}
	if precedes(b.Node, a.Node) {
		return -ComparePoints(b, a)
	}
	if isAncestor(a.Node, b.Node) {
		child := b.Node
		for child.Parent != a.Node {
			child = child.Parent
		}
		if childIndex(child) < a.Offset {
			return 1
		}
	}
	return -1
}

// ancestors returns the chain from the tree root down to n inclusive.
func ancestors(n *html.Node) []*html.Node {
	var chain []*html.Node
	for p := n; p != nil; p = p.Parent {
		chain = append(chain, p)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func rootOf(n *html.Node) *html.Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

func isAncestor(anc, n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == anc {
			return true
		}
	}
	return false
}

// precedes reports whether x comes before y in tree order.
func precedes(x, y *html.Node) bool {
	if x == y {
		return false
	}
	px, py := ancestors(x), ancestors(y)
	if px[0] != py[0] {
		return false
	}
	k := 0
	for k < len(px) && k < len(py) && px[k] == py[k] {
		k++
	}
	switch {
	case k == len(px):
		// x is an ancestor of y.
		return true
	case k == len(py):
		return false
	}
	return childIndex(px[k]) < childIndex(py[k])
}
