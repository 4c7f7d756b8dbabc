package dom

import (
	"fmt"

	"golang.org/x/net/html"
)

// Anchor locates a range by code unit offsets into the concatenated content
// of every text node under the body. Splitting text nodes leaves anchors
// valid, so an anchor taken before a paint can be resolved after it.
type Anchor struct {
	Start, End int
}

// AnchorOf converts r into an anchor. Both boundaries must be text nodes
// under the body.
func (d *Document) AnchorOf(r Range) (Anchor, error) {
	start, err := d.textOffset(r.Start)
	if err != nil {
		return Anchor{}, err
	}
	end, err := d.textOffset(r.End)
	if err != nil {
		return Anchor{}, err
	}
	return Anchor{Start: start, End: end}, nil
}

func (d *Document) textOffset(b Boundary) (int, error) {
	if b.Node == nil || b.Node.Type != html.TextNode {
		return 0, ErrNotText
	}
	pos, found := 0, false
	walkText(d.body, func(n *html.Node) bool {
		if n == b.Node {
			found = true
			return false
		}
		pos += utf16Len(n.Data)
		return true
	})
	if !found {
		return 0, ErrForeignNode
	}
	if err := CheckOffset(b.Node, b.Offset); err != nil {
		return 0, err
	}
	return pos + b.Offset, nil
}

// Resolve maps an anchor back onto the current text nodes. A start falling
// on a node boundary resolves into the following node and an end into the
// preceding one, so the range holds no empty edge fragments.
func (d *Document) Resolve(a Anchor) (Range, error) {
	if a.Start < 0 || a.End < a.Start {
		return Range{}, fmt.Errorf("%w: anchor [%d,%d)", ErrOffsetOutOfRange, a.Start, a.End)
	}
	var start, end Boundary
	pos := 0
	walkText(d.body, func(n *html.Node) bool {
		l := utf16Len(n.Data)
		if start.Node == nil && a.Start < pos+l {
			start = Boundary{Node: n, Offset: a.Start - pos}
		}
		if a.End <= pos+l && (a.End > pos || a.End == a.Start) && start.Node != nil {
			end = Boundary{Node: n, Offset: a.End - pos}
			return false
		}
		pos += l
		return true
	})
	if start.Node == nil || end.Node == nil {
		return Range{}, fmt.Errorf("%w: anchor [%d,%d) past text length", ErrOffsetOutOfRange, a.Start, a.End)
	}
	return NewRange(start.Node, start.Offset, end.Node, end.Offset)
}
