package paint

import (
	"golang.org/x/net/html"

	"github.com/starford/marker/internal/dom"
)

// SplitIfNecessary isolates the part of text node n that r selects and
// returns it as its own node. n is split only at offsets strictly inside its
// content, so the resulting fragment count is 1, 2 or 3 and the fragments,
// read left to right, reproduce n's original content in place.
//
// A nil node is returned when r selects no characters of n (a collapsed
// selection inside n, or a boundary sitting at n's very end or start).
func SplitIfNecessary(n *html.Node, r dom.Range) (*html.Node, error) {
	if n == nil || n.Type != html.TextNode {
		return nil, dom.ErrNotText
	}
	isStart := n == r.Start.Node
	isEnd := n == r.End.Node
	length := dom.Length(n)

	switch {
	case isStart && isEnd:
		s, e := r.Start.Offset, r.End.Offset
		if s == e {
			return nil, nil
		}
		piece := n
		if s > 0 {
			tail, err := dom.SplitText(n, s)
			if err != nil {
				return nil, err
			}
			piece = tail
		}
		if e < length {
			if _, err := dom.SplitText(piece, e-s); err != nil {
				return nil, err
			}
		}
		return piece, nil

	case isStart:
		s := r.Start.Offset
		switch {
		case s == 0:
			return n, nil
		case s >= length:
			return nil, nil
		}
		return dom.SplitText(n, s)

	case isEnd:
		e := r.End.Offset
		switch {
		case e >= length:
			return n, nil
		case e == 0:
			return nil, nil
		}
		if _, err := dom.SplitText(n, e); err != nil {
			return nil, err
		}
		return n, nil
	}
	return n, nil
}
