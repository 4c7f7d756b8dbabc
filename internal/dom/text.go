package dom

import (
	"fmt"

	"golang.org/x/net/html"
)

// Offsets into text nodes count UTF-16 code units, the unit DOM Range
// offsets use, so descriptors produced by a browser and by this package agree.

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// byteOffset converts a UTF-16 offset into a byte index of s.
func byteOffset(s string, units int) (int, error) {
	if units < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrOffsetOutOfRange, units)
	}
	u := 0
	for i, r := range s {
		if u == units {
			return i, nil
		}
		if r >= 0x10000 {
			u += 2
		} else {
			u++
		}
		if u > units {
			return 0, fmt.Errorf("%w: offset %d splits a surrogate pair", ErrOffsetOutOfRange, units)
		}
	}
	if u == units {
		return len(s), nil
	}
	return 0, fmt.Errorf("%w: offset %d exceeds length %d", ErrOffsetOutOfRange, units, u)
}

// Length is the DOM length of n: code units for text and comments, child
// count for everything else.
func Length(n *html.Node) int {
	switch n.Type {
	case html.TextNode, html.CommentNode:
		return utf16Len(n.Data)
	}
	count := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		count++
	}
	return count
}

// substring returns the text of n between two code unit offsets.
func substring(n *html.Node, start, end int) (string, error) {
	b0, err := byteOffset(n.Data, start)
	if err != nil {
		return "", err
	}
	b1, err := byteOffset(n.Data, end)
	if err != nil {
		return "", err
	}
	if b1 < b0 {
		return "", fmt.Errorf("%w: end %d before start %d", ErrOffsetOutOfRange, end, start)
	}
	return n.Data[b0:b1], nil
}

// SplitText splits text node n at offset. n keeps the leading part and a new
// text node holding the rest is inserted as n's next sibling, so the
// concatenated content and sibling order are unchanged. The new node is
// returned.
func SplitText(n *html.Node, offset int) (*html.Node, error) {
	if n == nil || n.Type != html.TextNode {
		return nil, ErrNotText
	}
	b, err := byteOffset(n.Data, offset)
	if err != nil {
		return nil, err
	}
	tail := &html.Node{Type: html.TextNode, Data: n.Data[b:]}
	n.Data = n.Data[:b]
	if n.Parent != nil {
		n.Parent.InsertBefore(tail, n.NextSibling)
	}
	return tail, nil
}

// childIndex returns the position of n among its siblings.
func childIndex(n *html.Node) int {
	i := 0
	for c := n.PrevSibling; c != nil; c = c.PrevSibling {
		i++
	}
	return i
}
