package dom

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// clip returns the code unit span of text node n that lies inside the range.
func (r Range) clip(n *html.Node) (start, end int) {
	start, end = 0, Length(n)
	if n == r.Start.Node {
		start = r.Start.Offset
	}
	if n == r.End.Node {
		end = r.End.Offset
	}
	return start, end
}

func (r Range) clipText(n *html.Node) (string, error) {
	start, end := r.clip(n)
	return substring(n, start, end)
}

// Text returns the plain text the range covers.
func (r Range) Text() (string, error) {
	root := r.CommonAncestor()
	if root == nil {
		return "", ErrForeignNode
	}
	if root.Type == html.TextNode {
		return r.clipText(root)
	}
	var (
		b   strings.Builder
		err error
	)
	walkText(root, func(n *html.Node) bool {
		if !r.IntersectsNode(n) {
			return true
		}
		var s string
		if s, err = r.clipText(n); err != nil {
			return false
		}
		b.WriteString(s)
		return true
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// Markup serializes a copy of the range's contents as an HTML fragment, the
// way cloneContents followed by innerHTML does in a browser. Partially
// selected elements are cloned with only their selected descendants.
func (r Range) Markup() (string, error) {
	root := r.CommonAncestor()
	if root == nil {
		return "", ErrForeignNode
	}
	var buf bytes.Buffer
	if root.Type == html.TextNode {
		s, err := r.clipText(root)
		if err != nil {
			return "", err
		}
		if err := html.Render(&buf, &html.Node{Type: html.TextNode, Data: s}); err != nil {
			return "", fmt.Errorf("dom: render markup: %w", err)
		}
		return buf.String(), nil
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		clone, err := r.cloneWithin(c)
		if err != nil {
			return "", err
		}
		if clone == nil {
			continue
		}
		if err := html.Render(&buf, clone); err != nil {
			return "", fmt.Errorf("dom: render markup: %w", err)
		}
	}
	return buf.String(), nil
}

func (r Range) cloneWithin(n *html.Node) (*html.Node, error) {
	if !r.IntersectsNode(n) {
		return nil, nil
	}
	switch n.Type {
	case html.TextNode:
		s, err := r.clipText(n)
		if err != nil {
			return nil, err
		}
		return &html.Node{Type: html.TextNode, Data: s}, nil
	case html.ElementNode:
		clone := shallowClone(n)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			cc, err := r.cloneWithin(c)
			if err != nil {
				return nil, err
			}
			if cc != nil {
				clone.AppendChild(cc)
			}
		}
		return clone, nil
	}
	return shallowClone(n), nil
}

func shallowClone(n *html.Node) *html.Node {
	attrs := make([]html.Attribute, len(n.Attr))
	copy(attrs, n.Attr)
	return &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      attrs,
	}
}
