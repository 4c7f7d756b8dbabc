package dom

import "golang.org/x/net/html"

// walkText visits the text nodes below root in depth-first document order,
// the order a tree walker filtered to text nodes yields. Visiting stops when
// fn returns false.
func walkText(root *html.Node, fn func(*html.Node) bool) bool {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			if !fn(c) {
				return false
			}
			continue
		}
		if !walkText(c, fn) {
			return false
		}
	}
	return true
}

// TextNodes returns every text node under the body in document order.
func (d *Document) TextNodes() []*html.Node {
	return TextNodesUnder(d.body)
}

// TextNodesUnder returns the text nodes below root in document order.
func TextNodesUnder(root *html.Node) []*html.Node {
	var out []*html.Node
	walkText(root, func(n *html.Node) bool {
		out = append(out, n)
		return true
	})
	return out
}

// IndexOf returns the ordinal of the text node identical to n, or -1 when n
// is not a text node under the body. Callers must treat -1 as a failure.
func (d *Document) IndexOf(n *html.Node) int {
	if n == nil || n.Type != html.TextNode {
		return -1
	}
	index, i := -1, 0
	walkText(d.body, func(cur *html.Node) bool {
		if cur == n {
			index = i
			return false
		}
		i++
		return true
	})
	return index
}

// NodeAt returns the text node at ordinal index. The second result is false
// when index is negative or not below the current text node count.
func (d *Document) NodeAt(index int) (*html.Node, bool) {
	if index < 0 {
		return nil, false
	}
	var found *html.Node
	i := 0
	walkText(d.body, func(cur *html.Node) bool {
		if i == index {
			found = cur
			return false
		}
		i++
		return true
	})
	return found, found != nil
}
