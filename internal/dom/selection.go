package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Selection is an ordered set of ranges chosen by a user.
type Selection []Range

type textSpan struct {
	node       *html.Node
	start, end int // byte span inside the concatenated text
}

// FindText selects the nth (0-based) occurrence of quote in the body's
// visible text. The match may span several text nodes; the returned range
// starts in the node holding the first matched character and ends in the
// node holding the last one.
func (d *Document) FindText(quote string, nth int) (Range, error) {
	if quote == "" {
		return Range{}, fmt.Errorf("%w: empty quote", ErrQuoteNotFound)
	}
	if nth < 0 {
		return Range{}, fmt.Errorf("%w: negative occurrence %d", ErrQuoteNotFound, nth)
	}

	var (
		full  strings.Builder
		spans []textSpan
	)
	walkText(d.body, func(n *html.Node) bool {
		if n.Parent != nil && isRawText(n.Parent) {
			return true
		}
		start := full.Len()
		full.WriteString(n.Data)
		spans = append(spans, textSpan{node: n, start: start, end: full.Len()})
		return true
	})

	text := full.String()
	pos, from := -1, 0
	for i := 0; i <= nth; i++ {
		idx := strings.Index(text[from:], quote)
		if idx < 0 {
			return Range{}, fmt.Errorf("%w: %q occurrence %d", ErrQuoteNotFound, quote, nth)
		}
		pos = from + idx
		from = pos + 1
	}
	end := pos + len(quote)

	var startB, endB Boundary
	for _, s := range spans {
		if startB.Node == nil && pos >= s.start && pos < s.end {
			startB = Boundary{Node: s.node, Offset: utf16Len(s.node.Data[:pos-s.start])}
		}
		if end > s.start && end <= s.end {
			endB = Boundary{Node: s.node, Offset: utf16Len(s.node.Data[:end-s.start])}
			break
		}
	}
	if startB.Node == nil || endB.Node == nil {
		return Range{}, fmt.Errorf("%w: %q", ErrQuoteNotFound, quote)
	}
	return NewRange(startB.Node, startB.Offset, endB.Node, endB.Offset)
}

func isRawText(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Template, atom.Noscript:
		return true
	}
	return false
}
