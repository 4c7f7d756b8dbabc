// Package paint applies visual highlights to a document by splitting text
// nodes at range boundaries and wrapping the selected fragments in a styled
// inline element.
package paint

import (
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/starford/marker/internal/apperr"
	"github.com/starford/marker/internal/dom"
)

const (
	DefaultTag   = "a"
	DefaultStyle = "background:yellow;width:fit-content"
)

// Option configures a Painter.
type Option func(*Painter)

// WithTag sets the wrapper element name.
func WithTag(tag string) Option {
	return func(p *Painter) {
		if tag != "" {
			p.tag = tag
		}
	}
}

// WithStyle sets the wrapper's inline style.
func WithStyle(style string) Option {
	return func(p *Painter) {
		if style != "" {
			p.style = style
		}
	}
}

// WithLogger sets the logger used to report unsupported ranges.
func WithLogger(l *slog.Logger) Option {
	return func(p *Painter) {
		if l != nil {
			p.logger = l
		}
	}
}

// Painter wraps selected text in highlight elements.
type Painter struct {
	tag    string
	style  string
	logger *slog.Logger
}

// New creates a Painter with the default yellow inline wrapper.
func New(opts ...Option) *Painter {
	p := &Painter{tag: DefaultTag, style: DefaultStyle, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result describes one paint pass.
type Result struct {
	// Wrapped holds the inserted wrapper elements in document order.
	Wrapped []*html.Node
	// Whitespace counts selected fragments left unwrapped because their
	// content is entirely whitespace.
	Whitespace int
}

// Paint highlights every text fragment r covers in doc. The range is
// validated before the tree is touched; an invalid range or an unsupported
// common ancestor leaves doc unchanged.
func (p *Painter) Paint(doc *dom.Document, r dom.Range) (Result, error) {
	if r.Start.Node == nil || r.End.Node == nil || !doc.Contains(r.Start.Node) || !doc.Contains(r.End.Node) {
		return Result{}, fmt.Errorf("paint: %w", dom.ErrForeignNode)
	}
	if _, err := dom.NewRange(r.Start.Node, r.Start.Offset, r.End.Node, r.End.Offset); err != nil {
		return Result{}, fmt.Errorf("paint: %w", err)
	}

	root := r.CommonAncestor()
	var targets []*html.Node
	switch {
	case root.FirstChild != nil:
		for _, n := range dom.TextNodesUnder(root) {
			if r.IntersectsNode(n) {
				targets = append(targets, n)
			}
		}
	case root.Type == html.TextNode:
		targets = []*html.Node{root}
	default:
		p.logger.Warn("paint: cannot process range",
			slog.String("ancestor", describe(root)))
		return Result{}, fmt.Errorf("%w: common ancestor <%s> has no children", apperr.ErrUnsupportedRangeShape, describe(root))
	}
	if r.Collapsed() {
		return Result{}, nil
	}

	// All pieces are isolated before wrapping so wrapping never changes a
	// node a later split still needs.
	pieces := make([]*html.Node, 0, len(targets))
	for _, n := range targets {
		piece, err := SplitIfNecessary(n, r)
		if err != nil {
			return Result{}, fmt.Errorf("paint: split: %w", err)
		}
		if piece != nil {
			pieces = append(pieces, piece)
		}
	}

	var res Result
	for _, n := range pieces {
		if strings.TrimSpace(n.Data) == "" {
			res.Whitespace++
			continue
		}
		parent := n.Parent
		if parent == nil {
			continue
		}
		w := p.wrapper()
		w.AppendChild(&html.Node{Type: html.TextNode, Data: n.Data})
		parent.InsertBefore(w, n)
		parent.RemoveChild(n)
		res.Wrapped = append(res.Wrapped, w)
	}
	return res, nil
}

func (p *Painter) wrapper() *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Lookup([]byte(p.tag)),
		Data:     p.tag,
		Attr:     []html.Attribute{{Key: "style", Val: p.style}},
	}
}

func describe(n *html.Node) string {
	switch n.Type {
	case html.ElementNode:
		return n.Data
	case html.CommentNode:
		return "#comment"
	case html.DocumentNode:
		return "#document"
	}
	return "#node"
}
