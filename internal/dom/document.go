// Package dom is a small document model over golang.org/x/net/html: a document
// handle, a text-node indexer, DOM-style ranges and the splitText primitive
// that highlighting needs.
//
// A Document is not safe for concurrent use. Every operation that reads text
// node ordinals must observe the same tree as the operation that produced
// them, so callers own a Document exclusively for the duration of an
// encode, decode or paint pass.
package dom

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	ErrNoBody           = errors.New("dom: document has no body")
	ErrNotText          = errors.New("dom: node is not a text node")
	ErrOffsetOutOfRange = errors.New("dom: offset out of range")
	ErrBackwardRange    = errors.New("dom: range end precedes start")
	ErrForeignNode      = errors.New("dom: node does not belong to document")
	ErrQuoteNotFound    = errors.New("dom: quote not found")
)

// Document is an explicit handle to one parsed HTML tree.
type Document struct {
	root *html.Node
	body *html.Node
}

// Parse parses an HTML document from r.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return NewDocument(root)
}

// ParseString parses an HTML document held in s.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// NewDocument wraps an already parsed tree. The tree must contain a body element.
func NewDocument(root *html.Node) (*Document, error) {
	if root == nil {
		return nil, ErrNoBody
	}
	body := findBody(root)
	if body == nil {
		return nil, ErrNoBody
	}
	return &Document{root: root, body: body}, nil
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Body returns the body element, the traversal root for text node ordinals.
func (d *Document) Body() *html.Node { return d.body }

// Contains reports whether n is attached to this document's tree.
func (d *Document) Contains(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

// Render writes the whole document as HTML.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// String renders the document, returning an empty string on render failure.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// BodyHTML renders only the children of the body element.
func (d *Document) BodyHTML() string {
	var buf bytes.Buffer
	for c := d.body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return ""
		}
	}
	return buf.String()
}
