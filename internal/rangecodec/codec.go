// Package rangecodec converts live ranges into position descriptors and back.
//
// A descriptor is only meaningful against the text node sequence it was
// encoded from. Decode does not verify that sequence: if text nodes were
// inserted, removed or shortened since encoding, the decoded range silently
// addresses different text. Painting a highlight splits text nodes, so a
// descriptor encoded after earlier highlights were painted must be decoded
// only after those same highlights have been painted again, in order.
package rangecodec

import (
	"fmt"

	"golang.org/x/net/html"

	"github.com/starford/marker/internal/apperr"
	"github.com/starford/marker/internal/dom"
	"github.com/starford/marker/internal/models"
)

// Encode resolves both boundary containers to text node ordinals and copies
// the offsets. It fails with apperr.ErrAddressing when a container is not a
// text node reachable from the document body.
func Encode(doc *dom.Document, r dom.Range) (models.PositionDescriptor, error) {
	start, err := ordinal(doc, r.Start.Node, "start")
	if err != nil {
		return models.PositionDescriptor{}, err
	}
	end, err := ordinal(doc, r.End.Node, "end")
	if err != nil {
		return models.PositionDescriptor{}, err
	}
	return models.PositionDescriptor{
		StartNodeIndex: start,
		StartOffset:    r.Start.Offset,
		EndNodeIndex:   end,
		EndOffset:      r.End.Offset,
	}, nil
}

func ordinal(doc *dom.Document, n *html.Node, which string) (int, error) {
	if n == nil || n.Type != html.TextNode {
		return -1, fmt.Errorf("%w: %s container is not a text node", apperr.ErrAddressing, which)
	}
	idx := doc.IndexOf(n)
	if idx < 0 {
		return -1, fmt.Errorf("%w: %s container not found in document", apperr.ErrAddressing, which)
	}
	return idx, nil
}

// Decode resolves a descriptor against the current tree. When either
// ordinal is out of range, or an offset no longer fits its node, no range is
// returned and the error wraps apperr.ErrReconstruction.
func Decode(doc *dom.Document, p models.PositionDescriptor) (dom.Range, error) {
	start, ok := doc.NodeAt(p.StartNodeIndex)
	if !ok {
		return dom.Range{}, fmt.Errorf("%w: start node %d not present", apperr.ErrReconstruction, p.StartNodeIndex)
	}
	end, ok := doc.NodeAt(p.EndNodeIndex)
	if !ok {
		return dom.Range{}, fmt.Errorf("%w: end node %d not present", apperr.ErrReconstruction, p.EndNodeIndex)
	}
	r, err := dom.NewRange(start, p.StartOffset, end, p.EndOffset)
	if err != nil {
		return dom.Range{}, fmt.Errorf("%w: %w", apperr.ErrReconstruction, err)
	}
	return r, nil
}
