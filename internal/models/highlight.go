// Package models defines the domain types for marker.
package models

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// PositionDescriptor addresses a range by text node ordinals and offsets.
// Offsets count UTF-16 code units within the addressed node's content at
// encode time. A descriptor never spans backward.
type PositionDescriptor struct {
	StartNodeIndex int `json:"start_node_index"`
	StartOffset    int `json:"start_offset"`
	EndNodeIndex   int `json:"end_node_index"`
	EndOffset      int `json:"end_offset"`
}

// Validate checks field ranges and the forward-span invariant.
func (p PositionDescriptor) Validate() error {
	if err := validation.ValidateStruct(&p,
		validation.Field(&p.StartNodeIndex, validation.Min(0)),
		validation.Field(&p.StartOffset, validation.Min(0)),
		validation.Field(&p.EndNodeIndex, validation.Min(0)),
		validation.Field(&p.EndOffset, validation.Min(0)),
	); err != nil {
		return err
	}
	if p.StartNodeIndex > p.EndNodeIndex ||
		(p.StartNodeIndex == p.EndNodeIndex && p.StartOffset > p.EndOffset) {
		return errors.New("position spans backward")
	}
	return nil
}

// HighlightRecord is one persisted highlight. Markup captures how the
// selected content looked; re-highlighting is driven by Position only.
type HighlightRecord struct {
	ID        string             `json:"id,omitempty"`
	Markup    string             `json:"markup"`
	Text      string             `json:"text,omitempty"`
	Position  PositionDescriptor `json:"position"`
	CreatedAt time.Time          `json:"created_at"`
}

// Validate validates the record's position.
func (r HighlightRecord) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Position),
	)
}

// PageSummary is a lightweight view of one page's highlight list.
type PageSummary struct {
	Key       string    `json:"key"`
	Checksum  string    `json:"checksum"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}
