package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/starford/marker/internal/dom"
	"github.com/starford/marker/internal/models"
)

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestEmitHighlightedAfterPaintFailure(t *testing.T) {
	doc, err := dom.ParseString("<html><head></head><body><p>Hello world</p></body></html>")
	if err != nil {
		t.Fatal(err)
	}
	paintErr := errors.New("paint: detached range")
	saved := []models.HighlightRecord{{ID: "h1", Markup: "world"}}

	var page, records bytes.Buffer
	err = emitHighlighted(&page, &records, doc, saved, paintErr)
	if !errors.Is(err, paintErr) {
		t.Errorf("err = %v, want the paint failure", err)
	}
	if !strings.Contains(page.String(), "<p>Hello world</p>") {
		t.Errorf("page not written: %q", page.String())
	}
	if !strings.Contains(records.String(), `"id":"h1"`) {
		t.Errorf("saved records not written: %q", records.String())
	}
}

func TestEmitHighlightedJoinsWriteFailure(t *testing.T) {
	doc, err := dom.ParseString("<html><head></head><body><p>x</p></body></html>")
	if err != nil {
		t.Fatal(err)
	}
	paintErr := errors.New("paint failed")
	writeErr := errors.New("disk full")

	var records bytes.Buffer
	err = emitHighlighted(failingWriter{writeErr}, &records, doc, []models.HighlightRecord{{ID: "h1"}}, paintErr)
	if !errors.Is(err, paintErr) || !errors.Is(err, writeErr) {
		t.Errorf("err = %v, want both failures", err)
	}
}

func TestEmitHighlightedClean(t *testing.T) {
	doc, err := dom.ParseString("<html><head></head><body><p>x</p></body></html>")
	if err != nil {
		t.Fatal(err)
	}
	var page, records bytes.Buffer
	if err := emitHighlighted(&page, &records, doc, []models.HighlightRecord{{ID: "h1"}}, nil); err != nil {
		t.Errorf("err = %v", err)
	}
}
