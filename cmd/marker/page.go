package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/starford/marker/internal/agent"
	"github.com/starford/marker/internal/dom"
	"github.com/starford/marker/internal/message"
	"github.com/starford/marker/internal/models"
	"github.com/starford/marker/internal/paint"
)

// pageFlags are shared by the commands that act as the page-side agent.
func pageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Usage:   "Base URL of the marker server",
			Value:   "http://localhost:8080",
			Sources: cli.EnvVars("MARKER_SERVER"),
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Bearer token for the marker API",
			Sources: cli.EnvVars("MARKER_TOKEN"),
		},
		&cli.StringFlag{
			Name:     "page",
			Usage:    "Exact page URI the highlights belong to",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "in",
			Usage:    "HTML file to read",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "out",
			Usage: "Write the highlighted HTML here instead of stdout",
		},
		&cli.StringFlag{
			Name:  "tag",
			Usage: "Highlight wrapper element",
			Value: paint.DefaultTag,
		},
		&cli.StringFlag{
			Name:  "style",
			Usage: "Highlight wrapper inline style",
			Value: paint.DefaultStyle,
		},
	}
}

func renderCommand() *cli.Command {
	return &cli.Command{
		Name:   "render",
		Usage:  "Recover a page's saved highlights into an HTML file",
		Flags:  pageFlags(),
		Action: render,
	}
}

func highlightCommand() *cli.Command {
	flags := append(pageFlags(),
		&cli.StringFlag{
			Name:     "quote",
			Usage:    "Text to select and highlight",
			Required: true,
		},
		&cli.IntFlag{
			Name:  "occurrence",
			Usage: "Which match of --quote to select, starting at 0",
		},
	)
	return &cli.Command{
		Name:   "highlight",
		Usage:  "Select text in an HTML file, save it as a highlight and paint it",
		Flags:  flags,
		Action: highlight,
	}
}

// openPage parses --in and builds an agent talking to --server.
func openPage(cmd *cli.Command) (*dom.Document, *agent.Agent, error) {
	f, err := os.Open(cmd.String("in"))
	if err != nil {
		return nil, nil, fmt.Errorf("open page: %w", err)
	}
	defer f.Close()

	doc, err := dom.Parse(f)
	if err != nil {
		return nil, nil, err
	}

	var copts []message.ClientOption
	if token := cmd.String("token"); token != "" {
		copts = append(copts, message.WithToken(token))
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	a := agent.New(message.NewClient(cmd.String("server"), copts...),
		agent.WithPainter(paint.New(
			paint.WithTag(cmd.String("tag")),
			paint.WithStyle(cmd.String("style")),
			paint.WithLogger(logger),
		)),
		agent.WithLogger(logger),
	)
	return doc, a, nil
}

// output opens --out, or stdout when it is unset.
func output(cmd *cli.Command) (io.WriteCloser, error) {
	out := cmd.String("out")
	if out == "" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(out)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func writePage(cmd *cli.Command, doc *dom.Document) error {
	w, err := output(cmd)
	if err != nil {
		return err
	}
	return errors.Join(doc.Render(w), w.Close())
}

func render(ctx context.Context, cmd *cli.Command) error {
	doc, a, err := openPage(cmd)
	if err != nil {
		return err
	}
	report, err := a.Recover(ctx, doc, cmd.String("page"))
	if err != nil {
		return err
	}
	if err := writePage(cmd, doc); err != nil {
		return err
	}
	return json.NewEncoder(os.Stderr).Encode(report)
}

func highlight(ctx context.Context, cmd *cli.Command) error {
	doc, a, err := openPage(cmd)
	if err != nil {
		return err
	}

	// Existing highlights first, so the new descriptor addresses the tree
	// the page will show on its next load.
	p, _, err := a.Load(ctx, doc, cmd.String("page"))
	if err != nil {
		return err
	}
	r, err := doc.FindText(cmd.String("quote"), int(cmd.Int("occurrence")))
	if err != nil {
		return err
	}
	saved, hlErr := a.HighlightSelection(ctx, p, dom.Selection{r})
	if hlErr != nil && len(saved) == 0 {
		return hlErr
	}
	w, err := output(cmd)
	if err != nil {
		return errors.Join(hlErr, err)
	}
	err = emitHighlighted(w, os.Stderr, doc, saved, hlErr)
	return errors.Join(err, w.Close())
}

// emitHighlighted writes the page and the saved records once at least one
// record was stored, so a failure after the save never hides what the
// server now holds. hlErr is passed through joined with any write failure.
func emitHighlighted(page, records io.Writer, doc *dom.Document, saved []models.HighlightRecord, hlErr error) error {
	if err := doc.Render(page); err != nil {
		return errors.Join(hlErr, err)
	}
	return errors.Join(hlErr, json.NewEncoder(records).Encode(saved))
}
