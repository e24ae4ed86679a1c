// Package render walks a template and draws every element onto a surface.
// A failing element is logged and left empty; its siblings still render.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/codec"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/metrics"
	"github.com/foxzi/certly/internal/surface"
)

// Options configures rendered documents
type Options struct {
	Author  string
	Creator string
	// FileURL maps file ids to URLs in preview markup
	FileURL func(key string) string
}

// Failure describes an element that rendered empty
type Failure struct {
	PageID    string
	ElementID string
	Type      string
	Err       error
}

// Report summarises one render
type Report struct {
	Pages    int
	Elements int
	Failures []Failure
}

// Renderer draws templates
type Renderer struct {
	registry *element.Registry
	env      *element.Env
	opts     Options
	logger   *slog.Logger
}

// New creates a renderer over the registered element types
func New(registry *element.Registry, env *element.Env, opts Options, logger *slog.Logger) *Renderer {
	return &Renderer{
		registry: registry,
		env:      env,
		opts:     opts,
		logger:   logger.With("component", "render"),
	}
}

// PDF renders every page of tmpl for subject and writes the document to w
func (r *Renderer) PDF(ctx context.Context, tmpl *certificate.Template, subject element.Subject, preview bool, w io.Writer) (*Report, error) {
	start := time.Now()
	s := surface.NewPDF(surface.PDFOptions{
		Title:   tmpl.Name,
		Author:  r.opts.Author,
		Creator: r.opts.Creator,
	})

	rep, err := r.walk(ctx, s, tmpl, tmpl.OrderedPages(), subject, preview)
	if err != nil {
		return rep, err
	}
	if err := s.Write(w); err != nil {
		return rep, fmt.Errorf("failed to write pdf: %w", err)
	}

	metrics.ObserveRender("pdf", time.Since(start).Seconds())
	return rep, nil
}

// Markup renders preview HTML for the position editor. An empty pageID
// renders all pages.
func (r *Renderer) Markup(ctx context.Context, tmpl *certificate.Template, pageID string, w io.Writer) (*Report, error) {
	start := time.Now()
	pages := tmpl.OrderedPages()
	if pageID != "" {
		page, err := tmpl.Page(pageID)
		if err != nil {
			return nil, err
		}
		pages = []*certificate.Page{page}
	}

	s := surface.NewMarkup(r.opts.FileURL)
	rep, err := r.walk(ctx, s, tmpl, pages, element.Subject{}, true)
	if err != nil {
		return rep, err
	}
	if err := s.Write(w); err != nil {
		return rep, fmt.Errorf("failed to write markup: %w", err)
	}

	metrics.ObserveRender("markup", time.Since(start).Seconds())
	return rep, nil
}

func (r *Renderer) walk(ctx context.Context, s surface.Surface, tmpl *certificate.Template, pages []*certificate.Page, subject element.Subject, preview bool) (*Report, error) {
	rep := &Report{}
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		w, h := page.Width, page.Height
		if w <= 0 || h <= 0 {
			w, h = certificate.DefaultPageWidth, certificate.DefaultPageHeight
		}
		if err := s.AddPage(w, h, page.LeftMargin, page.RightMargin); err != nil {
			return rep, fmt.Errorf("failed to add page %s: %w", page.ID, err)
		}
		rep.Pages++

		for _, e := range page.OrderedElements() {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			rep.Elements++

			err := r.drawElement(ctx, s, page, e, subject, preview)
			if err == nil {
				continue
			}
			if element.IsStoreError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return rep, fmt.Errorf("failed to render element %s: %w", e.ID, err)
			}
			r.fail(ctx, rep, tmpl, page, e, err)
		}
	}
	return rep, nil
}

func (r *Renderer) drawElement(ctx context.Context, s surface.Surface, page *certificate.Page, e *certificate.Element, subject element.Subject, preview bool) error {
	h, err := r.registry.Get(e.Type)
	if err != nil {
		return codec.Recoverable("type", "%v", err)
	}
	req := element.NewRequest(r.env, page, e, subject, preview)
	return element.Draw(ctx, h, s, req)
}

func (r *Renderer) fail(ctx context.Context, rep *Report, tmpl *certificate.Template, page *certificate.Page, e *certificate.Element, err error) {
	rep.Failures = append(rep.Failures, Failure{PageID: page.ID, ElementID: e.ID, Type: e.Type, Err: err})
	metrics.IncElementRenderFailure(e.Type)

	level := slog.LevelWarn
	if codec.IsFatal(err) || !codec.IsFormat(err) {
		level = slog.LevelError
	}
	r.logger.Log(ctx, level, "element left empty",
		"template_id", tmpl.ID,
		"page_id", page.ID,
		"element_id", e.ID,
		"type", e.Type,
		"error", err,
	)
}
