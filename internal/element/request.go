package element

import (
	"context"
	"errors"
	"fmt"

	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/codec"
	"github.com/foxzi/certly/internal/filestore"
	"github.com/foxzi/certly/internal/lms"
	"github.com/foxzi/certly/internal/payload"
	"github.com/foxzi/certly/internal/surface"
)

// Style defaults for elements that never set them
const (
	DefaultFont     = "helvetica"
	DefaultFontSize = 12
	DefaultColour   = "#000000"
)

// Style is the effective visual style of an element
type Style struct {
	Font     string
	FontSize float64
	Colour   string
	Width    float64
}

// EffectiveStyle resolves the style of an element. Overrides stored in the
// payload win over the element row.
func EffectiveStyle(e *certificate.Element, p payload.Payload) Style {
	st := Style{
		Font:     e.Font,
		FontSize: e.FontSize,
		Colour:   e.Colour,
		Width:    e.Width,
	}
	if v := p.String("font"); v != "" {
		st.Font = v
	}
	if v, ok := p.Float("fontsize"); ok && v > 0 {
		st.FontSize = v
	}
	if v := p.String("colour"); v != "" {
		st.Colour = v
	}
	if v, ok := p.Float("width"); ok && v > 0 {
		st.Width = v
	}
	if st.Font == "" {
		st.Font = DefaultFont
	}
	if st.FontSize <= 0 {
		st.FontSize = DefaultFontSize
	}
	if st.Colour == "" {
		st.Colour = DefaultColour
	}
	return st
}

// Request is everything a type needs to render one element
type Request struct {
	Element *certificate.Element
	Page    *certificate.Page
	Payload payload.Payload
	Style   Style
	Preview bool
	Subject Subject
	Env     *Env
}

// NewRequest parses the stored payload once and resolves the style
func NewRequest(env *Env, page *certificate.Page, e *certificate.Element, subject Subject, preview bool) *Request {
	p := payload.Parse(e.Data)
	return &Request{
		Element: e,
		Page:    page,
		Payload: p,
		Style:   EffectiveStyle(e, p),
		Preview: preview,
		Subject: subject,
		Env:     env,
	}
}

// Box returns the element's position and style on the page
func (r *Request) Box() surface.Box {
	align := r.Element.Alignment
	if align == "" {
		align = "L"
	}
	return surface.Box{
		ElementID: r.Element.ID,
		X:         r.Element.PosX,
		Y:         r.Element.PosY,
		Width:     r.Style.Width,
		RefPoint:  r.Element.RefPoint,
		Align:     align,
		Style: surface.Style{
			Font:   r.Style.Font,
			Size:   r.Style.FontSize,
			Colour: r.Style.Colour,
		},
	}
}

// Text draws text in the element's box. Empty text draws nothing.
func (r *Request) Text(s surface.Surface, text string) error {
	if text == "" {
		return nil
	}
	return s.Text(r.Box(), text)
}

// Draw renders one element onto s. Markup surfaces use the preview
// renderer when the type has one.
func Draw(ctx context.Context, h Handler, s surface.Surface, req *Request) error {
	if m, ok := s.(*surface.Markup); ok {
		if pr, ok := h.(PreviewRenderer); ok {
			html, err := pr.RenderMarkup(ctx, req)
			if err != nil || html == "" {
				return err
			}
			return m.Fragment(req.Box(), html)
		}
	}
	r, ok := h.(Renderer)
	if !ok {
		return nil
	}
	return r.Render(ctx, s, req)
}

// StoreError marks a failure of a backing store, as opposed to a missing
// record. It aborts the whole operation.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string {
	return "store failure: " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err carries a StoreError
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// Lookup classifies a failed lookup of what. Missing records become a
// recoverable format exception; anything else is a store failure.
func Lookup(what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, lms.ErrNotFound) || errors.Is(err, filestore.ErrNotFound) || errors.Is(err, certificate.ErrNotFound) {
		return codec.Recoverable(what, "%v", err)
	}
	return &StoreError{Err: fmt.Errorf("%s: %w", what, err)}
}
