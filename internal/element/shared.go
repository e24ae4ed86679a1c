package element

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/codec"
	"github.com/foxzi/certly/internal/form"
	"github.com/foxzi/certly/internal/payload"
	"github.com/foxzi/certly/internal/surface"
)

// Shared visual controls
const (
	ControlPosX      = "posx"
	ControlPosY      = "posy"
	ControlFont      = "font"
	ControlFontSize  = "fontsize"
	ControlColour    = "colour"
	ControlWidth     = "width"
	ControlRefPoint  = "refpoint"
	ControlAlignment = "alignment"
)

// AllControls is the full set of shared controls in form order
var AllControls = []string{
	ControlFont, ControlFontSize, ControlColour,
	ControlPosX, ControlPosY, ControlWidth,
	ControlRefPoint, ControlAlignment,
}

const maxFontSize = 200

// ControlsOf returns the shared controls a type uses
func ControlsOf(h Handler) []string {
	if c, ok := h.(Controlled); ok {
		return c.Controls()
	}
	return AllControls
}

// FormFields returns the shared form fields for controls
func FormFields(controls []string) []form.Field {
	var fields []form.Field
	for _, c := range AllControls {
		if !slices.Contains(controls, c) {
			continue
		}
		switch c {
		case ControlFont:
			opts := make([]form.Option, 0, len(surface.Fonts))
			for _, f := range surface.Fonts {
				opts = append(opts, form.Option{Value: f, Label: f})
			}
			fields = append(fields, form.Field{Key: c, Type: form.TypeSelect, Label: "Font", Options: opts, Default: DefaultFont})
		case ControlFontSize:
			fields = append(fields, form.Field{Key: c, Type: form.TypeNumber, Label: "Font size", Default: strconv.Itoa(DefaultFontSize), Min: codec.Ptr(1), Max: codec.Ptr(maxFontSize)})
		case ControlColour:
			fields = append(fields, form.Field{Key: c, Type: form.TypeColour, Label: "Font colour", Default: DefaultColour})
		case ControlPosX:
			fields = append(fields, form.Field{Key: c, Type: form.TypeNumber, Label: "Position X", Help: "Millimetres from the left edge", Default: "0", Min: codec.Ptr(0)})
		case ControlPosY:
			fields = append(fields, form.Field{Key: c, Type: form.TypeNumber, Label: "Position Y", Help: "Millimetres from the top edge", Default: "0", Min: codec.Ptr(0)})
		case ControlWidth:
			fields = append(fields, form.Field{Key: c, Type: form.TypeNumber, Label: "Width", Help: "0 sizes the element to its content", Default: "0", Min: codec.Ptr(0)})
		case ControlRefPoint:
			fields = append(fields, form.Field{Key: c, Type: form.TypeSelect, Label: "Reference point", Default: strconv.Itoa(certificate.RefTopCenter), Options: []form.Option{
				{Value: strconv.Itoa(certificate.RefTopLeft), Label: "Top left"},
				{Value: strconv.Itoa(certificate.RefTopCenter), Label: "Top center"},
				{Value: strconv.Itoa(certificate.RefTopRight), Label: "Top right"},
			}})
		case ControlAlignment:
			fields = append(fields, form.Field{Key: c, Type: form.TypeSelect, Label: "Alignment", Default: "L", Options: []form.Option{
				{Value: "L", Label: "Left"},
				{Value: "C", Label: "Centre"},
				{Value: "R", Label: "Right"},
			}})
		}
	}
	return fields
}

// Schema returns the full form of a type: the name, the type's own fields
// and the shared controls.
func Schema(ctx context.Context, h Handler, env *Env, subject Subject) []form.Field {
	fields := []form.Field{{Key: "name", Type: form.TypeText, Label: "Element name", Default: h.Title(), Required: true}}
	if fp, ok := h.(FormProvider); ok {
		fields = append(fields, fp.FormFields(ctx, env, subject)...)
	}
	return append(fields, FormFields(ControlsOf(h))...)
}

// Validate runs the shared checks once and then the type's own. page
// bounds the position when given.
func Validate(ctx context.Context, h Handler, env *Env, page *certificate.Page, values form.Values) form.Errors {
	errs := form.Errors{}
	controls := ControlsOf(h)

	number := func(key string, min, max float64) {
		if !slices.Contains(controls, key) {
			return
		}
		v, ok, err := values.Number(key)
		if err != nil {
			errs.Add(key, "must be a number")
			return
		}
		if !ok {
			return
		}
		if v < min {
			errs.Add(key, fmt.Sprintf("must be at least %s", strconv.FormatFloat(min, 'f', -1, 64)))
		} else if max > 0 && v > max {
			errs.Add(key, fmt.Sprintf("must be at most %s", strconv.FormatFloat(max, 'f', -1, 64)))
		}
	}

	var maxX, maxY float64
	if page != nil {
		maxX, maxY = page.Width, page.Height
	}
	number(ControlPosX, 0, maxX)
	number(ControlPosY, 0, maxY)
	number(ControlWidth, 0, maxX)
	number(ControlFontSize, 1, maxFontSize)

	if slices.Contains(controls, ControlColour) && values.Has(ControlColour) && !surface.ValidColour(values.Get(ControlColour)) {
		errs.Add(ControlColour, "must be a colour like #336699")
	}
	if slices.Contains(controls, ControlFont) && values.Has(ControlFont) && !slices.Contains(surface.Fonts, values.Get(ControlFont)) {
		errs.Add(ControlFont, "unknown font")
	}
	if slices.Contains(controls, ControlRefPoint) && values.Has(ControlRefPoint) {
		switch values.Get(ControlRefPoint) {
		case "0", "1", "2":
		default:
			errs.Add(ControlRefPoint, "must be 0, 1 or 2")
		}
	}
	if slices.Contains(controls, ControlAlignment) && values.Has(ControlAlignment) {
		switch values.Get(ControlAlignment) {
		case "L", "C", "R":
		default:
			errs.Add(ControlAlignment, "must be L, C or R")
		}
	}

	if v, ok := h.(Validator); ok {
		errs.Merge(v.Validate(ctx, env, values))
	}
	return errs
}

// Normalise turns form values into a payload, using the type's normaliser
// when it has one. Without one every declared form field with a value is
// stored as text.
func Normalise(ctx context.Context, h Handler, env *Env, values form.Values, current payload.Payload) (payload.Payload, error) {
	if n, ok := h.(Normaliser); ok {
		return n.Normalise(ctx, values, current)
	}
	p := payload.Payload{}
	fp, ok := h.(FormProvider)
	if !ok {
		return p, nil
	}
	for _, f := range fp.FormFields(ctx, env, Subject{}) {
		if values.Has(f.Key) {
			p[f.Key] = values.Get(f.Key)
		}
	}
	return p, nil
}

// Apply validates submitted values and writes them onto e: the shared
// controls go to the element row, the type's payload is normalised and
// the submitted visual overrides are folded into it.
func Apply(ctx context.Context, h Handler, env *Env, page *certificate.Page, e *certificate.Element, values form.Values) error {
	if err := Validate(ctx, h, env, page, values).Err(); err != nil {
		return err
	}

	e.Type = h.Type()
	if values.Has("name") {
		e.Name = values.Get("name")
	} else if e.Name == "" {
		e.Name = h.Title()
	}

	var o payload.Overrides
	controls := ControlsOf(h)
	for _, c := range controls {
		if !values.Has(c) {
			continue
		}
		v := values.Get(c)
		f, _ := form.ParseNumber(v)
		switch c {
		case ControlPosX:
			e.PosX = f
		case ControlPosY:
			e.PosY = f
		case ControlRefPoint:
			e.RefPoint = int(f)
		case ControlAlignment:
			e.Alignment = v
		case ControlWidth:
			e.Width = f
			o.Width = f
		case ControlFont:
			e.Font = v
			o.Font = v
		case ControlFontSize:
			e.FontSize = f
			o.FontSize = f
		case ControlColour:
			e.Colour = v
			o.Colour = v
		}
	}

	p, err := Normalise(ctx, h, env, values, payload.Parse(e.Data))
	if err != nil {
		return err
	}
	for _, key := range []string{ControlWidth, ControlFont, ControlFontSize, ControlColour} {
		delete(p, key)
	}
	data, err := p.Encode()
	if err != nil {
		return err
	}
	if out := payload.Migrate(&data, o); out != nil {
		data = *out
	}
	e.Data = data
	e.SchemaVersion = payload.SchemaVersion
	return nil
}
