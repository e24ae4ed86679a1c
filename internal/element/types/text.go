package types

import (
	"context"

	"github.com/foxzi/certly/internal/codec"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/form"
	"github.com/foxzi/certly/internal/surface"
)

// Text is static text
type Text struct{ base }

func NewText() *Text {
	return &Text{base{typ: "text", title: "Text"}}
}

func (t *Text) FormFields(ctx context.Context, env *element.Env, subject element.Subject) []form.Field {
	return []form.Field{{Key: "value", Type: form.TypeTextarea, Label: "Text", Required: true}}
}

func (t *Text) Validate(ctx context.Context, env *element.Env, values form.Values) form.Errors {
	errs := form.Errors{}
	if !values.Has("value") {
		errs.Add("value", "required")
	}
	return errs
}

func (t *Text) Render(ctx context.Context, s surface.Surface, req *element.Request) error {
	return req.Text(s, req.Payload.String("value"))
}

func (t *Text) PortableFields(port *element.Port) codec.Fields {
	return codec.Fields{{Key: "value", Codec: codec.String{AllowEmpty: true}}}
}
