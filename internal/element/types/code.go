package types

import (
	"context"
	"html/template"
	"strings"

	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/codec"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/form"
	"github.com/foxzi/certly/internal/surface"
)

// Code display modes
const (
	CodeOnly = "code"
	CodeURL  = "url"
	CodeBoth = "both"
)

var codeDisplayOptions = options(
	CodeOnly, "Code",
	CodeURL, "Verification URL",
	CodeBoth, "Code and verification URL",
)

// Code prints the verification code of the issue
type Code struct{ base }

func NewCode() *Code {
	return &Code{base{typ: "code", title: "Code"}}
}

func (t *Code) field() form.Field {
	return form.Field{Key: "display", Type: form.TypeSelect, Label: "Display", Options: codeDisplayOptions, Default: CodeOnly, Required: true}
}

func (t *Code) FormFields(ctx context.Context, env *element.Env, subject element.Subject) []form.Field {
	return []form.Field{t.field()}
}

func (t *Code) Validate(ctx context.Context, env *element.Env, values form.Values) form.Errors {
	errs := form.Errors{}
	requireOption(errs, values, t.field())
	return errs
}

func (t *Code) code(req *element.Request) (string, error) {
	switch {
	case req.Subject.Issue != nil:
		return req.Subject.Issue.Code, nil
	case req.Preview:
		return certificate.NewCode(req.Env.CodeFormat)
	}
	return "", unavailable("issue")
}

func (t *Code) Render(ctx context.Context, s surface.Surface, req *element.Request) error {
	code, err := t.code(req)
	if err != nil {
		return err
	}
	return req.Text(s, CodeText(req.Payload.String("display"), code, req.Env.VerifyURL))
}

// RenderMarkup links the verification URL in previews
func (t *Code) RenderMarkup(ctx context.Context, req *element.Request) (template.HTML, error) {
	code, err := t.code(req)
	if err != nil {
		return "", err
	}
	display := req.Payload.String("display")
	if req.Env.VerifyURL == "" || display == CodeOnly || display == "" {
		return template.HTML(template.HTMLEscapeString(code)), nil
	}
	link := strings.TrimRight(req.Env.VerifyURL, "/") + "/" + code
	a := `<a href="` + template.HTMLEscapeString(link) + `">` + template.HTMLEscapeString(link) + `</a>`
	if display == CodeBoth {
		return template.HTML(template.HTMLEscapeString(code) + "<br>" + a), nil
	}
	return template.HTML(a), nil
}

func (t *Code) PortableFields(port *element.Port) codec.Fields {
	return codec.Fields{{Key: "display", Codec: codec.Enum{Options: optionValues(codeDisplayOptions)}, Optional: true}}
}

// CodeText formats a code for display. Without a verification URL only the
// code is printed.
func CodeText(display, code, verifyURL string) string {
	if verifyURL == "" {
		return code
	}
	link := strings.TrimRight(verifyURL, "/") + "/" + code
	switch display {
	case CodeURL:
		return link
	case CodeBoth:
		return code + "\n" + link
	}
	return code
}
