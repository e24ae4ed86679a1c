package types

import (
	"context"
	"errors"

	"github.com/foxzi/certly/internal/codec"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/filestore"
	"github.com/foxzi/certly/internal/form"
	"github.com/foxzi/certly/internal/payload"
	"github.com/foxzi/certly/internal/surface"
)

func fileField() form.Field {
	return form.Field{Key: "fileid", Type: form.TypeFile, Label: "Image", Required: true}
}

func validateFile(ctx context.Context, env *element.Env, values form.Values, errs form.Errors) {
	id := values.Get("fileid")
	if id == "" {
		errs.Add("fileid", "required")
		return
	}
	if env == nil || env.Files == nil {
		return
	}
	ref, err := env.Files.Stat(ctx, id)
	switch {
	case errors.Is(err, filestore.ErrNotFound):
		errs.Add("fileid", "file not found")
	case err != nil:
		errs.Add("fileid", "file cannot be read")
	case !supportedImage(ref.MimeType):
		errs.Add("fileid", "must be a PNG, JPEG or GIF image")
	}
}

func supportedImage(mimeType string) bool {
	switch mimeType {
	case "image/png", "image/jpeg", "image/gif":
		return true
	}
	return false
}

func fileUsed(p payload.Payload) []string {
	if id := p.String("fileid"); id != "" {
		return []string{id}
	}
	return nil
}

// Image draws a stored picture
type Image struct{ base }

func NewImage() *Image {
	return &Image{base{typ: "image", title: "Image"}}
}

func (t *Image) Controls() []string {
	return []string{element.ControlPosX, element.ControlPosY, element.ControlWidth, element.ControlRefPoint}
}

func (t *Image) FormFields(ctx context.Context, env *element.Env, subject element.Subject) []form.Field {
	return []form.Field{
		fileField(),
		{Key: "height", Type: form.TypeNumber, Label: "Height", Help: "0 keeps the aspect ratio", Default: "0", Min: codec.Ptr(0)},
	}
}

func (t *Image) Validate(ctx context.Context, env *element.Env, values form.Values) form.Errors {
	errs := validateSize(values, "height")
	validateFile(ctx, env, values, errs)
	return errs
}

func (t *Image) Normalise(ctx context.Context, values form.Values, current payload.Payload) (payload.Payload, error) {
	p := payload.Payload{"fileid": values.Get("fileid")}
	if v, ok, _ := values.Number("height"); ok {
		p["height"] = v
	}
	return p, nil
}

// Render draws the picture. A file that disappeared leaves the element
// empty.
func (t *Image) Render(ctx context.Context, s surface.Surface, req *element.Request) error {
	img, err := loadImage(ctx, req.Env.Files, req.Payload.String("fileid"))
	if err != nil {
		return err
	}
	height, _ := req.Payload.Float("height")
	return s.Image(req.Box(), height, img)
}

func (t *Image) PortableFields(port *element.Port) codec.Fields {
	return codec.Fields{
		{Key: "fileid", Codec: codec.File{Files: port.Files}},
		{Key: "height", Codec: codec.Float{Min: codec.Ptr(0)}, Optional: true},
	}
}

func (t *Image) UsedFiles(p payload.Payload) []string {
	return fileUsed(p)
}

// BackgroundImage stretches a stored picture over the whole page
type BackgroundImage struct{ base }

func NewBackgroundImage() *BackgroundImage {
	return &BackgroundImage{base{typ: "bgimage", title: "Background image"}}
}

func (t *BackgroundImage) Controls() []string {
	return nil
}

func (t *BackgroundImage) FormFields(ctx context.Context, env *element.Env, subject element.Subject) []form.Field {
	return []form.Field{fileField()}
}

func (t *BackgroundImage) Validate(ctx context.Context, env *element.Env, values form.Values) form.Errors {
	errs := form.Errors{}
	validateFile(ctx, env, values, errs)
	return errs
}

func (t *BackgroundImage) Render(ctx context.Context, s surface.Surface, req *element.Request) error {
	img, err := loadImage(ctx, req.Env.Files, req.Payload.String("fileid"))
	if err != nil {
		return err
	}
	w, h := s.PageSize()
	return s.Image(surface.Box{ElementID: req.Element.ID, Width: w}, h, img)
}

func (t *BackgroundImage) PortableFields(port *element.Port) codec.Fields {
	return codec.Fields{{Key: "fileid", Codec: codec.File{Files: port.Files}}}
}

func (t *BackgroundImage) UsedFiles(p payload.Payload) []string {
	return fileUsed(p)
}

// Border outlines the page. The width control is the line width.
type Border struct{ base }

func NewBorder() *Border {
	return &Border{base{typ: "border", title: "Border"}}
}

func (t *Border) Controls() []string {
	return []string{element.ControlWidth, element.ControlColour}
}

func (t *Border) Validate(ctx context.Context, env *element.Env, values form.Values) form.Errors {
	errs := form.Errors{}
	v, ok, err := values.Number(element.ControlWidth)
	if err == nil && (!ok || v <= 0) {
		errs.Add(element.ControlWidth, "a border needs a line width")
	}
	return errs
}

func (t *Border) Render(ctx context.Context, s surface.Surface, req *element.Request) error {
	lw := req.Style.Width
	if lw <= 0 {
		return nil
	}
	w, h := s.PageSize()
	return s.Rect(lw/2, lw/2, w-lw, h-lw, lw, req.Style.Colour)
}

func (t *Border) PortableFields(port *element.Port) codec.Fields {
	return codec.Fields{}
}
