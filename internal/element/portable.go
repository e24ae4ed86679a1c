package element

import (
	"context"

	"github.com/foxzi/certly/internal/codec"
	"github.com/foxzi/certly/internal/payload"
)

// sharedPortable carries the visual overrides every payload may hold
var sharedPortable = codec.Fields{
	{Key: ControlWidth, Codec: codec.Float{Min: codec.Ptr(0)}, Optional: true},
	{Key: ControlFont, Codec: codec.String{}, Optional: true},
	{Key: ControlFontSize, Codec: codec.Float{Min: codec.Ptr(1), Max: codec.Ptr(maxFontSize)}, Optional: true},
	{Key: ControlColour, Codec: codec.String{}, Optional: true},
}

// unportable is used for types that do not take part in archives
var unportable = codec.Fields{{Key: "value", Codec: codec.Unimportable{}}}

// PortableFields returns the archive schema of a type. A nil handler stands
// for an unregistered type.
func PortableFields(h Handler, port *Port) codec.Fields {
	p, ok := h.(Portable)
	if h == nil || !ok {
		return unportable
	}
	fields := append(codec.Fields{}, p.PortableFields(port)...)
	for _, f := range sharedPortable {
		if !fields.Has(f.Key) {
			fields = append(fields, f)
		}
	}
	return fields
}

// ExportData converts a payload into its portable form
func ExportData(ctx context.Context, h Handler, port *Port, p payload.Payload) (map[string]any, error) {
	return PortableFields(h, port).Export(ctx, p)
}

// ValidateImport checks portable data before conversion. Unregistered
// types are rejected as recoverable.
func ValidateImport(ctx context.Context, h Handler, env *Env, data map[string]any) error {
	if h == nil {
		return codec.Recoverable("type", "element type is not installed")
	}
	if v, ok := h.(ImportValidator); ok {
		return v.ValidateImport(ctx, env, data)
	}
	return nil
}

// ConvertImport builds a local payload from portable data
func ConvertImport(ctx context.Context, h Handler, env *Env, port *Port, data map[string]any) (payload.Payload, error) {
	values, err := PortableFields(h, port).Import(ctx, data)
	if err != nil {
		return nil, err
	}
	if c, ok := h.(ImportConverter); ok {
		return c.ConvertImport(ctx, env, values)
	}
	return payload.Payload(values), nil
}

// UsedFiles returns the file ids a payload references
func UsedFiles(h Handler, p payload.Payload) []string {
	if fu, ok := h.(FileUser); ok {
		return fu.UsedFiles(p)
	}
	return nil
}

// AfterRestore runs the type's post-import fixup
func AfterRestore(ctx context.Context, h Handler, rc *RestoreContext, p payload.Payload) (bool, error) {
	if ar, ok := h.(AfterRestorer); ok {
		return ar.AfterRestore(ctx, rc, p)
	}
	return false, nil
}
