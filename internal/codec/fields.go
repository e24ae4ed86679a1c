package codec

import (
	"context"
	"fmt"
)

// Field binds a payload key to the codec that carries it across an archive.
type Field struct {
	Key   string
	Codec Codec
	// Optional fields may be absent; a recoverable failure drops the key
	// instead of the whole value set.
	Optional bool
}

// Fields is the ordered portable schema of one element type.
type Fields []Field

// Has reports whether key is part of the schema.
func (fs Fields) Has(key string) bool {
	for _, f := range fs {
		if f.Key == key {
			return true
		}
	}
	return false
}

// Export converts payload values into their wire form. Keys without a field
// and Unimportable fields are not exported.
func (fs Fields) Export(ctx context.Context, values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fs))
	for _, f := range fs {
		if _, skip := f.Codec.(Unimportable); skip {
			continue
		}
		v, ok := values[f.Key]
		if !ok || v == nil {
			if f.Optional {
				continue
			}
			return nil, Recoverable(f.Key, "value is missing")
		}
		w, err := f.Codec.Export(ctx, v)
		if err != nil {
			if f.Optional && IsRecoverable(err) {
				continue
			}
			return nil, prefix(f.Key, err)
		}
		if w == nil {
			if f.Optional {
				continue
			}
			return nil, Recoverable(f.Key, "value cannot be exported")
		}
		out[f.Key] = map[string]any(w)
	}
	return out, nil
}

// Import converts wire values back into payload values.
func (fs Fields) Import(ctx context.Context, data map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fs))
	for _, f := range fs {
		raw, ok := data[f.Key]
		if !ok || raw == nil {
			if _, skip := f.Codec.(Unimportable); skip {
				return nil, Recoverable(f.Key, "value cannot be imported")
			}
			if f.Optional {
				continue
			}
			return nil, Recoverable(f.Key, "value is missing")
		}
		w, ok := raw.(map[string]any)
		if !ok {
			return nil, Recoverable(f.Key, "expected an object, got %T", raw)
		}
		v, err := f.Codec.Import(ctx, Wire(w))
		if err != nil {
			if f.Optional && IsRecoverable(err) {
				continue
			}
			return nil, prefix(f.Key, err)
		}
		out[f.Key] = v
	}
	return out, nil
}

func prefix(key string, err error) error {
	switch e := err.(type) {
	case *FormatException:
		return &FormatException{Field: joinField(key, e.Field), Reason: e.Reason}
	case *FatalFormatError:
		return &FatalFormatError{Field: joinField(key, e.Field), Reason: e.Reason, Err: e.Err}
	}
	return fmt.Errorf("%s: %w", key, err)
}

func joinField(key, field string) string {
	if field == "" {
		return key
	}
	return key + "." + field
}
