// Package payload models the type-specific configuration stored with each
// element and the upgrade of legacy scalar storage to structured objects.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/foxzi/certly/internal/codec"
)

// SchemaVersion is the payload shape written by current code. Version 1 is
// legacy storage where visual settings live only on the element row.
const SchemaVersion = 2

// Payload is a decoded element configuration.
type Payload map[string]any

// Parse decodes stored data. An empty value yields an empty payload and a
// value that is not a JSON object is treated as legacy scalar storage.
func Parse(raw string) Payload {
	if raw == "" {
		return Payload{}
	}
	if obj, ok := decodeObject(raw); ok {
		return obj
	}
	return Payload{"value": raw}
}

// Encode serialises the payload with sorted keys.
func (p Payload) Encode() (string, error) {
	if p == nil {
		return "", nil
	}
	return encode(map[string]any(p))
}

// String returns the text stored under key.
func (p Payload) String(key string) string {
	s, _ := codec.AsString(p[key])
	return s
}

// Float returns the number stored under key.
func (p Payload) Float(key string) (float64, bool) {
	return codec.AsFloat(p[key])
}

// Int returns the integer stored under key.
func (p Payload) Int(key string) (int64, bool) {
	return codec.AsInt(p[key])
}

// Bool interprets flags stored as booleans, numbers or text.
func (p Payload) Bool(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case nil:
		return false
	}
	s, _ := codec.AsString(p[key])
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Clone returns a shallow copy.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// IsStructured reports whether raw is stored as a JSON object.
func IsStructured(raw string) bool {
	_, ok := decodeObject(raw)
	return ok
}

func decodeObject(raw string) (Payload, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	// a stray closing bracket is not reported by More
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return Payload(obj), true
}

func encode(v map[string]any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
