package payload

// Overrides are the visual settings an element may carry in its payload.
// Zero values mean the setting was not given.
type Overrides struct {
	Width    float64
	Font     string
	FontSize float64
	Colour   string
}

// Empty reports whether no override is set.
func (o Overrides) Empty() bool {
	return o == Overrides{}
}

func (o Overrides) apply(p Payload) {
	if o.Width != 0 {
		p["width"] = o.Width
	}
	if o.Font != "" {
		p["font"] = o.Font
	}
	if o.FontSize != 0 {
		p["fontsize"] = o.FontSize
	}
	if o.Colour != "" {
		p["colour"] = o.Colour
	}
}

// Migrate normalises a stored payload value, folding in visual overrides.
//
// Without overrides, nil, empty and object values are returned as they are
// and a bare scalar is wrapped as {"value": raw} keeping its exact text.
// With overrides, the result is always an object: the overrides alone, the
// wrapped scalar plus overrides, or the existing object with the overrides
// merged over it. Applying Migrate twice with the same overrides gives the
// same result as applying it once.
func Migrate(raw *string, o Overrides) *string {
	empty := raw == nil || *raw == ""

	if o.Empty() {
		if empty {
			return raw
		}
		if IsStructured(*raw) {
			return raw
		}
		return encodeOrRaw(Payload{"value": *raw}, raw)
	}

	var p Payload
	switch {
	case empty:
		p = Payload{}
	case IsStructured(*raw):
		p, _ = decodeObject(*raw)
	default:
		p = Payload{"value": *raw}
	}
	o.apply(p)
	return encodeOrRaw(p, raw)
}

// encodeOrRaw falls back to the input when the result cannot be encoded,
// which only happens for values that never came from JSON.
func encodeOrRaw(p Payload, raw *string) *string {
	s, err := p.Encode()
	if err != nil {
		return raw
	}
	return &s
}
