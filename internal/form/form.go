// Package form declares configuration form schemas and carries submitted
// values. Rendering the controls is left to the client.
package form

import (
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Field types
const (
	TypeText     = "text"
	TypeTextarea = "textarea"
	TypeNumber   = "number"
	TypeSelect   = "select"
	TypeColour   = "colour"
	TypeFile     = "file"
	TypeUser     = "user"
	TypeCheckbox = "checkbox"
	TypeDate     = "date"
)

// Option is one choice of a select field
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Field declares one form control
type Field struct {
	Key      string   `json:"key"`
	Type     string   `json:"type"`
	Label    string   `json:"label"`
	Help     string   `json:"help,omitempty"`
	Options  []Option `json:"options,omitempty"`
	Default  string   `json:"default,omitempty"`
	Required bool     `json:"required,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
}

// HasOption reports whether value is one of the field's options
func (f Field) HasOption(value string) bool {
	for _, o := range f.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

// Values are submitted form values keyed by field key
type Values map[string]string

// FromURL converts url-encoded form values, keeping the first value per key
func FromURL(u url.Values) Values {
	v := make(Values, len(u))
	for k, vals := range u {
		if len(vals) > 0 {
			v[k] = vals[0]
		}
	}
	return v
}

// Get returns the trimmed value for key
func (v Values) Get(key string) string {
	return strings.TrimSpace(v[key])
}

// Has reports whether key was submitted with a non-blank value
func (v Values) Has(key string) bool {
	return v.Get(key) != ""
}

// Number parses the value for key. ok is false when the key is blank.
func (v Values) Number(key string) (f float64, ok bool, err error) {
	s := v.Get(key)
	if s == "" {
		return 0, false, nil
	}
	f, err = ParseNumber(s)
	return f, err == nil, err
}

// Checked reports whether a checkbox was ticked
func (v Values) Checked(key string) bool {
	switch strings.ToLower(v.Get(key)) {
	case "1", "on", "true", "yes":
		return true
	}
	return false
}

// ErrNotANumber is returned by ParseNumber for non-numeric input
var ErrNotANumber = errors.New("not a number")

// ParseNumber parses a decimal number, accepting a comma as the decimal
// separator.
func ParseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, ErrNotANumber
	}
	return f, nil
}

// Errors maps field keys to validation messages
type Errors map[string]string

// Add records msg for key unless an error is already recorded
func (e Errors) Add(key, msg string) {
	if _, ok := e[key]; !ok {
		e[key] = msg
	}
}

// Merge copies other into e, keeping existing messages
func (e Errors) Merge(other Errors) {
	for k, msg := range other {
		e.Add(k, msg)
	}
}

// Error implements error, listing messages by key
func (e Errors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e[k])
	}
	return "invalid form: " + strings.Join(parts, "; ")
}

// Err returns e as an error, or nil when empty
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}
