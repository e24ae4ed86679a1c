// Package codec converts single configuration values between their local
// payload form and the portable wire form used by template archives.
package codec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/foxzi/certly/internal/filestore"
	"github.com/foxzi/certly/internal/lms"
)

// Wire is the portable representation of one value.
type Wire map[string]any

// Codec validates and converts one value.
type Codec interface {
	Import(ctx context.Context, w Wire) (any, error)
	Export(ctx context.Context, v any) (Wire, error)
}

// String passes text through, rejecting empty text unless AllowEmpty is set.
type String struct {
	AllowEmpty bool
}

func (c String) Import(ctx context.Context, w Wire) (any, error) {
	s, ok := AsString(w["value"])
	if !ok {
		return nil, Recoverable("value", "expected text, got %T", w["value"])
	}
	if s == "" && !c.AllowEmpty {
		return nil, Recoverable("value", "must not be empty")
	}
	return s, nil
}

func (c String) Export(ctx context.Context, v any) (Wire, error) {
	s, _ := AsString(v)
	return Wire{"value": s}, nil
}

// Float accepts a number inside the optional inclusive bounds.
type Float struct {
	Min *float64
	Max *float64
}

func (c Float) Import(ctx context.Context, w Wire) (any, error) {
	f, ok := AsFloat(w["value"])
	if !ok {
		return nil, Recoverable("value", "expected a number, got %v", w["value"])
	}
	if c.Min != nil && f < *c.Min {
		return nil, Recoverable("value", "%s is below the minimum %s", formatFloat(f), formatFloat(*c.Min))
	}
	if c.Max != nil && f > *c.Max {
		return nil, Recoverable("value", "%s is above the maximum %s", formatFloat(f), formatFloat(*c.Max))
	}
	return f, nil
}

func (c Float) Export(ctx context.Context, v any) (Wire, error) {
	f, ok := AsFloat(v)
	if !ok {
		return nil, Recoverable("value", "expected a number, got %v", v)
	}
	return Wire{"value": f}, nil
}

// Int is a Float narrowed to an integer after validation.
type Int struct {
	Min *float64
	Max *float64
}

func (c Int) Import(ctx context.Context, w Wire) (any, error) {
	v, err := Float{Min: c.Min, Max: c.Max}.Import(ctx, w)
	if err != nil {
		return nil, err
	}
	return int64(math.Trunc(v.(float64))), nil
}

func (c Int) Export(ctx context.Context, v any) (Wire, error) {
	f, ok := AsFloat(v)
	if !ok {
		return nil, Recoverable("value", "expected a number, got %v", v)
	}
	return Wire{"value": int64(math.Trunc(f))}, nil
}

// Enum accepts only members of a fixed option set.
type Enum struct {
	Options []string
}

func (c Enum) Import(ctx context.Context, w Wire) (any, error) {
	s, ok := AsString(w["value"])
	if !ok || !slices.Contains(c.Options, s) {
		return nil, Recoverable("value", "%v is not one of %s", w["value"], strings.Join(c.Options, ", "))
	}
	return s, nil
}

func (c Enum) Export(ctx context.Context, v any) (Wire, error) {
	s, _ := AsString(v)
	return Wire{"value": s}, nil
}

// UserLookup resolves users against the live directory.
type UserLookup interface {
	User(ctx context.Context, id int64) (*lms.User, error)
}

// User carries a user id together with the display name cached at export
// time, so that a stale or reassigned id is detected on import.
type User struct {
	Users UserLookup
	// Remap translates a user id of the exporting site to the local one
	// before it is checked. Nil keeps ids unchanged.
	Remap func(id int64) (int64, bool)
}

func (c User) Import(ctx context.Context, w Wire) (any, error) {
	id, ok := AsInt(w["userid"])
	if !ok || id <= 0 {
		return nil, Recoverable("userid", "missing user id")
	}
	name, _ := AsString(w["fullname"])
	if c.Remap != nil {
		if local, ok := c.Remap(id); ok {
			id = local
		}
	}

	u, err := c.Users.User(ctx, id)
	if errors.Is(err, lms.ErrNotFound) {
		return nil, Recoverable("userid", "user %d no longer exists", id)
	}
	if err != nil {
		return nil, err
	}
	if u.FullName() != name {
		return nil, Recoverable("fullname", "user %d is now %q, not %q", id, u.FullName(), name)
	}
	return id, nil
}

func (c User) Export(ctx context.Context, v any) (Wire, error) {
	id, ok := AsInt(v)
	if !ok || id <= 0 {
		return nil, nil
	}
	u, err := c.Users.User(ctx, id)
	if errors.Is(err, lms.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return Wire{"userid": id, "fullname": u.FullName()}, nil
}

// FileResolver maps between local file ids and the opaque ids used inside
// an archive.
type FileResolver interface {
	// Resolve returns the local file id for a portable id.
	Resolve(ctx context.Context, portableID string) (string, error)
	// Reference registers a local file and returns its portable id.
	Reference(ctx context.Context, fileID string) (string, error)
}

// File references a stored file. A file that cannot be resolved on import is
// fatal for the value: nothing can be drawn without the asset.
type File struct {
	Files FileResolver
}

func (c File) Import(ctx context.Context, w Wire) (any, error) {
	pid, ok := AsString(w["fileid"])
	if !ok || pid == "" {
		return nil, Fatal("fileid", "missing file id", nil)
	}
	id, err := c.Files.Resolve(ctx, pid)
	if err != nil {
		return nil, Fatal("fileid", fmt.Sprintf("file %s cannot be resolved", pid), err)
	}
	return id, nil
}

func (c File) Export(ctx context.Context, v any) (Wire, error) {
	id, ok := AsString(v)
	if !ok || id == "" {
		return nil, nil
	}
	pid, err := c.Files.Reference(ctx, id)
	if errors.Is(err, filestore.ErrNotFound) {
		return nil, Recoverable("fileid", "file %s is missing", id)
	}
	if err != nil {
		return nil, err
	}
	return Wire{"fileid": pid}, nil
}

// Unimportable marks values that are deliberately left out of archives.
type Unimportable struct{}

func (Unimportable) Import(ctx context.Context, w Wire) (any, error) {
	return nil, Recoverable("", "value cannot be imported")
}

func (Unimportable) Export(ctx context.Context, v any) (Wire, error) {
	return nil, nil
}

// AsString converts JSON-decoded scalars to text.
func AsString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return formatFloat(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// AsFloat converts JSON-decoded scalars and numeric text to a float.
func AsFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// AsInt converts JSON-decoded scalars to an integer, truncating fractions.
func AsInt(v any) (int64, bool) {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	f, ok := AsFloat(v)
	if !ok {
		return 0, false
	}
	return int64(math.Trunc(f)), true
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Ptr is a helper for optional bounds.
func Ptr(f float64) *float64 {
	return &f
}
