// Package types contains the element types shipped with certly.
package types

import (
	"strconv"
	"strings"

	"github.com/foxzi/certly/internal/codec"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/form"
	"github.com/foxzi/certly/internal/payload"
)

type base struct {
	typ   string
	title string
}

func (b base) Type() string  { return b.typ }
func (b base) Title() string { return b.title }

// All returns one handler of every shipped type
func All() []element.Handler {
	return []element.Handler{
		NewText(),
		NewStudentName(),
		NewCourseName(),
		NewCategoryName(),
		NewCourseField(),
		NewTeacherName(),
		NewUserField(),
		NewGrade(),
		NewGradeItemName(),
		NewOutcome(),
		NewCode(),
		NewDate(),
		NewDateRange(),
		NewExpiry(),
		NewImage(),
		NewBackgroundImage(),
		NewUserPicture(),
		NewBorder(),
	}
}

// Register adds every shipped type to reg
func Register(reg *element.Registry) error {
	for _, h := range All() {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding every shipped type
func NewRegistry() *element.Registry {
	reg := element.NewRegistry()
	reg.MustRegister(All()...)
	return reg
}

func unavailable(what string) error {
	return codec.Recoverable(what, "not available for this document")
}

func options(pairs ...string) []form.Option {
	opts := make([]form.Option, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		opts = append(opts, form.Option{Value: pairs[i], Label: pairs[i+1]})
	}
	return opts
}

func optionValues(opts []form.Option) []string {
	out := make([]string, len(opts))
	for i, o := range opts {
		out[i] = o.Value
	}
	return out
}

func requireOption(errs form.Errors, values form.Values, f form.Field) {
	v := values.Get(f.Key)
	if v == "" {
		if f.Required {
			errs.Add(f.Key, "required")
		}
		return
	}
	if !f.HasOption(v) {
		errs.Add(f.Key, "not a valid choice")
	}
}

// idValue reads an id stored as a number or numeric text
func idValue(p payload.Payload, key string) (int64, bool) {
	id, ok := p.Int(key)
	return id, ok && id > 0
}

// remapPrefixed replaces ids stored as "<prefix><id>" text
func remapPrefixed(rc *element.RestoreContext, kind string, p payload.Payload, key, prefix string) bool {
	v := p.String(key)
	if !strings.HasPrefix(v, prefix) {
		return false
	}
	old, err := strconv.ParseInt(strings.TrimPrefix(v, prefix), 10, 64)
	if err != nil {
		return false
	}
	id, ok := rc.Lookup(kind, old)
	if !ok || id == old {
		return false
	}
	p[key] = prefix + strconv.FormatInt(id, 10)
	return true
}
