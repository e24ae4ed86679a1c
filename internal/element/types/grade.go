package types

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/foxzi/certly/internal/codec"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/form"
	"github.com/foxzi/certly/internal/lms"
	"github.com/foxzi/certly/internal/payload"
	"github.com/foxzi/certly/internal/surface"
)

// courseItem selects the course total instead of a grade item id
const courseItem = "course"

// Grade formats
const (
	GradePercent = "percent"
	GradePoints  = "points"
	GradeLetter  = "letter"
)

var gradeFormatOptions = options(
	GradePercent, "Percentage",
	GradePoints, "Points",
	GradeLetter, "Letter",
)

// letterBoundaries maps the lowest percentage of each letter, highest first
var letterBoundaries = []struct {
	min    float64
	letter string
}{
	{93, "A"}, {90, "A-"}, {87, "B+"}, {83, "B"}, {80, "B-"},
	{77, "C+"}, {73, "C"}, {70, "C-"}, {67, "D+"}, {60, "D"}, {0, "F"},
}

// gradeItemField lists the course total and the course's grade items
func gradeItemField(ctx context.Context, env *element.Env, subject element.Subject) form.Field {
	f := form.Field{Key: "gradeitem", Type: form.TypeSelect, Label: "Grade item", Required: true,
		Options: []form.Option{{Value: courseItem, Label: "Course grade"}}}
	if subject.Course != nil && env != nil && env.Directory != nil {
		if items, err := env.Directory.GradeItems(ctx, subject.Course.ID); err == nil {
			for _, it := range items {
				if it.ItemType == courseItem {
					continue
				}
				f.Options = append(f.Options, form.Option{Value: strconv.FormatInt(it.ID, 10), Label: it.Name})
			}
		}
	}
	return f
}

func validateGradeItem(errs form.Errors, values form.Values) {
	v := values.Get("gradeitem")
	if v == "" {
		errs.Add("gradeitem", "required")
		return
	}
	if v == courseItem {
		return
	}
	if id, err := strconv.ParseInt(v, 10, 64); err != nil || id <= 0 {
		errs.Add("gradeitem", "not a grade item")
	}
}

// gradeItem resolves the payload's grade item
func gradeItem(ctx context.Context, req *element.Request) (*lms.GradeItem, error) {
	v := req.Payload.String("gradeitem")
	if v == courseItem || v == "" {
		c := req.Subject.Course
		if c == nil {
			return nil, unavailable("course")
		}
		it, err := req.Env.Directory.CourseGradeItem(ctx, c.ID)
		return it, element.Lookup("course grade item", err)
	}
	id, ok := idValue(req.Payload, "gradeitem")
	if !ok {
		return nil, codec.Recoverable("gradeitem", "%q is not a grade item", v)
	}
	it, err := req.Env.Directory.GradeItem(ctx, id)
	return it, element.Lookup(fmt.Sprintf("grade item %d", id), err)
}

// GradeElement prints the learner's grade
type GradeElement struct{ base }

func NewGrade() *GradeElement {
	return &GradeElement{base{typ: "grade", title: "Grade"}}
}

func (t *GradeElement) formatField() form.Field {
	return form.Field{Key: "gradeformat", Type: form.TypeSelect, Label: "Grade format", Options: gradeFormatOptions, Default: GradePercent, Required: true}
}

func (t *GradeElement) FormFields(ctx context.Context, env *element.Env, subject element.Subject) []form.Field {
	return []form.Field{gradeItemField(ctx, env, subject), t.formatField()}
}

func (t *GradeElement) Validate(ctx context.Context, env *element.Env, values form.Values) form.Errors {
	errs := form.Errors{}
	validateGradeItem(errs, values)
	requireOption(errs, values, t.formatField())
	return errs
}

func (t *GradeElement) Render(ctx context.Context, s surface.Surface, req *element.Request) error {
	format := req.Payload.String("gradeformat")
	if req.Preview && (req.Subject.User == nil || req.Subject.Course == nil) {
		return req.Text(s, FormatGrade(&lms.GradeItem{GradeMax: 100, DecimalPoints: 2}, 100, format))
	}
	if req.Subject.User == nil {
		return unavailable("user")
	}
	it, err := gradeItem(ctx, req)
	if err != nil {
		return err
	}
	g, err := req.Env.Directory.Grade(ctx, it.ID, req.Subject.User.ID)
	if err != nil {
		return element.Lookup("grade", err)
	}
	if g.FinalGrade == nil {
		return nil
	}
	return req.Text(s, FormatGrade(it, *g.FinalGrade, format))
}

func (t *GradeElement) PortableFields(port *element.Port) codec.Fields {
	return codec.Fields{
		{Key: "gradeitem", Codec: codec.String{}},
		{Key: "gradeformat", Codec: codec.Enum{Options: optionValues(gradeFormatOptions)}},
	}
}

func (t *GradeElement) AfterRestore(ctx context.Context, rc *element.RestoreContext, p payload.Payload) (bool, error) {
	return remapPrefixed(rc, element.MapGradeItem, p, "gradeitem", ""), nil
}

// FormatGrade renders a grade value of an item in the given format. Scale
// items print the scale entry whatever the format.
func FormatGrade(it *lms.GradeItem, value float64, format string) string {
	if len(it.Scale) > 0 {
		i := int(math.Round(value)) - 1
		if i < 0 || i >= len(it.Scale) {
			return ""
		}
		return it.Scale[i]
	}
	pct := 0.0
	if span := it.GradeMax - it.GradeMin; span > 0 {
		pct = (value - it.GradeMin) / span * 100
	}
	switch format {
	case GradePoints:
		return strconv.FormatFloat(value, 'f', it.DecimalPoints, 64)
	case GradeLetter:
		for _, b := range letterBoundaries {
			if pct >= b.min {
				return b.letter
			}
		}
		return "F"
	}
	return strconv.FormatFloat(pct, 'f', it.DecimalPoints, 64) + " %"
}

// GradeItemName prints the name of a grade item
type GradeItemName struct{ base }

func NewGradeItemName() *GradeItemName {
	return &GradeItemName{base{typ: "gradeitemname", title: "Grade item name"}}
}

func (t *GradeItemName) FormFields(ctx context.Context, env *element.Env, subject element.Subject) []form.Field {
	return []form.Field{gradeItemField(ctx, env, subject)}
}

func (t *GradeItemName) Validate(ctx context.Context, env *element.Env, values form.Values) form.Errors {
	errs := form.Errors{}
	validateGradeItem(errs, values)
	return errs
}

func (t *GradeItemName) Render(ctx context.Context, s surface.Surface, req *element.Request) error {
	if req.Preview && req.Subject.Course == nil {
		return req.Text(s, "Grade item name")
	}
	it, err := gradeItem(ctx, req)
	if err != nil {
		return err
	}
	name := it.Name
	if it.ItemType == courseItem && req.Subject.Course != nil {
		name = req.Subject.Course.FullName
	} else if name == "" && it.ModuleID > 0 {
		m, err := req.Env.Directory.Module(ctx, it.ModuleID)
		if err != nil {
			return element.Lookup("module", err)
		}
		name = m.Name
	}
	return req.Text(s, name)
}

func (t *GradeItemName) PortableFields(port *element.Port) codec.Fields {
	return codec.Fields{{Key: "gradeitem", Codec: codec.String{}}}
}

func (t *GradeItemName) AfterRestore(ctx context.Context, rc *element.RestoreContext, p payload.Payload) (bool, error) {
	return remapPrefixed(rc, element.MapGradeItem, p, "gradeitem", ""), nil
}

// Outcome prints the scale value a learner reached for an outcome
type Outcome struct{ base }

func NewOutcome() *Outcome {
	return &Outcome{base{typ: "outcome", title: "Outcome"}}
}

func (t *Outcome) FormFields(ctx context.Context, env *element.Env, subject element.Subject) []form.Field {
	return []form.Field{{Key: "outcome", Type: form.TypeNumber, Label: "Outcome", Required: true, Min: codec.Ptr(1)}}
}

func (t *Outcome) Validate(ctx context.Context, env *element.Env, values form.Values) form.Errors {
	errs := form.Errors{}
	id, err := strconv.ParseInt(values.Get("outcome"), 10, 64)
	if err != nil || id <= 0 {
		errs.Add("outcome", "choose an outcome")
		return errs
	}
	if env != nil && env.Directory != nil {
		if _, err := env.Directory.Outcome(ctx, id); err != nil {
			errs.Add("outcome", "unknown outcome")
		}
	}
	return errs
}

func (t *Outcome) Normalise(ctx context.Context, values form.Values, current payload.Payload) (payload.Payload, error) {
	id, err := strconv.ParseInt(values.Get("outcome"), 10, 64)
	if err != nil {
		return nil, codec.Recoverable("outcome", "not an outcome id")
	}
	return payload.Payload{"outcome": id}, nil
}

func (t *Outcome) Render(ctx context.Context, s surface.Surface, req *element.Request) error {
	id, ok := idValue(req.Payload, "outcome")
	if !ok {
		return codec.Recoverable("outcome", "no outcome chosen")
	}
	o, err := req.Env.Directory.Outcome(ctx, id)
	if err != nil {
		return element.Lookup(fmt.Sprintf("outcome %d", id), err)
	}
	if req.Preview {
		return req.Text(s, o.FullName)
	}
	if req.Subject.User == nil {
		return unavailable("user")
	}
	g, err := req.Env.Directory.OutcomeGrade(ctx, id, req.Subject.User.ID)
	if err != nil {
		return element.Lookup("outcome grade", err)
	}
	if g.Value < 1 || g.Value > len(o.Scale) {
		return nil
	}
	return req.Text(s, o.FullName+": "+o.Scale[g.Value-1])
}

func (t *Outcome) PortableFields(port *element.Port) codec.Fields {
	return codec.Fields{{Key: "outcome", Codec: codec.Int{Min: codec.Ptr(1)}}}
}
