package types

import (
	"context"
	"slices"
	"time"

	"github.com/foxzi/certly/internal/codec"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/form"
	"github.com/foxzi/certly/internal/lms"
	"github.com/foxzi/certly/internal/surface"
)

var courseNameOptions = options(
	"fullname", "Full name",
	"shortname", "Short name",
)

// CourseName prints the course name
type CourseName struct{ base }

func NewCourseName() *CourseName {
	return &CourseName{base{typ: "coursename", title: "Course name"}}
}

func (t *CourseName) field() form.Field {
	return form.Field{Key: "value", Type: form.TypeSelect, Label: "Name to display", Options: courseNameOptions, Default: "fullname", Required: true}
}

func (t *CourseName) FormFields(ctx context.Context, env *element.Env, subject element.Subject) []form.Field {
	return []form.Field{t.field()}
}

func (t *CourseName) Validate(ctx context.Context, env *element.Env, values form.Values) form.Errors {
	errs := form.Errors{}
	requireOption(errs, values, t.field())
	return errs
}

func (t *CourseName) Render(ctx context.Context, s surface.Surface, req *element.Request) error {
	c := req.Subject.Course
	if c == nil {
		if req.Preview {
			return req.Text(s, "Course name")
		}
		return unavailable("course")
	}
	if req.Payload.String("value") == "shortname" {
		return req.Text(s, c.ShortName)
	}
	return req.Text(s, c.FullName)
}

func (t *CourseName) PortableFields(port *element.Port) codec.Fields {
	return codec.Fields{{Key: "value", Codec: codec.Enum{Options: optionValues(courseNameOptions)}}}
}

// CategoryName prints the name of the course category
type CategoryName struct{ base }

func NewCategoryName() *CategoryName {
	return &CategoryName{base{typ: "categoryname", title: "Category name"}}
}

func (t *CategoryName) Render(ctx context.Context, s surface.Surface, req *element.Request) error {
	c := req.Subject.Course
	if c == nil {
		if req.Preview {
			return req.Text(s, "Category name")
		}
		return unavailable("course")
	}
	cat, err := req.Env.Directory.Category(ctx, c.CategoryID)
	if err != nil {
		return element.Lookup("category", err)
	}
	return req.Text(s, cat.Name)
}

func (t *CategoryName) PortableFields(port *element.Port) codec.Fields {
	return codec.Fields{}
}

var standardCourseFields = []string{"fullname", "shortname", "idnumber", "summary", "startdate", "enddate"}

// CourseField prints a standard or custom course field
type CourseField struct{ base }

func NewCourseField() *CourseField {
	return &CourseField{base{typ: "coursefield", title: "Course field"}}
}

func (t *CourseField) field(ctx context.Context, env *element.Env) form.Field {
	f := form.Field{Key: "value", Type: form.TypeSelect, Label: "Course field", Required: true}
	for _, name := range standardCourseFields {
		f.Options = append(f.Options, form.Option{Value: name, Label: name})
	}
	if env != nil && env.Directory != nil {
		if custom, err := env.Directory.CustomFields(ctx); err == nil {
			for _, cf := range custom {
				f.Options = append(f.Options, form.Option{Value: cf.ShortName, Label: cf.Name})
			}
		}
	}
	return f
}

func (t *CourseField) FormFields(ctx context.Context, env *element.Env, subject element.Subject) []form.Field {
	return []form.Field{t.field(ctx, env)}
}

func (t *CourseField) Validate(ctx context.Context, env *element.Env, values form.Values) form.Errors {
	errs := form.Errors{}
	requireOption(errs, values, t.field(ctx, env))
	return errs
}

// Render prints the field value. Previews show the field name so the
// layout can be judged without a course.
func (t *CourseField) Render(ctx context.Context, s surface.Surface, req *element.Request) error {
	name := req.Payload.String("value")
	if name == "" {
		return codec.Recoverable("value", "no field chosen")
	}
	if req.Preview {
		return req.Text(s, name)
	}
	c := req.Subject.Course
	if c == nil {
		return unavailable("course")
	}
	if !slices.Contains(standardCourseFields, name) {
		if _, err := req.Env.Directory.CustomField(ctx, name); err != nil {
			return element.Lookup("custom field "+name, err)
		}
		return req.Text(s, c.Fields[name])
	}
	return req.Text(s, standardCourseField(c, name, req.Env.DateFormat))
}

func (t *CourseField) PortableFields(port *element.Port) codec.Fields {
	return codec.Fields{{Key: "value", Codec: codec.String{}}}
}

// ValidateImport rejects custom fields the target site does not define
func (t *CourseField) ValidateImport(ctx context.Context, env *element.Env, data map[string]any) error {
	w, _ := data["value"].(map[string]any)
	name, _ := codec.AsString(w["value"])
	if name == "" || slices.Contains(standardCourseFields, name) {
		return nil
	}
	_, err := env.Directory.CustomField(ctx, name)
	if err != nil {
		return element.Lookup("custom field "+name, err)
	}
	return nil
}

func standardCourseField(c *lms.Course, name, layout string) string {
	date := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return formatDate(t, layout)
	}
	switch name {
	case "fullname":
		return c.FullName
	case "shortname":
		return c.ShortName
	case "idnumber":
		return c.IDNumber
	case "summary":
		return c.Summary
	case "startdate":
		return date(c.StartDate)
	case "enddate":
		return date(c.EndDate)
	}
	return ""
}
