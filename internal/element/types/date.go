package types

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/foxzi/certly/internal/codec"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/form"
	"github.com/foxzi/certly/internal/payload"
	"github.com/foxzi/certly/internal/surface"
)

// Date sources
const (
	DateIssue       = "issue"
	DateCurrent     = "current"
	DateCourseStart = "coursestart"
	DateCourseEnd   = "courseend"
	DateCompletion  = "completion"
	// modulePrefix selects the completion date of a course module
	modulePrefix = "module:"
)

var dateItemOptions = options(
	DateIssue, "Date issued",
	DateCurrent, "Current date",
	DateCourseStart, "Course start date",
	DateCourseEnd, "Course end date",
	DateCompletion, "Course completion date",
)

// Date format keys
const (
	FormatLong    = "long"
	FormatDayLong = "daylong"
	FormatDMY     = "dmy"
	FormatOrdinal = "ordinal"
	FormatISO     = "iso"
	FormatDMYNum  = "dmy-numeric"
	FormatMDYNum  = "mdy-numeric"
)

var dateLayouts = map[string]string{
	FormatLong:    "January 2, 2006",
	FormatDayLong: "Monday, 2 January 2006",
	FormatDMY:     "2 January 2006",
	FormatISO:     "2006-01-02",
	FormatDMYNum:  "02/01/2006",
	FormatMDYNum:  "01/02/2006",
}

var dateFormatOptions = options(
	FormatDMY, "2 January 2006",
	FormatLong, "January 2, 2006",
	FormatDayLong, "Monday, 2 January 2006",
	FormatOrdinal, "2nd January 2006",
	FormatISO, "2006-01-02",
	FormatDMYNum, "02/01/2006",
	FormatMDYNum, "01/02/2006",
)

// formatDate formats t with a format key. Unknown keys are taken as Go
// layouts; an empty one uses FormatDMY.
func formatDate(t time.Time, format string) string {
	if format == FormatOrdinal {
		return ordinal(t.Day()) + t.Format(" January 2006")
	}
	if layout, ok := dateLayouts[format]; ok {
		return t.Format(layout)
	}
	if format == "" {
		return t.Format(dateLayouts[FormatDMY])
	}
	return t.Format(format)
}

func ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return strconv.Itoa(n) + suffix
}

func dateItemField(key string) form.Field {
	return form.Field{Key: key, Type: form.TypeSelect, Label: "Date item", Options: dateItemOptions, Default: DateIssue, Required: true,
		Help: "module:<id> uses the completion date of a course module"}
}

func dateFormatField() form.Field {
	return form.Field{Key: "dateformat", Type: form.TypeSelect, Label: "Date format", Options: dateFormatOptions, Default: FormatDMY}
}

func validateDateItem(errs form.Errors, values form.Values, key string) {
	v := values.Get(key)
	if id, ok := strings.CutPrefix(v, modulePrefix); ok {
		if n, err := strconv.ParseInt(id, 10, 64); err != nil || n <= 0 {
			errs.Add(key, "not a course module")
		}
		return
	}
	requireOption(errs, values, dateItemField(key))
}

// resolveDate returns the date an item refers to for the subject. A zero
// time means the date is not known yet.
func resolveDate(ctx context.Context, req *element.Request, item string) (time.Time, error) {
	if req.Preview {
		return req.Env.Time(), nil
	}
	subj := req.Subject
	switch item {
	case DateCurrent:
		return req.Env.Time(), nil
	case DateIssue, "":
		if subj.Issue != nil {
			return subj.Issue.IssuedAt, nil
		}
		return req.Env.Time(), nil
	case DateCourseStart, DateCourseEnd:
		if subj.Course == nil {
			return time.Time{}, unavailable("course")
		}
		if item == DateCourseStart {
			return subj.Course.StartDate, nil
		}
		return subj.Course.EndDate, nil
	case DateCompletion:
		if subj.Course == nil || subj.User == nil {
			return time.Time{}, unavailable("completion")
		}
		t, err := req.Env.Directory.CourseCompletion(ctx, subj.Course.ID, subj.User.ID)
		if err != nil {
			return time.Time{}, element.Lookup("course completion", err)
		}
		return t, nil
	}
	if id, ok := strings.CutPrefix(item, modulePrefix); ok {
		moduleID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return time.Time{}, codec.Recoverable("dateitem", "%q is not a course module", item)
		}
		if subj.User == nil {
			return time.Time{}, unavailable("user")
		}
		t, err := req.Env.Directory.ModuleCompletion(ctx, moduleID, subj.User.ID)
		if err != nil {
			return time.Time{}, element.Lookup(fmt.Sprintf("module %d completion", moduleID), err)
		}
		return t, nil
	}
	return time.Time{}, codec.Recoverable("dateitem", "unknown date item %q", item)
}

// dateFormat is the payload's format, falling back to the site default
func dateFormat(req *element.Request) string {
	if f := req.Payload.String("dateformat"); f != "" {
		return f
	}
	return req.Env.DateFormat
}

var datePortable = codec.Fields{
	{Key: "dateitem", Codec: codec.String{}},
	{Key: "dateformat", Codec: codec.String{}, Optional: true},
}

func remapModule(rc *element.RestoreContext, p payload.Payload) bool {
	return remapPrefixed(rc, element.MapCourseModule, p, "dateitem", modulePrefix)
}

// Date prints a date related to the issue
type Date struct{ base }

func NewDate() *Date {
	return &Date{base{typ: "date", title: "Date"}}
}

func (t *Date) FormFields(ctx context.Context, env *element.Env, subject element.Subject) []form.Field {
	return []form.Field{dateItemField("dateitem"), dateFormatField()}
}

func (t *Date) Validate(ctx context.Context, env *element.Env, values form.Values) form.Errors {
	errs := form.Errors{}
	validateDateItem(errs, values, "dateitem")
	requireOption(errs, values, dateFormatField())
	return errs
}

func (t *Date) Render(ctx context.Context, s surface.Surface, req *element.Request) error {
	d, err := resolveDate(ctx, req, req.Payload.String("dateitem"))
	if err != nil || d.IsZero() {
		return err
	}
	return req.Text(s, formatDate(d, dateFormat(req)))
}

func (t *Date) PortableFields(port *element.Port) codec.Fields {
	return datePortable
}

func (t *Date) AfterRestore(ctx context.Context, rc *element.RestoreContext, p payload.Payload) (bool, error) {
	return remapModule(rc, p), nil
}

// Expiry periods
var expiryPeriods = map[string]struct{ years, months int }{
	"1m": {0, 1},
	"3m": {0, 3},
	"6m": {0, 6},
	"1y": {1, 0},
	"2y": {2, 0},
	"3y": {3, 0},
	"5y": {5, 0},
}

var expiryOptions = options(
	"1m", "1 month",
	"3m", "3 months",
	"6m", "6 months",
	"1y", "1 year",
	"2y", "2 years",
	"3y", "3 years",
	"5y", "5 years",
)

// Expiry prints the date a certificate stops being valid
type Expiry struct{ base }

func NewExpiry() *Expiry {
	return &Expiry{base{typ: "expiry", title: "Expiry date"}}
}

func (t *Expiry) periodField() form.Field {
	return form.Field{Key: "period", Type: form.TypeSelect, Label: "Valid for", Options: expiryOptions, Default: "1y", Required: true}
}

func (t *Expiry) FormFields(ctx context.Context, env *element.Env, subject element.Subject) []form.Field {
	start := dateItemField("dateitem")
	start.Label = "Valid from"
	return []form.Field{start, t.periodField(), dateFormatField()}
}

func (t *Expiry) Validate(ctx context.Context, env *element.Env, values form.Values) form.Errors {
	errs := form.Errors{}
	validateDateItem(errs, values, "dateitem")
	requireOption(errs, values, t.periodField())
	requireOption(errs, values, dateFormatField())
	return errs
}

func (t *Expiry) Render(ctx context.Context, s surface.Surface, req *element.Request) error {
	exp, err := ExpiryDate(ctx, req)
	if err != nil || exp.IsZero() {
		return err
	}
	return req.Text(s, formatDate(exp, dateFormat(req)))
}

// ExpiryDate returns the expiry date an expiry element prints
func ExpiryDate(ctx context.Context, req *element.Request) (time.Time, error) {
	p, ok := expiryPeriods[req.Payload.String("period")]
	if !ok {
		return time.Time{}, codec.Recoverable("period", "unknown period %q", req.Payload.String("period"))
	}
	d, err := resolveDate(ctx, req, req.Payload.String("dateitem"))
	if err != nil || d.IsZero() {
		return time.Time{}, err
	}
	return d.AddDate(p.years, p.months, 0), nil
}

func (t *Expiry) PortableFields(port *element.Port) codec.Fields {
	return append(codec.Fields{{Key: "period", Codec: codec.Enum{Options: optionValues(expiryOptions)}}}, datePortable...)
}

func (t *Expiry) AfterRestore(ctx context.Context, rc *element.RestoreContext, p payload.Payload) (bool, error) {
	return remapModule(rc, p), nil
}
