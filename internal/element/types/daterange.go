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

// rangeRows is the number of range rows the form offers
const rangeRows = 5

const rangeLayout = "2006-01-02"

// Placeholders expanded in range texts
const (
	phFirstYear          = "{{range_first_year}}"
	phLastYear           = "{{range_last_year}}"
	phRecurringFirstYear = "{{recurring_range_first_year}}"
	phRecurringLastYear  = "{{recurring_range_last_year}}"
	phCurrentYear        = "{{current_year}}"
)

// DateRange is one configured range of a daterange element
type DateRange struct {
	Start     time.Time
	End       time.Time
	Text      string
	Recurring bool
}

// occurrence returns the years of the occurrence of r that contains d
func (r DateRange) occurrence(d time.Time) (first, last int, ok bool) {
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	if !r.Recurring {
		if day.Before(r.Start) || day.After(r.End) {
			return 0, 0, false
		}
		return r.Start.Year(), r.End.Year(), true
	}
	span := r.End.Year() - r.Start.Year()
	for _, y := range []int{day.Year() - span, day.Year()} {
		s := time.Date(y, r.Start.Month(), r.Start.Day(), 0, 0, 0, 0, time.UTC)
		e := time.Date(y+span, r.End.Month(), r.End.Day(), 0, 0, 0, 0, time.UTC)
		if !day.Before(s) && !day.After(e) {
			return s.Year(), e.Year(), true
		}
	}
	return 0, 0, false
}

func (r DateRange) validate() error {
	if r.End.Before(r.Start) {
		return fmt.Errorf("end is before start")
	}
	if r.Recurring && r.End.After(r.Start.AddDate(1, 0, -1)) {
		return fmt.Errorf("a recurring range must be shorter than a year")
	}
	return nil
}

// RangeText returns the text of the first range containing d with its
// placeholders expanded, or the fallback when none does.
func RangeText(ranges []DateRange, fallback string, d time.Time) string {
	for _, r := range ranges {
		first, last, ok := r.occurrence(d)
		if !ok {
			continue
		}
		return strings.NewReplacer(
			phFirstYear, strconv.Itoa(r.Start.Year()),
			phLastYear, strconv.Itoa(r.End.Year()),
			phRecurringFirstYear, strconv.Itoa(first),
			phRecurringLastYear, strconv.Itoa(last),
			phCurrentYear, strconv.Itoa(d.Year()),
		).Replace(r.Text)
	}
	return strings.ReplaceAll(fallback, phCurrentYear, strconv.Itoa(d.Year()))
}

// parseRange reads one range from its stored or portable form
func parseRange(v any) (DateRange, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return DateRange{}, fmt.Errorf("expected an object, got %T", v)
	}
	var r DateRange
	var err error
	start, _ := codec.AsString(m["start"])
	if r.Start, err = time.Parse(rangeLayout, start); err != nil {
		return DateRange{}, fmt.Errorf("start %q is not a date", start)
	}
	end, _ := codec.AsString(m["end"])
	if r.End, err = time.Parse(rangeLayout, end); err != nil {
		return DateRange{}, fmt.Errorf("end %q is not a date", end)
	}
	r.Text, _ = codec.AsString(m["text"])
	r.Recurring = payload.Payload(m).Bool("recurring")
	return r, r.validate()
}

func parseRanges(v any) ([]DateRange, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]DateRange, 0, len(list))
	for i, item := range list {
		r, err := parseRange(item)
		if err != nil {
			return nil, fmt.Errorf("range %d: %w", i+1, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func rangeValue(r DateRange) map[string]any {
	return map[string]any{
		"start":     r.Start.Format(rangeLayout),
		"end":       r.End.Format(rangeLayout),
		"text":      r.Text,
		"recurring": r.Recurring,
	}
}

func rangeValues(ranges []DateRange) []any {
	out := make([]any, len(ranges))
	for i, r := range ranges {
		out[i] = rangeValue(r)
	}
	return out
}

// rangesCodec carries the range list across archives
type rangesCodec struct{}

func (rangesCodec) Import(ctx context.Context, w codec.Wire) (any, error) {
	ranges, err := parseRanges(w["ranges"])
	if err != nil {
		return nil, codec.Recoverable("ranges", "%v", err)
	}
	if len(ranges) == 0 {
		return nil, codec.Recoverable("ranges", "no ranges")
	}
	return rangeValues(ranges), nil
}

func (rangesCodec) Export(ctx context.Context, v any) (codec.Wire, error) {
	ranges, err := parseRanges(v)
	if err != nil {
		return nil, codec.Recoverable("ranges", "%v", err)
	}
	return codec.Wire{"ranges": rangeValues(ranges)}, nil
}

// DateRangeElement prints the text of the date range a date falls in
type DateRangeElement struct{ base }

func NewDateRange() *DateRangeElement {
	return &DateRangeElement{base{typ: "daterange", title: "Date range"}}
}

func rangeKey(i int, part string) string {
	return fmt.Sprintf("range_%d_%s", i, part)
}

func (t *DateRangeElement) FormFields(ctx context.Context, env *element.Env, subject element.Subject) []form.Field {
	fields := []form.Field{dateItemField("dateitem")}
	for i := 0; i < rangeRows; i++ {
		n := strconv.Itoa(i + 1)
		fields = append(fields,
			form.Field{Key: rangeKey(i, "start"), Type: form.TypeDate, Label: "Range " + n + " start"},
			form.Field{Key: rangeKey(i, "end"), Type: form.TypeDate, Label: "Range " + n + " end"},
			form.Field{Key: rangeKey(i, "text"), Type: form.TypeText, Label: "Range " + n + " text",
				Help: "May use " + strings.Join([]string{phFirstYear, phLastYear, phRecurringFirstYear, phRecurringLastYear, phCurrentYear}, ", ")},
			form.Field{Key: rangeKey(i, "recurring"), Type: form.TypeCheckbox, Label: "Range " + n + " recurs every year"},
		)
	}
	fields = append(fields,
		form.Field{Key: "fallback", Type: form.TypeText, Label: "Fallback text", Help: "Printed when no range matches"},
		dateFormatField(),
	)
	return fields
}

// rows reads the submitted range rows, skipping empty ones
func (t *DateRangeElement) rows(values form.Values) ([]DateRange, form.Errors) {
	errs := form.Errors{}
	var out []DateRange
	for i := 0; i < rangeRows; i++ {
		start, end, text := values.Get(rangeKey(i, "start")), values.Get(rangeKey(i, "end")), values.Get(rangeKey(i, "text"))
		if start == "" && end == "" && text == "" {
			continue
		}
		r, err := parseRange(map[string]any{
			"start":     start,
			"end":       end,
			"text":      text,
			"recurring": values.Checked(rangeKey(i, "recurring")),
		})
		if err != nil {
			errs.Add(rangeKey(i, "start"), err.Error())
			continue
		}
		if text == "" {
			errs.Add(rangeKey(i, "text"), "required")
			continue
		}
		out = append(out, r)
	}
	return out, errs
}

func (t *DateRangeElement) Validate(ctx context.Context, env *element.Env, values form.Values) form.Errors {
	ranges, errs := t.rows(values)
	validateDateItem(errs, values, "dateitem")
	if len(ranges) == 0 && len(errs) == 0 {
		errs.Add(rangeKey(0, "start"), "at least one range is required")
	}
	return errs
}

func (t *DateRangeElement) Normalise(ctx context.Context, values form.Values, current payload.Payload) (payload.Payload, error) {
	ranges, errs := t.rows(values)
	if err := errs.Err(); err != nil {
		return nil, err
	}
	p := payload.Payload{
		"dateitem": values.Get("dateitem"),
		"ranges":   rangeValues(ranges),
		"fallback": values.Get("fallback"),
	}
	if values.Has("dateformat") {
		p["dateformat"] = values.Get("dateformat")
	}
	return p, nil
}

func (t *DateRangeElement) Render(ctx context.Context, s surface.Surface, req *element.Request) error {
	ranges, err := parseRanges(req.Payload["ranges"])
	if err != nil {
		return codec.Recoverable("ranges", "%v", err)
	}
	d, err := resolveDate(ctx, req, req.Payload.String("dateitem"))
	if err != nil || d.IsZero() {
		return err
	}
	return req.Text(s, RangeText(ranges, req.Payload.String("fallback"), d))
}

func (t *DateRangeElement) PortableFields(port *element.Port) codec.Fields {
	return append(codec.Fields{
		{Key: "ranges", Codec: rangesCodec{}},
		{Key: "fallback", Codec: codec.String{AllowEmpty: true}, Optional: true},
	}, datePortable...)
}

func (t *DateRangeElement) AfterRestore(ctx context.Context, rc *element.RestoreContext, p payload.Payload) (bool, error) {
	return remapModule(rc, p), nil
}
