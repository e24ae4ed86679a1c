package types

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/codec"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/filestore"
	"github.com/foxzi/certly/internal/form"
	"github.com/foxzi/certly/internal/lms"
	"github.com/foxzi/certly/internal/payload"
	"github.com/foxzi/certly/internal/surface"
)

type recorder struct {
	w, h   float64
	texts  []string
	images []surface.Image
	rects  [][4]float64
}

func (r *recorder) AddPage(w, h, lm, rm float64) error {
	r.w, r.h = w, h
	return nil
}

func (r *recorder) Text(b surface.Box, text string) error {
	r.texts = append(r.texts, text)
	return nil
}

func (r *recorder) Image(b surface.Box, height float64, img surface.Image) error {
	r.images = append(r.images, img)
	return nil
}

func (r *recorder) Rect(x, y, w, h, lineWidth float64, colour string) error {
	r.rects = append(r.rects, [4]float64{x, y, w, h})
	return nil
}

func (r *recorder) PageSize() (float64, float64) { return r.w, r.h }
func (r *recorder) Write(w io.Writer) error       { return nil }

func (r *recorder) text() string {
	return strings.Join(r.texts, "|")
}

var (
	completed = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	now       = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
)

func testFixtures() *lms.Fixtures {
	return &lms.Fixtures{
		Users: []*lms.User{
			{ID: 2, Username: "ada", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Profile: map[string]string{"pet": "cat"}},
			{ID: 5, Username: "grace", FirstName: "Grace", LastName: "Hopper"},
		},
		Categories: []*lms.Category{{ID: 1, Name: "Science"}},
		Courses: []*lms.Course{{
			ID: 10, FullName: "Analytical Engines", ShortName: "AE101", CategoryID: 1,
			StartDate: time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
			Fields:    map[string]string{"credits": "6"},
		}},
		CustomFields: []*lms.CustomField{{ID: 1, ShortName: "credits", Name: "Credits", Type: "text"}},
		Enrolments:   []*lms.Enrolment{{CourseID: 10, UserID: 5, Role: lms.RoleTeacher}},
		GradeItems: []*lms.GradeItem{
			{ID: 100, CourseID: 10, ItemType: "course", GradeMax: 100, DecimalPoints: 1},
			{ID: 101, CourseID: 10, Name: "Essay", ItemType: "mod", GradeMax: 20},
		},
		Grades: []*lms.Grade{
			{ItemID: 100, UserID: 2, FinalGrade: codec.Ptr(87.5)},
			{ItemID: 101, UserID: 2, FinalGrade: codec.Ptr(15)},
		},
		Outcomes:      []*lms.Outcome{{ID: 7, CourseID: 10, FullName: "Teamwork", Scale: []string{"Poor", "Good", "Excellent"}}},
		OutcomeGrades: []*lms.OutcomeGrade{{OutcomeID: 7, UserID: 2, Value: 3}},
		Completions: []*lms.Completion{
			{CourseID: 10, UserID: 2, TimeCompleted: completed},
			{ModuleID: 4, UserID: 2, TimeCompleted: completed.AddDate(0, -1, 0)},
		},
	}
}

type fixture struct {
	dir     *lms.Memory
	files   *filestore.Local
	env     *element.Env
	subject element.Subject
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	files, err := filestore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	dir := lms.NewMemory(testFixtures())
	f := dir.Fixtures()
	return &fixture{
		dir:   dir,
		files: files,
		env: &element.Env{
			Directory:  dir,
			Files:      files,
			Now:        func() time.Time { return now },
			VerifyURL:  "https://certs.example.com/verify",
			CodeFormat: certificate.CodeUpperDigits,
		},
		subject: element.Subject{
			User:   f.Users[0],
			Course: f.Courses[0],
			Issue:  &certificate.Issue{ID: "i1", UserID: 2, Code: "ABCDEFGHIJ", IssuedAt: completed.AddDate(0, 0, 2)},
		},
	}
}

func (f *fixture) render(t *testing.T, h element.Handler, data string, preview bool) (*recorder, error) {
	t.Helper()
	e := &certificate.Element{ID: "e1", Type: h.Type(), Data: data}
	subject := f.subject
	if preview {
		subject = element.Subject{}
	}
	req := element.NewRequest(f.env, &certificate.Page{Width: 210, Height: 297}, e, subject, preview)
	rec := &recorder{w: 210, h: 297}
	r, ok := h.(element.Renderer)
	if !ok {
		t.Fatalf("%s has no renderer", h.Type())
	}
	return rec, r.Render(context.Background(), rec, req)
}

func (f *fixture) putPNG(t *testing.T) filestore.Ref {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	ref, err := f.files.Put(context.Background(), "logo.png", "image/png", &buf)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	return ref
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if got := len(reg.Handlers()); got != 18 {
		t.Fatalf("len(Handlers()) = %d, want 18", got)
	}
	for _, h := range reg.Handlers() {
		if _, ok := h.(element.Renderer); !ok {
			t.Errorf("%s has no renderer", h.Type())
		}
		if _, ok := h.(element.Portable); !ok {
			t.Errorf("%s is not portable", h.Type())
		}
	}
	if err := Register(reg); err == nil {
		t.Error("Register() twice error = nil")
	}
}

func TestRender_Text(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name    string
		h       element.Handler
		data    string
		want    string
		preview bool
	}{
		{"text", NewText(), `{"value":"Certificate of completion"}`, "Certificate of completion", false},
		{"legacy text", NewText(), "Hello", "Hello", false},
		{"student", NewStudentName(), "", "Ada Lovelace", false},
		{"student preview", NewStudentName(), "", "Student name", true},
		{"course full", NewCourseName(), `{"value":"fullname"}`, "Analytical Engines", false},
		{"course short", NewCourseName(), `{"value":"shortname"}`, "AE101", false},
		{"category", NewCategoryName(), "", "Science", false},
		{"course field", NewCourseField(), `{"value":"shortname"}`, "AE101", false},
		{"course start", NewCourseField(), `{"value":"startdate"}`, "1 September 2024", false},
		{"custom field", NewCourseField(), `{"value":"credits"}`, "6", false},
		{"custom field preview", NewCourseField(), `{"value":"credits"}`, "credits", true},
		{"teacher", NewTeacherName(), `{"teacher":5}`, "Grace Hopper", false},
		{"user email", NewUserField(), `{"value":"email"}`, "ada@example.com", false},
		{"user profile", NewUserField(), `{"value":"profile_pet"}`, "cat", false},
		{"course grade", NewGrade(), `{"gradeitem":"course","gradeformat":"percent"}`, "87.5 %", false},
		{"course letter", NewGrade(), `{"gradeitem":"course","gradeformat":"letter"}`, "B+", false},
		{"item points", NewGrade(), `{"gradeitem":"101","gradeformat":"points"}`, "15", false},
		{"item name", NewGradeItemName(), `{"gradeitem":"101"}`, "Essay", false},
		{"course item name", NewGradeItemName(), `{"gradeitem":"course"}`, "Analytical Engines", false},
		{"outcome", NewOutcome(), `{"outcome":7}`, "Teamwork: Excellent", false},
		{"code", NewCode(), `{"display":"code"}`, "ABCDEFGHIJ", false},
		{"code and url", NewCode(), `{"display":"both"}`, "ABCDEFGHIJ\nhttps://certs.example.com/verify/ABCDEFGHIJ", false},
		{"completion date", NewDate(), `{"dateitem":"completion","dateformat":"ordinal"}`, "15th June 2025", false},
		{"issue date", NewDate(), `{"dateitem":"issue","dateformat":"iso"}`, "2025-06-17", false},
		{"module date", NewDate(), `{"dateitem":"module:4","dateformat":"dmy"}`, "15 May 2025", false},
		{"date preview", NewDate(), `{"dateitem":"completion","dateformat":"dmy"}`, "1 July 2025", true},
		{"expiry", NewExpiry(), `{"dateitem":"completion","period":"1y","dateformat":"dmy"}`, "15 June 2026", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := f.render(t, tt.h, tt.data, tt.preview)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if got := rec.text(); got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRender_MissingReferencesAreRecoverable(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		h    element.Handler
		data string
	}{
		{"deleted teacher", NewTeacherName(), `{"teacher":99}`},
		{"deleted grade item", NewGrade(), `{"gradeitem":"555","gradeformat":"percent"}`},
		{"deleted outcome", NewOutcome(), `{"outcome":8}`},
		{"unknown custom field", NewCourseField(), `{"value":"colour"}`},
		{"missing image", NewImage(), `{"fileid":"` + strings.Repeat("a", 64) + `"}`},
		{"missing background", NewBackgroundImage(), `{"fileid":"nope"}`},
		{"unknown date item", NewDate(), `{"dateitem":"yesterday"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := f.render(t, tt.h, tt.data, false)
			if !codec.IsRecoverable(err) {
				t.Fatalf("Render() error = %v, want recoverable", err)
			}
			if len(rec.texts)+len(rec.images)+len(rec.rects) != 0 {
				t.Errorf("Render() drew output on failure")
			}
		})
	}
}

func TestRender_NoSubject(t *testing.T) {
	f := newFixture(t)
	f.subject = element.Subject{}
	for _, h := range []element.Handler{NewStudentName(), NewCourseName(), NewCode(), NewUserField()} {
		_, err := f.render(t, h, `{"value":"fullname"}`, false)
		if !codec.IsRecoverable(err) {
			t.Errorf("%s Render() error = %v, want recoverable", h.Type(), err)
		}
	}
}

func TestRender_Images(t *testing.T) {
	f := newFixture(t)
	ref := f.putPNG(t)

	rec, err := f.render(t, NewImage(), `{"fileid":"`+ref.ID+`","height":30}`, false)
	if err != nil {
		t.Fatalf("Render(image) error = %v", err)
	}
	if len(rec.images) != 1 || rec.images[0].MimeType != "image/png" || len(rec.images[0].Data) == 0 {
		t.Errorf("images = %+v", rec.images)
	}

	if _, err := f.render(t, NewBackgroundImage(), `{"fileid":"`+ref.ID+`"}`, false); err != nil {
		t.Errorf("Render(bgimage) error = %v", err)
	}

	f.subject.User.Picture = ref.ID
	rec, err = f.render(t, NewUserPicture(), "", false)
	if err != nil || len(rec.images) != 1 {
		t.Errorf("Render(userpicture) = %v, %v", rec.images, err)
	}

	rec, err = f.render(t, NewUserPicture(), `{"height":20}`, true)
	if err != nil || len(rec.rects) != 1 {
		t.Errorf("Render(userpicture preview) = %v, %v", rec.rects, err)
	}
}

func TestRender_Border(t *testing.T) {
	f := newFixture(t)
	rec, err := f.render(t, NewBorder(), `{"width":2,"colour":"#aa0000"}`, false)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	want := [4]float64{1, 1, 208, 295}
	if len(rec.rects) != 1 || rec.rects[0] != want {
		t.Errorf("rects = %v, want %v", rec.rects, want)
	}
}

func TestFormatGrade(t *testing.T) {
	item := &lms.GradeItem{GradeMin: 0, GradeMax: 50, DecimalPoints: 2}
	tests := []struct {
		value  float64
		format string
		want   string
	}{
		{40, GradePercent, "80.00 %"},
		{40, GradePoints, "40.00"},
		{40, GradeLetter, "B-"},
		{50, GradeLetter, "A"},
		{10, GradeLetter, "F"},
	}
	for _, tt := range tests {
		if got := FormatGrade(item, tt.value, tt.format); got != tt.want {
			t.Errorf("FormatGrade(%v, %s) = %q, want %q", tt.value, tt.format, got, tt.want)
		}
	}

	scale := &lms.GradeItem{Scale: []string{"Fail", "Pass", "Merit"}}
	if got := FormatGrade(scale, 2, GradePercent); got != "Pass" {
		t.Errorf("FormatGrade(scale) = %q", got)
	}
	if got := FormatGrade(scale, 9, GradePercent); got != "" {
		t.Errorf("FormatGrade(scale out of range) = %q", got)
	}
}

func TestOrdinal(t *testing.T) {
	want := map[int]string{1: "1st", 2: "2nd", 3: "3rd", 4: "4th", 11: "11th", 12: "12th", 13: "13th", 21: "21st", 22: "22nd", 111: "111th"}
	for n, w := range want {
		if got := ordinal(n); got != w {
			t.Errorf("ordinal(%d) = %q, want %q", n, got, w)
		}
	}
}

func TestCodeText(t *testing.T) {
	if got := CodeText(CodeURL, "X1", "https://a/verify/"); got != "https://a/verify/X1" {
		t.Errorf("CodeText(url) = %q", got)
	}
	if got := CodeText(CodeBoth, "X1", ""); got != "X1" {
		t.Errorf("CodeText(no url) = %q", got)
	}
}

func TestCode_RenderMarkup(t *testing.T) {
	f := newFixture(t)
	e := &certificate.Element{ID: "e1", Type: "code", Data: `{"display":"url"}`}
	req := element.NewRequest(f.env, &certificate.Page{}, e, f.subject, false)
	html, err := NewCode().RenderMarkup(context.Background(), req)
	if err != nil {
		t.Fatalf("RenderMarkup() error = %v", err)
	}
	if !strings.Contains(string(html), `<a href="https://certs.example.com/verify/ABCDEFGHIJ">`) {
		t.Errorf("RenderMarkup() = %s", html)
	}
}

func TestRangeText(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 12, 0, 0, 0, time.UTC) }
	ranges := []DateRange{
		{Start: day(2024, 1, 1), End: day(2024, 12, 31), Text: "Cohort {{range_first_year}}"},
		{Start: day(2000, 9, 1), End: day(2001, 6, 30), Text: "Academic year {{recurring_range_first_year}}/{{recurring_range_last_year}}", Recurring: true},
	}
	for i := range ranges {
		ranges[i].Start = ranges[i].Start.Truncate(24 * time.Hour)
		ranges[i].End = ranges[i].End.Truncate(24 * time.Hour)
	}

	tests := []struct {
		date time.Time
		want string
	}{
		{day(2024, 5, 5), "Cohort 2024"},
		{day(2025, 3, 10), "Academic year 2024/2025"},
		{day(2025, 10, 1), "Academic year 2025/2026"},
		{day(2025, 9, 1), "Academic year 2025/2026"},
		{day(2025, 6, 30), "Academic year 2024/2025"},
		{day(2025, 7, 15), "Summer 2025"},
	}
	for _, tt := range tests {
		if got := RangeText(ranges, "Summer {{current_year}}", tt.date); got != tt.want {
			t.Errorf("RangeText(%s) = %q, want %q", tt.date.Format(rangeLayout), got, tt.want)
		}
	}
}

func TestDateRange_FormRoundTrip(t *testing.T) {
	f := newFixture(t)
	h := NewDateRange()
	values := form.Values{
		"dateitem":          "completion",
		"range_0_start":     "2000-09-01",
		"range_0_end":       "2001-06-30",
		"range_0_text":      "Year {{recurring_range_first_year}}",
		"range_0_recurring": "1",
		"fallback":          "None",
	}
	e := &certificate.Element{}
	if err := element.Apply(context.Background(), h, f.env, &certificate.Page{Width: 210, Height: 297}, e, values); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	rec, err := f.render(t, h, e.Data, false)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if rec.text() != "Year 2024" {
		t.Errorf("Render() = %q", rec.text())
	}

	bad := form.Values{"dateitem": "issue", "range_0_start": "2024-05-01", "range_0_end": "2024-04-01", "range_0_text": "x"}
	if errs := element.Validate(context.Background(), h, f.env, nil, bad); len(errs) == 0 {
		t.Error("Validate() accepted an end before the start")
	}
	long := form.Values{"dateitem": "issue", "range_0_start": "2024-01-01", "range_0_end": "2025-01-01", "range_0_text": "x", "range_0_recurring": "on"}
	if errs := element.Validate(context.Background(), h, f.env, nil, long); len(errs) == 0 {
		t.Error("Validate() accepted a recurring range of more than a year")
	}
}

func TestValidate_TypeForms(t *testing.T) {
	f := newFixture(t)
	ref := f.putPNG(t)
	tests := []struct {
		name   string
		h      element.Handler
		values form.Values
		ok     bool
	}{
		{"text", NewText(), form.Values{"value": "Hi"}, true},
		{"empty text", NewText(), form.Values{}, false},
		{"coursename", NewCourseName(), form.Values{"value": "idnumber"}, false},
		{"custom field", NewCourseField(), form.Values{"value": "credits"}, true},
		{"gone custom field", NewCourseField(), form.Values{"value": "colour"}, false},
		{"teacher", NewTeacherName(), form.Values{"teacher": "5"}, true},
		{"unknown teacher", NewTeacherName(), form.Values{"teacher": "99"}, false},
		{"profile field", NewUserField(), form.Values{"value": "profile_pet"}, true},
		{"grade", NewGrade(), form.Values{"gradeitem": "course", "gradeformat": "letter"}, true},
		{"grade bad item", NewGrade(), form.Values{"gradeitem": "x", "gradeformat": "letter"}, false},
		{"module date", NewDate(), form.Values{"dateitem": "module:4", "dateformat": "dmy"}, true},
		{"bad module", NewDate(), form.Values{"dateitem": "module:x"}, false},
		{"image", NewImage(), form.Values{"fileid": ref.ID, "width": "40"}, true},
		{"missing image", NewImage(), form.Values{"fileid": strings.Repeat("b", 64)}, false},
		{"border", NewBorder(), form.Values{"width": "1.5"}, true},
		{"border without width", NewBorder(), form.Values{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := element.Validate(context.Background(), tt.h, f.env, nil, tt.values)
			if (len(errs) == 0) != tt.ok {
				t.Errorf("Validate() = %v, want ok %v", errs, tt.ok)
			}
		})
	}
}

func TestCourseField_ImportOfDeletedCustomField(t *testing.T) {
	f := newFixture(t)
	h := NewCourseField()
	port := &element.Port{Directory: f.dir}

	data, err := element.ExportData(context.Background(), h, port, payload.Payload{"value": "credits"})
	if err != nil {
		t.Fatalf("ExportData() error = %v", err)
	}
	if err := element.ValidateImport(context.Background(), h, f.env, data); err != nil {
		t.Fatalf("ValidateImport() error = %v", err)
	}

	f.dir.Fixtures().CustomFields = nil
	err = element.ValidateImport(context.Background(), h, f.env, data)
	if !codec.IsRecoverable(err) {
		t.Errorf("ValidateImport() error = %v, want recoverable", err)
	}

	std, _ := element.ExportData(context.Background(), h, port, payload.Payload{"value": "fullname"})
	if err := element.ValidateImport(context.Background(), h, f.env, std); err != nil {
		t.Errorf("ValidateImport(standard) error = %v", err)
	}
}

func TestAfterRestore(t *testing.T) {
	rc := element.NewRestoreContext(20)
	rc.Add(element.MapGradeItem, 101, 201)
	rc.Add(element.MapCourseModule, 4, 40)
	rc.Add(element.MapUser, 5, 6)
	ctx := context.Background()

	tests := []struct {
		name    string
		h       element.Handler
		p       payload.Payload
		key     string
		want    any
		changed bool
	}{
		{"grade item", NewGrade(), payload.Payload{"gradeitem": "101"}, "gradeitem", "201", true},
		{"course total", NewGrade(), payload.Payload{"gradeitem": "course"}, "gradeitem", "course", false},
		{"item name", NewGradeItemName(), payload.Payload{"gradeitem": "101"}, "gradeitem", "201", true},
		{"module date", NewDate(), payload.Payload{"dateitem": "module:4"}, "dateitem", "module:40", true},
		{"unmapped module", NewExpiry(), payload.Payload{"dateitem": "module:9"}, "dateitem", "module:9", false},
		{"range module", NewDateRange(), payload.Payload{"dateitem": "module:4"}, "dateitem", "module:40", true},
		{"teacher is mapped on import", NewTeacherName(), payload.Payload{"teacher": int64(5)}, "teacher", int64(5), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed, err := element.AfterRestore(ctx, tt.h, rc, tt.p)
			if err != nil {
				t.Fatalf("AfterRestore() error = %v", err)
			}
			if changed != tt.changed || tt.p[tt.key] != tt.want {
				t.Errorf("AfterRestore() = %v, %v; want %v, %v", changed, tt.p[tt.key], tt.changed, tt.want)
			}
		})
	}
}

func TestDateRange_Portable(t *testing.T) {
	ctx := context.Background()
	h := NewDateRange()
	p := payload.Parse(`{"dateitem":"issue","fallback":"","ranges":[{"end":"2001-06-30","recurring":true,"start":"2000-09-01","text":"Y"}]}`)

	data, err := element.ExportData(ctx, h, &element.Port{}, p)
	if err != nil {
		t.Fatalf("ExportData() error = %v", err)
	}
	got, err := element.ConvertImport(ctx, h, &element.Env{}, &element.Port{}, data)
	if err != nil {
		t.Fatalf("ConvertImport() error = %v", err)
	}
	ranges, err := parseRanges(got["ranges"])
	if err != nil || len(ranges) != 1 || !ranges[0].Recurring {
		t.Errorf("ranges = %+v, %v", ranges, err)
	}

	data["ranges"] = map[string]any{"ranges": []any{map[string]any{"start": "bad"}}}
	if _, err := element.ConvertImport(ctx, h, &element.Env{}, &element.Port{}, data); !codec.IsRecoverable(err) {
		t.Errorf("ConvertImport(bad range) error = %v, want recoverable", err)
	}
}
