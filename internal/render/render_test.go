package render

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/element/types"
	"github.com/foxzi/certly/internal/filestore"
	"github.com/foxzi/certly/internal/lms"
	"github.com/foxzi/certly/internal/metrics"
	"github.com/foxzi/certly/internal/surface"
)

type recorder struct {
	pages int
	texts []string
}

func (r *recorder) AddPage(w, h, lm, rm float64) error { r.pages++; return nil }
func (r *recorder) Text(b surface.Box, text string) error {
	r.texts = append(r.texts, text)
	return nil
}
func (r *recorder) Image(b surface.Box, height float64, img surface.Image) error { return nil }
func (r *recorder) Rect(x, y, w, h, lw float64, colour string) error             { return nil }
func (r *recorder) PageSize() (float64, float64)                                 { return 210, 297 }
func (r *recorder) Write(w io.Writer) error                                      { return nil }

// brokenDirectory fails category lookups like an unreachable database
type brokenDirectory struct {
	*lms.Memory
}

func (d brokenDirectory) Category(ctx context.Context, id int64) (*lms.Category, error) {
	return nil, errors.New("database is locked")
}

func newRenderer(t *testing.T, dir lms.Directory) *Renderer {
	t.Helper()
	files, err := filestore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	env := &element.Env{Directory: dir, Files: files}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(types.NewRegistry(), env, Options{Creator: "certly"}, logger)
}

func testDirectory() *lms.Memory {
	return lms.NewMemory(&lms.Fixtures{
		Users:      []*lms.User{{ID: 2, FirstName: "Ada", LastName: "Lovelace"}},
		Categories: []*lms.Category{{ID: 1, Name: "Science"}},
		Courses:    []*lms.Course{{ID: 10, FullName: "Analytical Engines", CategoryID: 1}},
	})
}

func testTemplate() *certificate.Template {
	missing := strings.Repeat("c", 64)
	return &certificate.Template{
		ID:   "t1",
		Name: "Completion",
		Pages: []*certificate.Page{
			{ID: "p2", Sequence: 2, Width: 297, Height: 210, Elements: []*certificate.Element{
				{ID: "e9", Type: "text", Sequence: 1, Data: `{"value":"second page"}`},
			}},
			{ID: "p1", Sequence: 1, Width: 210, Height: 297, Elements: []*certificate.Element{
				{ID: "e3", Type: "studentname", Sequence: 3},
				{ID: "e1", Type: "text", Sequence: 1, Data: `{"value":"Certificate"}`},
				{ID: "e2", Type: "image", Sequence: 2, Data: `{"fileid":"` + missing + `"}`},
				{ID: "e4", Type: "hologram", Sequence: 4, Data: "shiny"},
				{ID: "e5", Type: "coursename", Sequence: 5, Data: `{"value":"fullname"}`},
			}},
		},
	}
}

func testSubject(dir *lms.Memory) element.Subject {
	f := dir.Fixtures()
	return element.Subject{User: f.Users[0], Course: f.Courses[0]}
}

func TestWalk_FailedElementsLeaveSiblings(t *testing.T) {
	m := metrics.New()
	metrics.SetGlobal(m)
	defer metrics.SetGlobal(nil)

	dir := testDirectory()
	r := newRenderer(t, dir)
	tmpl := testTemplate()
	rec := &recorder{}

	rep, err := r.walk(context.Background(), rec, tmpl, tmpl.OrderedPages(), testSubject(dir), false)
	if err != nil {
		t.Fatalf("walk() error = %v", err)
	}

	want := []string{"Certificate", "Ada Lovelace", "Analytical Engines", "second page"}
	if strings.Join(rec.texts, "|") != strings.Join(want, "|") {
		t.Errorf("texts = %q, want %q", rec.texts, want)
	}
	if rep.Pages != 2 || rep.Elements != 6 {
		t.Errorf("report = %+v", rep)
	}
	if len(rep.Failures) != 2 || rep.Failures[0].ElementID != "e2" || rep.Failures[1].Type != "hologram" {
		t.Errorf("failures = %+v", rep.Failures)
	}

	if got := testutil.ToFloat64(m.ElementRenderFailuresTotal.WithLabelValues("image")); got != 1 {
		t.Errorf("image failures = %v, want 1", got)
	}
}

func TestPDF(t *testing.T) {
	dir := testDirectory()
	r := newRenderer(t, dir)

	var buf bytes.Buffer
	rep, err := r.PDF(context.Background(), testTemplate(), testSubject(dir), false, &buf)
	if err != nil {
		t.Fatalf("PDF() error = %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Errorf("output is not a PDF")
	}
	if len(rep.Failures) != 2 {
		t.Errorf("failures = %d, want 2", len(rep.Failures))
	}
}

func TestPDF_CorruptImageLeavesSiblings(t *testing.T) {
	files, err := filestore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	ref, err := files.Put(context.Background(), "seal.png", "image/png", strings.NewReader("not a png"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	dir := testDirectory()
	env := &element.Env{Directory: dir, Files: files}
	r := New(types.NewRegistry(), env, Options{Creator: "certly"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	tmpl := &certificate.Template{ID: "t1", Pages: []*certificate.Page{{ID: "p1", Width: 297, Height: 210, Elements: []*certificate.Element{
		{ID: "e1", Type: "image", Sequence: 1, Data: `{"fileid":"` + ref.ID + `","width":30}`},
		{ID: "e2", Type: "text", Sequence: 2, Data: `{"value":"Certificate"}`},
	}}}}

	var buf bytes.Buffer
	rep, err := r.PDF(context.Background(), tmpl, testSubject(dir), false, &buf)
	if err != nil {
		t.Fatalf("PDF() error = %v", err)
	}
	if len(rep.Failures) != 1 || rep.Failures[0].ElementID != "e1" {
		t.Errorf("failures = %+v, want only e1", rep.Failures)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Errorf("output is not a PDF")
	}
}

func TestPDF_StoreFailureAborts(t *testing.T) {
	dir := testDirectory()
	r := newRenderer(t, brokenDirectory{dir})
	tmpl := &certificate.Template{ID: "t1", Pages: []*certificate.Page{{ID: "p1", Elements: []*certificate.Element{
		{ID: "e1", Type: "categoryname"},
	}}}}

	_, err := r.PDF(context.Background(), tmpl, testSubject(dir), false, io.Discard)
	if !element.IsStoreError(err) {
		t.Fatalf("PDF() error = %v, want store error", err)
	}
}

func TestPDF_Cancelled(t *testing.T) {
	dir := testDirectory()
	r := newRenderer(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.PDF(ctx, testTemplate(), testSubject(dir), false, io.Discard)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("PDF() error = %v, want context.Canceled", err)
	}
}

func TestMarkup(t *testing.T) {
	r := newRenderer(t, testDirectory())
	tmpl := testTemplate()

	var buf bytes.Buffer
	if _, err := r.Markup(context.Background(), tmpl, "p1", &buf); err != nil {
		t.Fatalf("Markup() error = %v", err)
	}
	html := buf.String()
	if !strings.Contains(html, `data-element-id="e1"`) || !strings.Contains(html, "Certificate") {
		t.Errorf("markup missing element e1: %s", html)
	}
	if strings.Contains(html, "second page") {
		t.Error("markup contains another page")
	}
	if !strings.Contains(html, "Student name") {
		t.Error("preview does not use placeholders")
	}

	if _, err := r.Markup(context.Background(), tmpl, "nope", &buf); !errors.Is(err, certificate.ErrNotFound) {
		t.Errorf("Markup(unknown page) error = %v", err)
	}
}
