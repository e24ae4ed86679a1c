package element

import (
	"context"
	"errors"
	"testing"

	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/codec"
	"github.com/foxzi/certly/internal/filestore"
	"github.com/foxzi/certly/internal/form"
	"github.com/foxzi/certly/internal/lms"
	"github.com/foxzi/certly/internal/payload"
	"github.com/foxzi/certly/internal/surface"
)

type textType struct{}

func (textType) Type() string  { return "text" }
func (textType) Title() string { return "Text" }

func (textType) FormFields(ctx context.Context, env *Env, subject Subject) []form.Field {
	return []form.Field{{Key: "value", Type: form.TypeText, Label: "Text"}}
}

func (textType) Render(ctx context.Context, s surface.Surface, req *Request) error {
	return req.Text(s, req.Payload.String("value"))
}

func (textType) PortableFields(port *Port) codec.Fields {
	return codec.Fields{{Key: "value", Codec: codec.String{AllowEmpty: true}}}
}

type bareType struct{}

func (bareType) Type() string  { return "bare" }
func (bareType) Title() string { return "Bare" }

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(textType{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register(textType{}); err == nil {
		t.Error("Register() duplicate error = nil")
	}
	reg.MustRegister(bareType{})

	if _, err := reg.Get("missing"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Get(missing) error = %v, want ErrUnknownType", err)
	}
	h, err := reg.Get("text")
	if err != nil || h.Type() != "text" {
		t.Fatalf("Get(text) = %v, %v", h, err)
	}

	hs := reg.Handlers()
	if len(hs) != 2 || hs[0].Type() != "bare" || hs[1].Type() != "text" {
		t.Errorf("Handlers() not sorted by type: %v", hs)
	}
}

func TestValidate_SharedControls(t *testing.T) {
	page := &certificate.Page{Width: 210, Height: 297}
	tests := []struct {
		name   string
		values form.Values
		bad    string
	}{
		{"ok", form.Values{"posx": "10", "posy": "20", "colour": "#336699", "refpoint": "1"}, ""},
		{"negative x", form.Values{"posx": "-1"}, "posx"},
		{"x off page", form.Values{"posx": "211"}, "posx"},
		{"not a number", form.Values{"posy": "abc"}, "posy"},
		{"bad colour", form.Values{"colour": "blue"}, "colour"},
		{"bad refpoint", form.Values{"refpoint": "5"}, "refpoint"},
		{"bad alignment", form.Values{"alignment": "J"}, "alignment"},
		{"font size too big", form.Values{"fontsize": "500"}, "fontsize"},
		{"unknown font", form.Values{"font": "comic"}, "font"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(context.Background(), textType{}, nil, page, tt.values)
			if tt.bad == "" {
				if len(errs) != 0 {
					t.Errorf("Validate() = %v, want no errors", errs)
				}
				return
			}
			if _, ok := errs[tt.bad]; !ok {
				t.Errorf("Validate() = %v, want error on %s", errs, tt.bad)
			}
		})
	}
}

func TestApply_FoldsOverridesIntoLegacyPayload(t *testing.T) {
	e := &certificate.Element{Type: "text", Data: "Hello"}
	values := form.Values{"name": "Greeting", "value": "Hello", "width": "120", "posx": "15"}

	if err := Apply(context.Background(), textType{}, nil, nil, e, values); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if e.Data != `{"value":"Hello","width":120}` {
		t.Errorf("Data = %s", e.Data)
	}
	if e.Width != 120 || e.PosX != 15 || e.Name != "Greeting" {
		t.Errorf("element row = %+v", e)
	}
	if e.SchemaVersion != payload.SchemaVersion {
		t.Errorf("SchemaVersion = %d", e.SchemaVersion)
	}
}

func TestApply_RejectsInvalid(t *testing.T) {
	e := &certificate.Element{Data: "keep"}
	err := Apply(context.Background(), textType{}, nil, nil, e, form.Values{"colour": "nope"})
	if err == nil {
		t.Fatal("Apply() error = nil")
	}
	if e.Data != "keep" {
		t.Errorf("Data changed to %q on failure", e.Data)
	}
}

func TestEffectiveStyle(t *testing.T) {
	e := &certificate.Element{Font: "times", FontSize: 10, Colour: "#111111", Width: 50}
	st := EffectiveStyle(e, payload.Payload{"fontsize": 18.0, "colour": "#222222"})
	if st.Font != "times" || st.FontSize != 18 || st.Colour != "#222222" || st.Width != 50 {
		t.Errorf("EffectiveStyle() = %+v", st)
	}

	st = EffectiveStyle(&certificate.Element{}, payload.Payload{})
	if st.Font != DefaultFont || st.FontSize != DefaultFontSize || st.Colour != DefaultColour {
		t.Errorf("EffectiveStyle() defaults = %+v", st)
	}
}

func TestPortableFields(t *testing.T) {
	ctx := context.Background()

	if fs := PortableFields(nil, &Port{}); len(fs) != 1 || fs[0].Key != "value" {
		t.Errorf("PortableFields(nil) = %v", fs)
	}
	if _, err := ExportData(ctx, bareType{}, &Port{}, payload.Payload{"value": "x"}); err != nil {
		t.Errorf("ExportData(bare) error = %v", err)
	}
	err := ValidateImport(ctx, nil, &Env{}, map[string]any{})
	if !codec.IsRecoverable(err) {
		t.Errorf("ValidateImport(nil) error = %v, want recoverable", err)
	}

	data, err := ExportData(ctx, textType{}, &Port{}, payload.Payload{"value": "Hi", "fontsize": 14.0})
	if err != nil {
		t.Fatalf("ExportData() error = %v", err)
	}
	got, err := ConvertImport(ctx, textType{}, &Env{}, &Port{}, data)
	if err != nil {
		t.Fatalf("ConvertImport() error = %v", err)
	}
	if got.String("value") != "Hi" {
		t.Errorf("value = %v", got["value"])
	}
	if v, _ := got.Float("fontsize"); v != 14 {
		t.Errorf("fontsize = %v", got["fontsize"])
	}
}

func TestLookup(t *testing.T) {
	if err := Lookup("user", nil); err != nil {
		t.Errorf("Lookup(nil) = %v", err)
	}
	for _, err := range []error{lms.ErrNotFound, filestore.ErrNotFound, certificate.ErrNotFound} {
		if got := Lookup("x", err); !codec.IsRecoverable(got) {
			t.Errorf("Lookup(%v) = %v, want recoverable", err, got)
		}
	}
	got := Lookup("x", errors.New("disk on fire"))
	if !IsStoreError(got) {
		t.Errorf("Lookup(io error) = %v, want StoreError", got)
	}
}

func TestRestoreContext(t *testing.T) {
	rc := NewRestoreContext(7)
	rc.Add(MapGradeItem, 10, 110)
	rc.Add(MapUser, 2, 2)
	if id, ok := rc.Lookup(MapGradeItem, 10); !ok || id != 110 {
		t.Errorf("Lookup() = %d, %v", id, ok)
	}
	if _, ok := rc.Lookup(MapCourseModule, 10); ok {
		t.Error("Lookup() found an unmapped kind")
	}
	if rc.Len() != 2 {
		t.Errorf("Len() = %d", rc.Len())
	}
}

func TestDraw_Markup(t *testing.T) {
	m := surface.NewMarkup(nil)
	if err := m.AddPage(210, 297, 0, 0); err != nil {
		t.Fatal(err)
	}
	e := &certificate.Element{ID: "e1", Data: `{"value":"Hi"}`}
	req := NewRequest(&Env{}, &certificate.Page{}, e, Subject{}, true)
	if err := Draw(context.Background(), textType{}, m, req); err != nil {
		t.Fatalf("Draw() error = %v", err)
	}
	if err := Draw(context.Background(), bareType{}, m, req); err != nil {
		t.Errorf("Draw(no renderer) error = %v", err)
	}
}
