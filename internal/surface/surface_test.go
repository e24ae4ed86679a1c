package surface

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestRGB(t *testing.T) {
	tests := []struct {
		in      string
		r, g, b int
	}{
		{"#ff8000", 255, 128, 0},
		{"#FFF", 255, 255, 255},
		{"336699", 0x33, 0x66, 0x99},
		{"red", 0, 0, 0},
		{"", 0, 0, 0},
	}
	for _, tt := range tests {
		r, g, b := RGB(tt.in)
		if r != tt.r || g != tt.g || b != tt.b {
			t.Errorf("RGB(%q) = %d,%d,%d, want %d,%d,%d", tt.in, r, g, b, tt.r, tt.g, tt.b)
		}
	}
}

func TestFont(t *testing.T) {
	tests := []struct {
		name, family, style string
	}{
		{"helvetica", "helvetica", ""},
		{"timesbi", "times", "BI"},
		{"freesansb", "helvetica", "B"},
		{"courieri", "courier", "I"},
		{"comic", "helvetica", ""},
	}
	for _, tt := range tests {
		family, style := Font(tt.name)
		if family != tt.family || style != tt.style {
			t.Errorf("Font(%q) = %s %s, want %s %s", tt.name, family, style, tt.family, tt.style)
		}
	}
}

func TestBox_Left(t *testing.T) {
	b := Box{X: 100}
	for ref, want := range map[int]float64{RefTopLeft: 100, RefTopCenter: 80, RefTopRight: 60} {
		b.RefPoint = ref
		if got := b.Left(40); got != want {
			t.Errorf("Left() refpoint %d = %v, want %v", ref, got, want)
		}
	}
}

func TestPDF_Document(t *testing.T) {
	p := NewPDF(PDFOptions{Title: "Certificate"})

	if err := p.Text(Box{}, "x"); err == nil {
		t.Error("Text() before AddPage expected error")
	}
	if err := p.AddPage(297, 210, 10, 10); err != nil {
		t.Fatalf("AddPage() error = %v", err)
	}
	if w, h := p.PageSize(); w != 297 || h != 210 {
		t.Errorf("PageSize() = %v x %v, want 297 x 210", w, h)
	}

	style := Style{Font: "timesb", Size: 20, Colour: "#003366"}
	if err := p.Text(Box{X: 148.5, Y: 30, RefPoint: RefTopCenter, Align: "C", Style: style}, "Certificate of Completion"); err != nil {
		t.Fatalf("Text() error = %v", err)
	}

	err := p.Image(Box{X: 10, Y: 10, Width: 20}, 0, Image{Key: "broken", MimeType: "image/png", Data: []byte("not a png")})
	if err == nil {
		t.Error("Image(broken) expected error")
	}
	if err := p.Image(Box{X: 10, Y: 10}, 0, Image{Key: "svg", MimeType: "image/svg+xml"}); !errors.Is(err, ErrUnsupportedImage) {
		t.Errorf("Image(svg) error = %v, want ErrUnsupportedImage", err)
	}

	// A failed image must not break the rest of the document
	if err := p.Text(Box{X: 20, Y: 60, Width: 100, Style: Style{Size: 12}}, "Ada Lovelace"); err != nil {
		t.Fatalf("Text() after failed image error = %v", err)
	}
	if err := p.Image(Box{X: 10, Y: 100, Width: 30}, 0, Image{Key: "logo", MimeType: "image/png", Data: testPNG(t)}); err != nil {
		t.Fatalf("Image() error = %v", err)
	}
	if err := p.Rect(5, 5, 287, 200, 1, "#000000"); err != nil {
		t.Fatalf("Rect() error = %v", err)
	}

	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Errorf("output is not a PDF: %q", buf.Bytes()[:min(buf.Len(), 16)])
	}
}

func TestMarkup(t *testing.T) {
	m := NewMarkup(nil)
	if err := m.AddPage(210, 297, 0, 0); err != nil {
		t.Fatalf("AddPage() error = %v", err)
	}

	style := Style{Font: "helveticab", Size: 14, Colour: "red;background:url(x)"}
	if err := m.Text(Box{ElementID: "e1", X: 105, Y: 20, RefPoint: RefTopCenter, Align: "C", Style: style}, "<b>Ada</b>"); err != nil {
		t.Fatalf("Text() error = %v", err)
	}
	if err := m.Image(Box{ElementID: "e2", X: 10, Y: 10, Width: 30}, 0, Image{Key: "abc", Name: "logo.png"}); err != nil {
		t.Fatalf("Image() error = %v", err)
	}

	var buf bytes.Buffer
	if err := m.Write(&buf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		`data-element-id="e1"`,
		"&lt;b&gt;Ada&lt;/b&gt;",
		"translateX(-50%)",
		"font-weight:bold",
		"color:#000000",
		`src="/files/abc"`,
		"width:210mm",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markup missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "background") {
		t.Error("markup kept an unsafe colour")
	}
}
