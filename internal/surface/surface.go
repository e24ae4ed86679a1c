// Package surface provides the drawing targets element types render onto:
// a PDF document and HTML preview markup.
package surface

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrUnsupportedImage is returned for image formats a surface cannot embed
var ErrUnsupportedImage = errors.New("unsupported image type")

// Reference points, matching the element geometry
const (
	RefTopLeft   = 0
	RefTopCenter = 1
	RefTopRight  = 2
)

const pointsPerMM = 72 / 25.4

// Style is the text style of a box
type Style struct {
	Font   string
	Size   float64
	Colour string
}

// Box positions content on the page. X and Y are in millimetres from the
// top-left corner; RefPoint says which point of the box X refers to.
type Box struct {
	ElementID string
	X         float64
	Y         float64
	Width     float64
	RefPoint  int
	Align     string
	Style     Style
}

// Left returns the left edge of a box of width w
func (b Box) Left(w float64) float64 {
	switch b.RefPoint {
	case RefTopCenter:
		return b.X - w/2
	case RefTopRight:
		return b.X - w
	}
	return b.X
}

// Image is an embeddable picture
type Image struct {
	Key      string
	Name     string
	MimeType string
	Data     []byte
}

// Surface is a paged drawing target
type Surface interface {
	// AddPage starts a new page, sizes in millimetres
	AddPage(width, height, leftMargin, rightMargin float64) error
	// Text draws text in a box. Line breaks in text start new lines.
	Text(b Box, text string) error
	// Image draws a picture. A zero width or height keeps the aspect ratio.
	Image(b Box, height float64, img Image) error
	// Rect draws a rectangle outline
	Rect(x, y, w, h, lineWidth float64, colour string) error
	// PageSize returns the size of the current page
	PageSize() (width, height float64)
	// Write writes the finished document
	Write(w io.Writer) error
}

// RGB parses a #rrggbb colour. Invalid colours are black.
func RGB(colour string) (r, g, b int) {
	c := strings.TrimPrefix(strings.TrimSpace(colour), "#")
	if len(c) == 3 {
		c = string([]byte{c[0], c[0], c[1], c[1], c[2], c[2]})
	}
	if len(c) != 6 {
		return 0, 0, 0
	}
	v, err := strconv.ParseUint(c, 16, 32)
	if err != nil {
		return 0, 0, 0
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}

// ValidColour reports whether colour is a #rrggbb or #rgb value
func ValidColour(colour string) bool {
	if !strings.HasPrefix(colour, "#") {
		return false
	}
	c := colour[1:]
	if len(c) != 6 && len(c) != 3 {
		return false
	}
	_, err := strconv.ParseUint(c, 16, 32)
	return err == nil
}

// Fonts lists the font names elements may use
var Fonts = []string{
	"helvetica", "helveticab", "helveticai", "helveticabi",
	"times", "timesb", "timesi", "timesbi",
	"courier", "courierb", "courieri", "courierbi",
	"freesans", "freesansb", "freesansi", "freesansbi",
	"freeserif", "freeserifb", "freeserifi", "freeserifbi",
}

var fontFamilies = map[string]string{
	"helvetica": "helvetica",
	"arial":     "helvetica",
	"freesans":  "helvetica",
	"times":     "times",
	"freeserif": "times",
	"courier":   "courier",
	"freemono":  "courier",
}

// Font maps a font name to a core font family and style. A trailing b, i
// or bi selects bold and italic variants.
func Font(name string) (family, style string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if f, ok := fontFamilies[name]; ok {
		return f, ""
	}
	for _, suffix := range []string{"bi", "b", "i"} {
		base := strings.TrimSuffix(name, suffix)
		if base == name {
			continue
		}
		if f, ok := fontFamilies[base]; ok {
			return f, strings.ToUpper(suffix)
		}
	}
	return "helvetica", ""
}

// LineHeight returns the line height in millimetres for a font size in
// points.
func LineHeight(size float64) float64 {
	return size / pointsPerMM * 1.25
}

func imageType(mimeType string) (string, error) {
	switch mimeType {
	case "image/png":
		return "PNG", nil
	case "image/jpeg", "image/jpg":
		return "JPG", nil
	case "image/gif":
		return "GIF", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, mimeType)
}
