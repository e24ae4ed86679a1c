package surface

import (
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"
)

var markupTemplate = template.Must(template.New("markup").Parse(
	`{{range .}}<div class="certly-page" style="{{.Style}}">` +
		`{{range .Items}}<div class="certly-element"{{if .ElementID}} data-element-id="{{.ElementID}}"{{end}} style="{{.Style}}">` +
		`{{if .ImageURL}}<img src="{{.ImageURL}}" alt="{{.Text}}" style="{{.ImageStyle}}">` +
		`{{else if .HTML}}{{.HTML}}{{else}}{{.Text}}{{end}}</div>{{end}}` +
		`</div>{{end}}`))

// Markup emits lightweight HTML for the position editor. Every element is
// an absolutely positioned block inside its page.
type Markup struct {
	// FileURL builds the address of a stored file
	FileURL func(key string) string

	pages []*markupPage
}

type markupPage struct {
	Style template.CSS
	Items []markupItem
	w, h  float64
}

type markupItem struct {
	ElementID  string
	Style      template.CSS
	Text       string
	HTML       template.HTML
	ImageURL   string
	ImageStyle template.CSS
}

// NewMarkup creates an empty markup document
func NewMarkup(fileURL func(key string) string) *Markup {
	if fileURL == nil {
		fileURL = func(key string) string { return "/files/" + key }
	}
	return &Markup{FileURL: fileURL}
}

func mm(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "mm"
}

func (m *Markup) AddPage(width, height, leftMargin, rightMargin float64) error {
	style := fmt.Sprintf("position:relative;overflow:hidden;width:%s;height:%s;padding-left:%s;padding-right:%s;box-sizing:border-box",
		mm(width), mm(height), mm(leftMargin), mm(rightMargin))
	m.pages = append(m.pages, &markupPage{Style: template.CSS(style), w: width, h: height})
	return nil
}

func (m *Markup) current() (*markupPage, error) {
	if len(m.pages) == 0 {
		return nil, fmt.Errorf("no page added")
	}
	return m.pages[len(m.pages)-1], nil
}

func boxStyle(b Box) string {
	var s strings.Builder
	fmt.Fprintf(&s, "position:absolute;left:%s;top:%s", mm(b.X), mm(b.Y))
	if b.Width > 0 {
		fmt.Fprintf(&s, ";width:%s", mm(b.Width))
	}
	switch b.RefPoint {
	case RefTopCenter:
		s.WriteString(";transform:translateX(-50%)")
	case RefTopRight:
		s.WriteString(";transform:translateX(-100%)")
	}
	return s.String()
}

func textStyle(st Style, align string) string {
	family, weight := Font(st.Font)
	var s strings.Builder
	s.WriteString(";white-space:pre-line;font-family:" + family)
	if strings.Contains(weight, "B") {
		s.WriteString(";font-weight:bold")
	}
	if strings.Contains(weight, "I") {
		s.WriteString(";font-style:italic")
	}
	if st.Size > 0 {
		s.WriteString(";font-size:" + strconv.FormatFloat(st.Size, 'f', -1, 64) + "pt")
	}
	colour := "#000000"
	if ValidColour(st.Colour) {
		colour = st.Colour
	}
	s.WriteString(";color:" + colour)
	switch align {
	case "C":
		s.WriteString(";text-align:center")
	case "R":
		s.WriteString(";text-align:right")
	default:
		s.WriteString(";text-align:left")
	}
	return s.String()
}

func (m *Markup) Text(b Box, text string) error {
	page, err := m.current()
	if err != nil {
		return err
	}
	page.Items = append(page.Items, markupItem{
		ElementID: b.ElementID,
		Style:     template.CSS(boxStyle(b) + textStyle(b.Style, b.Align)),
		Text:      text,
	})
	return nil
}

// Fragment places prepared HTML in a box
func (m *Markup) Fragment(b Box, html template.HTML) error {
	page, err := m.current()
	if err != nil {
		return err
	}
	page.Items = append(page.Items, markupItem{
		ElementID: b.ElementID,
		Style:     template.CSS(boxStyle(b) + textStyle(b.Style, b.Align)),
		HTML:      html,
	})
	return nil
}

func (m *Markup) Image(b Box, height float64, img Image) error {
	page, err := m.current()
	if err != nil {
		return err
	}
	imgStyle := "display:block"
	if b.Width > 0 {
		imgStyle += ";width:100%"
	}
	if height > 0 {
		imgStyle += ";height:" + mm(height)
	}
	page.Items = append(page.Items, markupItem{
		ElementID:  b.ElementID,
		Style:      template.CSS(boxStyle(b)),
		Text:       img.Name,
		ImageURL:   m.FileURL(img.Key),
		ImageStyle: template.CSS(imgStyle),
	})
	return nil
}

func (m *Markup) Rect(x, y, w, h, lineWidth float64, colour string) error {
	page, err := m.current()
	if err != nil {
		return err
	}
	if !ValidColour(colour) {
		colour = "#000000"
	}
	style := fmt.Sprintf("position:absolute;left:%s;top:%s;width:%s;height:%s;border:%s solid %s;box-sizing:border-box",
		mm(x), mm(y), mm(w), mm(h), mm(lineWidth), colour)
	page.Items = append(page.Items, markupItem{Style: template.CSS(style)})
	return nil
}

func (m *Markup) PageSize() (float64, float64) {
	page, err := m.current()
	if err != nil {
		return 0, 0
	}
	return page.w, page.h
}

func (m *Markup) Write(w io.Writer) error {
	return markupTemplate.Execute(w, m.pages)
}
