// Package certificate holds the template aggregate (template, pages,
// elements), certificate activities and issued certificates, persisted in
// BoltDB.
package certificate

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for unknown templates, pages, elements,
	// activities and issues.
	ErrNotFound = errors.New("not found")
	// ErrInUse is returned when deleting a template an activity still uses.
	ErrInUse = errors.New("template is used by an activity")
)

// Context levels a template can belong to
const (
	ContextSite   = "site"
	ContextCourse = "course"
)

// Reference points used to anchor an element at its position
const (
	RefTopLeft   = 0
	RefTopCenter = 1
	RefTopRight  = 2
)

// Default page size, A4 portrait in millimetres
const (
	DefaultPageWidth  = 210
	DefaultPageHeight = 297
)

// Template is a certificate design
type Template struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ContextLevel string    `json:"context_level"`
	CourseID     int64     `json:"course_id,omitempty"`
	Pages        []*Page   `json:"pages"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Page is one physical page of a template
type Page struct {
	ID          string     `json:"id"`
	Sequence    int        `json:"sequence"`
	Width       float64    `json:"width"`
	Height      float64    `json:"height"`
	LeftMargin  float64    `json:"left_margin"`
	RightMargin float64    `json:"right_margin"`
	Elements    []*Element `json:"elements"`
}

// Element is one positioned piece of content on a page. Data is owned by the
// element type and never interpreted here.
type Element struct {
	ID            string  `json:"id"`
	Type          string  `json:"type"`
	Name          string  `json:"name"`
	Sequence      int     `json:"sequence"`
	PosX          float64 `json:"posx"`
	PosY          float64 `json:"posy"`
	Width         float64 `json:"width"`
	RefPoint      int     `json:"refpoint"`
	Alignment     string  `json:"alignment"`
	Font          string  `json:"font"`
	FontSize      float64 `json:"fontsize"`
	Colour        string  `json:"colour"`
	Data          string  `json:"data"`
	SchemaVersion int     `json:"schema_version"`
}

// Activity is a certificate offered in a course
type Activity struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CourseID       int64     `json:"course_id"`
	CourseModuleID int64     `json:"course_module_id,omitempty"`
	TemplateID     string    `json:"template_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Issue records that a learner received a certificate
type Issue struct {
	ID         string    `json:"id"`
	ActivityID string    `json:"activity_id"`
	UserID     int64     `json:"user_id"`
	Code       string    `json:"code"`
	IssuedAt   time.Time `json:"issued_at"`
}

// ListFilter contains filters for listing templates
type ListFilter struct {
	CourseID *int64
	Search   string
	Limit    int
	Offset   int
}

// NewPage returns an empty A4 page
func NewPage() *Page {
	return &Page{
		Width:  DefaultPageWidth,
		Height: DefaultPageHeight,
	}
}

// OrderedPages returns pages in render order. Ties on sequence are broken by
// id so the order is the same on every walk.
func (t *Template) OrderedPages() []*Page {
	pages := append([]*Page(nil), t.Pages...)
	sort.SliceStable(pages, func(i, j int) bool {
		if pages[i].Sequence != pages[j].Sequence {
			return pages[i].Sequence < pages[j].Sequence
		}
		return pages[i].ID < pages[j].ID
	})
	return pages
}

// OrderedElements returns elements in render order
func (p *Page) OrderedElements() []*Element {
	elements := append([]*Element(nil), p.Elements...)
	sort.SliceStable(elements, func(i, j int) bool {
		if elements[i].Sequence != elements[j].Sequence {
			return elements[i].Sequence < elements[j].Sequence
		}
		return elements[i].ID < elements[j].ID
	})
	return elements
}

// Page returns the page with id
func (t *Template) Page(id string) (*Page, error) {
	for _, p := range t.Pages {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

// Element returns the element with id and the page holding it
func (t *Template) Element(id string) (*Page, *Element, error) {
	for _, p := range t.Pages {
		for _, e := range p.Elements {
			if e.ID == id {
				return p, e, nil
			}
		}
	}
	return nil, nil, ErrNotFound
}

// Elements returns every element in walk order
func (t *Template) Elements() []*Element {
	var out []*Element
	for _, p := range t.OrderedPages() {
		out = append(out, p.OrderedElements()...)
	}
	return out
}

// Clone deep-copies the template. With fresh set, the copy and all its
// pages and elements get new ids.
func (t *Template) Clone(fresh bool) *Template {
	c := *t
	c.Pages = make([]*Page, 0, len(t.Pages))
	for _, p := range t.Pages {
		pc := *p
		pc.Elements = make([]*Element, 0, len(p.Elements))
		for _, e := range p.Elements {
			ec := *e
			if fresh {
				ec.ID = uuid.New().String()
			}
			pc.Elements = append(pc.Elements, &ec)
		}
		if fresh {
			pc.ID = uuid.New().String()
		}
		c.Pages = append(c.Pages, &pc)
	}
	if fresh {
		c.ID = uuid.New().String()
	}
	return &c
}

func (t *Template) assignIDs() {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	for i, p := range t.Pages {
		p.assignIDs(i + 1)
	}
}

func (p *Page) assignIDs(seq int) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Sequence == 0 {
		p.Sequence = seq
	}
	if p.Width == 0 {
		p.Width = DefaultPageWidth
	}
	if p.Height == 0 {
		p.Height = DefaultPageHeight
	}
	for i, e := range p.Elements {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.Sequence == 0 {
			e.Sequence = i + 1
		}
	}
}

func (p *Page) nextElementSequence() int {
	max := 0
	for _, e := range p.Elements {
		if e.Sequence > max {
			max = e.Sequence
		}
	}
	return max + 1
}

func (t *Template) nextPageSequence() int {
	max := 0
	for _, p := range t.Pages {
		if p.Sequence > max {
			max = p.Sequence
		}
	}
	return max + 1
}
