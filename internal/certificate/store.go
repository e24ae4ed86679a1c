package certificate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketTemplates  = []byte("templates")
	bucketActivities = []byte("activities")
	bucketIssues     = []byte("issues")
	bucketIssueCodes = []byte("issue_codes")
	bucketIssueUsers = []byte("issue_users")
	bucketEvents     = []byte("events")
)

// Store persists templates, activities and issues in BoltDB
type Store struct {
	db   *bolt.DB
	sink EventSink
	now  func() time.Time
}

// Open opens (or creates) the database at path
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore creates a store on an open database
func NewStore(db *bolt.DB) (*Store, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTemplates, bucketActivities, bucketIssues, bucketIssueCodes, bucketIssueUsers, bucketEvents} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, sink: nopSink{}, now: time.Now}, nil
}

// SetEventSink sets the receiver of committed events
func (s *Store) SetEventSink(sink EventSink) {
	if sink == nil {
		sink = nopSink{}
	}
	s.sink = sink
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying bolt.DB instance
func (s *Store) DB() *bolt.DB {
	return s.db
}

type recorder struct {
	now    time.Time
	events []Event
}

func (r *recorder) add(ev Event) {
	ev.Time = r.now
	r.events = append(r.events, ev)
}

// update runs fn in a write transaction, stores the events it recorded in
// the same transaction and hands them to the sink once committed.
func (s *Store) update(ctx context.Context, fn func(tx *bolt.Tx, rec *recorder) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := &recorder{now: s.now().UTC()}
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := fn(tx, rec); err != nil {
			return err
		}
		events := tx.Bucket(bucketEvents)
		for _, ev := range rec.events {
			seq, err := events.NextSequence()
			if err != nil {
				return err
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("failed to marshal event: %w", err)
			}
			if err := events.Put(makeEventKey(ev.Time, seq), data); err != nil {
				return fmt.Errorf("failed to store event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, ev := range rec.events {
		s.sink.Emit(ctx, ev)
	}
	return nil
}

func getJSON(b *bolt.Bucket, key string, v any) error {
	data := b.Get([]byte(key))
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}

func getTemplate(tx *bolt.Tx, id string) (*Template, error) {
	var t Template
	if err := getJSON(tx.Bucket(bucketTemplates), id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func putTemplate(tx *bolt.Tx, t *Template) error {
	return putJSON(tx.Bucket(bucketTemplates), t.ID, t)
}

func validateTemplate(t *Template) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("template name is required")
	}
	switch t.ContextLevel {
	case "":
		t.ContextLevel = ContextSite
	case ContextSite:
	case ContextCourse:
		if t.CourseID <= 0 {
			return fmt.Errorf("course template needs a course id")
		}
	default:
		return fmt.Errorf("unknown context level %q", t.ContextLevel)
	}
	if t.ContextLevel == ContextSite {
		t.CourseID = 0
	}
	return nil
}

// CreateTemplate stores a new template with its pages and elements. Missing
// ids and sequences are assigned.
func (s *Store) CreateTemplate(ctx context.Context, t *Template) error {
	if err := validateTemplate(t); err != nil {
		return err
	}
	t.ID = ""
	t.assignIDs()

	return s.update(ctx, func(tx *bolt.Tx, rec *recorder) error {
		t.Version = 1
		t.CreatedAt = rec.now
		t.UpdatedAt = rec.now
		if err := putTemplate(tx, t); err != nil {
			return err
		}
		rec.add(Event{Type: EventTemplateCreated, TemplateID: t.ID})
		return nil
	})
}

// GetTemplate retrieves a template by ID
func (s *Store) GetTemplate(ctx context.Context, id string) (*Template, error) {
	var t *Template
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		t, err = getTemplate(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTemplates returns templates ordered by name
func (s *Store) ListTemplates(ctx context.Context, filter ListFilter) ([]*Template, error) {
	var templates []*Template

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTemplates).Cursor()
		search := strings.ToLower(filter.Search)

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var t Template
			if err := json.Unmarshal(v, &t); err != nil {
				continue
			}
			if filter.CourseID != nil && t.CourseID != *filter.CourseID {
				continue
			}
			if search != "" && !strings.Contains(strings.ToLower(t.Name), search) {
				continue
			}
			templates = append(templates, &t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(templates, func(i, j int) bool {
		if templates[i].Name != templates[j].Name {
			return templates[i].Name < templates[j].Name
		}
		return templates[i].ID < templates[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(templates) {
			return nil, nil
		}
		templates = templates[filter.Offset:]
	}
	if filter.Limit > 0 && len(templates) > filter.Limit {
		templates = templates[:filter.Limit]
	}
	return templates, nil
}

// modify loads a template, applies fn and stores the result with a new
// version.
func (s *Store) modify(ctx context.Context, id string, fn func(t *Template, rec *recorder) error) (*Template, error) {
	var out *Template
	err := s.update(ctx, func(tx *bolt.Tx, rec *recorder) error {
		t, err := getTemplate(tx, id)
		if err != nil {
			return err
		}
		if err := fn(t, rec); err != nil {
			return err
		}
		t.Version++
		t.UpdatedAt = rec.now
		out = t
		return putTemplate(tx, t)
	})
	return out, err
}

// UpdateTemplate applies fn to the stored template. Name and context are
// validated after fn runs.
func (s *Store) UpdateTemplate(ctx context.Context, id string, fn func(t *Template) error) (*Template, error) {
	return s.modify(ctx, id, func(t *Template, rec *recorder) error {
		if err := fn(t); err != nil {
			return err
		}
		t.ID = id
		if err := validateTemplate(t); err != nil {
			return err
		}
		for i, p := range t.Pages {
			p.assignIDs(i + 1)
		}
		rec.add(Event{Type: EventTemplateUpdated, TemplateID: id})
		return nil
	})
}

// DeleteTemplate removes a template with its pages and elements
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	return s.update(ctx, func(tx *bolt.Tx, rec *recorder) error {
		if _, err := getTemplate(tx, id); err != nil {
			return err
		}

		c := tx.Bucket(bucketActivities).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var a Activity
			if err := json.Unmarshal(v, &a); err != nil {
				continue
			}
			if a.TemplateID == id {
				return fmt.Errorf("%w: %s", ErrInUse, a.ID)
			}
		}

		if err := tx.Bucket(bucketTemplates).Delete([]byte(id)); err != nil {
			return err
		}
		rec.add(Event{Type: EventTemplateDeleted, TemplateID: id})
		return nil
	})
}

// DuplicateTemplate deep-copies a template under a new name. An empty name
// keeps the source name with a suffix.
func (s *Store) DuplicateTemplate(ctx context.Context, id, name string) (*Template, error) {
	var out *Template
	err := s.update(ctx, func(tx *bolt.Tx, rec *recorder) error {
		src, err := getTemplate(tx, id)
		if err != nil {
			return err
		}
		dup := src.Clone(true)
		if name == "" {
			name = src.Name + " (copy)"
		}
		dup.Name = name
		dup.Version = 1
		dup.CreatedAt = rec.now
		dup.UpdatedAt = rec.now
		if err := putTemplate(tx, dup); err != nil {
			return err
		}
		rec.add(Event{Type: EventTemplateDuplicated, TemplateID: dup.ID, SourceID: src.ID})
		out = dup
		return nil
	})
	return out, err
}

// AddPage appends a page to a template
func (s *Store) AddPage(ctx context.Context, templateID string, p *Page) (*Page, error) {
	if p == nil {
		p = NewPage()
	}
	_, err := s.modify(ctx, templateID, func(t *Template, rec *recorder) error {
		p.ID = ""
		if p.Sequence == 0 {
			p.Sequence = t.nextPageSequence()
		}
		p.assignIDs(p.Sequence)
		t.Pages = append(t.Pages, p)
		rec.add(Event{Type: EventPageCreated, TemplateID: t.ID, PageID: p.ID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePage replaces the dimensions and margins of a page
func (s *Store) UpdatePage(ctx context.Context, templateID string, p *Page) error {
	_, err := s.modify(ctx, templateID, func(t *Template, rec *recorder) error {
		existing, err := t.Page(p.ID)
		if err != nil {
			return err
		}
		existing.Width = p.Width
		existing.Height = p.Height
		existing.LeftMargin = p.LeftMargin
		existing.RightMargin = p.RightMargin
		if p.Sequence > 0 {
			existing.Sequence = p.Sequence
		}
		rec.add(Event{Type: EventTemplateUpdated, TemplateID: t.ID, PageID: p.ID})
		return nil
	})
	return err
}

// DeletePage removes a page and its elements; remaining pages are
// renumbered.
func (s *Store) DeletePage(ctx context.Context, templateID, pageID string) error {
	_, err := s.modify(ctx, templateID, func(t *Template, rec *recorder) error {
		if _, err := t.Page(pageID); err != nil {
			return err
		}
		var kept []*Page
		for _, p := range t.OrderedPages() {
			if p.ID != pageID {
				p.Sequence = len(kept) + 1
				kept = append(kept, p)
			}
		}
		t.Pages = kept
		rec.add(Event{Type: EventPageDeleted, TemplateID: t.ID, PageID: pageID})
		return nil
	})
	return err
}

// AddElement appends an element to a page
func (s *Store) AddElement(ctx context.Context, templateID, pageID string, e *Element) (*Element, error) {
	_, err := s.modify(ctx, templateID, func(t *Template, rec *recorder) error {
		p, err := t.Page(pageID)
		if err != nil {
			return err
		}
		e.ID = uuid.New().String()
		if e.Sequence == 0 {
			e.Sequence = p.nextElementSequence()
		}
		p.Elements = append(p.Elements, e)
		rec.add(Event{Type: EventElementCreated, TemplateID: t.ID, PageID: p.ID, ElementID: e.ID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateElement replaces a stored element, keeping it on its page
func (s *Store) UpdateElement(ctx context.Context, templateID string, e *Element) error {
	_, err := s.modify(ctx, templateID, func(t *Template, rec *recorder) error {
		p, _, err := t.Element(e.ID)
		if err != nil {
			return err
		}
		for i, existing := range p.Elements {
			if existing.ID == e.ID {
				updated := *e
				if updated.Sequence == 0 {
					updated.Sequence = existing.Sequence
				}
				p.Elements[i] = &updated
			}
		}
		rec.add(Event{Type: EventElementUpdated, TemplateID: t.ID, PageID: p.ID, ElementID: e.ID})
		return nil
	})
	return err
}

// DeleteElement removes an element; remaining elements are renumbered
func (s *Store) DeleteElement(ctx context.Context, templateID, elementID string) error {
	_, err := s.modify(ctx, templateID, func(t *Template, rec *recorder) error {
		p, _, err := t.Element(elementID)
		if err != nil {
			return err
		}
		var kept []*Element
		for _, e := range p.OrderedElements() {
			if e.ID != elementID {
				e.Sequence = len(kept) + 1
				kept = append(kept, e)
			}
		}
		p.Elements = kept
		rec.add(Event{Type: EventElementDeleted, TemplateID: t.ID, PageID: p.ID, ElementID: elementID})
		return nil
	})
	return err
}

// Events returns stored events, newest first
func (s *Store) Events(ctx context.Context, limit int) ([]Event, error) {
	var events []Event
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				continue
			}
			events = append(events, ev)
			if limit > 0 && len(events) >= limit {
				break
			}
		}
		return nil
	})
	return events, err
}

// PruneEvents removes events recorded before cutoff
func (s *Store) PruneEvents(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		c := b.Cursor()

		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if !parseTimestampFromKey(k).Before(cutoff) {
				break
			}
			toDelete = append(toDelete, append([]byte{}, k...))
		}

		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

const eventKeyLayout = "2006-01-02T15:04:05.000000000Z"

// makeEventKey creates a sortable key from timestamp and sequence
func makeEventKey(t time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s:%020d", t.UTC().Format(eventKeyLayout), seq))
}

// parseTimestampFromKey extracts the timestamp from an event key
func parseTimestampFromKey(key []byte) time.Time {
	s := string(key)
	if i := strings.LastIndexByte(s, ':'); i > 0 {
		ts, _ := time.Parse(eventKeyLayout, s[:i])
		return ts
	}
	return time.Time{}
}

// Counts returns the number of stored templates, activities and issues
func (s *Store) Counts(ctx context.Context) (templates, activities, issues int64, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		templates = int64(tx.Bucket(bucketTemplates).Stats().KeyN)
		activities = int64(tx.Bucket(bucketActivities).Stats().KeyN)
		issues = int64(tx.Bucket(bucketIssues).Stats().KeyN)
		return nil
	})
	return templates, activities, issues, err
}
