package lms

import (
	"context"
	"sort"
	"time"
)

// Memory is an in-process Directory built from fixtures
type Memory struct {
	f *Fixtures
}

// NewMemory creates a directory over the given fixtures. The fixtures are
// used as-is, so tests can mutate them to simulate deleted records.
func NewMemory(f *Fixtures) *Memory {
	if f == nil {
		f = &Fixtures{}
	}
	return &Memory{f: f}
}

// Fixtures returns the backing records
func (m *Memory) Fixtures() *Fixtures {
	return m.f
}

func (m *Memory) User(ctx context.Context, id int64) (*User, error) {
	for _, u := range m.f.Users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Course(ctx context.Context, id int64) (*Course, error) {
	for _, c := range m.f.Courses {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Category(ctx context.Context, id int64) (*Category, error) {
	for _, c := range m.f.Categories {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CustomField(ctx context.Context, shortName string) (*CustomField, error) {
	for _, cf := range m.f.CustomFields {
		if cf.ShortName == shortName {
			return cf, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CustomFields(ctx context.Context) ([]*CustomField, error) {
	return m.f.CustomFields, nil
}

func (m *Memory) CourseTeachers(ctx context.Context, courseID int64) ([]*User, error) {
	var teachers []*User
	for _, e := range m.f.Enrolments {
		if e.CourseID != courseID || e.Role != RoleTeacher {
			continue
		}
		if u, err := m.User(ctx, e.UserID); err == nil {
			teachers = append(teachers, u)
		}
	}
	sort.Slice(teachers, func(i, j int) bool {
		if teachers[i].LastName != teachers[j].LastName {
			return teachers[i].LastName < teachers[j].LastName
		}
		return teachers[i].ID < teachers[j].ID
	})
	return teachers, nil
}

func (m *Memory) Enrolment(ctx context.Context, courseID, userID int64) (*Enrolment, error) {
	for _, e := range m.f.Enrolments {
		if e.CourseID == courseID && e.UserID == userID {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GradeItem(ctx context.Context, id int64) (*GradeItem, error) {
	for _, gi := range m.f.GradeItems {
		if gi.ID == id {
			return gi, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CourseGradeItem(ctx context.Context, courseID int64) (*GradeItem, error) {
	for _, gi := range m.f.GradeItems {
		if gi.CourseID == courseID && gi.ItemType == "course" {
			return gi, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GradeItems(ctx context.Context, courseID int64) ([]*GradeItem, error) {
	var items []*GradeItem
	for _, gi := range m.f.GradeItems {
		if gi.CourseID == courseID {
			items = append(items, gi)
		}
	}
	return items, nil
}

func (m *Memory) Grade(ctx context.Context, itemID, userID int64) (*Grade, error) {
	for _, g := range m.f.Grades {
		if g.ItemID == itemID && g.UserID == userID {
			return g, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Outcome(ctx context.Context, id int64) (*Outcome, error) {
	for _, o := range m.f.Outcomes {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) OutcomeGrade(ctx context.Context, outcomeID, userID int64) (*OutcomeGrade, error) {
	for _, og := range m.f.OutcomeGrades {
		if og.OutcomeID == outcomeID && og.UserID == userID {
			return og, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Module(ctx context.Context, id int64) (*Module, error) {
	for _, mod := range m.f.Modules {
		if mod.ID == id {
			return mod, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CourseCompletion(ctx context.Context, courseID, userID int64) (time.Time, error) {
	for _, c := range m.f.Completions {
		if c.CourseID == courseID && c.ModuleID == 0 && c.UserID == userID {
			return c.TimeCompleted, nil
		}
	}
	return time.Time{}, ErrNotFound
}

func (m *Memory) ModuleCompletion(ctx context.Context, moduleID, userID int64) (time.Time, error) {
	for _, c := range m.f.Completions {
		if c.ModuleID == moduleID && c.UserID == userID {
			return c.TimeCompleted, nil
		}
	}
	return time.Time{}, ErrNotFound
}
