package lms

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupTestDirectory(t *testing.T) *SQLDirectory {
	t.Helper()

	d, err := OpenSQL(":memory:")
	if err != nil {
		t.Fatalf("OpenSQL() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func testFixtures() *Fixtures {
	grade := 87.5
	completed := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	return &Fixtures{
		Users: []*User{
			{ID: 2, Username: "ada", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Profile: map[string]string{"favourite": "engines"}},
			{ID: 3, Username: "alan", FirstName: "Alan", LastName: "Turing"},
		},
		Categories: []*Category{{ID: 1, Name: "Sciences"}},
		Courses: []*Course{
			{ID: 10, ShortName: "MATH1", FullName: "Mathematics 1", CategoryID: 1,
				StartDate: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), Fields: map[string]string{"credits": "5"}},
		},
		CustomFields: []*CustomField{{ID: 1, ShortName: "credits", Name: "Credits", Type: "text"}},
		Modules:      []*Module{{ID: 40, CourseID: 10, ModName: "quiz", Name: "Final exam"}},
		Enrolments: []*Enrolment{
			{CourseID: 10, UserID: 2, Role: RoleStudent},
			{CourseID: 10, UserID: 3, Role: RoleTeacher},
		},
		GradeItems: []*GradeItem{
			{ID: 100, CourseID: 10, ItemType: "course", GradeMax: 100, DecimalPoints: 1},
			{ID: 101, CourseID: 10, Name: "Final exam", ItemType: "mod", ModuleID: 40, GradeMax: 10, DecimalPoints: 0},
		},
		Grades:        []*Grade{{ItemID: 100, UserID: 2, FinalGrade: &grade}},
		Outcomes:      []*Outcome{{ID: 7, CourseID: 10, ShortName: "proof", FullName: "Writes proofs", Scale: []string{"No", "Partly", "Yes"}}},
		OutcomeGrades: []*OutcomeGrade{{OutcomeID: 7, UserID: 2, Value: 3}},
		Completions:   []*Completion{{CourseID: 10, UserID: 2, TimeCompleted: completed}},
	}
}

func TestSQLDirectory_LoadAndLookup(t *testing.T) {
	d := setupTestDirectory(t)
	ctx := context.Background()

	if err := d.Load(ctx, testFixtures()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	u, err := d.User(ctx, 2)
	if err != nil {
		t.Fatalf("User() error = %v", err)
	}
	if u.FullName() != "Ada Lovelace" {
		t.Errorf("FullName() = %q, want Ada Lovelace", u.FullName())
	}
	if u.Profile["favourite"] != "engines" {
		t.Errorf("Profile = %v", u.Profile)
	}

	c, err := d.Course(ctx, 10)
	if err != nil {
		t.Fatalf("Course() error = %v", err)
	}
	if c.Fields["credits"] != "5" {
		t.Errorf("Fields = %v", c.Fields)
	}
	if c.StartDate.IsZero() {
		t.Error("StartDate not loaded")
	}

	teachers, err := d.CourseTeachers(ctx, 10)
	if err != nil {
		t.Fatalf("CourseTeachers() error = %v", err)
	}
	if len(teachers) != 1 || teachers[0].ID != 3 {
		t.Errorf("CourseTeachers() = %v, want [3]", teachers)
	}

	gi, err := d.CourseGradeItem(ctx, 10)
	if err != nil {
		t.Fatalf("CourseGradeItem() error = %v", err)
	}
	g, err := d.Grade(ctx, gi.ID, 2)
	if err != nil {
		t.Fatalf("Grade() error = %v", err)
	}
	if g.FinalGrade == nil || *g.FinalGrade != 87.5 {
		t.Errorf("FinalGrade = %v, want 87.5", g.FinalGrade)
	}

	o, err := d.Outcome(ctx, 7)
	if err != nil {
		t.Fatalf("Outcome() error = %v", err)
	}
	if len(o.Scale) != 3 {
		t.Errorf("Scale = %v", o.Scale)
	}

	done, err := d.CourseCompletion(ctx, 10, 2)
	if err != nil {
		t.Fatalf("CourseCompletion() error = %v", err)
	}
	if done.Year() != 2026 {
		t.Errorf("CourseCompletion() = %v", done)
	}
}

func TestSQLDirectory_NotFound(t *testing.T) {
	d := setupTestDirectory(t)
	ctx := context.Background()

	if _, err := d.User(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("User() error = %v, want ErrNotFound", err)
	}
	if _, err := d.Course(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("Course() error = %v, want ErrNotFound", err)
	}
	if _, err := d.CustomField(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CustomField() error = %v, want ErrNotFound", err)
	}
	if _, err := d.ModuleCompletion(ctx, 1, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("ModuleCompletion() error = %v, want ErrNotFound", err)
	}
}

func TestLoadFixtures(t *testing.T) {
	content := `
users:
  - id: 5
    username: grace
    firstname: Grace
    lastname: Hopper
courses:
  - id: 20
    shortname: CS
    fullname: Computing
    fields:
      level: advanced
`
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write fixtures: %v", err)
	}

	f, err := LoadFixtures(path)
	if err != nil {
		t.Fatalf("LoadFixtures() error = %v", err)
	}
	if len(f.Users) != 1 || f.Users[0].FullName() != "Grace Hopper" {
		t.Errorf("Users = %v", f.Users)
	}
	if f.Courses[0].Fields["level"] != "advanced" {
		t.Errorf("Fields = %v", f.Courses[0].Fields)
	}

	m := NewMemory(f)
	if _, err := m.User(context.Background(), 5); err != nil {
		t.Errorf("Memory.User() error = %v", err)
	}
}

func TestLoadFixtures_MissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	if err := os.WriteFile(path, []byte("users:\n  - username: nobody\n"), 0644); err != nil {
		t.Fatalf("failed to write fixtures: %v", err)
	}
	if _, err := LoadFixtures(path); err == nil {
		t.Error("LoadFixtures() expected error for user without id")
	}
}
