// Package lms holds the learning platform records certificates draw on:
// users, courses, grades and completions. Certificates only ever read them.
package lms

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("lms: not found")

// Role names used for enrolments
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
)

// User is a platform account
type User struct {
	ID          int64             `json:"id" yaml:"id"`
	Username    string            `json:"username" yaml:"username"`
	FirstName   string            `json:"firstname" yaml:"firstname"`
	LastName    string            `json:"lastname" yaml:"lastname"`
	Email       string            `json:"email" yaml:"email"`
	IDNumber    string            `json:"idnumber,omitempty" yaml:"idnumber"`
	Institution string            `json:"institution,omitempty" yaml:"institution"`
	Department  string            `json:"department,omitempty" yaml:"department"`
	Phone       string            `json:"phone,omitempty" yaml:"phone"`
	Address     string            `json:"address,omitempty" yaml:"address"`
	City        string            `json:"city,omitempty" yaml:"city"`
	Country     string            `json:"country,omitempty" yaml:"country"`
	Picture     string            `json:"picture,omitempty" yaml:"picture"` // file id
	Profile     map[string]string `json:"profile,omitempty" yaml:"profile"`
}

// FullName returns the display name
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Course is a course with its custom field values keyed by field short name
type Course struct {
	ID         int64             `json:"id" yaml:"id"`
	ShortName  string            `json:"shortname" yaml:"shortname"`
	FullName   string            `json:"fullname" yaml:"fullname"`
	IDNumber   string            `json:"idnumber,omitempty" yaml:"idnumber"`
	Summary    string            `json:"summary,omitempty" yaml:"summary"`
	CategoryID int64             `json:"category_id" yaml:"category_id"`
	StartDate  time.Time         `json:"startdate" yaml:"startdate"`
	EndDate    time.Time         `json:"enddate,omitempty" yaml:"enddate"`
	Fields     map[string]string `json:"fields,omitempty" yaml:"fields"`
}

// Category groups courses
type Category struct {
	ID          int64  `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// CustomField is a site-wide course custom field definition
type CustomField struct {
	ID        int64  `json:"id" yaml:"id"`
	ShortName string `json:"shortname" yaml:"shortname"`
	Name      string `json:"name" yaml:"name"`
	Type      string `json:"type" yaml:"type"`
}

// GradeItem is a gradable item. The course total has ItemType "course".
type GradeItem struct {
	ID            int64    `json:"id" yaml:"id"`
	CourseID      int64    `json:"course_id" yaml:"course_id"`
	Name          string   `json:"name" yaml:"name"`
	ItemType      string   `json:"itemtype" yaml:"itemtype"`
	ModuleID      int64    `json:"module_id,omitempty" yaml:"module_id"`
	GradeMin      float64  `json:"grademin" yaml:"grademin"`
	GradeMax      float64  `json:"grademax" yaml:"grademax"`
	DecimalPoints int      `json:"decimals" yaml:"decimals"`
	Scale         []string `json:"scale,omitempty" yaml:"scale"`
}

// Grade is a user's final grade for an item
type Grade struct {
	ItemID       int64     `json:"item_id" yaml:"item_id"`
	UserID       int64     `json:"user_id" yaml:"user_id"`
	FinalGrade   *float64  `json:"finalgrade" yaml:"finalgrade"`
	Feedback     string    `json:"feedback,omitempty" yaml:"feedback"`
	TimeModified time.Time `json:"timemodified" yaml:"timemodified"`
}

// Outcome is a scale-based outcome attached to a course
type Outcome struct {
	ID        int64    `json:"id" yaml:"id"`
	CourseID  int64    `json:"course_id" yaml:"course_id"`
	ShortName string   `json:"shortname" yaml:"shortname"`
	FullName  string   `json:"fullname" yaml:"fullname"`
	Scale     []string `json:"scale" yaml:"scale"`
}

// OutcomeGrade is the scale position (1-based) a user reached for an outcome
type OutcomeGrade struct {
	OutcomeID int64 `json:"outcome_id" yaml:"outcome_id"`
	UserID    int64 `json:"user_id" yaml:"user_id"`
	Value     int   `json:"value" yaml:"value"`
}

// Module is an activity inside a course
type Module struct {
	ID       int64  `json:"id" yaml:"id"`
	CourseID int64  `json:"course_id" yaml:"course_id"`
	ModName  string `json:"modname" yaml:"modname"`
	Name     string `json:"name" yaml:"name"`
}

// Enrolment links a user to a course with a role
type Enrolment struct {
	CourseID  int64     `json:"course_id" yaml:"course_id"`
	UserID    int64     `json:"user_id" yaml:"user_id"`
	Role      string    `json:"role" yaml:"role"`
	TimeStart time.Time `json:"timestart" yaml:"timestart"`
}

// Completion records when a user completed a course or a module
type Completion struct {
	CourseID      int64     `json:"course_id,omitempty" yaml:"course_id"`
	ModuleID      int64     `json:"module_id,omitempty" yaml:"module_id"`
	UserID        int64     `json:"user_id" yaml:"user_id"`
	TimeCompleted time.Time `json:"timecompleted" yaml:"timecompleted"`
}

// Directory is the read side of the learning platform. Every lookup may
// return ErrNotFound: records can disappear between saving a template and
// rendering it.
type Directory interface {
	User(ctx context.Context, id int64) (*User, error)
	Course(ctx context.Context, id int64) (*Course, error)
	Category(ctx context.Context, id int64) (*Category, error)
	CustomField(ctx context.Context, shortName string) (*CustomField, error)
	CustomFields(ctx context.Context) ([]*CustomField, error)
	CourseTeachers(ctx context.Context, courseID int64) ([]*User, error)
	Enrolment(ctx context.Context, courseID, userID int64) (*Enrolment, error)
	GradeItem(ctx context.Context, id int64) (*GradeItem, error)
	CourseGradeItem(ctx context.Context, courseID int64) (*GradeItem, error)
	GradeItems(ctx context.Context, courseID int64) ([]*GradeItem, error)
	Grade(ctx context.Context, itemID, userID int64) (*Grade, error)
	Outcome(ctx context.Context, id int64) (*Outcome, error)
	OutcomeGrade(ctx context.Context, outcomeID, userID int64) (*OutcomeGrade, error)
	Module(ctx context.Context, id int64) (*Module, error)
	CourseCompletion(ctx context.Context, courseID, userID int64) (time.Time, error)
	ModuleCompletion(ctx context.Context, moduleID, userID int64) (time.Time, error)
}
