package lms

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Fixtures is a snapshot of directory records, used to seed a standalone
// installation and in tests.
type Fixtures struct {
	Users         []*User         `yaml:"users"`
	Categories    []*Category     `yaml:"categories"`
	Courses       []*Course       `yaml:"courses"`
	CustomFields  []*CustomField  `yaml:"custom_fields"`
	Modules       []*Module       `yaml:"modules"`
	Enrolments    []*Enrolment    `yaml:"enrolments"`
	GradeItems    []*GradeItem    `yaml:"grade_items"`
	Grades        []*Grade        `yaml:"grades"`
	Outcomes      []*Outcome      `yaml:"outcomes"`
	OutcomeGrades []*OutcomeGrade `yaml:"outcome_grades"`
	Completions   []*Completion   `yaml:"completions"`
}

// LoadFixtures reads fixtures from a YAML file
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}

	f := &Fixtures{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}

	for _, u := range f.Users {
		if u.ID <= 0 {
			return nil, fmt.Errorf("user %q has no id", u.Username)
		}
	}
	for _, c := range f.Courses {
		if c.ID <= 0 {
			return nil, fmt.Errorf("course %q has no id", c.ShortName)
		}
	}

	return f, nil
}
