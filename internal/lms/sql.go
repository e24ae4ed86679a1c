package lms

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLDirectory is a Directory backed by SQLite
type SQLDirectory struct {
	db *sql.DB
}

// OpenSQL opens (and creates if needed) the directory database
func OpenSQL(path string) (*SQLDirectory, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory database directory: %w", err)
		}
		path += "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	d := &SQLDirectory{db: db}
	if err := d.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// NewSQLDirectory wraps an already open database
func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

// Close closes the database
func (d *SQLDirectory) Close() error {
	return d.db.Close()
}

// Migrate creates the directory tables
func (d *SQLDirectory) Migrate() error {
	migrations := []string{
		migrationUsers,
		migrationCategories,
		migrationCourses,
		migrationCustomFields,
		migrationModules,
		migrationEnrolments,
		migrationGradeItems,
		migrationGrades,
		migrationOutcomes,
		migrationOutcomeGrades,
		migrationCompletions,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const migrationUsers = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY,
    username TEXT NOT NULL,
    firstname TEXT NOT NULL DEFAULT '',
    lastname TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    idnumber TEXT NOT NULL DEFAULT '',
    institution TEXT NOT NULL DEFAULT '',
    department TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    address TEXT NOT NULL DEFAULT '',
    city TEXT NOT NULL DEFAULT '',
    country TEXT NOT NULL DEFAULT '',
    picture TEXT NOT NULL DEFAULT '',
    profile JSON
);
`

const migrationCategories = `
CREATE TABLE IF NOT EXISTS categories (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT ''
);
`

const migrationCourses = `
CREATE TABLE IF NOT EXISTS courses (
    id INTEGER PRIMARY KEY,
    shortname TEXT NOT NULL,
    fullname TEXT NOT NULL,
    idnumber TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    category_id INTEGER NOT NULL DEFAULT 0,
    startdate TIMESTAMP,
    enddate TIMESTAMP,
    fields JSON
);
`

const migrationCustomFields = `
CREATE TABLE IF NOT EXISTS custom_fields (
    id INTEGER PRIMARY KEY,
    shortname TEXT UNIQUE NOT NULL,
    name TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'text'
);
`

const migrationModules = `
CREATE TABLE IF NOT EXISTS modules (
    id INTEGER PRIMARY KEY,
    course_id INTEGER NOT NULL,
    modname TEXT NOT NULL,
    name TEXT NOT NULL
);
`

const migrationEnrolments = `
CREATE TABLE IF NOT EXISTS enrolments (
    course_id INTEGER NOT NULL,
    user_id INTEGER NOT NULL,
    role TEXT NOT NULL,
    timestart TIMESTAMP,
    PRIMARY KEY (course_id, user_id)
);
`

const migrationGradeItems = `
CREATE TABLE IF NOT EXISTS grade_items (
    id INTEGER PRIMARY KEY,
    course_id INTEGER NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    itemtype TEXT NOT NULL,
    module_id INTEGER NOT NULL DEFAULT 0,
    grademin REAL NOT NULL DEFAULT 0,
    grademax REAL NOT NULL DEFAULT 100,
    decimals INTEGER NOT NULL DEFAULT 2,
    scale JSON
);
`

const migrationGrades = `
CREATE TABLE IF NOT EXISTS grades (
    item_id INTEGER NOT NULL,
    user_id INTEGER NOT NULL,
    finalgrade REAL,
    feedback TEXT NOT NULL DEFAULT '',
    timemodified TIMESTAMP,
    PRIMARY KEY (item_id, user_id)
);
`

const migrationOutcomes = `
CREATE TABLE IF NOT EXISTS outcomes (
    id INTEGER PRIMARY KEY,
    course_id INTEGER NOT NULL DEFAULT 0,
    shortname TEXT NOT NULL,
    fullname TEXT NOT NULL,
    scale JSON
);
`

const migrationOutcomeGrades = `
CREATE TABLE IF NOT EXISTS outcome_grades (
    outcome_id INTEGER NOT NULL,
    user_id INTEGER NOT NULL,
    value INTEGER NOT NULL,
    PRIMARY KEY (outcome_id, user_id)
);
`

const migrationCompletions = `
CREATE TABLE IF NOT EXISTS completions (
    course_id INTEGER NOT NULL DEFAULT 0,
    module_id INTEGER NOT NULL DEFAULT 0,
    user_id INTEGER NOT NULL,
    timecompleted TIMESTAMP NOT NULL,
    PRIMARY KEY (course_id, module_id, user_id)
);
`

// Load upserts fixture records in a single transaction
func (d *SQLDirectory) Load(ctx context.Context, f *Fixtures) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, u := range f.Users {
		profile, _ := json.Marshal(u.Profile)
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO users (id, username, firstname, lastname, email, idnumber, institution, department, phone, address, city, country, picture, profile)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.Username, u.FirstName, u.LastName, u.Email, u.IDNumber, u.Institution, u.Department, u.Phone, u.Address, u.City, u.Country, u.Picture, string(profile),
		)
		if err != nil {
			return fmt.Errorf("failed to load user %d: %w", u.ID, err)
		}
	}

	for _, c := range f.Categories {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO categories (id, name, description) VALUES (?, ?, ?)`,
			c.ID, c.Name, c.Description); err != nil {
			return fmt.Errorf("failed to load category %d: %w", c.ID, err)
		}
	}

	for _, c := range f.Courses {
		fields, _ := json.Marshal(c.Fields)
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO courses (id, shortname, fullname, idnumber, summary, category_id, startdate, enddate, fields)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.ShortName, c.FullName, c.IDNumber, c.Summary, c.CategoryID, c.StartDate, c.EndDate, string(fields),
		)
		if err != nil {
			return fmt.Errorf("failed to load course %d: %w", c.ID, err)
		}
	}

	for _, cf := range f.CustomFields {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO custom_fields (id, shortname, name, type) VALUES (?, ?, ?, ?)`,
			cf.ID, cf.ShortName, cf.Name, cf.Type); err != nil {
			return fmt.Errorf("failed to load custom field %s: %w", cf.ShortName, err)
		}
	}

	for _, m := range f.Modules {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO modules (id, course_id, modname, name) VALUES (?, ?, ?, ?)`,
			m.ID, m.CourseID, m.ModName, m.Name); err != nil {
			return fmt.Errorf("failed to load module %d: %w", m.ID, err)
		}
	}

	for _, e := range f.Enrolments {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO enrolments (course_id, user_id, role, timestart) VALUES (?, ?, ?, ?)`,
			e.CourseID, e.UserID, e.Role, e.TimeStart); err != nil {
			return fmt.Errorf("failed to load enrolment: %w", err)
		}
	}

	for _, gi := range f.GradeItems {
		scale, _ := json.Marshal(gi.Scale)
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO grade_items (id, course_id, name, itemtype, module_id, grademin, grademax, decimals, scale)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			gi.ID, gi.CourseID, gi.Name, gi.ItemType, gi.ModuleID, gi.GradeMin, gi.GradeMax, gi.DecimalPoints, string(scale),
		)
		if err != nil {
			return fmt.Errorf("failed to load grade item %d: %w", gi.ID, err)
		}
	}

	for _, g := range f.Grades {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO grades (item_id, user_id, finalgrade, feedback, timemodified) VALUES (?, ?, ?, ?, ?)`,
			g.ItemID, g.UserID, g.FinalGrade, g.Feedback, g.TimeModified); err != nil {
			return fmt.Errorf("failed to load grade: %w", err)
		}
	}

	for _, o := range f.Outcomes {
		scale, _ := json.Marshal(o.Scale)
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO outcomes (id, course_id, shortname, fullname, scale) VALUES (?, ?, ?, ?, ?)`,
			o.ID, o.CourseID, o.ShortName, o.FullName, string(scale)); err != nil {
			return fmt.Errorf("failed to load outcome %d: %w", o.ID, err)
		}
	}

	for _, og := range f.OutcomeGrades {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO outcome_grades (outcome_id, user_id, value) VALUES (?, ?, ?)`,
			og.OutcomeID, og.UserID, og.Value); err != nil {
			return fmt.Errorf("failed to load outcome grade: %w", err)
		}
	}

	for _, c := range f.Completions {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO completions (course_id, module_id, user_id, timecompleted) VALUES (?, ?, ?, ?)`,
			c.CourseID, c.ModuleID, c.UserID, c.TimeCompleted); err != nil {
			return fmt.Errorf("failed to load completion: %w", err)
		}
	}

	return tx.Commit()
}

func (d *SQLDirectory) User(ctx context.Context, id int64) (*User, error) {
	users, err := d.queryUsers(ctx, `
		SELECT id, username, firstname, lastname, email, idnumber, institution, department, phone, address, city, country, picture, profile
		FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrNotFound
	}
	return users[0], nil
}

func (d *SQLDirectory) CourseTeachers(ctx context.Context, courseID int64) ([]*User, error) {
	return d.queryUsers(ctx, `
		SELECT u.id, u.username, u.firstname, u.lastname, u.email, u.idnumber, u.institution, u.department, u.phone, u.address, u.city, u.country, u.picture, u.profile
		FROM users u JOIN enrolments e ON e.user_id = u.id
		WHERE e.course_id = ? AND e.role = ?
		ORDER BY u.lastname, u.id`, courseID, RoleTeacher)
}

func (d *SQLDirectory) queryUsers(ctx context.Context, query string, args ...any) ([]*User, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		var profile sql.NullString
		if err := rows.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Email, &u.IDNumber, &u.Institution,
			&u.Department, &u.Phone, &u.Address, &u.City, &u.Country, &u.Picture, &profile); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(profile, &u.Profile); err != nil {
			return nil, fmt.Errorf("user %d profile: %w", u.ID, err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (d *SQLDirectory) Course(ctx context.Context, id int64) (*Course, error) {
	c := &Course{}
	var start, end sql.NullTime
	var fields sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT id, shortname, fullname, idnumber, summary, category_id, startdate, enddate, fields
		FROM courses WHERE id = ?`, id,
	).Scan(&c.ID, &c.ShortName, &c.FullName, &c.IDNumber, &c.Summary, &c.CategoryID, &start, &end, &fields)
	if err := notFound(err); err != nil {
		return nil, err
	}
	c.StartDate = start.Time
	c.EndDate = end.Time
	if err := unmarshalJSON(fields, &c.Fields); err != nil {
		return nil, fmt.Errorf("course %d fields: %w", id, err)
	}
	return c, nil
}

func (d *SQLDirectory) Category(ctx context.Context, id int64) (*Category, error) {
	c := &Category{}
	err := d.db.QueryRowContext(ctx, `SELECT id, name, description FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Description)
	if err := notFound(err); err != nil {
		return nil, err
	}
	return c, nil
}

func (d *SQLDirectory) CustomField(ctx context.Context, shortName string) (*CustomField, error) {
	cf := &CustomField{}
	err := d.db.QueryRowContext(ctx, `SELECT id, shortname, name, type FROM custom_fields WHERE shortname = ?`, shortName).
		Scan(&cf.ID, &cf.ShortName, &cf.Name, &cf.Type)
	if err := notFound(err); err != nil {
		return nil, err
	}
	return cf, nil
}

func (d *SQLDirectory) CustomFields(ctx context.Context) ([]*CustomField, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, shortname, name, type FROM custom_fields ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fields []*CustomField
	for rows.Next() {
		cf := &CustomField{}
		if err := rows.Scan(&cf.ID, &cf.ShortName, &cf.Name, &cf.Type); err != nil {
			return nil, err
		}
		fields = append(fields, cf)
	}
	return fields, rows.Err()
}

func (d *SQLDirectory) Enrolment(ctx context.Context, courseID, userID int64) (*Enrolment, error) {
	e := &Enrolment{}
	var start sql.NullTime
	err := d.db.QueryRowContext(ctx, `SELECT course_id, user_id, role, timestart FROM enrolments WHERE course_id = ? AND user_id = ?`,
		courseID, userID).Scan(&e.CourseID, &e.UserID, &e.Role, &start)
	if err := notFound(err); err != nil {
		return nil, err
	}
	e.TimeStart = start.Time
	return e, nil
}

const gradeItemColumns = `id, course_id, name, itemtype, module_id, grademin, grademax, decimals, scale`

func (d *SQLDirectory) GradeItem(ctx context.Context, id int64) (*GradeItem, error) {
	items, err := d.queryGradeItems(ctx, `SELECT `+gradeItemColumns+` FROM grade_items WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

func (d *SQLDirectory) CourseGradeItem(ctx context.Context, courseID int64) (*GradeItem, error) {
	items, err := d.queryGradeItems(ctx, `SELECT `+gradeItemColumns+` FROM grade_items WHERE course_id = ? AND itemtype = 'course'`, courseID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

func (d *SQLDirectory) GradeItems(ctx context.Context, courseID int64) ([]*GradeItem, error) {
	return d.queryGradeItems(ctx, `SELECT `+gradeItemColumns+` FROM grade_items WHERE course_id = ? ORDER BY id`, courseID)
}

func (d *SQLDirectory) queryGradeItems(ctx context.Context, query string, args ...any) ([]*GradeItem, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*GradeItem
	for rows.Next() {
		gi := &GradeItem{}
		var scale sql.NullString
		if err := rows.Scan(&gi.ID, &gi.CourseID, &gi.Name, &gi.ItemType, &gi.ModuleID, &gi.GradeMin, &gi.GradeMax,
			&gi.DecimalPoints, &scale); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(scale, &gi.Scale); err != nil {
			return nil, fmt.Errorf("grade item %d scale: %w", gi.ID, err)
		}
		items = append(items, gi)
	}
	return items, rows.Err()
}

func (d *SQLDirectory) Grade(ctx context.Context, itemID, userID int64) (*Grade, error) {
	g := &Grade{}
	var final sql.NullFloat64
	var modified sql.NullTime
	err := d.db.QueryRowContext(ctx, `SELECT item_id, user_id, finalgrade, feedback, timemodified FROM grades WHERE item_id = ? AND user_id = ?`,
		itemID, userID).Scan(&g.ItemID, &g.UserID, &final, &g.Feedback, &modified)
	if err := notFound(err); err != nil {
		return nil, err
	}
	if final.Valid {
		v := final.Float64
		g.FinalGrade = &v
	}
	g.TimeModified = modified.Time
	return g, nil
}

func (d *SQLDirectory) Outcome(ctx context.Context, id int64) (*Outcome, error) {
	o := &Outcome{}
	var scale sql.NullString
	err := d.db.QueryRowContext(ctx, `SELECT id, course_id, shortname, fullname, scale FROM outcomes WHERE id = ?`, id).
		Scan(&o.ID, &o.CourseID, &o.ShortName, &o.FullName, &scale)
	if err := notFound(err); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(scale, &o.Scale); err != nil {
		return nil, fmt.Errorf("outcome %d scale: %w", id, err)
	}
	return o, nil
}

func (d *SQLDirectory) OutcomeGrade(ctx context.Context, outcomeID, userID int64) (*OutcomeGrade, error) {
	og := &OutcomeGrade{}
	err := d.db.QueryRowContext(ctx, `SELECT outcome_id, user_id, value FROM outcome_grades WHERE outcome_id = ? AND user_id = ?`,
		outcomeID, userID).Scan(&og.OutcomeID, &og.UserID, &og.Value)
	if err := notFound(err); err != nil {
		return nil, err
	}
	return og, nil
}

func (d *SQLDirectory) Module(ctx context.Context, id int64) (*Module, error) {
	m := &Module{}
	err := d.db.QueryRowContext(ctx, `SELECT id, course_id, modname, name FROM modules WHERE id = ?`, id).
		Scan(&m.ID, &m.CourseID, &m.ModName, &m.Name)
	if err := notFound(err); err != nil {
		return nil, err
	}
	return m, nil
}

func (d *SQLDirectory) CourseCompletion(ctx context.Context, courseID, userID int64) (time.Time, error) {
	return d.completion(ctx, `SELECT timecompleted FROM completions WHERE course_id = ? AND module_id = 0 AND user_id = ?`, courseID, userID)
}

func (d *SQLDirectory) ModuleCompletion(ctx context.Context, moduleID, userID int64) (time.Time, error) {
	return d.completion(ctx, `SELECT timecompleted FROM completions WHERE module_id = ? AND user_id = ?`, moduleID, userID)
}

func (d *SQLDirectory) completion(ctx context.Context, query string, args ...any) (time.Time, error) {
	var t time.Time
	err := d.db.QueryRowContext(ctx, query, args...).Scan(&t)
	if err := notFound(err); err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func unmarshalJSON(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}
