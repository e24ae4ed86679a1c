// Package issuance hands out certificates to learners and verifies them by
// code.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/lms"
	"github.com/foxzi/certly/internal/metrics"
	"github.com/foxzi/certly/internal/render"
)

var (
	// ErrUnknownLearner is returned when the learner is not in the directory
	ErrUnknownLearner = errors.New("unknown learner")
	// ErrNotEnrolled is returned when enrolment is required and missing
	ErrNotEnrolled = errors.New("learner is not enrolled in the course")
	// ErrInvalidCode is returned by Verify for unknown codes
	ErrInvalidCode = errors.New("invalid verification code")
)

// Config controls issuing
type Config struct {
	// CodeFormat is one of certificate.CodeFormats
	CodeFormat string
	// RequireEnrolment refuses learners without an enrolment in the
	// activity's course.
	RequireEnrolment bool
}

// Verification is what a verifier learns about a code
type Verification struct {
	Code       string    `json:"code"`
	IssuedAt   time.Time `json:"issued_at"`
	Learner    string    `json:"learner"`
	UserID     int64     `json:"user_id"`
	Activity   string    `json:"activity"`
	ActivityID string    `json:"activity_id"`
	Course     string    `json:"course,omitempty"`
	CourseID   int64     `json:"course_id"`
}

// Service issues, renders and verifies certificates
type Service struct {
	store     *certificate.Store
	directory lms.Directory
	renderer  *render.Renderer
	cfg       Config
	logger    *slog.Logger
}

// New creates an issuance service
func New(store *certificate.Store, directory lms.Directory, renderer *render.Renderer, cfg Config, logger *slog.Logger) *Service {
	if cfg.CodeFormat == "" {
		cfg.CodeFormat = certificate.CodeAlnum
	}
	return &Service{
		store:     store,
		directory: directory,
		renderer:  renderer,
		cfg:       cfg,
		logger:    logger.With("component", "issuance"),
	}
}

// Issue returns the learner's issue for an activity, creating it on first
// use. A learner gets at most one issue per activity.
func (s *Service) Issue(ctx context.Context, activityID string, userID int64) (*certificate.Issue, error) {
	activity, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("activity %s: %w", activityID, err)
	}
	if _, err := s.learner(ctx, activity, userID); err != nil {
		return nil, err
	}

	issue, created, err := s.store.Issue(ctx, activityID, userID, certificate.CodeGenerator(s.cfg.CodeFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to issue certificate: %w", err)
	}
	if created {
		metrics.IncIssues()
		s.logger.Info("certificate issued",
			"activity_id", activityID,
			"user_id", userID,
			"issue_id", issue.ID,
		)
	}
	return issue, nil
}

func (s *Service) learner(ctx context.Context, activity *certificate.Activity, userID int64) (*lms.User, error) {
	user, err := s.directory.User(ctx, userID)
	if errors.Is(err, lms.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLearner, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up learner: %w", err)
	}
	if !s.cfg.RequireEnrolment {
		return user, nil
	}
	_, err = s.directory.Enrolment(ctx, activity.CourseID, userID)
	if errors.Is(err, lms.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %d, course %d", ErrNotEnrolled, userID, activity.CourseID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up enrolment: %w", err)
	}
	return user, nil
}

// Download issues the certificate if needed and renders it to w
func (s *Service) Download(ctx context.Context, activityID string, userID int64, w io.Writer) (*certificate.Issue, *render.Report, error) {
	issue, err := s.Issue(ctx, activityID, userID)
	if err != nil {
		return nil, nil, err
	}
	activity, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return issue, nil, err
	}
	tmpl, err := s.store.GetTemplate(ctx, activity.TemplateID)
	if err != nil {
		return issue, nil, fmt.Errorf("template %s: %w", activity.TemplateID, err)
	}

	subject, err := s.subject(ctx, activity, issue)
	if err != nil {
		return issue, nil, err
	}
	rep, err := s.renderer.PDF(ctx, tmpl, subject, false, w)
	if err != nil {
		return issue, rep, fmt.Errorf("failed to render certificate: %w", err)
	}
	return issue, rep, nil
}

func (s *Service) subject(ctx context.Context, activity *certificate.Activity, issue *certificate.Issue) (element.Subject, error) {
	subject := element.Subject{Activity: activity, Issue: issue}

	user, err := s.directory.User(ctx, issue.UserID)
	switch {
	case err == nil:
		subject.User = user
	case !errors.Is(err, lms.ErrNotFound):
		return subject, fmt.Errorf("failed to look up learner: %w", err)
	}

	course, err := s.directory.Course(ctx, activity.CourseID)
	switch {
	case err == nil:
		subject.Course = course
	case !errors.Is(err, lms.ErrNotFound):
		return subject, fmt.Errorf("failed to look up course: %w", err)
	}
	return subject, nil
}

// Filename returns the download name of an activity's certificate
func Filename(activity *certificate.Activity) string {
	name := unsafeFilename.ReplaceAllString(strings.TrimSpace(activity.Name), "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "certificate"
	}
	return name + ".pdf"
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NormaliseCode trims what users paste around a code
func NormaliseCode(code string) string {
	return strings.TrimSpace(code)
}

// Verify resolves a verification code. Learners and courses that have
// since been removed leave their fields empty.
func (s *Service) Verify(ctx context.Context, code string) (*Verification, error) {
	code = NormaliseCode(code)
	if code == "" {
		metrics.IncVerifications("invalid")
		return nil, ErrInvalidCode
	}

	issue, err := s.store.IssueByCode(ctx, code)
	if certificate.IsNotFound(err) {
		metrics.IncVerifications("invalid")
		s.logger.Info("verification failed", "code", code)
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up code: %w", err)
	}

	activity, err := s.store.GetActivity(ctx, issue.ActivityID)
	if err != nil {
		return nil, fmt.Errorf("activity %s: %w", issue.ActivityID, err)
	}
	subject, err := s.subject(ctx, activity, issue)
	if err != nil {
		return nil, err
	}

	v := &Verification{
		Code:       issue.Code,
		IssuedAt:   issue.IssuedAt,
		UserID:     issue.UserID,
		Activity:   activity.Name,
		ActivityID: activity.ID,
		CourseID:   activity.CourseID,
	}
	if subject.User != nil {
		v.Learner = subject.User.FullName()
	}
	if subject.Course != nil {
		v.Course = subject.Course.FullName
	}

	metrics.IncVerifications("valid")
	return v, nil
}

// Get returns an issue by id
func (s *Service) Get(ctx context.Context, issueID string) (*certificate.Issue, error) {
	return s.store.GetIssue(ctx, issueID)
}

// List returns the issues of an activity
func (s *Service) List(ctx context.Context, activityID string) ([]*certificate.Issue, error) {
	if _, err := s.store.GetActivity(ctx, activityID); err != nil {
		return nil, fmt.Errorf("activity %s: %w", activityID, err)
	}
	return s.store.ListIssues(ctx, activityID)
}

// Delete removes an issue. The learner gets a new code on the next issue.
func (s *Service) Delete(ctx context.Context, issueID string) error {
	if err := s.store.DeleteIssue(ctx, issueID); err != nil {
		return fmt.Errorf("failed to delete issue %s: %w", issueID, err)
	}
	s.logger.Info("issue deleted", "issue_id", issueID)
	return nil
}
