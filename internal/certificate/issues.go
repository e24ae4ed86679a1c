package certificate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const maxCodeAttempts = 20

// CreateActivity stores a new activity for an existing template
func (s *Store) CreateActivity(ctx context.Context, a *Activity) error {
	if a.Name == "" {
		return fmt.Errorf("activity name is required")
	}
	if a.CourseID <= 0 {
		return fmt.Errorf("activity needs a course id")
	}
	return s.update(ctx, func(tx *bolt.Tx, rec *recorder) error {
		if _, err := getTemplate(tx, a.TemplateID); err != nil {
			return fmt.Errorf("template %s: %w", a.TemplateID, err)
		}
		a.ID = uuid.New().String()
		a.CreatedAt = rec.now
		return putJSON(tx.Bucket(bucketActivities), a.ID, a)
	})
}

// GetActivity retrieves an activity by ID
func (s *Store) GetActivity(ctx context.Context, id string) (*Activity, error) {
	var a Activity
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketActivities), id, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListActivities returns activities of a course, or all when courseID is 0
func (s *Store) ListActivities(ctx context.Context, courseID int64) ([]*Activity, error) {
	var activities []*Activity
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActivities).ForEach(func(k, v []byte) error {
			var a Activity
			if err := json.Unmarshal(v, &a); err != nil {
				return nil
			}
			if courseID == 0 || a.CourseID == courseID {
				activities = append(activities, &a)
			}
			return nil
		})
	})
	sort.Slice(activities, func(i, j int) bool {
		return activities[i].CreatedAt.Before(activities[j].CreatedAt)
	})
	return activities, err
}

// DeleteActivity removes an activity and every issue made for it
func (s *Store) DeleteActivity(ctx context.Context, id string) error {
	return s.update(ctx, func(tx *bolt.Tx, rec *recorder) error {
		activities := tx.Bucket(bucketActivities)
		if activities.Get([]byte(id)) == nil {
			return ErrNotFound
		}

		issues, err := activityIssues(tx, id)
		if err != nil {
			return err
		}
		for _, is := range issues {
			if err := deleteIssue(tx, is); err != nil {
				return err
			}
			rec.add(Event{Type: EventIssueDeleted, ActivityID: id, IssueID: is.ID, UserID: is.UserID})
		}

		return activities.Delete([]byte(id))
	})
}

func userKey(activityID string, userID int64) []byte {
	return []byte(activityID + "/" + strconv.FormatInt(userID, 10))
}

// Issue returns the issue for (activity, user), creating it with a fresh
// code from newCode if there is none yet. created reports whether a new
// issue was stored.
func (s *Store) Issue(ctx context.Context, activityID string, userID int64, newCode func() (string, error)) (issue *Issue, created bool, err error) {
	err = s.update(ctx, func(tx *bolt.Tx, rec *recorder) error {
		if tx.Bucket(bucketActivities).Get([]byte(activityID)) == nil {
			return fmt.Errorf("activity %s: %w", activityID, ErrNotFound)
		}

		if id := tx.Bucket(bucketIssueUsers).Get(userKey(activityID, userID)); id != nil {
			var existing Issue
			if err := getJSON(tx.Bucket(bucketIssues), string(id), &existing); err != nil {
				return err
			}
			issue = &existing
			return nil
		}

		codes := tx.Bucket(bucketIssueCodes)
		var code string
		for attempt := 0; ; attempt++ {
			if attempt == maxCodeAttempts {
				return fmt.Errorf("failed to generate a unique code after %d attempts", maxCodeAttempts)
			}
			c, err := newCode()
			if err != nil {
				return fmt.Errorf("failed to generate code: %w", err)
			}
			if codes.Get([]byte(c)) == nil {
				code = c
				break
			}
		}

		issue = &Issue{
			ID:         uuid.New().String(),
			ActivityID: activityID,
			UserID:     userID,
			Code:       code,
			IssuedAt:   rec.now,
		}
		if err := putJSON(tx.Bucket(bucketIssues), issue.ID, issue); err != nil {
			return err
		}
		if err := codes.Put([]byte(code), []byte(issue.ID)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketIssueUsers).Put(userKey(activityID, userID), []byte(issue.ID)); err != nil {
			return err
		}
		created = true
		rec.add(Event{Type: EventIssueCreated, ActivityID: activityID, IssueID: issue.ID, UserID: userID})
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return issue, created, nil
}

// GetIssue retrieves an issue by ID
func (s *Store) GetIssue(ctx context.Context, id string) (*Issue, error) {
	var is Issue
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketIssues), id, &is)
	})
	if err != nil {
		return nil, err
	}
	return &is, nil
}

// IssueByCode retrieves an issue by its verification code
func (s *Store) IssueByCode(ctx context.Context, code string) (*Issue, error) {
	var is Issue
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketIssueCodes).Get([]byte(code))
		if id == nil {
			return ErrNotFound
		}
		return getJSON(tx.Bucket(bucketIssues), string(id), &is)
	})
	if err != nil {
		return nil, err
	}
	return &is, nil
}

// IssueFor returns the issue of a user for an activity
func (s *Store) IssueFor(ctx context.Context, activityID string, userID int64) (*Issue, error) {
	var is Issue
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketIssueUsers).Get(userKey(activityID, userID))
		if id == nil {
			return ErrNotFound
		}
		return getJSON(tx.Bucket(bucketIssues), string(id), &is)
	})
	if err != nil {
		return nil, err
	}
	return &is, nil
}

// ListIssues returns the issues of an activity ordered by issue time
func (s *Store) ListIssues(ctx context.Context, activityID string) ([]*Issue, error) {
	var issues []*Issue
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		issues, err = activityIssues(tx, activityID)
		return err
	})
	return issues, err
}

// DeleteIssue removes an issue and frees its code
func (s *Store) DeleteIssue(ctx context.Context, id string) error {
	return s.update(ctx, func(tx *bolt.Tx, rec *recorder) error {
		var is Issue
		if err := getJSON(tx.Bucket(bucketIssues), id, &is); err != nil {
			return err
		}
		if err := deleteIssue(tx, &is); err != nil {
			return err
		}
		rec.add(Event{Type: EventIssueDeleted, ActivityID: is.ActivityID, IssueID: is.ID, UserID: is.UserID})
		return nil
	})
}

func activityIssues(tx *bolt.Tx, activityID string) ([]*Issue, error) {
	var issues []*Issue
	err := tx.Bucket(bucketIssues).ForEach(func(k, v []byte) error {
		var is Issue
		if err := json.Unmarshal(v, &is); err != nil {
			return fmt.Errorf("corrupt issue %s: %w", k, err)
		}
		if is.ActivityID == activityID {
			issues = append(issues, &is)
		}
		return nil
	})
	sort.Slice(issues, func(i, j int) bool {
		if !issues[i].IssuedAt.Equal(issues[j].IssuedAt) {
			return issues[i].IssuedAt.Before(issues[j].IssuedAt)
		}
		return issues[i].ID < issues[j].ID
	})
	return issues, err
}

func deleteIssue(tx *bolt.Tx, is *Issue) error {
	if err := tx.Bucket(bucketIssueCodes).Delete([]byte(is.Code)); err != nil {
		return err
	}
	if err := tx.Bucket(bucketIssueUsers).Delete(userKey(is.ActivityID, is.UserID)); err != nil {
		return err
	}
	if err := tx.Bucket(bucketIssues).Delete([]byte(is.ID)); err != nil {
		return err
	}
	return nil
}

// IsNotFound reports whether err means a missing record
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
