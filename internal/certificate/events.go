package certificate

import (
	"context"
	"log/slog"
	"time"
)

// EventType names a domain event
type EventType string

const (
	EventTemplateCreated    EventType = "template_created"
	EventTemplateUpdated    EventType = "template_updated"
	EventTemplateDeleted    EventType = "template_deleted"
	EventTemplateDuplicated EventType = "template_duplicated"
	EventPageCreated        EventType = "page_created"
	EventPageDeleted        EventType = "page_deleted"
	EventElementCreated     EventType = "element_created"
	EventElementUpdated     EventType = "element_updated"
	EventElementDeleted     EventType = "element_deleted"
	EventIssueCreated       EventType = "issue_created"
	EventIssueDeleted       EventType = "issue_deleted"
)

// Event is a change to the stored aggregate
type Event struct {
	Type       EventType `json:"type"`
	TemplateID string    `json:"template_id,omitempty"`
	SourceID   string    `json:"source_id,omitempty"`
	PageID     string    `json:"page_id,omitempty"`
	ElementID  string    `json:"element_id,omitempty"`
	ActivityID string    `json:"activity_id,omitempty"`
	IssueID    string    `json:"issue_id,omitempty"`
	UserID     int64     `json:"user_id,omitempty"`
	Time       time.Time `json:"time"`
}

// EventSink receives events after the change is committed
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(ctx context.Context, ev Event)

func (f EventSinkFunc) Emit(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// MultiSink fans events out to several sinks
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}

// LogSink logs every event
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, ev Event) {
	attrs := []any{"event", string(ev.Type)}
	if ev.TemplateID != "" {
		attrs = append(attrs, "template_id", ev.TemplateID)
	}
	if ev.SourceID != "" {
		attrs = append(attrs, "source_id", ev.SourceID)
	}
	if ev.PageID != "" {
		attrs = append(attrs, "page_id", ev.PageID)
	}
	if ev.ElementID != "" {
		attrs = append(attrs, "element_id", ev.ElementID)
	}
	if ev.ActivityID != "" {
		attrs = append(attrs, "activity_id", ev.ActivityID)
	}
	if ev.IssueID != "" {
		attrs = append(attrs, "issue_id", ev.IssueID, "user_id", ev.UserID)
	}
	s.Logger.InfoContext(ctx, "certificate event", attrs...)
}

type nopSink struct{}

func (nopSink) Emit(context.Context, Event) {}
