package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func openTestDB(t *testing.T, path string) *bolt.DB {
	t.Helper()
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	return db
}

func TestNewCollector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	db := openTestDB(t, path)
	defer db.Close()

	stats := StoreStatsFunc(func(ctx context.Context) (*StoreStats, error) {
		return &StoreStats{Templates: 3, Activities: 2, Issues: 40}, nil
	})

	m := New()
	c, err := NewCollector(db, m, stats, path, 10*time.Second)
	if err != nil {
		t.Fatalf("Failed to create collector: %v", err)
	}

	c.collectSystemMetrics(context.Background())
	if got := gaugeValue(t, m.Issued); got != 40 {
		t.Errorf("Issued = %v, want 40", got)
	}
	if got := gaugeValue(t, m.StorageUsedBytes); got <= 0 {
		t.Errorf("StorageUsedBytes = %v", got)
	}

	if err := c.Stop(); err != nil {
		t.Errorf("Failed to stop collector: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestCollectorPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	db := openTestDB(t, path)

	m := New()
	c, err := NewCollector(db, m, nil, path, 10*time.Second)
	if err != nil {
		t.Fatalf("Failed to create collector: %v", err)
	}

	m.IssuesTotal.Inc()
	m.IssuesTotal.Inc()
	m.ElementRenderFailuresTotal.WithLabelValues("image").Inc()
	m.APIRequestsTotal.WithLabelValues("GET", "/api/v1/templates", "200").Add(5)
	m.RenderDurationSeconds.WithLabelValues("pdf").Observe(0.2)

	if err := c.Stop(); err != nil {
		t.Errorf("Failed to stop collector: %v", err)
	}
	db.Close()

	db2 := openTestDB(t, path)
	defer db2.Close()

	m2 := New()
	c2, err := NewCollector(db2, m2, nil, path, 10*time.Second)
	if err != nil {
		t.Fatalf("Failed to recreate collector: %v", err)
	}
	defer c2.Stop()

	if got := counterValue(t, m2.IssuesTotal); got != 2 {
		t.Errorf("IssuesTotal = %v, want 2", got)
	}
	if got := counterValue(t, m2.ElementRenderFailuresTotal.WithLabelValues("image")); got != 1 {
		t.Errorf("image failures = %v, want 1", got)
	}
	if got := counterValue(t, m2.APIRequestsTotal.WithLabelValues("GET", "/api/v1/templates", "200")); got != 5 {
		t.Errorf("api requests = %v, want 5", got)
	}
}

func TestSnapshot_SkipsHistograms(t *testing.T) {
	m := New()
	m.RenderDurationSeconds.WithLabelValues("pdf").Observe(1)
	m.EventsTotal.WithLabelValues("template_created").Inc()

	snap, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if _, ok := snap["certly_render_duration_seconds"]; ok {
		t.Error("Snapshot() contains a histogram")
	}
	ev := snap["certly_events_total"]
	if len(ev) != 1 || ev[0].Labels["type"] != "template_created" || ev[0].Value != 1 {
		t.Errorf("events = %+v", ev)
	}
}

func TestRestore_IgnoresUnknown(t *testing.T) {
	m := New()
	m.Restore(Snapshot{
		"certly_removed_total":       {{Value: 3}},
		"certly_exports_total":       {{Labels: map[string]string{"bogus": "x"}, Value: 1}},
		"certly_verifications_total": {{Labels: map[string]string{"result": "valid"}, Value: 7}},
	})
	if got := counterValue(t, m.VerificationsTotal.WithLabelValues("valid")); got != 7 {
		t.Errorf("verifications = %v, want 7", got)
	}
}
