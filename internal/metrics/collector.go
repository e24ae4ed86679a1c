package metrics

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	bolt "go.etcd.io/bbolt"
)

// StoreStats contains store statistics for metrics
type StoreStats struct {
	Templates  int64
	Activities int64
	Issues     int64
}

// StoreStatsProvider provides store statistics for metrics
type StoreStatsProvider interface {
	Stats(ctx context.Context) (*StoreStats, error)
}

// StoreStatsFunc adapts a function to StoreStatsProvider
type StoreStatsFunc func(ctx context.Context) (*StoreStats, error)

func (f StoreStatsFunc) Stats(ctx context.Context) (*StoreStats, error) {
	return f(ctx)
}

var (
	bucketMetrics = []byte("metrics")
	keyCounters   = []byte("counters")
)

// CounterSample is one persisted counter series
type CounterSample struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Snapshot maps counter names to their series
type Snapshot map[string][]CounterSample

// Collector persists counters across restarts and updates the gauges
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	storeStats    StoreStatsProvider
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector creates a new metrics collector and restores persisted
// counters into m
func NewCollector(db *bolt.DB, m *Metrics, storeStats StoreStatsProvider, storagePath string, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		storeStats:    storeStats,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		stopCh:        make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateSystemMetrics(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return c.persistCounters()
}

// counters lists the counters that survive restarts
func (m *Metrics) counters() map[string]prometheus.Collector {
	return map[string]prometheus.Collector{
		"certly_renders_total":                 m.RendersTotal,
		"certly_element_render_failures_total": m.ElementRenderFailuresTotal,
		"certly_exports_total":                 m.ExportsTotal,
		"certly_imports_total":                 m.ImportsTotal,
		"certly_import_elements_total":         m.ImportElementsTotal,
		"certly_issues_total":                  m.IssuesTotal,
		"certly_verifications_total":           m.VerificationsTotal,
		"certly_events_total":                  m.EventsTotal,
		"certly_api_requests_total":            m.APIRequestsTotal,
		"certly_api_errors_total":              m.APIErrorsTotal,
	}
}

// Snapshot returns the current values of the persisted counters
func (m *Metrics) Snapshot() (Snapshot, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	persisted := m.counters()
	snap := make(Snapshot)
	for _, f := range families {
		if _, ok := persisted[f.GetName()]; !ok || f.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, metric := range f.GetMetric() {
			s := CounterSample{Value: metric.GetCounter().GetValue()}
			if len(metric.GetLabel()) > 0 {
				s.Labels = make(map[string]string, len(metric.GetLabel()))
				for _, lp := range metric.GetLabel() {
					s.Labels[lp.GetName()] = lp.GetValue()
				}
			}
			snap[f.GetName()] = append(snap[f.GetName()], s)
		}
	}
	return snap, nil
}

// Restore adds snapshot values onto the counters
func (m *Metrics) Restore(snap Snapshot) {
	persisted := m.counters()
	for name, samples := range snap {
		col, ok := persisted[name]
		if !ok {
			continue
		}
		for _, s := range samples {
			switch c := col.(type) {
			case *prometheus.CounterVec:
				counter, err := c.GetMetricWith(prometheus.Labels(s.Labels))
				if err != nil {
					continue
				}
				counter.Add(s.Value)
			case prometheus.Counter:
				c.Add(s.Value)
			}
		}
	}
}

// loadCounters loads persisted counter values from BoltDB
func (c *Collector) loadCounters() error {
	return c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}

		data := bucket.Get(keyCounters)
		if data == nil {
			return nil
		}

		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil // Skip invalid data
		}
		c.metrics.Restore(snap)
		return nil
	})
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	snap, err := c.metrics.Snapshot()
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}
		return bucket.Put(keyCounters, data)
	})
}

// persistLoop periodically persists counter values
func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.persistCounters()
		}
	}
}

// updateSystemMetrics periodically updates gauges
func (c *Collector) updateSystemMetrics(ctx context.Context) {
	defer c.wg.Done()

	c.collectSystemMetrics(ctx)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics(ctx)
		}
	}
}

// collectSystemMetrics collects current system and store state
func (c *Collector) collectSystemMetrics(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.storeStats != nil {
		stats, err := c.storeStats.Stats(ctx)
		if err == nil {
			c.metrics.Templates.Set(float64(stats.Templates))
			c.metrics.Activities.Set(float64(stats.Activities))
			c.metrics.Issued.Set(float64(stats.Issues))
		}
	}
}
