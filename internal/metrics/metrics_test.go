package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}
	if m.Registry() == nil {
		t.Error("Registry() returned nil")
	}
	if m.ElementRenderFailuresTotal == nil {
		t.Error("ElementRenderFailuresTotal is nil")
	}
	if m.ImportElementsTotal == nil {
		t.Error("ImportElementsTotal is nil")
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	// Vectors without observations are not gathered; plain gauges and
	// counters always are.
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"certly_issues_total", "certly_templates", "certly_uptime_seconds"} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestGlobalMetrics(t *testing.T) {
	if Global() != nil {
		t.Error("Global() should be nil before SetGlobal")
	}

	m := New()
	SetGlobal(m)
	if Global() != m {
		t.Error("Global() did not return the set metrics")
	}
	SetGlobal(nil)
}

func TestHelpersWithoutGlobal(t *testing.T) {
	// must not panic
	ObserveRender("pdf", 0.1)
	IncElementRenderFailure("image")
	IncExports("ok")
	IncImports("ok")
	AddImportElements("imported", 3)
	IncIssues()
	IncVerifications("valid")
	IncEvents("template_created")
	IncAPIErrors("not_found")
}

func TestIncElementRenderFailure(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncElementRenderFailure("image")
	IncElementRenderFailure("image")
	IncElementRenderFailure("grade")

	if got := counterValue(t, m.ElementRenderFailuresTotal.WithLabelValues("image")); got != 2 {
		t.Errorf("image failures = %v, want 2", got)
	}
	if got := counterValue(t, m.ElementRenderFailuresTotal.WithLabelValues("grade")); got != 1 {
		t.Errorf("grade failures = %v, want 1", got)
	}
}

func TestObserveRender(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	ObserveRender("pdf", 0.02)
	ObserveRender("markup", 0.001)
	ObserveRender("pdf", 0.3)

	if got := counterValue(t, m.RendersTotal.WithLabelValues("pdf")); got != 2 {
		t.Errorf("pdf renders = %v, want 2", got)
	}

	var metric dto.Metric
	h := m.RenderDurationSeconds.WithLabelValues("pdf").(prometheus.Histogram)
	if err := h.Write(&metric); err != nil {
		t.Fatal(err)
	}
	if metric.Histogram.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", metric.Histogram.GetSampleCount())
	}
}

func TestAddImportElements(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	AddImportElements("imported", 4)
	AddImportElements("skipped", 1)
	AddImportElements("skipped", 0)

	if got := counterValue(t, m.ImportElementsTotal.WithLabelValues("imported")); got != 4 {
		t.Errorf("imported = %v, want 4", got)
	}
	if got := counterValue(t, m.ImportElementsTotal.WithLabelValues("skipped")); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
}

func TestIssuanceCounters(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncIssues()
	IncVerifications("valid")
	IncVerifications("invalid")
	IncVerifications("invalid")

	if got := counterValue(t, m.IssuesTotal); got != 1 {
		t.Errorf("issues = %v, want 1", got)
	}
	if got := counterValue(t, m.VerificationsTotal.WithLabelValues("invalid")); got != 2 {
		t.Errorf("invalid verifications = %v, want 2", got)
	}
}
