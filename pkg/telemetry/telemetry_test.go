package telemetry

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "production", mutate: func(c *Config) { *c = *ProductionConfig() }},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: true},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 1.5 }, wantErr: true},
		{name: "zero async buffer", mutate: func(c *Config) {
			c.Events.EnableAsync = true
			c.Events.BufferSize = 0
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.NewComponentLogger("sequencer").
		WithDepositID("dep-1").
		WithPhase(2).
		WithService("checksum").
		Info("phase started")

	out := buf.String()
	for _, want := range []string{`"component":"sequencer"`, `"deposit_id":"dep-1"`, `"phase":2`, `"service":"checksum"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

func TestLoggerContextRoundTrip(t *testing.T) {
	logger := Nop().WithDepositID("dep-1")
	ctx := logger.WithContext(context.Background())
	if FromContext(ctx) != logger {
		t.Error("FromContext() did not return the stored logger")
	}
	if FromContext(context.Background()) == nil {
		t.Error("FromContext() on empty context returned nil")
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordDepositStarted("alice")
	m.RecordPhaseExecution(1, "succeeded", time.Second)
	m.RecordCacheEviction()
	m.RecordError("validation", "")

	disabled, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	disabled.RecordServiceCall("checksum", time.Millisecond)
	if disabled.Registry() != nil {
		t.Error("disabled metrics should have no registry")
	}
}

func TestMetricsHandler(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	m.RecordDepositStarted("alice")
	m.RecordEvent("deposit")
	m.SetCacheSize(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`test_deposits_started_total{user="alice"} 1`,
		`test_events_recorded_total{type="deposit"} 1`,
		`test_deposit_cache_entries 3`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestEventPublisherFilters(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	var got []string
	ep.Subscribe(func(n Notification) { got = append(got, n.Type) }, FilterByDepositID("dep-1"))
	ep.AddFilter(FilterByType(NotificationDepositAccepted, NotificationDepositCompleted))

	_ = ep.PublishDepositAccepted("dep-1", "alice")
	_ = ep.PublishDepositPaused("dep-1", 1)
	_ = ep.PublishDepositCompleted("dep-2")
	_ = ep.PublishDepositCompleted("dep-1")

	want := []string{NotificationDepositAccepted, NotificationDepositCompleted}
	if len(got) != len(want) {
		t.Fatalf("delivered %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivered[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestEventPublisherAsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 16, MaxBatchSize: 4})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	delivered := make(chan string, 16)
	ep.Subscribe(func(n Notification) { delivered <- n.DepositID }, nil)

	for i := 0; i < 5; i++ {
		if err := ep.PublishDepositAccepted("dep", "alice"); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if len(delivered) != 5 {
		t.Errorf("delivered %d notifications, want 5", len(delivered))
	}
}

func TestDisabledPublisherDropsSilently(t *testing.T) {
	var nilPublisher *EventPublisher
	if err := nilPublisher.PublishDepositCancelled("dep-1"); err != nil {
		t.Errorf("nil publisher returned error: %v", err)
	}

	ep, _ := NewEventPublisher(EventsConfig{Enabled: false})
	called := false
	ep.Subscribe(func(Notification) { called = true }, nil)
	_ = ep.PublishDepositCancelled("dep-1")
	if called {
		t.Error("disabled publisher delivered a notification")
	}
}

type classified struct{}

func (classified) Error() string      { return "boom" }
func (classified) ErrorClass() string { return "package" }
func (classified) ErrorCode() string  { return "UNPACK_FAILED" }

func TestServiceExecutionRecordsMetrics(t *testing.T) {
	tel, err := NewTelemetry(TestConfig())
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	ctx := tel.WithContext(context.Background())

	wantErr := errors.New("service failed")
	err = RecordServiceExecution(ctx, "checksum", func(context.Context) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("RecordServiceExecution() error = %v, want %v", err, wantErr)
	}
	RecordErrorMetrics(ctx, classified{})

	rec := httptest.NewRecorder()
	tel.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`dcsingest_service_errors_total{service="checksum"} 1`,
		`dcsingest_errors_by_class_total{class="package"} 1`,
		`dcsingest_errors_by_code_total{code="UNPACK_FAILED"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
