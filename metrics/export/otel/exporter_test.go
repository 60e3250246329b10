package otel

import (
	"context"
	"sync"
	"testing"

	goSession "github.com/MrEthical07/goSession"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.Mutex
	counters map[goSession.MetricID]uint64
	latency  []uint64
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() goSession.MetricsSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := goSession.MetricsSnapshot{
		Counters:   make(map[goSession.MetricID]uint64, len(f.counters)),
		Histograms: map[goSession.MetricID][]uint64{},
	}
	for k, v := range f.counters {
		out.Counters[k] = v
	}
	if f.latency != nil {
		out.Histograms[goSession.MetricSessionResolveLatency] = append([]uint64(nil), f.latency...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 { return f.dropped }
func (f *fakeSource) EmailDropped() uint64 { return 0 }

func newReader(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return reader, provider
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += dp.Value
				}
			}
		}
	}
	return out
}

func TestExporterObservesSnapshot(t *testing.T) {
	reader, provider := newReader(t)
	src := &fakeSource{
		counters: map[goSession.MetricID]uint64{goSession.MetricTokenIssued: 3},
		latency:  []uint64{1, 1, 1, 1, 1, 1, 1, 1},
		dropped:  1,
	}

	exp, err := NewExporterFromSource(provider.Meter("gosession-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource: %v", err)
	}
	defer exp.Close()

	got := collect(t, reader)
	if got["gosession_token_issued_total"] != 3 {
		t.Fatalf("token issued = %d", got["gosession_token_issued_total"])
	}
	if got["gosession_session_resolve_latency_seconds_bucket_le_0_005"] != 3 {
		t.Fatalf("bucket not cumulative: %d", got["gosession_session_resolve_latency_seconds_bucket_le_0_005"])
	}
	if got["gosession_session_resolve_latency_seconds_count"] != 8 {
		t.Fatalf("count = %d", got["gosession_session_resolve_latency_seconds_count"])
	}
	if got["gosession_audit_dropped_total"] != 1 {
		t.Fatalf("audit dropped = %d", got["gosession_audit_dropped_total"])
	}
}

func TestExporterStopsAfterClose(t *testing.T) {
	reader, provider := newReader(t)
	src := &fakeSource{counters: map[goSession.MetricID]uint64{goSession.MetricLoginSuccess: 5}}

	exp, err := NewExporterFromSource(provider.Meter("gosession-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource: %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := collect(t, reader)["gosession_login_success_total"]; got != 0 {
		t.Fatalf("expected no observation after Close, got %d", got)
	}
}

func TestExporterRejectsNil(t *testing.T) {
	_, provider := newReader(t)
	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewExporterFromSource(provider.Meter("x"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newReader(t)
	src := &fakeSource{counters: map[goSession.MetricID]uint64{}}
	exp, err := NewExporterFromSource(provider.Meter("gosession-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src.mu.Lock()
			src.counters[goSession.MetricLoginSuccess] = uint64(i + 1)
			src.mu.Unlock()
			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}()
	}
	wg.Wait()
}
