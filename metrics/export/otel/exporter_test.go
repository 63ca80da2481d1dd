package otel

import (
	"context"
	"sync"
	"testing"

	goMFA "github.com/MrEthical07/goMFA"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot goMFA.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() goMFA.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goMFA.MetricsSnapshot{
		Counters:   make(map[goMFA.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[goMFA.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("gomfa-test")

	src := &fakeSource{
		snapshot: goMFA.MetricsSnapshot{
			Counters: map[goMFA.MetricID]uint64{
				goMFA.MetricLoginSuccess: 3,
			},
			Histograms: map[goMFA.MetricID][]uint64{
				goMFA.MetricSignInLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}

	byName := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			byName[m.Name] = m
		}
	}

	login, ok := byName["gomfa_login_success_total"].Data.(metricdata.Sum[int64])
	if !ok || len(login.DataPoints) != 1 || login.DataPoints[0].Value != 3 {
		t.Fatalf("expected login counter 3, got %+v", byName["gomfa_login_success_total"].Data)
	}

	buckets, ok := byName["gomfa_sign_in_latency_seconds_bucket"].Data.(metricdata.Gauge[int64])
	if !ok || len(buckets.DataPoints) != 8 {
		t.Fatalf("expected 8 bucket points, got %+v", byName["gomfa_sign_in_latency_seconds_bucket"].Data)
	}
	for _, dp := range buckets.DataPoints {
		le, _ := dp.Attributes.Value(attribute.Key("le"))
		if le.AsString() == "inf" && dp.Value != 8 {
			t.Fatalf("expected +Inf bucket 8, got %d", dp.Value)
		}
	}

	dropped, ok := byName["gomfa_audit_dropped_total"].Data.(metricdata.Sum[int64])
	if !ok || dropped.DataPoints[0].Value != 1 {
		t.Fatalf("expected audit dropped 1, got %+v", byName["gomfa_audit_dropped_total"].Data)
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("gomfa-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("gomfa-test")

	src := &fakeSource{
		snapshot: goMFA.MetricsSnapshot{
			Counters: map[goMFA.MetricID]uint64{
				goMFA.MetricLoginSuccess: 1,
			},
			Histograms: map[goMFA.MetricID][]uint64{
				goMFA.MetricSignInLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[goMFA.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
