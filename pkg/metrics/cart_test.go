package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCartSyncMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCartSyncMetrics(reg)

	metrics.ObserveRemoteCall("add_item", 120*time.Millisecond, nil)
	metrics.ObserveRemoteCall("add_item", 40*time.Millisecond, errors.New("boom"))
	metrics.ObserveRemoteCall("", time.Millisecond, nil)
	metrics.IncReload(nil)
	metrics.IncReload(errors.New("down"))
	metrics.IncReload(errors.New("down"))
	metrics.IncSuperseded()
	metrics.IncPriceFallback()
	metrics.SetActiveSessions(3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "cart_remote_calls_total", map[string]string{"op": "add_item", "result": ResultSuccess}); err != nil {
		t.Fatalf("fetch success: %v", err)
	} else if got != 1 {
		t.Fatalf("expected success=1, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "cart_remote_calls_total", map[string]string{"op": "add_item", "result": ResultFailure}); err != nil {
		t.Fatalf("fetch failure: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failure=1, got %f", got)
	}
	if _, err := fetchCounterValue(mfs, "cart_remote_calls_total", map[string]string{"op": "unknown"}); err != nil {
		t.Fatalf("empty op should be normalized: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "cart_reloads_total", map[string]string{"result": ResultFailure}); err != nil {
		t.Fatalf("fetch reloads: %v", err)
	} else if got != 2 {
		t.Fatalf("expected failed reloads=2, got %f", got)
	}
	if got, err := fetchHistogramSum(mfs, "cart_remote_call_duration_seconds", map[string]string{"op": "add_item"}); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
	if mf := findMetricFamily(mfs, "cart_active_sessions"); mf == nil || mf.GetMetric()[0].GetGauge().GetValue() != 3 {
		t.Fatalf("expected active sessions gauge of 3")
	}
}

func TestNilRegistererIsNoop(t *testing.T) {
	metrics := NewCartSyncMetrics(nil)
	metrics.ObserveRemoteCall("fetch_cart", time.Second, nil)
	metrics.IncSuperseded()

	var nilMetrics *CartSyncMetrics
	nilMetrics.IncPriceFallback()
	nilMetrics.SetActiveSessions(1)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing labels %v", name, labels)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
