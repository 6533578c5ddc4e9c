package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestTransferMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewTransferMetrics(reg)
	target := "archive"
	metrics.IncAttempt(target)
	metrics.IncAttempt(target)
	metrics.IncOutcome(target, "completed")
	metrics.ObserveDuration(target, 3*time.Second)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "transfer_attempts_total", "target", target); err != nil {
		t.Fatalf("fetch attempts: %v", err)
	} else if got != 2 {
		t.Fatalf("expected attempts=2, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "transfer_outcomes_total", "target", target); err != nil {
		t.Fatalf("fetch outcomes: %v", err)
	} else if got != 1 {
		t.Fatalf("expected outcomes=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "transfer_duration_seconds", "target", target); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestUploadMetricsTracksInFlight(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewUploadMetrics(reg)

	done := metrics.TrackInFlight()
	metrics.IncProcessed("completed")
	metrics.ObserveProcessing("completed", 500*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	mf := findMetricFamily(mfs, "upload_processing_in_flight")
	if mf == nil {
		t.Fatalf("in-flight gauge not found")
	}
	if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Fatalf("expected in-flight=1, got %f", got)
	}

	done()
	mfs, err = reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	mf = findMetricFamily(mfs, "upload_processing_in_flight")
	if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 0 {
		t.Fatalf("expected in-flight=0 after done, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "upload_processed_total", "status", "completed"); err != nil {
		t.Fatalf("fetch processed: %v", err)
	} else if got != 1 {
		t.Fatalf("expected processed=1, got %f", got)
	}
}

func TestNilRegistererIsNoOp(t *testing.T) {
	transfer := NewTransferMetrics(nil)
	transfer.IncAttempt("archive")
	transfer.IncOutcome("archive", "error")
	transfer.ObserveDuration("archive", time.Second)

	uploads := NewUploadMetrics(nil)
	uploads.IncProcessed("error")
	uploads.ObserveProcessing("error", time.Second)
	uploads.TrackInFlight()()
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
