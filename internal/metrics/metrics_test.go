package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTick(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)

	now := time.Unix(1_700_000_000, 0)
	m.RecordTick(StatusOK, now, 3)
	m.RecordTick(StatusFailed, now, 0)

	if got := testutil.ToFloat64(m.ticksTotal.WithLabelValues(StatusOK)); got != 1 {
		t.Fatalf("ok ticks = %v", got)
	}
	if got := testutil.ToFloat64(m.ticksTotal.WithLabelValues(StatusFailed)); got != 1 {
		t.Fatalf("failed ticks = %v", got)
	}
	if got := testutil.ToFloat64(m.claimedTotal); got != 3 {
		t.Fatalf("claimed = %v", got)
	}
	if got := testutil.ToFloat64(m.lastTickUnixTS); got != 1_700_000_000 {
		t.Fatalf("last tick = %v", got)
	}
}

func TestRecordExecution(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)

	m.ExecutionStarted()
	m.ExecutionStarted()
	m.RecordExecution("poll", StatusOK, 10*time.Millisecond)

	if got := testutil.ToFloat64(m.inFlight); got != 1 {
		t.Fatalf("in flight = %v", got)
	}
	if got := testutil.ToFloat64(m.executedTotal.WithLabelValues("poll", StatusOK)); got != 1 {
		t.Fatalf("executions = %v", got)
	}
}

func TestRecordRequestBuckets(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)

	m.RecordRequest("/jobs/:id", 404)
	m.RecordRequest("/jobs/:id", 409)
	m.RecordRequest("/jobs/:id", 200)

	if got := testutil.ToFloat64(m.apiRequests.WithLabelValues("/jobs/:id", "4xx")); got != 2 {
		t.Fatalf("4xx = %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordTick(StatusOK, time.Now(), 1)
	m.ExecutionStarted()
	m.RecordExecution("event", StatusFailed, time.Second)
	m.SetScheduled(4)
	m.RecordRequest("/healthz", 200)
}
