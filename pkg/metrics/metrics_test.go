package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewManager(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewManager(
		WithNamespace("test"),
		WithSubsystem("pipeline"),
		WithPrometheusRegistry(registry),
	)
	if m == nil {
		t.Fatal("expected non-nil manager")
	}
	if m.namespace != "test" {
		t.Errorf("expected namespace test, got %s", m.namespace)
	}
}

func TestPackageHelpersDoNotPanic(t *testing.T) {
	// All helpers run against the global manager created in init().
	RecordEventDecoded("recognized")
	RecordEventDecoded("unknown")
	RecordEventProcessed()
	RecordRecognitionChange()

	UpdateQueueSize(5)
	UpdateQueueCapacity(100)
	UpdateQueueUtilization(0.05)
	RecordQueueEnqueue()
	RecordQueueDequeue()
	RecordQueueEnqueueError()

	UpdateWorkerActiveCount(4)
	RecordWorkerProcessingLatency(1.5)
	RecordWorkerError()

	RecordPersistLatency(2.0)
	RecordPersistRetry()
	RecordPersistFailure()

	RecordCacheHit()
	RecordCacheMiss()
	RecordCacheEviction(3)
	UpdateCacheSize(10)

	RecordBalancerSelection("round_robin")
	RecordBalancerNoNode()
	UpdateNodeHealthy("node-1", true)
	UpdateNodeHealthy("node-1", false)
	RecordNodeProcessed("node-1")

	RecordListenerDatagram("node-1")
	RecordListenerError()

	RecordBroadcastPublished()
	RecordBroadcastDrop("analytics")
	UpdateBroadcastSubscribers(2)

	RecordAnalyticsSnapshot()
	RecordAnalyticsTickDuration(0.4)

	RecordHTTPRequest("/stats", "GET", "200")
	RecordHTTPRequestDuration("/stats", "GET", "200", 1.2)

	UpdateSystemMemoryUsage(1024)
	UpdateSystemGoroutineCount(12)
}

func TestGetRegistry(t *testing.T) {
	if GetRegistry() == nil {
		t.Fatal("expected non-nil registry")
	}

	families, err := GetRegistry().Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected registered metric families")
	}
}
