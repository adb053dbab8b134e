package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestNewOrderMetrics(t *testing.T) {
	metrics := NewOrderMetrics()

	if metrics == nil {
		t.Fatal("NewOrderMetrics should not return nil")
	}
	if metrics.operations == nil || metrics.operationDuration == nil {
		t.Error("operation collectors should not be nil")
	}
	if metrics.timelineEvents == nil || metrics.outboxEvents == nil {
		t.Error("event counters should not be nil")
	}

	// повторная регистрация переиспользует существующие коллекторы
	again := NewOrderMetrics()
	if again.operations != metrics.operations {
		t.Error("expected existing collector to be reused")
	}
}

func TestOperationStarted(t *testing.T) {
	metrics := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	var okErr error
	metrics.OperationStarted("create")(&okErr)

	failed := error(domain.ErrInsufficientStock)
	metrics.OperationStarted("create")(&failed)

	if got := counterValue(t, metrics.operations.WithLabelValues("create", "ok")); got != 1 {
		t.Errorf("expected 1 ok create, got %f", got)
	}
	if got := counterValue(t, metrics.operations.WithLabelValues("create", string(domain.KindInvalidArgument))); got != 1 {
		t.Errorf("expected 1 failed create, got %f", got)
	}

	gauge := &dto.Metric{}
	if err := metrics.inFlight.Write(gauge); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if gauge.Gauge.GetValue() != 0 {
		t.Errorf("expected no operations in flight, got %f", gauge.Gauge.GetValue())
	}

	observer := metrics.operationDuration.WithLabelValues("create")
	histogram := &dto.Metric{}
	if err := observer.(prometheus.Histogram).Write(histogram); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if histogram.Histogram.GetSampleCount() != 2 {
		t.Errorf("expected 2 samples, got %d", histogram.Histogram.GetSampleCount())
	}
}

func TestRecordCounters(t *testing.T) {
	metrics := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordTransition(domain.OrderStatusPending, domain.OrderStatusProcessing)
	metrics.RecordUnitsReserved(3)
	metrics.RecordUnitsReserved(0)
	metrics.RecordUnitsReturned(1)
	metrics.RecordTimelineEvent()
	metrics.RecordTimelineEvent()
	metrics.RecordOutboxEvent()

	if got := counterValue(t, metrics.statusTransitions.WithLabelValues("PENDING", "PROCESSING")); got != 1 {
		t.Errorf("expected 1 transition, got %f", got)
	}
	if got := counterValue(t, metrics.unitsReserved); got != 3 {
		t.Errorf("expected 3 reserved units, got %f", got)
	}
	if got := counterValue(t, metrics.unitsReturned); got != 1 {
		t.Errorf("expected 1 returned unit, got %f", got)
	}
	if got := counterValue(t, metrics.timelineEvents); got != 2 {
		t.Errorf("expected 2 timeline events, got %f", got)
	}
	if got := counterValue(t, metrics.outboxEvents); got != 1 {
		t.Errorf("expected 1 outbox event, got %f", got)
	}
}

func TestNilOrderMetricsIsNoop(t *testing.T) {
	var metrics *OrderMetrics
	var err error

	metrics.OperationStarted("noop")(&err)
	metrics.RecordTransition(domain.OrderStatusPending, domain.OrderStatusCompleted)
	metrics.RecordUnitsReserved(1)
	metrics.RecordTimelineEvent()
	metrics.RecordOutboxEvent()
}
