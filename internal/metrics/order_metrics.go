package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// OrderMetrics содержит метрики операций над заказами.
type OrderMetrics struct {
	// Счётчики операций
	operations        *prometheus.CounterVec
	statusTransitions *prometheus.CounterVec
	unitsReserved     prometheus.Counter
	unitsReturned     prometheus.Counter

	// Гистограмма времени выполнения операций
	operationDuration *prometheus.HistogramVec

	// Счётчики событий timeline и outbox
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Gauge для операций в процессе
	inFlight prometheus.Gauge
}

// NewOrderMetrics создаёт метрики в DefaultRegisterer; повторные вызовы переиспользуют коллекторы.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer создаёт метрики в заданном registerer.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "backoffice_order_operations_total",
			Help: "Total number of order operations grouped by operation and result",
		}, []string{"operation", "result"}),
		statusTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "backoffice_order_status_transitions_total",
			Help: "Total number of order status transitions",
		}, []string{"from", "to"}),
		unitsReserved: registerCounter(registerer, prometheus.CounterOpts{
			Name: "backoffice_inventory_units_reserved_total",
			Help: "Total number of variant units reserved by orders",
		}),
		unitsReturned: registerCounter(registerer, prometheus.CounterOpts{
			Name: "backoffice_inventory_units_returned_total",
			Help: "Total number of variant units restocked by returns",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "backoffice_order_operation_duration_seconds",
			Help:    "Duration of order operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "backoffice_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "backoffice_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "backoffice_order_operations_in_flight",
			Help: "Number of order operations currently executing",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// OperationStarted отмечает начало операции и возвращает функцию завершения.
// Использование: defer m.OperationStarted("create")(&err).
func (m *OrderMetrics) OperationStarted(operation string) func(errp *error) {
	if m == nil {
		return func(*error) {}
	}
	started := time.Now()
	m.inFlight.Inc()

	return func(errp *error) {
		m.inFlight.Dec()
		m.operationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())

		result := "ok"
		if errp != nil && *errp != nil {
			result = string(domain.KindOf(*errp))
		}
		m.operations.WithLabelValues(operation, result).Inc()
	}
}

// RecordTransition увеличивает счётчик переходов статуса.
func (m *OrderMetrics) RecordTransition(from, to domain.OrderStatus) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordUnitsReserved учитывает зарезервированные единицы.
func (m *OrderMetrics) RecordUnitsReserved(units int) {
	if m == nil || units <= 0 {
		return
	}
	m.unitsReserved.Add(float64(units))
}

// RecordUnitsReturned учитывает возвращённые на склад единицы.
func (m *OrderMetrics) RecordUnitsReturned(units int) {
	if m == nil || units <= 0 {
		return
	}
	m.unitsReturned.Add(float64(units))
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *OrderMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *OrderMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
