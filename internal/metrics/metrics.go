package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus collectors are package-level by convention.
var (
	// AlarmsArmed counts instances that reached the armed state.
	AlarmsArmed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alarm_engine",
		Name:      "alarms_armed_total",
		Help:      "Alarm instances armed, including recurring re-arms and snoozes.",
	})

	// TriggersFired counts lifecycle transitions to ringing, by which
	// scheduler path won the race ("host" or "monitor").
	TriggersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alarm_engine",
		Name:      "triggers_fired_total",
		Help:      "Trigger firings that transitioned an instance to ringing.",
	}, []string{"source"})

	// DeliveryLayerFailures counts delivery layers that failed to start.
	DeliveryLayerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alarm_engine",
		Name:      "delivery_layer_failures_total",
		Help:      "Delivery layers that failed to start, by layer name.",
	}, []string{"layer"})

	// Stops counts stop transitions by reason ("user", "expiry", "snooze",
	// "cancel", "shutdown").
	Stops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alarm_engine",
		Name:      "stops_total",
		Help:      "Stop sweeps executed, by reason.",
	}, []string{"reason"})

	// HandlesReleased counts resource handles released by stop sweeps.
	HandlesReleased = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alarm_engine",
		Name:      "handles_released_total",
		Help:      "Resource handles released by global stop sweeps.",
	})
)
