// Package metrics exports bridge telemetry to Prometheus.
//
// A nil *Recorder is valid and records nothing, so components can be wired
// unconditionally whether or not the exporter is enabled.
package metrics

import (
	"errors"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blogic/ucentral-mqtt/internal/connection"
	"github.com/blogic/ucentral-mqtt/internal/process"
)

const namespace = "ucentral_mqtt"

var connectionStates = []connection.State{
	connection.StateDisconnected,
	connection.StateConnecting,
	connection.StateConnected,
	connection.StateReconnecting,
}

// Recorder holds the bridge's Prometheus collectors.
type Recorder struct {
	registry *prom.Registry

	connectionState *prom.GaugeVec
	reconnectDelay  prom.Gauge
	connectAttempts *prom.CounterVec
	tasks           *prom.CounterVec
	taskDuration    *prom.HistogramVec
	messages        *prom.CounterVec
	publishes       *prom.CounterVec
}

// NewRecorder creates the collectors and registers them on reg. A nil reg
// gets a fresh registry.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}

	r := &Recorder{
		registry: reg,
		connectionState: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current broker connection state, 0 otherwise",
		}, []string{"state"}),
		reconnectDelay: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "reconnect_delay_seconds",
			Help:      "Delay used after the next connection failure",
		}),
		connectAttempts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Broker connect attempts by outcome",
		}, []string{"result"}),
		tasks: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Completed helper tasks by kind and outcome",
		}, []string{"kind", "result"}),
		taskDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Helper run time",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		}, []string{"kind"}),
		messages: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound broker messages by route and outcome",
		}, []string{"route", "result"}),
		publishes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Outbound publishes by topic kind and outcome",
		}, []string{"topic_kind", "result"}),
	}

	reg.MustRegister(
		r.connectionState,
		r.reconnectDelay,
		r.connectAttempts,
		r.tasks,
		r.taskDuration,
		r.messages,
		r.publishes,
	)

	r.ConnectionState(connection.StateDisconnected, 0)
	return r
}

// Registry returns the registry the collectors are registered on.
func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ConnectionState implements connection.Observer.
func (r *Recorder) ConnectionState(state connection.State, reconnectDelay time.Duration) {
	if r == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.connectionState.WithLabelValues(string(s)).Set(v)
	}
	r.reconnectDelay.Set(reconnectDelay.Seconds())
}

// ConnectAttempt implements connection.Observer.
func (r *Recorder) ConnectAttempt(ok bool) {
	if r == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	r.connectAttempts.WithLabelValues(result).Inc()
}

// TaskCompleted is a process.Observer.
func (r *Recorder) TaskCompleted(t *process.Task, res process.Result) {
	if r == nil {
		return
	}
	kind := string(t.Kind)
	r.tasks.WithLabelValues(kind, taskResult(res)).Inc()
	if res.Duration > 0 {
		r.taskDuration.WithLabelValues(kind).Observe(res.Duration.Seconds())
	}
}

// MessageRouted implements router.Observer.
func (r *Recorder) MessageRouted(route, result string) {
	if r == nil {
		return
	}
	r.messages.WithLabelValues(route, result).Inc()
}

// Published implements router.Observer.
func (r *Recorder) Published(topicKind, result string) {
	if r == nil {
		return
	}
	r.publishes.WithLabelValues(topicKind, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func taskResult(res process.Result) string {
	switch {
	case res.Success():
		return "success"
	case errors.Is(res.Err, process.ErrSpawnFailed):
		return "spawn_failed"
	case res.State == process.StateCompleted:
		return "failed"
	default:
		return string(res.State)
	}
}
