package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metric instances for blockbridge components.
type Registry struct {
	// Worker Pool Metrics
	WorkerPoolSize   *prometheus.GaugeVec
	WorkerPoolActive *prometheus.GaugeVec
	WorkerPoolQueued *prometheus.GaugeVec
	TasksSubmitted   *prometheus.CounterVec
	TasksRejected    *prometheus.CounterVec
	TasksCompleted   *prometheus.CounterVec
	TaskQueueWait    *prometheus.HistogramVec
	TaskDuration     *prometheus.HistogramVec

	// Bridge Metrics
	CallsTotal       *prometheus.CounterVec
	CallDuration     *prometheus.HistogramVec
	CallsInFlight    *prometheus.GaugeVec
	CheckoutDuration *prometheus.HistogramVec
}

// DefaultRegistry is the default metrics registry used by blockbridge components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
// Collectors already registered on reg with identical descriptors are reused.
// It panics if registration fails for any other reason.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r, err := newRegistry(reg, DefaultNamespace, nil)
	if err != nil {
		panic(err)
	}
	return r
}

// NewRegistryWithConfig creates a registry honoring the Namespace and Labels
// of config. A nil config.Registry registers with prometheus.DefaultRegisterer.
// Registries built from the same config on the same registerer share their
// collectors, so several pools can report through one registerer.
func NewRegistryWithConfig(config Config) (*Registry, error) {
	reg := config.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ns := config.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return newRegistry(reg, ns, config.Labels)
}

// registrar registers collectors and keeps the first failure.
type registrar struct {
	reg prometheus.Registerer
	err error
}

// register adds c to the registerer, returning the collector already
// registered under the same descriptors when there is one.
func register[C prometheus.Collector](r *registrar, c C) C {
	err := r.reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	if r.err == nil {
		r.err = err
	}
	return c
}

func newRegistry(reg prometheus.Registerer, ns string, labels prometheus.Labels) (*Registry, error) {
	rr := &registrar{reg: reg}

	r := &Registry{
		WorkerPoolSize: register(rr, prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "workerpool",
				Name:        "size",
				Help:        "Number of workers in the pool",
				ConstLabels: labels,
			},
			[]string{"pool"},
		)),

		WorkerPoolActive: register(rr, prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "workerpool",
				Name:        "active_workers",
				Help:        "Number of workers currently executing a task",
				ConstLabels: labels,
			},
			[]string{"pool"},
		)),

		WorkerPoolQueued: register(rr, prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "workerpool",
				Name:        "queued_tasks",
				Help:        "Number of tasks waiting in the dispatch queue",
				ConstLabels: labels,
			},
			[]string{"pool"},
		)),

		TasksSubmitted: register(rr, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "workerpool",
				Name:        "tasks_submitted_total",
				Help:        "Total number of tasks accepted by the dispatch queue",
				ConstLabels: labels,
			},
			[]string{"pool"},
		)),

		TasksRejected: register(rr, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "workerpool",
				Name:        "tasks_rejected_total",
				Help:        "Total number of tasks refused because the queue was full or closed",
				ConstLabels: labels,
			},
			[]string{"pool"},
		)),

		TasksCompleted: register(rr, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "workerpool",
				Name:        "tasks_completed_total",
				Help:        "Total number of tasks finished, by outcome",
				ConstLabels: labels,
			},
			[]string{"pool", "outcome"},
		)),

		TaskQueueWait: register(rr, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   "workerpool",
				Name:        "queue_wait_seconds",
				Help:        "Time tasks spent queued before a worker picked them up",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"pool"},
		)),

		TaskDuration: register(rr, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   "workerpool",
				Name:        "task_duration_seconds",
				Help:        "Time spent executing tasks",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"pool"},
		)),

		CallsTotal: register(rr, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "bridge",
				Name:        "calls_total",
				Help:        "Total number of offloaded calls, by resolution",
				ConstLabels: labels,
			},
			[]string{"pool", "call", "result"},
		)),

		CallDuration: register(rr, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   "bridge",
				Name:        "call_duration_seconds",
				Help:        "Time from submission to resolution of offloaded calls",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"pool", "call"},
		)),

		CallsInFlight: register(rr, prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "bridge",
				Name:        "calls_in_flight",
				Help:        "Number of offloaded calls not yet resolved",
				ConstLabels: labels,
			},
			[]string{"pool"},
		)),

		CheckoutDuration: register(rr, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   "bridge",
				Name:        "resource_checkout_seconds",
				Help:        "Time spent waiting for a resource from the resource pool",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"pool"},
		)),
	}
	if rr.err != nil {
		return nil, rr.err
	}
	return r, nil
}
