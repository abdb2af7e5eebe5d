// Package metrics exposes Prometheus instrumentation for the attendance daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Detection kinds.
const (
	KindKnown   = "known"
	KindUnknown = "unknown"
)

// Submission statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Option applies a configuration option to the Recorder.
type Option func(*Recorder)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		if namespace != "" {
			r.namespace = namespace
		}
	}
}

// WithRegistry sets the registry metrics are registered on.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(r *Recorder) {
		if reg != nil {
			r.registry = reg
		}
	}
}

// WithRuntimeCollectors adds the Go runtime and process collectors.
func WithRuntimeCollectors() Option {
	return func(r *Recorder) { r.runtime = true }
}

// Recorder holds every metric of the service. A nil *Recorder records nothing.
type Recorder struct {
	namespace string
	registry  *prometheus.Registry
	runtime   bool

	frames             prometheus.Counter
	framesSampled      prometheus.Counter
	identifyErrors     prometheus.Counter
	detections         *prometheus.CounterVec
	cooldownRejections prometheus.Counter
	cooldownSize       prometheus.Gauge
	transitions        *prometheus.CounterVec
	ledgerErrors       prometheus.Counter
	exports            *prometheus.CounterVec
	submissions        *prometheus.CounterVec
	notifyFailures     prometheus.Counter
}

// New creates a recorder on its own registry unless WithRegistry is given.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		namespace: "faceattend",
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.init()
	return r
}

func (r *Recorder) init() {
	auto := promauto.With(r.registry)
	if r.runtime {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	r.frames = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "pipeline",
		Name:      "frames_total",
		Help:      "Frames received from the capture source",
	})
	r.framesSampled = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "pipeline",
		Name:      "frames_sampled_total",
		Help:      "Frames sent to the identity service",
	})
	r.identifyErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "pipeline",
		Name:      "identify_errors_total",
		Help:      "Identity service calls that failed",
	})
	r.detections = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "pipeline",
		Name:      "detections_total",
		Help:      "Faces detected by kind",
	}, []string{"kind"})
	r.cooldownRejections = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "pipeline",
		Name:      "cooldown_rejections_total",
		Help:      "Known detections dropped by the cooldown gate",
	})
	r.cooldownSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Subsystem: "pipeline",
		Name:      "cooldown_identities",
		Help:      "Identities tracked by the cooldown gate",
	})
	r.transitions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "ledger",
		Name:      "transitions_total",
		Help:      "Ledger transitions by outcome",
	}, []string{"outcome"})
	r.ledgerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "ledger",
		Name:      "errors_total",
		Help:      "Ledger transitions that failed",
	})
	r.exports = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "export",
		Name:      "runs_total",
		Help:      "Export runs by result",
	}, []string{"result"})
	r.submissions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "export",
		Name:      "submissions_total",
		Help:      "Rows submitted to the external system by status",
	}, []string{"status"})
	r.notifyFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "export",
		Name:      "notify_failures_total",
		Help:      "Notifications that could not be delivered",
	})
}

// Registry returns the registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) FrameReceived() {
	if r != nil {
		r.frames.Inc()
	}
}

func (r *Recorder) FrameSampled() {
	if r != nil {
		r.framesSampled.Inc()
	}
}

func (r *Recorder) IdentifyFailed() {
	if r != nil {
		r.identifyErrors.Inc()
	}
}

// Detection counts one face by kind (KindKnown or KindUnknown).
func (r *Recorder) Detection(kind string) {
	if r != nil {
		r.detections.WithLabelValues(kind).Inc()
	}
}

func (r *Recorder) CooldownRejected() {
	if r != nil {
		r.cooldownRejections.Inc()
	}
}

func (r *Recorder) CooldownSize(n int) {
	if r != nil {
		r.cooldownSize.Set(float64(n))
	}
}

// Transition counts a successful ledger transition.
func (r *Recorder) Transition(outcome string) {
	if r != nil {
		r.transitions.WithLabelValues(outcome).Inc()
	}
}

func (r *Recorder) LedgerFailed() {
	if r != nil {
		r.ledgerErrors.Inc()
	}
}

// Export counts an export run; result is "ok", "empty" or "failed".
func (r *Recorder) Export(result string) {
	if r != nil {
		r.exports.WithLabelValues(result).Inc()
	}
}

// Submission counts one submitted row by status.
func (r *Recorder) Submission(status string) {
	if r != nil {
		r.submissions.WithLabelValues(status).Inc()
	}
}

func (r *Recorder) NotifyFailed() {
	if r != nil {
		r.notifyFailures.Inc()
	}
}
