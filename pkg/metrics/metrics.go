package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spicecore"

// Recorder collects solver counters. A nil *Recorder records nothing, so
// library callers that do not care about metrics can leave it unset.
type Recorder struct {
	NewtonIterations  *prometheus.CounterVec
	ContinuationSteps *prometheus.CounterVec
	Timepoints        *prometheus.CounterVec
	SingularMatrices  prometheus.Counter
	AnalysisDuration  *prometheus.HistogramVec
}

// NewRecorder creates the collectors and registers them on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		NewtonIterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "newton",
			Name:      "iterations_total",
			Help:      "Newton iterations by analysis",
		}, []string{"analysis"}),
		ContinuationSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "continuation",
			Name:      "steps_total",
			Help:      "Continuation steps by kind and outcome",
		}, []string{"kind", "outcome"}),
		Timepoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transient",
			Name:      "timepoints_total",
			Help:      "Transient timepoints by outcome",
		}, []string{"outcome"}),
		SingularMatrices: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matrix",
			Name:      "singular_total",
			Help:      "Singular matrix factorizations",
		}),
		AnalysisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Analysis run time by analysis and status",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"analysis", "status"}),
	}

	reg.MustRegister(
		r.NewtonIterations,
		r.ContinuationSteps,
		r.Timepoints,
		r.SingularMatrices,
		r.AnalysisDuration,
	)
	return r
}

func (r *Recorder) NewtonIteration(analysis string) {
	if r == nil {
		return
	}
	r.NewtonIterations.WithLabelValues(analysis).Inc()
}

func (r *Recorder) ContinuationStep(kind string, ok bool) {
	if r == nil {
		return
	}
	r.ContinuationSteps.WithLabelValues(kind, outcome(ok)).Inc()
}

func (r *Recorder) Timepoint(accepted bool) {
	if r == nil {
		return
	}
	if accepted {
		r.Timepoints.WithLabelValues("accepted").Inc()
	} else {
		r.Timepoints.WithLabelValues("rejected").Inc()
	}
}

func (r *Recorder) Singular() {
	if r == nil {
		return
	}
	r.SingularMatrices.Inc()
}

func (r *Recorder) Analysis(analysis string, d time.Duration, ok bool) {
	if r == nil {
		return
	}
	r.AnalysisDuration.WithLabelValues(analysis, status(ok)).Observe(d.Seconds())
}

func outcome(ok bool) string {
	if ok {
		return "converged"
	}
	return "failed"
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
