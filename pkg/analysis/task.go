package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/edp1096/spicecore/internal/consts"
	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/config"
	"github.com/edp1096/spicecore/pkg/metrics"
	"github.com/edp1096/spicecore/pkg/node"
	"github.com/edp1096/spicecore/pkg/util"
)

var tracer = otel.Tracer("spicecore.analysis")

// Phase is the state of the task driver.
type Phase int32

const (
	PhaseNotStarted Phase = iota
	PhaseOperatingPoint
	PhaseStepping
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseOperatingPoint:
		return "operating-point"
	case PhaseStepping:
		return "stepping"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	}
	return "not-started"
}

// Continuation kinds reported in the trace.
const (
	KindDirect   = "direct"
	KindGmin     = "gmin"
	KindSource   = "source"
	KindFinal    = "final"
	KindWarmStep = "warm"
)

// ContinuationStep is one Newton solve made by the operating point sequence.
type ContinuationStep struct {
	Kind       string
	Gmin       float64
	SrcFact    float64
	Iterations int
	Converged  bool
}

type Stats struct {
	NewtonIterations int
	GminSteps        int
	SrcSteps         int
	Accepted         int
	Rejected         int
	Trace            []ContinuationStep
}

type Option func(*Simulation)

func WithLogger(l *slog.Logger) Option {
	return func(s *Simulation) { s.logger = l }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Simulation) { s.metrics = r }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Simulation) { s.tracer = t }
}

// Simulation owns everything one analysis run mutates besides the circuit:
// the Newton buffers, the continuation snapshot and the statistics.
type Simulation struct {
	ID      string
	Circuit *circuit.Circuit
	Config  *config.Config
	Stats   Stats

	// OnContinuation observes every continuation solve.
	OnContinuation func(ContinuationStep)

	logger  *slog.Logger
	metrics *metrics.Recorder
	tracer  trace.Tracer

	interrupt atomic.Bool
	phase     atomic.Int32
	message   string
	analysis  string

	isCurrent     []bool
	shouldReorder bool
	hasNodeSet    bool

	snapSolution []float64
	snapStates   [][]float64
}

func NewSimulation(ckt *circuit.Circuit, cfg *config.Config, opts ...Option) *Simulation {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Simulation{
		ID:      uuid.NewString(),
		Circuit: ckt,
		Config:  cfg,
		logger:  slog.Default(),
		tracer:  tracer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulation) Phase() Phase { return Phase(s.phase.Load()) }

func (s *Simulation) setPhase(p Phase) { s.phase.Store(int32(p)) }

// Message is the terminal message of the last run.
func (s *Simulation) Message() string { return s.message }

// Interrupt asks the running analysis to pause at its next step boundary.
// It is safe to call from any goroutine.
func (s *Simulation) Interrupt() { s.interrupt.Store(true) }

func (s *Simulation) checkInterrupt(ctx context.Context) error {
	if s.interrupt.Swap(false) {
		return ErrPaused
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPaused, err)
	}
	return nil
}

// Run sets the circuit up, executes a and reports one terminal message.
// Results computed before a failure stay available from a.
func (s *Simulation) Run(ctx context.Context, a Analysis) error {
	ctx, span := s.tracer.Start(ctx, "analysis."+a.Name(),
		trace.WithAttributes(
			attribute.String("analysis.name", a.Name()),
			attribute.String("analysis.run_id", s.ID),
			attribute.String("circuit.name", s.Circuit.Name()),
		),
	)
	defer span.End()

	s.analysis = a.Name()
	start := time.Now()
	logger := s.logger.With("analysis", a.Name(), "run_id", s.ID)
	logger.Info("analysis started", "threads", s.Config.Threads)

	err := s.prepare()
	if err == nil {
		err = a.Setup(s)
	}
	if err == nil {
		err = a.Execute(ctx)
	}
	s.Circuit.SetThreads(0)

	s.message = Describe(err)
	duration := time.Since(start)
	s.metrics.Analysis(a.Name(), duration, err == nil)
	span.SetAttributes(
		attribute.Int("analysis.newton_iterations", s.Stats.NewtonIterations),
		attribute.Int("analysis.accepted", s.Stats.Accepted),
	)

	switch {
	case err == nil:
		s.setPhase(PhaseDone)
		span.SetStatus(codes.Ok, "")
		logger.Info(s.message, "duration", duration, "iterations", s.Stats.NewtonIterations)
	case errors.Is(err, ErrPaused):
		span.SetStatus(codes.Unset, s.message)
		logger.Info(s.message, "phase", s.Phase().String())
	default:
		s.setPhase(PhaseFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, s.message)
		logger.Warn(s.message, "phase", s.Phase().String())
	}
	return err
}

// prepare copies the configuration into the device-visible status and sets
// the circuit up on first use.
func (s *Simulation) prepare() error {
	cfg := s.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	method, err := util.ParseMethod(cfg.Method)
	if err != nil {
		return err
	}

	ckt := s.Circuit
	if !ckt.IsSetup() {
		if err := ckt.Setup(cfg.MaxOrder); err != nil {
			return err
		}
	} else if ckt.States.Depth() < cfg.MaxOrder+2 {
		return fmt.Errorf("circuit history holds order %d, configuration asks for %d",
			ckt.States.Depth()-2, cfg.MaxOrder)
	}
	ckt.SetThreads(cfg.Threads)

	st := ckt.Status
	st.Reltol = cfg.Reltol
	st.Abstol = cfg.Abstol
	st.Vntol = cfg.Vntol
	st.Gmin = cfg.Gmin
	st.Method = method
	st.MaxOrder = cfg.MaxOrder
	st.Temp = cfg.Temp + consts.KELVIN
	st.Tnom = cfg.Tnom + consts.KELVIN
	st.SrcFact = 1
	st.DiagGmin = 0

	size := ckt.Nodes.Len()
	s.isCurrent = make([]bool, size+1)
	for _, n := range ckt.Nodes.Unknowns() {
		s.isCurrent[n.Number] = n.Kind == node.Current
	}
	s.hasNodeSet = ckt.HasNodeSet()
	s.snapSolution = make([]float64, size+1)
	s.snapStates = make([][]float64, ckt.States.Depth())
	for i := range s.snapStates {
		s.snapStates[i] = make([]float64, ckt.States.Len())
	}

	if err := ckt.Temperature(); err != nil {
		return err
	}
	s.setPhase(PhaseNotStarted)
	return nil
}

// snapshot saves the solution and every state vector for rollback.
func (s *Simulation) snapshot() {
	st := s.Circuit.Status
	copy(s.snapSolution, st.Solution)
	for i, v := range s.snapStates {
		copy(v, st.States.State(i))
	}
}

func (s *Simulation) restore() {
	st := s.Circuit.Status
	copy(st.Solution, s.snapSolution)
	for i, v := range s.snapStates {
		copy(st.States.State(i), v)
	}
}

func (s *Simulation) record(step ContinuationStep) {
	s.Stats.Trace = append(s.Stats.Trace, step)
	switch step.Kind {
	case KindGmin:
		s.Stats.GminSteps++
	case KindSource:
		s.Stats.SrcSteps++
	}
	if step.Kind == KindGmin || step.Kind == KindSource {
		s.metrics.ContinuationStep(step.Kind, step.Converged)
	}
	if s.OnContinuation != nil {
		s.OnContinuation(step)
	}
}
