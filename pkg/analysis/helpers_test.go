package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/config"
	"github.com/edp1096/spicecore/pkg/device"
	"github.com/edp1096/spicecore/pkg/matrix"
)

// stepper is a grounded conductance whose Newton update is limited to
// limit volts per iteration, which makes direct solves slow on purpose.
// It can fail once with a math error while the diagonal shunt lies inside
// failBelow..failAbove.
type stepper struct {
	device.BaseDevice
	g, limit  float64
	failAbove float64
	failBelow float64

	slot    int
	entry   *matrix.Entry
	failed  bool
	retried bool
	onRetry func(solution, state []float64)
}

func (x *stepper) GetType() string { return "X" }

type stepperModel struct {
	device.BaseModel[*stepper]
}

func init() {
	device.Register("X", 90, func(name string) device.Model {
		return &stepperModel{device.BaseModel[*stepper]{Name: name, Type: "X"}}
	})
}

func (m *stepperModel) Nonlinear() bool { return true }

func (m *stepperModel) Setup(b device.Binder, states *int) error {
	for _, x := range m.Items {
		x.slot = *states
		*states++
	}
	return m.Resetup(b.Matrix())
}

func (m *stepperModel) Resetup(mat matrix.DeviceMatrix) error {
	for _, x := range m.Items {
		x.entry = mat.Entry(x.Nodes[0], x.Nodes[0])
	}
	return nil
}

func (m *stepperModel) Load(inst device.Instance, st *device.CircuitStatus) error {
	x := inst.(*stepper)
	s0 := st.States.State(0)
	if x.failed && !x.retried {
		x.retried = true
		if x.onRetry != nil {
			x.onRetry(append([]float64(nil), st.Solution...), append([]float64(nil), s0...))
		}
	}
	if !x.failed && st.DiagGmin > x.failBelow && st.DiagGmin < x.failAbove {
		x.failed = true
		s0[x.slot] = 999
		return device.ErrMath
	}

	vold := s0[x.slot]
	v := st.Voltage(x.Nodes[0])
	if math.Abs(v-vold) > x.limit {
		v = vold + math.Copysign(x.limit, v-vold)
		st.SetNonConverged()
	}
	s0[x.slot] = v
	st.Matrix.Add(x.entry, x.g)
	return nil
}

func newStepper(name, n string, g, limit float64) *stepper {
	return &stepper{
		BaseDevice: device.BaseDevice{Name: name, NodeNames: []string{n}, Nodes: make([]int, 1)},
		g:          g,
		limit:      limit,
	}
}

func addR(t *testing.T, c *circuit.Circuit, name, a, b string, v float64) {
	t.Helper()
	r, err := device.NewResistor(name, []string{a, b}, v)
	require.NoError(t, err)
	require.NoError(t, c.AddInstance("", r))
}

func addV(t *testing.T, c *circuit.Circuit, name, a, b string, v float64) *device.VoltageSource {
	t.Helper()
	src, err := device.NewDCVoltageSource(name, []string{a, b}, v)
	require.NoError(t, err)
	require.NoError(t, c.AddInstance("", src))
	return src
}

func addC(t *testing.T, c *circuit.Circuit, name, a, b string, v float64) *device.Capacitor {
	t.Helper()
	cp, err := device.NewCapacitor(name, []string{a, b}, v)
	require.NoError(t, err)
	require.NoError(t, c.AddInstance("", cp))
	return cp
}

func addD(t *testing.T, c *circuit.Circuit, name, a, b string) {
	t.Helper()
	d, err := device.NewDiode(name, []string{a, b})
	require.NoError(t, err)
	require.NoError(t, c.AddInstance("", d))
}

// stiffCircuit drives a stepper through 1k from 10 V. The solution is 5 V
// at node a and takes about seven direct Newton iterations.
func stiffCircuit(t *testing.T) (*circuit.Circuit, *stepper) {
	c := circuit.New("stiff")
	addV(t, c, "V1", "in", "0", 10)
	addR(t, c, "R1", "in", "a", 1e3)
	x := newStepper("X1", "a", 1e-3, 1)
	require.NoError(t, c.AddInstance("", x))
	return c, x
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.DCIter = 5
	return cfg
}

func indexOf(values []float64, v float64) int {
	for i, x := range values {
		if x == v {
			return i
		}
	}
	return -1
}

// flaky fails every transient load from failFrom on while the step exceeds
// maxStep (always, when maxStep is zero). Its state slot holds the time of
// the last load, so State(1) shows the last accepted point.
type flaky struct {
	device.BaseDevice
	failFrom float64
	maxStep  float64

	slot     int
	attempts []attempt
}

// attempt is one failed load: the time tried, its step and the time of the
// accepted point it started from.
type attempt struct {
	time, step, from float64
}

func (f *flaky) GetType() string { return "Y" }

type flakyModel struct {
	device.BaseModel[*flaky]
}

func init() {
	device.Register("Y", 91, func(name string) device.Model {
		return &flakyModel{device.BaseModel[*flaky]{Name: name, Type: "Y"}}
	})
}

func (m *flakyModel) Nonlinear() bool { return true }

func (m *flakyModel) Setup(b device.Binder, states *int) error {
	for _, f := range m.Items {
		f.slot = *states
		*states++
	}
	return nil
}

func (m *flakyModel) Resetup(mat matrix.DeviceMatrix) error { return nil }

func (m *flakyModel) Load(inst device.Instance, st *device.CircuitStatus) error {
	f := inst.(*flaky)
	if !st.Mode.Is(device.TransientAnalysis) {
		return nil
	}
	from := st.States.State(1)[f.slot]
	st.States.State(0)[f.slot] = st.Time
	if st.Time >= f.failFrom && (f.maxStep == 0 || st.TimeStep > f.maxStep) {
		f.attempts = append(f.attempts, attempt{time: st.Time, step: st.TimeStep, from: from})
		return device.ErrMath
	}
	return nil
}

func addFlaky(t *testing.T, c *circuit.Circuit, n string, failFrom, maxStep float64) *flaky {
	t.Helper()
	f := &flaky{
		BaseDevice: device.BaseDevice{Name: "Y1", NodeNames: []string{n}, Nodes: make([]int, 1)},
		failFrom:   failFrom,
		maxStep:    maxStep,
	}
	require.NoError(t, c.AddInstance("", f))
	return f
}
