package device

import (
	"fmt"
	"math"

	"github.com/edp1096/spicecore/internal/consts"
	"github.com/edp1096/spicecore/pkg/matrix"
)

// Junction diode with depletion and transit-time charge.
type Diode struct {
	BaseDevice
	Area    float64
	Off     bool
	IC      float64
	ICGiven bool

	posPrime int
	states   int

	// temperature dependent
	tIs      float64
	vte      float64
	vcrit    float64
	tVj      float64
	gspr     float64
	capd     float64 // small-signal capacitance of the last load
	model    *DiodeModel
	series   conductance
	junction conductance
}

const (
	diodeVoltage = iota
	diodeCurrent
	diodeConduct
	diodeCharge
	diodeCapCurrent
	diodeStates
)

func NewDiode(name string, nodeNames []string) (*Diode, error) {
	base, err := newBaseDevice(name, nodeNames, 0, 2)
	if err != nil {
		return nil, err
	}
	return &Diode{BaseDevice: base, Area: 1}, nil
}

func (d *Diode) GetType() string { return "D" }

func (d *Diode) SetIC(v float64) {
	d.IC, d.ICGiven = v, true
}

type DiodeModel struct {
	BaseModel[*Diode]

	Is  float64 // Saturation current
	N   float64 // Emission coefficient
	Rs  float64 // Series resistance
	Cj0 float64 // Zero-bias junction capacitance
	M   float64 // Grading coefficient
	Vj  float64 // Built-in potential
	Bv  float64 // Breakdown voltage, 0 = none
	Ibv float64 // Current at breakdown voltage
	Eg  float64 // Energy gap (eV)
	Xti float64 // Saturation current temperature exponent
	Tt  float64 // Transit time
	Fc  float64 // Forward-bias depletion capacitance coefficient

	// depletion charge constants for vd >= Fc*Vj
	f1, f2, f3 float64
	tBv        float64
}

func NewDiodeModel(name string) *DiodeModel {
	return &DiodeModel{
		BaseModel: BaseModel[*Diode]{Name: name, Type: "D"},
		Is:        1e-14,
		N:         1.0,
		M:         0.5,
		Vj:        1.0,
		Ibv:       1e-3,
		Eg:        1.11,
		Xti:       3.0,
		Fc:        0.5,
	}
}

func init() {
	Register("D", 6, func(name string) Model { return NewDiodeModel(name) })
}

func (m *DiodeModel) SetParams(params map[string]float64) error {
	fields := map[string]*float64{
		"is": &m.Is, "n": &m.N, "rs": &m.Rs, "cj0": &m.Cj0, "cjo": &m.Cj0,
		"m": &m.M, "vj": &m.Vj, "bv": &m.Bv, "ibv": &m.Ibv, "eg": &m.Eg,
		"xti": &m.Xti, "tt": &m.Tt, "fc": &m.Fc,
	}
	for name, v := range params {
		f, ok := fields[name]
		if !ok {
			return fmt.Errorf("diode model %s: unknown parameter %q", m.Name, name)
		}
		*f = v
	}
	if m.Is <= 0 || m.N <= 0 {
		return fmt.Errorf("diode model %s: is and n must be positive", m.Name)
	}
	return nil
}

func (m *DiodeModel) Nonlinear() bool { return true }

func (m *DiodeModel) Setup(ckt Binder, states *int) error {
	for _, d := range m.Items {
		d.model = m
		d.posPrime = d.Nodes[0]
		if m.Rs > 0 {
			n, err := ckt.Internal(d.Name, "internal")
			if err != nil {
				return fmt.Errorf("diode %s: %w", d.Name, err)
			}
			d.posPrime = n
		}
		d.states = *states
		*states += diodeStates
		ckt.MarkCharge(d.states + diodeCharge)
	}
	return m.Resetup(ckt.Matrix())
}

func (m *DiodeModel) Resetup(mat matrix.DeviceMatrix) error {
	for _, d := range m.Items {
		if d.posPrime != d.Nodes[0] {
			d.series.bind(mat, d.Nodes[0], d.posPrime)
		}
		d.junction.bind(mat, d.posPrime, d.Nodes[1])
	}
	return nil
}

func thermalVoltage(temp float64) float64 {
	if temp <= 0 {
		temp = consts.REFTEMP
	}
	return consts.ThermalVoltage(temp)
}

func (m *DiodeModel) Temperature(st *CircuitStatus) error {
	vt := thermalVoltage(st.Temp)
	ratio := st.Temp / st.Tnom
	egfact := (ratio - 1) * m.Eg / (m.N * vt)
	tIs := m.Is * math.Exp(egfact) * math.Pow(ratio, m.Xti/m.N)

	m.f1 = m.Vj * (1 - math.Pow(1-m.Fc, 1-m.M)) / (1 - m.M)
	m.f2 = math.Pow(1-m.Fc, 1+m.M)
	m.f3 = 1 - m.Fc*(1+m.M)

	for _, d := range m.Items {
		d.tIs = tIs * d.Area
		d.vte = m.N * vt
		d.vcrit = d.vte * math.Log(d.vte/(math.Sqrt2*d.tIs))
		d.tVj = m.Vj
		if m.Rs > 0 {
			d.gspr = d.Area / m.Rs
		}
	}

	// shift the breakdown knee so the reverse current at Bv is Ibv
	m.tBv = m.Bv
	if m.Bv > 0 && m.Ibv > tIs*m.Bv/vt {
		m.tBv = m.Bv - m.N*vt*math.Log(1+m.Ibv/tIs)
	}
	return nil
}

// pnjlim limits the junction voltage step so the exponential stays finite.
func pnjlim(vnew, vold, vt, vcrit float64) (float64, bool) {
	if vnew > vcrit && math.Abs(vnew-vold) > 2*vt {
		if vold > 0 {
			arg := 1 + (vnew-vold)/vt
			if arg > 0 {
				vnew = vold + vt*math.Log(arg)
			} else {
				vnew = vcrit
			}
		} else {
			vnew = vt * math.Log(vnew/vt)
		}
		return vnew, true
	}
	return vnew, false
}

func (m *DiodeModel) Load(inst Instance, st *CircuitStatus) error {
	d := inst.(*Diode)
	s0 := st.States.State(0)
	base := d.states
	vte := d.vte

	var vd float64
	check := false
	switch {
	case st.Init == InitSmSig:
		vd = s0[base+diodeVoltage]
	case st.Init == InitTran:
		vd = st.States.State(1)[base+diodeVoltage]
	case st.Init == InitJct && st.Mode.Is(TransientOP) && st.Mode.Is(UseIC):
		vd = d.IC
	case st.Init == InitJct && d.Off, st.Init == InitFix && d.Off:
		vd = 0
	case st.Init == InitJct:
		vd = d.vcrit
	default:
		vd = st.Voltage(d.posPrime) - st.Voltage(d.Nodes[1])
		vold := s0[base+diodeVoltage]
		if m.tBv > 0 && vd < math.Min(0, -m.tBv+10*vte) {
			vdtemp := -(vd + m.tBv)
			vdtemp, check = pnjlim(vdtemp, -(vold + m.tBv), vte, d.vcrit)
			vd = -(vdtemp + m.tBv)
		} else {
			vd, check = pnjlim(vd, vold, vte, d.vcrit)
		}
	}

	var cd, gd float64
	gmin := st.Gmin
	switch {
	case vd >= -3*vte:
		evd := math.Exp(vd / vte)
		cd = d.tIs*(evd-1) + gmin*vd
		gd = d.tIs*evd/vte + gmin
	case m.tBv == 0 || vd >= -m.tBv:
		arg := 3 * vte / (vd * math.E)
		arg = arg * arg * arg
		cd = -d.tIs*(1+arg) + gmin*vd
		gd = d.tIs*3*arg/vd + gmin
	default:
		evrev := math.Exp(-(m.tBv + vd) / vte)
		cd = -d.tIs*evrev + gmin*vd
		gd = d.tIs*evrev/vte + gmin
	}
	if math.IsNaN(cd) || math.IsInf(cd, 0) || math.IsNaN(gd) || math.IsInf(gd, 0) {
		return fmt.Errorf("diode %s at vd=%g: %w", d.Name, vd, ErrMath)
	}

	if st.Mode.Is(TransientAnalysis|ACAnalysis) || (st.Mode.Is(TransientOP) && st.Mode.Is(UseIC)) || st.Init == InitSmSig {
		q, capd := m.charge(d, vd, cd, gd)
		s0[base+diodeCharge] = q
		d.capd = capd

		if st.Mode.Is(TransientAnalysis) && st.Init != InitSmSig {
			s1 := st.States.State(1)
			if st.Init == InitTran {
				s1[base+diodeCharge] = s0[base+diodeCharge]
			}
			geq, _, err := st.Integrate(capd, base+diodeCharge)
			if err != nil {
				return fmt.Errorf("diode %s: %w", d.Name, err)
			}
			gd += geq
			cd += s0[base+diodeCapCurrent]
			if st.Init == InitTran {
				s1[base+diodeCapCurrent] = s0[base+diodeCapCurrent]
			}
		}
	}

	if check && !(st.Init == InitFix && d.Off) {
		st.SetNonConverged()
	}

	s0[base+diodeVoltage] = vd
	s0[base+diodeCurrent] = cd
	s0[base+diodeConduct] = gd

	cdeq := cd - gd*vd
	st.Matrix.AddRHS(d.Nodes[1], cdeq)
	st.Matrix.AddRHS(d.posPrime, -cdeq)
	if d.posPrime != d.Nodes[0] {
		d.series.stamp(st.Matrix, d.gspr)
	}
	d.junction.stamp(st.Matrix, gd)
	return nil
}

func (m *DiodeModel) charge(d *Diode, vd, cd, gd float64) (q, capd float64) {
	czero := m.Cj0 * d.Area
	vj := d.tVj
	if vd < m.Fc*vj {
		arg := 1 - vd/vj
		sarg := math.Exp(-m.M * math.Log(arg))
		q = m.Tt*cd + vj*czero*(1-arg*sarg)/(1-m.M)
		capd = m.Tt*gd + czero*sarg
		return q, capd
	}
	czof2 := czero / m.f2
	q = m.Tt*cd + czero*m.f1 + czof2*(m.f3*(vd-m.Fc*vj)+(m.M/(vj+vj))*(vd*vd-m.Fc*vj*m.Fc*vj))
	capd = m.Tt*gd + czof2*(m.f3+m.M*vd/vj)
	return q, capd
}

func (m *DiodeModel) ACLoad(st *CircuitStatus) error {
	omega := st.Omega()
	s0 := st.States.State(0)
	for _, d := range m.Items {
		if d.posPrime != d.Nodes[0] {
			d.series.stampComplex(st.Matrix, d.gspr, 0)
		}
		d.junction.stampComplex(st.Matrix, s0[d.states+diodeConduct], omega*d.capd)
	}
	return nil
}

// ConvTest checks that the linearized current predicts the device current.
func (m *DiodeModel) ConvTest(st *CircuitStatus) error {
	s0 := st.States.State(0)
	for _, d := range m.Items {
		vd := st.Voltage(d.posPrime) - st.Voltage(d.Nodes[1])
		delvd := vd - s0[d.states+diodeVoltage]
		cd := s0[d.states+diodeCurrent]
		cdhat := cd + s0[d.states+diodeConduct]*delvd

		tol := st.Reltol*math.Max(math.Abs(cdhat), math.Abs(cd)) + st.Abstol
		if math.Abs(cdhat-cd) > tol {
			st.SetNonConverged()
			return nil
		}
	}
	return nil
}

func (m *DiodeModel) GetIC(st *CircuitStatus) error {
	for _, d := range m.Items {
		if !d.ICGiven {
			d.IC = st.Voltage(d.posPrime) - st.Voltage(d.Nodes[1])
		}
	}
	return nil
}
