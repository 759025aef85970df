package device

import (
	"fmt"
	"math"
)

type SourceType int

const (
	DC SourceType = iota
	SIN
	PULSE
	PWL
)

func (t SourceType) String() string {
	switch t {
	case SIN:
		return "SIN"
	case PULSE:
		return "PULSE"
	case PWL:
		return "PWL"
	}
	return "DC"
}

// Waveform is the time function of an independent source.
type Waveform struct {
	Type SourceType
	DC   float64

	// SIN
	Offset    float64
	Amplitude float64
	Freq      float64
	Phase     float64 // degrees
	Damping   float64

	// PULSE (Delay also delays SIN)
	V1     float64
	V2     float64
	Delay  float64
	Rise   float64
	Fall   float64
	Width  float64
	Period float64

	// PWL
	Times  []float64
	Values []float64
}

func DCWave(v float64) Waveform { return Waveform{Type: DC, DC: v} }

func SinWave(offset, amplitude, freq, phase float64) Waveform {
	return Waveform{Type: SIN, Offset: offset, Amplitude: amplitude, Freq: freq, Phase: phase}
}

func PulseWave(v1, v2, delay, rise, fall, width, period float64) Waveform {
	return Waveform{Type: PULSE, V1: v1, V2: v2, Delay: delay, Rise: rise, Fall: fall, Width: width, Period: period}
}

func PWLWave(times, values []float64) (Waveform, error) {
	if len(times) == 0 || len(times) != len(values) {
		return Waveform{}, fmt.Errorf("PWL needs matching time/value pairs, got %d times and %d values", len(times), len(values))
	}
	for i := 1; i < len(times); i++ {
		if times[i] < times[i-1] {
			return Waveform{}, fmt.Errorf("PWL times must not decrease (%g after %g)", times[i], times[i-1])
		}
	}
	return Waveform{Type: PWL, Times: times, Values: values}, nil
}

// At evaluates the waveform. step replaces zero rise and fall times.
func (w *Waveform) At(t, step float64) float64 {
	switch w.Type {
	case SIN:
		if t < w.Delay {
			return w.Offset + w.Amplitude*math.Sin(w.Phase*math.Pi/180.0)
		}
		td := t - w.Delay
		phaseRad := w.Phase * math.Pi / 180.0
		return w.Offset + w.Amplitude*math.Exp(-td*w.Damping)*math.Sin(2.0*math.Pi*w.Freq*td+phaseRad)
	case PULSE:
		return w.pulseAt(t, step)
	case PWL:
		return w.pwlAt(t)
	}
	return w.DC
}

// DCValue is the value used by DC analyses.
func (w *Waveform) DCValue() float64 {
	if w.Type == PULSE {
		return w.V1
	}
	return w.At(0, 0)
}

func (w *Waveform) SetDCValue(v float64) { *w = DCWave(v) }

func (w *Waveform) edges(step float64) (rise, fall float64) {
	rise, fall = w.Rise, w.Fall
	if rise == 0 {
		rise = step
	}
	if fall == 0 {
		fall = step
	}
	return rise, fall
}

func (w *Waveform) pulseAt(t, step float64) float64 {
	if t < w.Delay {
		return w.V1
	}

	t = t - w.Delay
	if w.Period > 0 {
		t = math.Mod(t, w.Period)
	}
	rise, fall := w.edges(step)

	switch {
	case t < rise:
		if rise == 0 {
			return w.V2
		}
		return w.V1 + (w.V2-w.V1)*t/rise
	case t < rise+w.Width:
		return w.V2
	case t < rise+w.Width+fall:
		if fall == 0 {
			return w.V1
		}
		return w.V2 - (w.V2-w.V1)*(t-rise-w.Width)/fall
	}
	return w.V1
}

func (w *Waveform) pwlAt(t float64) float64 {
	if t <= w.Times[0] {
		return w.Values[0]
	}

	lastIdx := len(w.Times) - 1
	if t >= w.Times[lastIdx] {
		return w.Values[lastIdx]
	}

	for idx := 1; idx < len(w.Times); idx++ {
		if t <= w.Times[idx] {
			t1, t2 := w.Times[idx-1], w.Times[idx]
			if t2 == t1 {
				return w.Values[idx]
			}
			v1, v2 := w.Values[idx-1], w.Values[idx]
			return v1 + (v2-v1)*(t-t1)/(t2-t1)
		}
	}
	return w.Values[lastIdx]
}

// setBreakpoints registers the upcoming corners of the waveform.
func (w *Waveform) setBreakpoints(st *CircuitStatus) error {
	if st.Breaks == nil {
		return nil
	}
	switch w.Type {
	case PULSE:
		rise, fall := w.edges(st.Step)
		corners := [4]float64{0, rise, rise + w.Width, rise + w.Width + fall}

		cycle := 0.0
		if w.Period > 0 {
			if st.Time <= w.Delay {
				if err := st.Breaks.SetLattice(w.Delay, w.Period); err != nil {
					return err
				}
			} else {
				cycle = math.Floor((st.Time - w.Delay) / w.Period)
			}
		}
		last := cycle
		if w.Period > 0 {
			last++
		}
		for c := cycle; c <= last; c++ {
			start := w.Delay + c*w.Period
			for _, corner := range corners {
				if err := st.SetBreak(start + corner); err != nil {
					return err
				}
			}
		}
	case PWL:
		for _, t := range w.Times {
			if err := st.SetBreak(t); err != nil {
				return err
			}
		}
	case SIN:
		return st.SetBreak(w.Delay)
	}
	return nil
}
