package analysis

import (
	"errors"
	"fmt"
	"strings"

	"github.com/edp1096/spicecore/pkg/matrix"
)

var (
	// ErrIterationLimit means Newton ran out of iterations. Continuation
	// and step rejection retry it.
	ErrIterationLimit = errors.New("iteration limit reached")
	// ErrMathException means a device or the solve produced a non-finite
	// value. It is retried like ErrIterationLimit.
	ErrMathException    = errors.New("math exception")
	ErrNoConvergence    = errors.New("no convergence, stepping failed")
	ErrTimestepTooSmall = errors.New("timestep too small")
	// ErrPaused is returned when the run is interrupted between steps.
	ErrPaused = errors.New("analysis paused")
)

// SingularError is a structurally unsolvable system. Devices lists the
// elements of a loop made only of voltage sources and inductors, if any.
type SingularError struct {
	Row, Col int
	Nodes    []string
	Devices  []string
}

func (e *SingularError) Error() string {
	var b strings.Builder
	b.WriteString("singular matrix")
	if len(e.Nodes) > 0 {
		fmt.Fprintf(&b, ": check node %s", strings.Join(e.Nodes, ", "))
	}
	if len(e.Devices) > 0 {
		fmt.Fprintf(&b, "; voltage loop through %s", strings.Join(e.Devices, ", "))
	}
	return b.String()
}

func (e *SingularError) Unwrap() error { return matrix.ErrSingular }

// StepError is a transient failure at a given time.
type StepError struct {
	Time  float64
	Delta float64
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("transient failed at t=%g (delta=%g): %v", e.Time, e.Delta, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func recoverable(err error) bool {
	return errors.Is(err, ErrIterationLimit) || errors.Is(err, ErrMathException)
}

// Describe turns the result of a run into its one-line terminal message.
func Describe(err error) string {
	var se *SingularError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.As(err, &se):
		return se.Error()
	case errors.Is(err, ErrNoConvergence):
		return ErrNoConvergence.Error()
	}
	return "iteration error: " + err.Error()
}
