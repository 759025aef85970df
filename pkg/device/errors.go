package device

import "errors"

var (
	// ErrSkip tells the dispatcher that the rest of this model's instances
	// have nothing to load in the current pass.
	ErrSkip = errors.New("skip remaining instances")

	// ErrMath reports a floating point exception inside a device evaluation.
	ErrMath = errors.New("device math exception")
)
