package matrix

// DeviceMatrix is the part of the matrix devices stamp into. Every add is
// safe for concurrent use. A nil *Entry stands for a ground row or column and
// absorbs writes.
type DeviceMatrix interface {
	Entry(row, col int) *Entry
	Add(e *Entry, value float64)
	AddComplex(e *Entry, real, imag float64)
	AddRHS(i int, value float64)
	AddComplexRHS(i int, real, imag float64)
}
