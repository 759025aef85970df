package consts

// Physical constants in SI units.
const (
	CHARGE    = 1.6021918e-19 // Elementary charge (C)
	BOLTZMANN = 1.3806226e-23 // Boltzmann constant (J/K)
	KELVIN    = 273.15        // 0 degC in K

	// REFTEMP is the nominal device temperature, 27 degC.
	REFTEMP = KELVIN + 27
)

// ThermalVoltage returns kT/q at temp kelvin.
func ThermalVoltage(temp float64) float64 {
	return BOLTZMANN * temp / CHARGE
}
