package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatValueFactor(t *testing.T) {
	cases := []struct {
		value float64
		unit  string
		want  string
	}{
		{0, "V", "0.000 V"},
		{5, "V", "5.000 V"},
		{1.5e-3, "A", "1.500 mA"},
		{-2.2e-6, "A", "-2.200 uA"},
		{4.7e3, "", "4.700 k"},
		{3e-18, "A", "3.000e-18 A"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FormatValueFactor(c.value, c.unit), "%g", c.value)
	}
}

func TestUnitOf(t *testing.T) {
	assert.Equal(t, "V", UnitOf("V(out)"))
	assert.Equal(t, "A", UnitOf("I(V1)"))
	assert.Empty(t, UnitOf("TIME"))
}

func TestFormatFrequency(t *testing.T) {
	assert.Equal(t, "  1.000 kHz", FormatFrequency(1e3))
	assert.Equal(t, "  2.500 MHz", FormatFrequency(2.5e6))
	assert.Equal(t, " 50.000 Hz ", FormatFrequency(50))
}
