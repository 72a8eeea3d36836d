package process

import "time"

// SolarModel splits global horizontal irradiance into direct normal and
// diffuse horizontal components.
type SolarModel interface {
	Decompose(t time.Time, ghi, lat, lon float64) (dni, dhi float64)
}

// flatSplit routes all measured irradiance to the diffuse channel. KNMI
// publishes only global radiation; without a decomposition model the direct
// channel stays zero and EPW consumers work from the diffuse value.
type flatSplit struct{}

func (flatSplit) Decompose(_ time.Time, ghi, _, _ float64) (dni, dhi float64) {
	return 0, ghi
}

// DefaultSolarModel returns the flat GHI split.
func DefaultSolarModel() SolarModel { return flatSplit{} }
