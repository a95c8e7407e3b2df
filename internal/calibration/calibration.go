// Package calibration converts raw impedance/temperature packets into
// physical units.
package calibration

import (
	"math"

	"github.com/rbright/griprig/internal/protocol"
)

// TemperatureScale is degrees Celsius per raw temperature count.
const TemperatureScale = 0.00390625

// Sites is the number of measurement sites; each site carries two sensors.
const Sites = 2

// Channels is the number of (site, sensor) impedance channels.
const Channels = protocol.ImpedanceComponents / 2

// Site is one forearm measurement location.
type Site struct {
	Name string
	// Poly holds magnitude fit coefficients, highest power first.
	Poly        []float64
	PhaseOffset float64
}

// DefaultSites are the bench fits for the two forearm sites, in wire order.
var DefaultSites = [Sites]Site{
	{Name: "FCU", Poly: []float64{2.08553599726588e-06, 14.1943911679110, 39.1817314267489}, PhaseOffset: 96.991226597164020},
	{Name: "ECR", Poly: []float64{7.95978542134756e-07, 14.1353065689958, 67.5674420365175}, PhaseOffset: 95.3347889128904},
}

// Reading is a calibrated impedance/temperature sample with its raw source.
type Reading struct {
	Raw [protocol.ImpedanceComponents]int16
	// Magnitudes in ohms, ordered FCU s1, FCU s2, ECR s1, ECR s2.
	Magnitudes [Channels]float64
	// Phases in degrees, same order as Magnitudes.
	Phases [Channels]float64
	// Temperatures in degrees Celsius, FCU then ECR.
	Temperatures [Sites]float64
}

// Calibrate converts one raw packet using DefaultSites.
func Calibrate(raw protocol.ImpedanceTemp) Reading {
	return CalibrateWith(DefaultSites, raw)
}

// CalibrateWith converts one raw packet using the given site fits.
func CalibrateWith(sites [Sites]Site, raw protocol.ImpedanceTemp) Reading {
	r := Reading{Raw: raw.Impedance}
	for ch := 0; ch < Channels; ch++ {
		re := float64(raw.Impedance[2*ch])
		im := float64(raw.Impedance[2*ch+1])
		site := sites[ch/2]

		r.Magnitudes[ch] = polyval(site.Poly, math.Hypot(re, im))
		r.Phases[ch] = site.PhaseOffset - math.Atan2(im, re)*180/math.Pi
	}
	for i := range r.Temperatures {
		r.Temperatures[i] = float64(raw.Temperature[i]) * TemperatureScale
	}
	return r
}

// Columns flattens the reading into raw, magnitude, phase, temperature order.
// Raw components are written as the unsigned words received on the wire.
func (r Reading) Columns() []float64 {
	out := make([]float64, 0, len(r.Raw)+len(r.Magnitudes)+len(r.Phases)+len(r.Temperatures))
	for _, v := range r.Raw {
		out = append(out, float64(uint16(v)))
	}
	out = append(out, r.Magnitudes[:]...)
	out = append(out, r.Phases[:]...)
	out = append(out, r.Temperatures[:]...)
	return out
}

func polyval(coeffs []float64, x float64) float64 {
	var y float64
	for _, c := range coeffs {
		y = y*x + c
	}
	return y
}
