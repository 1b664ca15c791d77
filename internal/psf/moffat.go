// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package psf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize" // source via "go get gonum.org/v1/gonum"
)

// A Moffat radial profile M(r) = Amplitude*(1+(r/Alpha)^2)^(-Beta) + Background,
// the standard smooth model for atmospheric seeing profiles
type Moffat struct {
	Amplitude  float32 `json:"amplitude"`
	Alpha      float32 `json:"alpha"`
	Beta       float32 `json:"beta"`
	Background float32 `json:"background"`
	CenterX    float32 `json:"centerX"`
	CenterY    float32 `json:"centerY"`
}

// Evaluates the profile at radius r from the center
func (m *Moffat) Eval(r float32) float32 {
	ra := r / m.Alpha
	return m.Amplitude*float32(math.Pow(float64(1+ra*ra), -float64(m.Beta))) + m.Background
}

// The full width at half maximum of the profile, 2*Alpha*sqrt(2^(1/Beta)-1)
func (m *Moffat) FWHM() float32 {
	return 2 * m.Alpha * float32(math.Sqrt(math.Pow(2, 1/float64(m.Beta))-1))
}

// Renders the background-free profile as a unit-sum image of the given
// dimensions, centered on the center pixel
func (m *Moffat) Render(width, height int32) []float32 {
	cx, cy := float32(width/2), float32(height/2)
	data := make([]float32, width*height)
	sum := float32(0)
	for y := int32(0); y < height; y++ {
		for x := int32(0); x < width; x++ {
			dx, dy := float32(x)-cx, float32(y)-cy
			v := m.Eval(float32(math.Sqrt(float64(dx*dx+dy*dy)))) - m.Background
			if v < 0 {
				v = 0
			}
			data[y*width+x] = v
			sum += v
		}
	}
	factor := 1.0 / sum
	for i := range data {
		data[i] *= factor
	}
	return data
}

// Fits a Moffat profile to an empirical PSF image by least squares over all
// pixels, using Nelder-Mead downhill simplex. The radial center is the flux
// weighted centroid of the image. Fails when the image carries no signal or
// the fit runs into a degenerate profile
func FitMoffat(data []float32, width int32) (*Moffat, error) {
	if width <= 0 || len(data) == 0 || int32(len(data))%width != 0 {
		return nil, fmt.Errorf("invalid psf image of length %d and width %d", len(data), width)
	}
	height := int32(len(data)) / width

	min, max, cx, cy := centroid(data, width)
	if !(max > min) {
		return nil, fmt.Errorf("no signal in psf image")
	}

	// initial guesses: half-max pixel count approximates the FWHM area
	beta0 := 2.5
	nHalf := 0
	for _, d := range data {
		if d >= (max+min)*0.5 {
			nHalf++
		}
	}
	fwhm0 := 2 * math.Sqrt(float64(nHalf)/math.Pi)
	alpha0 := fwhm0 / (2 * math.Sqrt(math.Pow(2, 1/beta0)-1))
	x0 := []float64{float64(max - min), alpha0, beta0, float64(min)}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			m := Moffat{
				Amplitude:  float32(x[0]),
				Alpha:      float32(math.Abs(x[1])),
				Beta:       float32(math.Abs(x[2])),
				Background: float32(x[3]),
			}
			sumSqDiff := float64(0)
			for i, d := range data {
				dx, dy := float32(i%width)-cx, float32(i/width)-cy
				r := float32(math.Sqrt(float64(dx*dx + dy*dy)))
				diff := float64(d - m.Eval(r))
				sumSqDiff += diff * diff
			}
			return math.Sqrt(sumSqDiff / float64(len(data)))
		},
	}
	result, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("moffat fit: %s", err.Error())
	}

	m := &Moffat{
		Amplitude:  float32(result.X[0]),
		Alpha:      float32(math.Abs(result.X[1])),
		Beta:       float32(math.Abs(result.X[2])),
		Background: float32(result.X[3]),
		CenterX:    cx,
		CenterY:    cy,
	}
	fwhm := m.FWHM()
	if m.Amplitude <= 0 || m.Alpha <= 0 || m.Beta <= 0.1 ||
		math.IsNaN(float64(fwhm)) || math.IsInf(float64(fwhm), 0) ||
		fwhm <= 0 || fwhm > 2*float32(width)+2*float32(height) {
		return nil, fmt.Errorf("moffat fit degenerate: amplitude %f alpha %f beta %f", m.Amplitude, m.Alpha, m.Beta)
	}
	return m, nil
}

// Returns the min, max and the flux weighted centroid of an image
func centroid(data []float32, width int32) (min, max, cx, cy float32) {
	min, max = data[0], data[0]
	for _, d := range data {
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	sum, sumX, sumY := float32(0), float32(0), float32(0)
	for i, d := range data {
		v := d - min
		sum += v
		sumX += v * float32(i%width)
		sumY += v * float32(i/width)
	}
	if sum <= 0 {
		return min, max, float32(width / 2), float32(int32(len(data)) / width / 2)
	}
	return min, max, sumX / sum, sumY / sum
}
