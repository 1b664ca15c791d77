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

package view

import (
	"errors"
	"fmt"
	"io"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/mlnoga/deblend/internal/cube"
	"github.com/mlnoga/deblend/internal/stats"
)

// Options for false-color rendering of a multi-band cube
type Options struct {
	Q               float32 `json:"q"`               // asinh stretch softening; 0 disables the stretch
	BlackPercentile float32 `json:"blackPercentile"` // histogram percentile mapped to black, per band
	WhitePercentile float32 `json:"whitePercentile"` // histogram percentile mapped to white, per band
	Chroma          float64 `json:"chroma"`          // HCL chroma of the band hues
	Luminance       float64 `json:"luminance"`       // HCL luminance of the band hues
}

func NewOptions() *Options {
	return &Options{
		Q:               8,
		BlackPercentile: 0.01,
		WhitePercentile: 0.999,
		Chroma:          0.5,
		Luminance:       0.7,
	}
}

const histogramBins = 1024

// Renders a false-color composite of the cube into a new 3-band RGB cube
// with values in [0,1]. Bands are assigned evenly spaced HCL hues from blue
// to red, scaled per band between histogram percentiles and stretched with a
// Lupton-style asinh law on the mean band intensity. The input is not modified
func FalseColor(c *cube.Cube, opt *Options, logWriter io.Writer) (*cube.Cube, error) {
	if c == nil {
		return nil, errors.New("no cube given")
	}
	if opt == nil {
		opt = NewOptions()
	}

	weights := bandWeights(c.Bands, opt.Chroma, opt.Luminance)

	// per-band black and white points from histogram percentiles
	plane := int(c.Plane())
	blacks, whites := make([]float32, c.Bands), make([]float32, c.Bands)
	for b := int32(0); b < c.Bands; b++ {
		band := c.Band(b)
		s := stats.CalcBasicStats(band)
		ps := stats.Percentiles(band, s.Min, s.Max, histogramBins, []float32{opt.BlackPercentile, opt.WhitePercentile})
		blacks[b], whites[b] = ps[0], ps[1]
		if whites[b] <= blacks[b] {
			whites[b] = blacks[b] + 1
		}
		if logWriter != nil {
			fmt.Fprintf(logWriter, "Band %d: black point %.4g, white point %.4g\n", b, blacks[b], whites[b])
		}
	}

	rgb, err := cube.New(3, c.Height, c.Width, nil)
	if err != nil {
		return nil, err
	}

	// channel normalizers so a flat white input stays white
	var norm [3]float64
	for _, w := range weights {
		norm[0] += w[0]
		norm[1] += w[1]
		norm[2] += w[2]
	}

	q := float64(opt.Q)
	asinhQ := math.Asinh(q)
	scaled := make([]float64, c.Bands)
	for p := 0; p < plane; p++ {
		sum := float64(0)
		for b := int32(0); b < c.Bands; b++ {
			v := float64((c.Data[int(b)*plane+p] - blacks[b]) / (whites[b] - blacks[b]))
			if v < 0 || math.IsNaN(v) {
				v = 0
			}
			scaled[b] = v
			sum += v
		}
		intensity := sum / float64(c.Bands)

		factor := float64(1)
		if q > 0 && intensity > 0 {
			factor = math.Asinh(q*intensity) / (asinhQ * intensity)
		}

		for ch := 0; ch < 3; ch++ {
			acc := float64(0)
			for b := int32(0); b < c.Bands; b++ {
				acc += weights[b][ch] * scaled[b]
			}
			v := acc * factor / norm[ch]
			if v > 1 {
				v = 1
			}
			rgb.Data[ch*plane+p] = float32(v)
		}
	}
	return rgb, nil
}

// sRGB primaries sit near LCh(ab) hues 40 (red) and 306 (blue)
const hueRed, hueBlue = 40.0, 306.0

// Per-band RGB weights at evenly spaced HCL hues from blue to red.
// A single band renders to neutral gray
func bandWeights(bands int32, chroma, luminance float64) [][3]float64 {
	weights := make([][3]float64, bands)
	if bands == 1 {
		weights[0] = [3]float64{1, 1, 1}
		return weights
	}
	for b := int32(0); b < bands; b++ {
		hue := hueBlue - (hueBlue-hueRed)*float64(b)/float64(bands-1)
		col := colorful.Hcl(hue, chroma, luminance).Clamped()
		weights[b] = [3]float64{col.R, col.G, col.B}
	}
	return weights
}
