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


package cube

import (
	"fmt"
	"github.com/mlnoga/deblend/internal/stats"
)

// A cube of co-registered images, one plane per filter band.
// Data is stored band-major, i.e. Data[(b*Height+y)*Width+x]
type Cube struct {
	Bands  int32      // Number of filter bands, the most slowly varying dimension
	Height int32      // Image height in pixels
	Width  int32      // Image width in pixels

	Data   []float32  // The pixel data, of length Bands*Height*Width

	Noise  []float32  // Optional per-band background RMS, of length Bands, or nil
}

// Creates a cube with the given dimensions. Data is not copied, allocated if nil
func New(bands, height, width int32, data []float32) (*Cube, error) {
	if bands<1 || height<1 || width<1 {
		return nil, fmt.Errorf("invalid cube dimensions %dx%dx%d", bands, height, width)
	}
	numPixels:=bands*height*width
	if data==nil {
		data=make([]float32, numPixels)
	} else if int32(len(data))!=numPixels {
		return nil, fmt.Errorf("cube data length %d does not match dimensions %dx%dx%d", len(data), bands, height, width)
	}
	return &Cube{
		Bands:  bands,
		Height: height,
		Width:  width,
		Data:   data,
	}, nil
}

// Number of pixels in one band plane
func (c *Cube) Plane() int32 { return c.Height*c.Width }

// Returns the data slice of the given band, without copying
func (c *Cube) Band(b int32) []float32 {
	plane:=c.Plane()
	return c.Data[b*plane : (b+1)*plane]
}

// Creates a deep copy of the cube
func (c *Cube) Clone() *Cube {
	data:=make([]float32, len(c.Data))
	copy(data, c.Data)
	var noise []float32
	if c.Noise!=nil {
		noise=append([]float32(nil), c.Noise...)
	}
	return &Cube{
		Bands:  c.Bands,
		Height: c.Height,
		Width:  c.Width,
		Data:   data,
		Noise:  noise,
	}
}

// Total flux summed over all bands and pixels
func (c *Cube) TotalFlux() float64 {
	sum:=float64(0)
	for _, d:=range c.Data {
		sum+=float64(d)
	}
	return sum
}

func (c *Cube) DimensionsToString() string {
	return fmt.Sprintf("%dx%dx%d", c.Bands, c.Height, c.Width)
}

// Estimates the per-band background RMS from the data and stores it in
// c.Noise. Existing noise values are overwritten
func (c *Cube) EstimateNoise() []float32 {
	c.Noise=make([]float32, c.Bands)
	for b:=int32(0); b<c.Bands; b++ {
		c.Noise[b]=stats.EstimateNoise(c.Band(b), c.Width)
	}
	return c.Noise
}

// Per-band statistics with the given location and scale estimator
func (c *Cube) BandStats(mode stats.LSEstimatorMode) []*stats.Stats {
	ss:=make([]*stats.Stats, c.Bands)
	for b:=int32(0); b<c.Bands; b++ {
		ss[b]=stats.CalcStats(c.Band(b), c.Width, mode)
	}
	return ss
}
