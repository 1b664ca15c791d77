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


package stats

import (
	"math"
	"testing"
	"github.com/valyala/fastrand"
)

// Fills data with pseudo-gaussian noise of given sigma via Box-Muller
func fillGaussian(data []float32, sigma float32, rng *fastrand.RNG) {
	for i:=0; i<len(data); i+=2 {
		u1:=(float64(rng.Uint32())+1)/(float64(math.MaxUint32)+2)
		u2:=(float64(rng.Uint32())+1)/(float64(math.MaxUint32)+2)
		r:=math.Sqrt(-2*math.Log(u1))
		z0:=r*math.Cos(2*math.Pi*u2)
		z1:=r*math.Sin(2*math.Pi*u2)
		data[i]=sigma*float32(z0)
		if i+1<len(data) {
			data[i+1]=sigma*float32(z1)
		}
	}
}

func TestEstimateNoise(t *testing.T) {
	rng:=fastrand.RNG{}
	width, height:=int32(256), int32(256)
	for _, sigma:=range []float32{0.01, 0.1, 1.0} {
		data:=make([]float32, width*height)
		fillGaussian(data, sigma, &rng)

		noise:=EstimateNoise(data, width)
		rel:=math.Abs(float64(noise-sigma))/float64(sigma)
		if rel>0.15 {
			t.Errorf("sigma=%g estimated noise %g, relative error %.3f", sigma, noise, rel)
		}
	}
}

func TestEstimateNoiseConstantGradient(t *testing.T) {
	// the Laplacian-style kernel cancels constant and linear terms, so a
	// noise-free ramp must estimate to zero
	width, height:=int32(64), int32(64)
	data:=make([]float32, width*height)
	for y:=int32(0); y<height; y++ {
		for x:=int32(0); x<width; x++ {
			data[y*width+x]=0.5*float32(x)+0.25*float32(y)
		}
	}
	noise:=EstimateNoise(data, width)
	if noise>1e-4 {
		t.Errorf("ramp image estimated noise %g; want ~0", noise)
	}
}
