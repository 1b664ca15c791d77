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


package conv

import (
	"math"
	"testing"
)

// Direct spatial-domain convolution as a reference for the FFT variant
func convolveDirect(data []float32, width int32, kernel []float32, kernelWidth int32) []float32 {
	height:=int32(len(data))/width
	kernelHeight:=int32(len(kernel))/kernelWidth
	cy, cx:=kernelHeight/2, kernelWidth/2
	out:=make([]float32, len(data))
	for y:=int32(0); y<height; y++ {
		for x:=int32(0); x<width; x++ {
			sum:=float32(0)
			for ky:=int32(0); ky<kernelHeight; ky++ {
				for kx:=int32(0); kx<kernelWidth; kx++ {
					sy, sx:=y-(ky-cy), x-(kx-cx)
					if sy>=0 && sy<height && sx>=0 && sx<width {
						sum+=kernel[ky*kernelWidth+kx]*data[sy*width+sx]
					}
				}
			}
			out[y*width+x]=sum
		}
	}
	return out
}

// Direct spatial-domain correlation as a reference for the FFT variant
func correlateDirect(data []float32, width int32, kernel []float32, kernelWidth int32) []float32 {
	height:=int32(len(data))/width
	kernelHeight:=int32(len(kernel))/kernelWidth
	cy, cx:=kernelHeight/2, kernelWidth/2
	out:=make([]float32, len(data))
	for y:=int32(0); y<height; y++ {
		for x:=int32(0); x<width; x++ {
			sum:=float32(0)
			for ky:=int32(0); ky<kernelHeight; ky++ {
				for kx:=int32(0); kx<kernelWidth; kx++ {
					sy, sx:=y+(ky-cy), x+(kx-cx)
					if sy>=0 && sy<height && sx>=0 && sx<width {
						sum+=kernel[ky*kernelWidth+kx]*data[sy*width+sx]
					}
				}
			}
			out[y*width+x]=sum
		}
	}
	return out
}

func testImage(width, height int32) []float32 {
	data:=make([]float32, width*height)
	for i:=range data {
		data[i]=float32((i*7)%5)-2+0.25*float32(i%3)
	}
	return data
}

func TestConvolveDelta(t *testing.T) {
	data:=testImage(7, 5)
	delta:=[]float32{0, 0, 0, 0, 1, 0, 0, 0, 0}

	out:=Convolve(data, 7, delta, 3)
	for i:=range data {
		if math.Abs(float64(out[i]-data[i]))>1e-5 {
			t.Fatalf("delta convolution not identity at %d: got %f want %f", i, out[i], data[i])
		}
	}
}

func TestConvolveShift(t *testing.T) {
	width, height:=int32(8), int32(6)
	data:=make([]float32, width*height)
	data[2*width+3]=1

	// kernel with weight at offset (+1,+1) from the center
	shift:=[]float32{0, 0, 0, 0, 0, 0, 0, 0, 1}
	out:=Convolve(data, width, shift, 3)

	for y:=int32(0); y<height; y++ {
		for x:=int32(0); x<width; x++ {
			want:=float32(0)
			if y==3 && x==4 { want=1 }
			if math.Abs(float64(out[y*width+x]-want))>1e-5 {
				t.Errorf("shifted spike at (%d,%d) got %f; want %f", x, y, out[y*width+x], want)
			}
		}
	}
}

func TestConvolveMatchesDirect(t *testing.T) {
	data:=testImage(11, 9)
	kernel:=[]float32{
		0.05, 0.10, 0.05,
		0.10, 0.40, 0.10,
		0.05, 0.10, 0.02,
	}

	got:=Convolve(data, 11, kernel, 3)
	want:=convolveDirect(data, 11, kernel, 3)
	for i:=range want {
		if math.Abs(float64(got[i]-want[i]))>1e-4 {
			t.Fatalf("convolve mismatch at %d: got %f want %f", i, got[i], want[i])
		}
	}
}

func TestCorrelateMatchesDirect(t *testing.T) {
	data:=testImage(9, 12)
	kernel:=[]float32{
		0.0, 0.2, 0.0,
		0.1, 0.4, 0.3,
		0.0, 0.0, 0.0,
	}

	got:=Correlate(data, 9, kernel, 3)
	want:=correlateDirect(data, 9, kernel, 3)
	for i:=range want {
		if math.Abs(float64(got[i]-want[i]))>1e-4 {
			t.Fatalf("correlate mismatch at %d: got %f want %f", i, got[i], want[i])
		}
	}
}

func TestCorrelateIsAdjoint(t *testing.T) {
	x:=testImage(6, 6)
	r:=testImage(6, 6)
	for i:=range r { r[i]=r[i]*0.5+float32(i%4)*0.25 }
	kernel:=[]float32{
		0.1, 0.0, 0.2,
		0.0, 0.3, 0.0,
		0.1, 0.2, 0.1,
	}

	cx:=Convolve(x, 6, kernel, 3)
	cr:=Correlate(r, 6, kernel, 3)

	// <Convolve(x), r> must equal <x, Correlate(r)>
	lhs, rhs:=float64(0), float64(0)
	for i:=range x {
		lhs+=float64(cx[i])*float64(r[i])
		rhs+=float64(x[i])*float64(cr[i])
	}
	if math.Abs(lhs-rhs)>1e-3*(math.Abs(lhs)+1) {
		t.Errorf("adjoint mismatch: <Cx,r>=%f <x,Ctr>=%f", lhs, rhs)
	}
}

func TestConvolveLargeKernel(t *testing.T) {
	// kernel larger than the image still yields a same-size result
	data:=testImage(4, 4)
	kernel:=make([]float32, 7*7)
	kernel[3*7+3]=1
	out:=Convolve(data, 4, kernel, 7)
	for i:=range data {
		if math.Abs(float64(out[i]-data[i]))>1e-5 {
			t.Fatalf("oversized delta kernel not identity at %d: got %f want %f", i, out[i], data[i])
		}
	}
}
