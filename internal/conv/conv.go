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
	"math/cmplx"
	"gonum.org/v1/gonum/dsp/fourier"
)

// 2D convolutions and correlations of images with centered kernels via FFT.
// Images and kernels are flat row-major float32 arrays with the height
// implied by len/width. The kernel center is the pixel (kernelWidth/2,
// kernelHeight/2), so kernels are typically odd-sized.

// Convolves the data with the centered kernel and returns a new array of the
// same size as the data ("same" mode, zero padded at the borders)
func Convolve(data []float32, width int32, kernel []float32, kernelWidth int32) []float32 {
	return convFFT(data, width, kernel, kernelWidth, false)
}

// Correlates the data with the centered kernel (i.e. convolves with the
// point-reflected kernel) and returns a new array of the same size as the
// data. This is the exact adjoint of Convolve for the same kernel
func Correlate(data []float32, width int32, kernel []float32, kernelWidth int32) []float32 {
	return convFFT(data, width, kernel, kernelWidth, true)
}

func convFFT(data []float32, width int32, kernel []float32, kernelWidth int32, conjugate bool) []float32 {
	height:=int32(len(data))/width
	kernelHeight:=int32(len(kernel))/kernelWidth

	// zero-padded grid large enough to make the circular convolution linear
	fw:=nextPow2(int(width+kernelWidth-1))
	fh:=nextPow2(int(height+kernelHeight-1))

	a:=make([]complex128, fw*fh)
	for y:=0; y<int(height); y++ {
		for x:=0; x<int(width); x++ {
			a[y*fw+x]=complex(float64(data[y*int(width)+x]), 0)
		}
	}
	b:=make([]complex128, fw*fh)
	for y:=0; y<int(kernelHeight); y++ {
		for x:=0; x<int(kernelWidth); x++ {
			b[y*fw+x]=complex(float64(kernel[y*int(kernelWidth)+x]), 0)
		}
	}

	fft2(a, fw, fh, true)
	fft2(b, fw, fh, true)

	if conjugate {
		for i:=range a { a[i]*=cmplx.Conj(b[i]) }
	} else {
		for i:=range a { a[i]*=b[i] }
	}

	fft2(a, fw, fh, false)

	// gonum transforms are unnormalized, forward then inverse scales by n
	scale:=1.0/float64(fw*fh)
	cy, cx:=int(kernelHeight)/2, int(kernelWidth)/2

	out:=make([]float32, len(data))
	for y:=0; y<int(height); y++ {
		for x:=0; x<int(width); x++ {
			var sy, sx int
			if conjugate {
				// correlation reads the full result at negative offsets, which
				// wrap around on the padded grid into zeroed territory
				sy, sx=(y-cy+fh)%fh, (x-cx+fw)%fw
			} else {
				sy, sx=y+cy, x+cx
			}
			out[y*int(width)+x]=float32(real(a[sy*fw+sx])*scale)
		}
	}
	return out
}

// In-place 2D FFT over a flat row-major complex grid, rows then columns
func fft2(a []complex128, width, height int, forward bool) {
	rowFFT:=fourier.NewCmplxFFT(width)
	for y:=0; y<height; y++ {
		row:=a[y*width : (y+1)*width]
		if forward {
			rowFFT.Coefficients(row, row)
		} else {
			rowFFT.Sequence(row, row)
		}
	}

	colFFT:=fourier.NewCmplxFFT(height)
	col:=make([]complex128, height)
	for x:=0; x<width; x++ {
		for y:=0; y<height; y++ {
			col[y]=a[y*width+x]
		}
		if forward {
			colFFT.Coefficients(col, col)
		} else {
			colFFT.Sequence(col, col)
		}
		for y:=0; y<height; y++ {
			a[y*width+x]=col[y]
		}
	}
}

func nextPow2(n int) int {
	if n<=1 { return 1 }
	p:=1
	for p<n {
		p<<=1
	}
	return p
}
