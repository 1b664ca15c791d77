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
)

const sqrt2 = float32(1.41421356237309504880168872420969808)

// Returns the definite integral of the gaussian function with midpoint mu and standard deviation sigma for input x
func GaussianDefiniteIntegral(mu, sigma, x float32) float32 {
    return 0.5 * (1 + float32(math.Erf(   float64((x-mu)/(sqrt2 * sigma)) )) )
}

// Generates a 1D gaussian kernel for the given sigma. Based on symbolic integration via error function
func GaussianKernel1D(sigma float32) (kernel []float32) {
    mu          :=float32(0)

    // Find minimal kernel width for which the area under the curve left of the kernel is below the acceptable error
    acceptOut   :=float32(0.01)
    radius      :=0
    for {
        val:=GaussianDefiniteIntegral(mu, sigma, float32(-0.5)-float32(radius))
        if val < acceptOut {
            radius--
            break
        }
        radius++
    }
    width       :=2*radius+1
    kernel       =make([]float32, width)

    // Calculate left half of the kernel via symbolic integration
    sum         :=float32(0)
    lower       :=GaussianDefiniteIntegral(mu, sigma, float32(-0.5)-float32(radius)             )
    for i:=0; i<=radius; i++ {
        upper   :=GaussianDefiniteIntegral(mu, sigma, float32(-0.5)-float32(radius)+float32(i+1))
        delta   :=upper - lower
        kernel[i]=delta
        sum     +=delta
        lower    =upper
    }

    // Mirror right half of the kernel to avoid numeric instability
    for i:=1; i<=radius; i++ {
        value             := kernel[radius - i]
        kernel[radius + i] = value
        sum               += value
    }

    // Normalize the sum of the kernel to 1, for dealing with the truncated part of the distribution.
    factor:=1.0/sum
    for i,_:=range(kernel) { kernel[i]*=factor }
    return kernel
}

// Generates a unit-sum 2D gaussian kernel for the given sigma as the outer
// product of two 1D kernels. Returns the kernel and its width
func GaussianKernel2D(sigma float32) (kernel []float32, width int32) {
    k1:=GaussianKernel1D(sigma)
    width=int32(len(k1))
    kernel=make([]float32, width*width)
    for y:=int32(0); y<width; y++ {
        for x:=int32(0); x<width; x++ {
            kernel[y*width+x]=k1[y]*k1[x]
        }
    }
    return kernel, width
}
