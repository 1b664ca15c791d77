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
	"fmt"
	"math"
	"github.com/valyala/fastrand"
)

// Basic statistics on data arrays
type Stats struct {
	Min    float32  // Minimum
	Max    float32  // Maximum
	Mean   float32  // Mean (average)
	StdDev float32  // Standard deviation (norm 2, sigma)

	Location float32 // Selected location indicator (standard: randomized sigma-clipped median using randomized Qn)
	Scale    float32 // Selected scale indicator (standard: randomized Qn)

	Noise  float32  // Gaussian background noise estimation
}

// Enumerated type for location and scale estimator modes
type LSEstimatorMode int
const (
	LSEMeanStdDev LSEstimatorMode = iota
	LSEMedianMAD
	LSESCMedianQn
)

// Pretty print basic stats to string
func (s *Stats) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g Location %.6g Scale %.6g Noise %.4g",
	                 	s.Min, s.Max,   s.Mean,   s.StdDev,   s.Location,   s.Scale,   s.Noise)
}

// Calculate min, max, mean and standard deviation for a data array
func CalcBasicStats(data []float32) (s *Stats) {
	s=&Stats{}
	s.Min, s.Mean, s.Max=calcMinMeanMax(data)

	variance:=calcVariance(data, s.Mean)
	s.StdDev=float32(math.Sqrt(float64(variance)))

	return s
}

// Calculate basic statistics plus location, scale and noise estimates for
// a 2D data array of the given width
func CalcStats(data []float32, width int32, mode LSEstimatorMode) (s *Stats) {
	s=CalcBasicStats(data)
	numSamples:=128*1024
	if numSamples>len(data) { numSamples=len(data) }

	switch mode {
	case LSEMeanStdDev:
		s.Location, s.Scale=s.Mean, s.StdDev
	case LSEMedianMAD:
		samples:=make([]float32, numSamples)
		s.Location=FastApproxMedian(data, samples)
		s.Scale   =FastApproxMAD(data, s.Location, samples)
		samples=nil
	case LSESCMedianQn:
		s.Location, s.Scale=FastApproxSigmaClippedMedianAndQn(data, 2, 2, (s.Max-s.Min)/65535.0, numSamples)
	}

	s.Noise=EstimateNoise(data, width)

	return s
}

// Calculate minimum, mean and maximum of given data
func calcMinMeanMax(data []float32) (min, mean, max float32) {
	mmin, mmean, mmax:=data[0], float64(0), data[0]
	for _,v := range data {
		if v<mmin { mmin=v }
		if v>mmax { mmax=v }
		mmean+=float64(v)
	}
	return mmin, float32(mmean/float64(len(data))), mmax
}

// Calculate variance of given data from provided mean
func calcVariance(data []float32, mean float32) (result float64) {
	variance:=float64(0)
	for _,v :=range data {
		diff:=float64(v-mean)
		variance+=diff*diff
	}
	return variance/float64(len(data))
}

// Calculates fast approximate median of the (presumably large) data by subsampling the given number of values and taking the median of that.
// Uses provided samples array as scratchpad
func FastApproxMedian(data []float32, samples []float32) float32 {
	max:=uint32(len(data))
	rng:=fastrand.RNG{}
	for i,_:=range samples {
		index:=rng.Uint32n(max)
		samples[i]=data[index]
	}
	median:=QSelectMedianFloat32(samples)
	return median
}

// Calculates fast approximate median of the data within given bounds, by subsampling and taking the median of that.
// Uses provided samples array as scratchpad
func FastApproxBoundedMedian(data []float32, lowBound, highBound float32, samples []float32) float32 {
	max:=uint32(len(data))
	rng:=fastrand.RNG{}
	for i,_:=range samples {
		var d float32
		for {
			d=data[rng.Uint32n(max)]
			if d>=lowBound && d<=highBound { break }
		}
		samples[i]=d
	}
	median:=QSelectMedianFloat32(samples)
	return median
}

// Calculates fast approximate median of absolute differences of the (presumably large) data by subsampling the given number of values and taking the MAD of that.
func FastApproxMAD(data []float32, location float32, samples []float32) float32 {
	max:=uint32(len(data))
	rng:=fastrand.RNG{}
	for i,_:=range samples {
		index:=rng.Uint32n(max)
		samples[i]=float32(math.Abs(float64(data[index]-location)))
	}
	mad:=QSelectMedianFloat32(samples)*1.4826  // normalize to Gaussian std dev.
	return mad
}

// Calculates fast approximate Qn scale estimate of the (presumably large) data by subsampling the given number of pairs and taking the first quartile of that.
// Original paper http://web.ipac.caltech.edu/staff/fmasci/home/astro_refs/BetterThanMAD.pdf
// Original n*log n implementation technical report https://www.researchgate.net/profile/Christophe_Croux/publication/228595593_Time-Efficient_Algorithms_for_Two_Highly_Robust_Estimators_of_Scale/links/09e4150f52c2fcabb0000000/Time-Efficient-Algorithms-for-Two-Highly-Robust-Estimators-of-Scale.pdf
func FastApproxQn(data []float32, samples []float32) float32 {
	max:=uint32(len(data))
	rng:=fastrand.RNG{}
	for i,_:=range samples {
		index1:=1+rng.Uint32n(max-1)
		index2:=rng.Uint32n(index1)
		samples[i]=float32(math.Abs(float64(data[index1]-data[index2])))
	}
	qn:=QSelectFirstQuartileFloat32(samples)*2.21914  // normalize to Gaussian std dev, for large numSamples >>1000.
	// Original paper had wrong constant, source for constant https://rdrr.io/cran/robustbase/man/Qn.html
	return qn
}

// Calculates fast approximate Qn scale estimate of the data within given bounds, by subsampling pairs and taking the first quartile of that.
func FastApproxBoundedQn(data []float32, lowBound, highBound float32, samples []float32) float32 {
	max:=uint32(len(data))
	rng:=fastrand.RNG{}
	for i,_:=range samples {
		var d1, d2 float32
		for {
			index1:=1+rng.Uint32n(max-1)
			d1=data[index1]
			if d1< lowBound || d1> highBound { continue }
			d2=data[rng.Uint32n(index1)]
			if d2>=lowBound && d2<=highBound { break    }
		}
		samples[i]=float32(math.Abs(float64(d1-d2)))
	}
	qn:=QSelectFirstQuartileFloat32(samples)*2.21914  // normalize to Gaussian std dev, for large numSamples >>1000
	samples=nil
	return qn
}

// Returns a rapid robust estimation of location and scale. Uses a fast approximate median based on randomized sampling,
// iteratively sigma clipped with a fast approximate Qn based on random sampling. Exits once the absolute change in
// location and scale is below epsilon.
func FastApproxSigmaClippedMedianAndQn(data []float32, sigmaLow, sigmaHigh float32, epsilon float32, numSamples int) (location, scale float32) {
	samples:=make([]float32, numSamples)
	location=FastApproxMedian(data, samples) // sampling
	scale   =FastApproxQn    (data, samples) // sampling

	for i:=0; ; i++ {
		lowBound :=location - sigmaLow*scale
		highBound:=location + sigmaHigh*scale

		newLocation:=FastApproxBoundedMedian(data, lowBound, highBound, samples) // sampling
		newScale   :=FastApproxBoundedQn    (data, lowBound, highBound, samples) // sampling
		newScale   *=1.134                                    // adjust for subsequent clipping

		// once converged, return results
		if float32(math.Abs(float64(newLocation-location))+math.Abs(float64(newScale-scale)))<=epsilon || i>=10 {
			scale=FastApproxQn(data, samples) // sampling
			samples=nil
			return location, scale
		}

		location, scale = newLocation, newScale
	}
}
