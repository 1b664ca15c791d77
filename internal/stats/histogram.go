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

// Calculate histogram of data between min and max into given bins
func Histogram(data []float32, min, max float32, bins []int32) {
	for i := range bins {
		bins[i] = 0
	}
	if max <= min {
		bins[0] = int32(len(data))
		return
	}
	scale := float32(len(bins)-1) / (max - min)
	for _, d := range data {
		index := int((d - min) * scale)
		if index < 0 {
			index = 0
		}
		if index > len(bins)-1 {
			index = len(bins) - 1
		}
		bins[index]++
	}
}

// Returns the location and the value of the histogram peak
func GetPeak(bins []int32, min, max float32) (x, y float32) {
	maxIndex, maxValue := 0, bins[0]
	for i, v := range bins {
		if v > maxValue {
			maxIndex, maxValue = i, v
		}
	}

	x = min + (float32(maxIndex)+0.5)*(max-min)/float32(len(bins)-1)
	y = float32(maxValue)
	if maxIndex+1 < len(bins) {
		y = 0.5 * float32(bins[maxIndex]+bins[maxIndex+1])
	}
	return x, y
}

// Returns approximate values at the given percentiles in [0,1], computed
// from a histogram of the data with the given number of bins
func Percentiles(data []float32, min, max float32, numBins int, percentiles []float32) []float32 {
	bins := make([]int32, numBins)
	Histogram(data, min, max, bins)

	res := make([]float32, len(percentiles))
	for i, p := range percentiles {
		threshold := int64(float64(p) * float64(len(data)))
		cum, b := int64(0), 0
		for ; b < len(bins); b++ {
			cum += int64(bins[b])
			if cum >= threshold {
				break
			}
		}
		if b >= len(bins) {
			b = len(bins) - 1
		}
		res[i] = min + (float32(b)+0.5)*(max-min)/float32(numBins-1)
	}
	return res
}
