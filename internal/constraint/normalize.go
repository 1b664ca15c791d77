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


package constraint

import (
	"math"
)

// Selects which factor of the amplitude x morphology product is held at unit
// sum. The mode must be identical for all components of one scene, so that
// the free factors remain directly comparable across sources
type NormMode int

const (
	NormNone       NormMode = iota // no normalization
	NormAmplitude                  // amplitude vector sums to one, morphology carries the flux
	NormMorphology                 // morphology image sums to one, amplitude carries the flux
)

func (m NormMode) String() string {
	switch m {
	case NormNone:       return "none"
	case NormAmplitude:  return "amplitude"
	case NormMorphology: return "morphology"
	}
	return "unknown"
}

// Jointly rescales amplitude and morphology so the factor designated by the
// mode sums to one, adjusting the other factor inversely to preserve their
// product. Leaves both factors unchanged when the designated sum is zero,
// negative or not finite
func Normalize(amplitude, morphology []float32, mode NormMode) {
	var prim, sec []float32
	switch mode {
	case NormAmplitude:  prim, sec=amplitude,  morphology
	case NormMorphology: prim, sec=morphology, amplitude
	default:             return
	}
	sum:=float32(0)
	for _,p:=range prim { sum+=p }
	if sum<=0 || math.IsInf(float64(sum),0) || math.IsNaN(float64(sum)) { return }
	factor:=1.0/sum
	for i:=range prim { prim[i]*=factor }
	for i:=range sec  { sec[i] *=sum    }
}
