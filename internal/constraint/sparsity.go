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

// Hard thresholding: zeroes all values with magnitude below the threshold.
// The threshold is typically a multiple of the background RMS
type SparsityL0 struct {
	ConstraintBase
	Threshold   float32 `json:"threshold"`
}

func init() { SetConstraintFactory(func() Constraint { return NewSparsityL0Default()}) } // register the constraint for JSON decoding

func NewSparsityL0Default() *SparsityL0 { return NewSparsityL0(0) }

func NewSparsityL0(threshold float32) *SparsityL0 {
	return &SparsityL0{ConstraintBase{Type: "sparsityL0", Active: true}, threshold}
}

func (c *SparsityL0) Project(data []float32, width int32, centerX, centerY float32) {
	t:=c.Threshold
	for i,d:=range data {
		if d<t && d>-t { data[i]=0 }
	}
}


// Soft thresholding: shrinks all values toward zero by the threshold.
// Values with magnitude below the threshold become zero
type SparsityL1 struct {
	ConstraintBase
	Threshold   float32 `json:"threshold"`
}

func init() { SetConstraintFactory(func() Constraint { return NewSparsityL1Default()}) } // register the constraint for JSON decoding

func NewSparsityL1Default() *SparsityL1 { return NewSparsityL1(0) }

func NewSparsityL1(threshold float32) *SparsityL1 {
	return &SparsityL1{ConstraintBase{Type: "sparsityL1", Active: true}, threshold}
}

func (c *SparsityL1) Project(data []float32, width int32, centerX, centerY float32) {
	t:=c.Threshold
	for i,d:=range data {
		if d>t {
			data[i]=d-t
		} else if d<-t {
			data[i]=d+t
		} else {
			data[i]=0
		}
	}
}


// Clamps all negative values to zero
type NonNegativity struct {
	ConstraintBase
}

func init() { SetConstraintFactory(func() Constraint { return NewNonNegativityDefault()}) } // register the constraint for JSON decoding

func NewNonNegativityDefault() *NonNegativity { return NewNonNegativity() }

func NewNonNegativity() *NonNegativity {
	return &NonNegativity{ConstraintBase{Type: "nonNegative", Active: true}}
}

func (c *NonNegativity) Project(data []float32, width int32, centerX, centerY float32) {
	for i,d:=range data {
		if d<0 { data[i]=0 }
	}
}
