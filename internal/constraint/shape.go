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
	"sort"
)

// Enforces radially monotonic falloff: every pixel is clamped to the value of
// its radially inward neighbor. Pixels are processed in order of increasing
// distance from the center, so corrections propagate outward
type Monotonicity struct {
	ConstraintBase
}

func init() { SetConstraintFactory(func() Constraint { return NewMonotonicityDefault()}) } // register the constraint for JSON decoding

func NewMonotonicityDefault() *Monotonicity { return NewMonotonicity() }

func NewMonotonicity() *Monotonicity {
	return &Monotonicity{ConstraintBase{Type: "monotone", Active: true}}
}

func (c *Monotonicity) Project(data []float32, width int32, centerX, centerY float32) {
	if width<=0 || len(data)==0 { return }
	height:=int32(len(data))/width
	cx,cy:=clampToPatch(centerX, centerY, width, height)

	// all pixels except the center, ordered by increasing distance from it
	order:=make([]int32, 0, len(data)-1)
	for i:=int32(0); i<int32(len(data)); i++ {
		if i!=cy*width+cx { order=append(order, i) }
	}
	distSq:=func(i int32) int32 {
		dx, dy:=i%width-cx, i/width-cy
		return dx*dx+dy*dy
	}
	sort.Slice(order, func(i, j int) bool {
		di, dj:=distSq(order[i]), distSq(order[j])
		if di!=dj { return di<dj }
		return order[i]<order[j]
	})

	for _,i:=range order {
		x, y:=i%width, i/width
		dx, dy:=float64(x-cx), float64(y-cy)
		r:=math.Sqrt(dx*dx+dy*dy)
		sx, sy:=int32(math.Round(dx/r)), int32(math.Round(dy/r))
		ref:=data[(y-sy)*width+(x-sx)]  // strictly closer to the center, hence already final
		if data[i]>ref { data[i]=ref }
	}
}


// Enforces point symmetry through the center: each pixel and its reflection
// are replaced by their average, or by the smaller of the two in strict mode.
// Pixels whose reflection falls outside the patch are left unchanged
type Symmetry struct {
	ConstraintBase
	Strict  bool `json:"strict"`
}

func init() { SetConstraintFactory(func() Constraint { return NewSymmetryDefault()}) } // register the constraint for JSON decoding

func NewSymmetryDefault() *Symmetry { return NewSymmetry(false) }

func NewSymmetry(strict bool) *Symmetry {
	return &Symmetry{ConstraintBase{Type: "symmetric", Active: true}, strict}
}

func (c *Symmetry) Project(data []float32, width int32, centerX, centerY float32) {
	if width<=0 || len(data)==0 { return }
	height:=int32(len(data))/width
	cx,cy:=clampToPatch(centerX, centerY, width, height)

	for y:=int32(0); y<height; y++ {
		ry:=2*cy-y
		if ry<0 || ry>=height { continue }
		for x:=int32(0); x<width; x++ {
			rx:=2*cx-x
			if rx<0 || rx>=width { continue }
			i, j:=y*width+x, ry*width+rx
			if i>=j { continue }  // visit each pair once
			if c.Strict {
				if data[i]<data[j] { data[j]=data[i] } else { data[i]=data[j] }
			} else {
				avg:=0.5*(data[i]+data[j])
				data[i], data[j]=avg, avg
			}
		}
	}
}

// Rounds a fractional center position to the nearest pixel inside the patch
func clampToPatch(centerX, centerY float32, width, height int32) (cx, cy int32) {
	cx, cy=int32(centerX+0.5), int32(centerY+0.5)
	if cx<0 { cx=0 } else if cx>=width  { cx=width-1  }
	if cy<0 { cy=0 } else if cy>=height { cy=height-1 }
	return cx, cy
}
