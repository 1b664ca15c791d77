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


package geom

import (
	"fmt"
)

// An axis-aligned rectangle of pixels, half-open: contains (x,y) with
// X0<=x<X1 and Y0<=y<Y1. Coordinates are in cube pixel space, row=y, col=x
type Rect struct {
	X0 int32 `json:"x0"`
	Y0 int32 `json:"y0"`
	X1 int32 `json:"x1"`
	Y1 int32 `json:"y1"`
}

// Creates a rectangle from the given corners
func NewRect(x0, y0, x1, y1 int32) Rect {
	return Rect{X0: x0, Y0: y0, X1: x1, Y1: y1}
}

// Creates a square rectangle of given radius around a floating point center,
// clipped to the image extent. Radius 0 yields the single pixel containing the center
func NewRectAround(x, y float32, radius, width, height int32) Rect {
	cx, cy:=int32(x+0.5), int32(y+0.5)
	r:=Rect{X0: cx-radius, Y0: cy-radius, X1: cx+radius+1, Y1: cy+radius+1}
	return r.Clip(width, height)
}

func (r Rect) Width() int32  { return r.X1-r.X0 }
func (r Rect) Height() int32 { return r.Y1-r.Y0 }
func (r Rect) Area() int32   { return r.Width()*r.Height() }

// Returns true if the rectangle contains no pixels
func (r Rect) Empty() bool { return r.X1<=r.X0 || r.Y1<=r.Y0 }

// Returns true if the rectangle contains the given pixel
func (r Rect) Contains(x, y int32) bool {
	return x>=r.X0 && x<r.X1 && y>=r.Y0 && y<r.Y1
}

// Returns true if the rectangle lies fully within the given image extent
func (r Rect) Inside(width, height int32) bool {
	return r.X0>=0 && r.Y0>=0 && r.X1<=width && r.Y1<=height && !r.Empty()
}

// Clips the rectangle against the given image extent
func (r Rect) Clip(width, height int32) Rect {
	if r.X0<0       { r.X0=0      }
	if r.Y0<0       { r.Y0=0      }
	if r.X1>width   { r.X1=width  }
	if r.Y1>height  { r.Y1=height }
	if r.X1<r.X0    { r.X1=r.X0   }
	if r.Y1<r.Y0    { r.Y1=r.Y0   }
	return r
}

// Grows the rectangle by the given margin on every side
func (r Rect) Grow(margin int32) Rect {
	return Rect{X0: r.X0-margin, Y0: r.Y0-margin, X1: r.X1+margin, Y1: r.Y1+margin}
}

// Returns the intersection of two rectangles, which may be empty
func (r Rect) Intersect(s Rect) Rect {
	if s.X0>r.X0 { r.X0=s.X0 }
	if s.Y0>r.Y0 { r.Y0=s.Y0 }
	if s.X1<r.X1 { r.X1=s.X1 }
	if s.Y1<r.Y1 { r.Y1=s.Y1 }
	if r.X1<r.X0 { r.X1=r.X0 }
	if r.Y1<r.Y0 { r.Y1=r.Y0 }
	return r
}

// Translates cube pixel coordinates into an index into a data array covering
// only this rectangle, in row-major order. The pixel must lie within the rectangle
func (r Rect) Index(x, y int32) int32 {
	return (y-r.Y0)*r.Width() + (x-r.X0)
}

func (r Rect) String() string {
	return fmt.Sprintf("[%d:%d,%d:%d]", r.X0, r.X1, r.Y0, r.Y1)
}

// Computes the minimal rectangle covering all pixels of data with magnitude
// above the threshold, where data covers the rectangle extent in row-major order.
// Returns an empty rectangle and false if no pixel exceeds the threshold
func Support(data []float32, extent Rect, threshold float32) (Rect, bool) {
	minX, minY:=extent.X1, extent.Y1
	maxX, maxY:=extent.X0-1, extent.Y0-1
	w:=extent.Width()
	for y:=extent.Y0; y<extent.Y1; y++ {
		row:=data[(y-extent.Y0)*w : (y-extent.Y0+1)*w]
		for i, d:=range row {
			if d>threshold || d< -threshold {
				x:=extent.X0+int32(i)
				if x<minX { minX=x }
				if x>maxX { maxX=x }
				if y<minY { minY=y }
				if y>maxY { maxY=y }
			}
		}
	}
	if maxX<minX || maxY<minY {
		return Rect{}, false
	}
	return Rect{X0: minX, Y0: minY, X1: maxX+1, Y1: maxY+1}, true
}

// Copies pixel values from src covering srcRect into dst covering dstRect,
// matching up cube pixel coordinates. Pixels of dst outside the overlap are
// left untouched, pixels of src outside are dropped
func CopyOverlap(dst []float32, dstRect Rect, src []float32, srcRect Rect) {
	ov:=dstRect.Intersect(srcRect)
	if ov.Empty() { return }
	for y:=ov.Y0; y<ov.Y1; y++ {
		srcRow:=src[srcRect.Index(ov.X0, y) : srcRect.Index(ov.X1-1, y)+1]
		dstRow:=dst[dstRect.Index(ov.X0, y) : dstRect.Index(ov.X1-1, y)+1]
		copy(dstRow, srcRow)
	}
}
