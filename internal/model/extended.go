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


package model

import (
	"fmt"
	"github.com/mlnoga/deblend/internal/constraint"
	"github.com/mlnoga/deblend/internal/cube"
	"github.com/mlnoga/deblend/internal/geom"
)

// A resolved source with a free morphology, fitted under shape constraints.
// Its bounding box follows the morphology support over the fit
type ExtendedComponent struct {
	ComponentBase
	RefineMargin int32  // pixels added around the morphology support on refine
}

// Creates an extended source at the given cube position. The initial bounding
// box is a square of the given radius around the center, clipped to the cube.
// The amplitude is seeded from the cube values at the center pixel, and the
// morphology with the least-squares image patch for that amplitude. Kernels
// are per-band deconvolution kernels, or nil for no deconvolution
func NewExtendedComponent(img *cube.Cube, x, y float32, radius int32, kernels [][]float32, kernelWidth int32,
	                      constraints *constraint.Set) (*ExtendedComponent, error) {
	box:=geom.NewRectAround(x, y, radius, img.Width, img.Height)
	if box.Empty() {
		return nil, fmt.Errorf("source at (%.1f,%.1f) outside %dx%d cube", x, y, img.Width, img.Height)
	}
	norms, err:=prepareKernels(kernels, kernelWidth, img.Bands)
	if err!=nil { return nil, err }

	c:=&ExtendedComponent{
		ComponentBase: ComponentBase{
			centerX: x,           centerY: y,
			bbox: box,
			sceneWidth: img.Width, sceneHeight: img.Height,
			amplitude: seedAmplitude(img, x, y),
			kernels: kernels,     kernelWidth: kernelWidth,
			kernelNorms: norms,
			constraints: constraints,
			active: true,
		},
		RefineMargin: 2,
	}
	c.morphology=seedMorphology(img, box, c.amplitude)
	return c, nil
}

// Creates a single-band component for solving a deconvolution kernel: the
// morphology is the unknown kernel, seeded with a unit spike, fitted without
// shape constraints under an L2 penalty against a fixed unit amplitude.
// The kernel argument is the band PSF to deconvolve
func NewKernelComponent(x, y float32, radius, sceneWidth, sceneHeight int32, kernel []float32, kernelWidth int32,
	                    l2Penalty float32) (*ExtendedComponent, error) {
	box:=geom.NewRectAround(x, y, radius, sceneWidth, sceneHeight)
	if box.Empty() {
		return nil, fmt.Errorf("kernel region at (%.1f,%.1f) outside %dx%d target", x, y, sceneWidth, sceneHeight)
	}
	norms, err:=prepareKernels([][]float32{kernel}, kernelWidth, 1)
	if err!=nil { return nil, err }

	c:=&ExtendedComponent{
		ComponentBase: ComponentBase{
			centerX: x,           centerY: y,
			bbox: box,
			sceneWidth: sceneWidth, sceneHeight: sceneHeight,
			amplitude: []float32{1},
			kernels: [][]float32{kernel}, kernelWidth: kernelWidth,
			kernelNorms: norms,
			fixedAmplitude: true,
			l2Penalty: l2Penalty,
			active: true,
		},
		RefineMargin: 2,
	}
	c.morphology=make([]float32, box.Area())
	c.morphology[spikeIndex(box, x, y)]=1
	return c, nil
}

// Index of the pixel nearest to (x,y) within the box
func spikeIndex(box geom.Rect, x, y float32) int32 {
	cx, cy:=int32(x+0.5), int32(y+0.5)
	if cx<box.X0 { cx=box.X0 } else if cx>=box.X1 { cx=box.X1-1 }
	if cy<box.Y0 { cy=box.Y0 } else if cy>=box.Y1 { cy=box.Y1-1 }
	return box.Index(cx, cy)
}

// Amplitude seed: the cube values at the center pixel, clamped non-negative,
// or a flat vector if the center carries no flux
func seedAmplitude(img *cube.Cube, x, y float32) []float32 {
	cx, cy:=int32(x+0.5), int32(y+0.5)
	if cx<0 { cx=0 } else if cx>=img.Width  { cx=img.Width-1  }
	if cy<0 { cy=0 } else if cy>=img.Height { cy=img.Height-1 }
	a:=make([]float32, img.Bands)
	sum:=float32(0)
	for b:=int32(0); b<img.Bands; b++ {
		v:=img.Band(b)[cy*img.Width+cx]
		if v<0 { v=0 }
		a[b]=v
		sum+=v
	}
	if sum<=0 {
		for b:=range a { a[b]=1 }
	}
	return a
}

// Morphology seed: the per-pixel least-squares solution of the observed patch
// against the given amplitude, clamped non-negative
func seedMorphology(img *cube.Cube, box geom.Rect, amplitude []float32) []float32 {
	denom:=float32(0)
	for _,a:=range amplitude { denom+=a*a }
	morph:=make([]float32, box.Area())
	if denom<=0 { return morph }
	for b:=int32(0); b<img.Bands; b++ {
		a:=amplitude[b]
		if a==0 { continue }
		band:=img.Band(b)
		i:=0
		for y:=box.Y0; y<box.Y1; y++ {
			row:=y*img.Width
			for x:=box.X0; x<box.X1; x++ {
				morph[i]+=a*band[row+x]
				i++
			}
		}
	}
	factor:=1.0/denom
	for i,m:=range morph {
		m*=factor
		if m<0 { m=0 }
		morph[i]=m
	}
	return morph
}

// Recomputes the bounding box from the morphology support plus the refine
// margin. An empty support falls back to a single pixel at the center once;
// a component still empty on the next refine is marked inactive
func (c *ExtendedComponent) Refine() bool {
	if !c.active || c.fixedMorphology { return false }
	scene:=geom.NewRect(0, 0, c.sceneWidth, c.sceneHeight)
	support, ok:=geom.Support(c.morphology, c.bbox, 0)
	if !ok {
		if c.degenerate {
			c.active=false
			return false
		}
		c.degenerate=true
		box:=geom.NewRectAround(c.centerX, c.centerY, 0, c.sceneWidth, c.sceneHeight)
		if box==c.bbox { return false }
		c.resizeTo(box)
		return true
	}
	c.degenerate=false
	box:=support.Grow(c.RefineMargin).Intersect(scene)
	if box.Empty() || box==c.bbox { return false }
	c.resizeTo(box)
	return true
}
