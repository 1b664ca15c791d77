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
	"github.com/mlnoga/deblend/internal/conv"
	"github.com/mlnoga/deblend/internal/cube"
	"github.com/mlnoga/deblend/internal/geom"
)

// An unresolved source: the morphology is pinned to a unit spike at the
// center pixel, and the per-band kernels carry the raw PSFs, so only the
// amplitude vector is fitted. The rendered contribution of the component is
// the per-band PSF scaled by the amplitude
type PointComponent struct {
	ComponentBase
}

// Creates a point source at the given cube position. The per-band kernels
// are the raw empirical PSFs; a unit-sum gaussian profile with sigma one is
// substituted when none are given. The amplitude is seeded from the cube
// values at the center pixel
func NewPointComponent(img *cube.Cube, x, y float32, psfs [][]float32, psfWidth int32) (*PointComponent, error) {
	if psfs==nil {
		var psf []float32
		psf, psfWidth=conv.GaussianKernel2D(1.0)
		psfs=make([][]float32, img.Bands)
		for b:=range psfs { psfs[b]=psf }
	}
	norms, err:=prepareKernels(psfs, psfWidth, img.Bands)
	if err!=nil { return nil, err }
	psfHeight:=int32(len(psfs[0]))/psfWidth
	radius:=psfWidth/2
	if h:=psfHeight/2; h>radius { radius=h }

	box:=geom.NewRectAround(x, y, radius, img.Width, img.Height)
	if box.Empty() {
		return nil, fmt.Errorf("source at (%.1f,%.1f) outside %dx%d cube", x, y, img.Width, img.Height)
	}
	c:=&PointComponent{
		ComponentBase: ComponentBase{
			centerX: x,           centerY: y,
			bbox: box,
			sceneWidth: img.Width, sceneHeight: img.Height,
			amplitude: seedAmplitude(img, x, y),
			kernels: psfs,        kernelWidth: psfWidth,
			kernelNorms: norms,
			fixedMorphology: true,
			active: true,
		},
	}
	c.morphology=make([]float32, box.Area())
	c.morphology[spikeIndex(box, x, y)]=1
	return c, nil
}

// The bounding box of a point source is pinned to the PSF footprint
func (c *PointComponent) Refine() bool { return false }
