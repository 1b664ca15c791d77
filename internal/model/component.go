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
	"math"
	"github.com/mlnoga/deblend/internal/conv"
	"github.com/mlnoga/deblend/internal/constraint"
	"github.com/mlnoga/deblend/internal/cube"
	"github.com/mlnoga/deblend/internal/geom"
)

// Momentum coefficient for accelerated gradient steps
const momentum = 0.9

// One source in a scene, factorized into a per-band amplitude vector and a
// single morphology image over its bounding box. The contribution of a
// component to band b is the convolution of its per-band kernel with
// amplitude[b] times the morphology, evaluated on the bounding box and zero
// outside it
type Component interface {
	Center() (x, y float32)
	BBox() geom.Rect
	Bands() int32
	Amplitude() []float32
	Morphology() []float32
	SetAmplitude(a []float32) error
	IsActive() bool
	Deactivate()

	// Render adds the component's contribution to the given cube
	Render(dst *cube.Cube)
	// Step updates the free factors with one projected gradient step,
	// based on a snapshot of the global residual and per-band weights
	Step(residual *cube.Cube, weights []float32, accelerated bool)
	// Project applies the component's constraints and the joint normalization
	Project(mode constraint.NormMode)
	// Refine recomputes the bounding box from the current morphology support.
	// Returns true if the box changed
	Refine() bool

	PenaltyLoss() float64
	RelativeChange() float64
	ResetMomentum()
	Save()
	Restore()
}

// Shared state and machinery of all component variants. Uses the golang
// workaround for abstract classes from https://golangbyexample.com/go-abstract-class/
type ComponentBase struct {
	centerX, centerY   float32
	bbox               geom.Rect
	sceneWidth         int32
	sceneHeight        int32

	amplitude          []float32
	morphology         []float32     // row-major over bbox

	kernels            [][]float32   // per-band convolution kernels, or nil for identity
	kernelWidth        int32
	kernelNorms        []float32     // per-band L1 norms, 1 for identity

	constraints        *constraint.Set
	fixedAmplitude     bool
	fixedMorphology    bool
	l2Penalty          float32
	active             bool
	degenerate         bool

	velocityA          []float32     // momentum state, reset on resize and restore
	velocityS          []float32

	savedAmplitude     []float32     // last valid state for divergence recovery
	savedMorphology    []float32
	savedBBox          geom.Rect
}

func (c *ComponentBase) Center() (x, y float32) { return c.centerX, c.centerY }
func (c *ComponentBase) BBox() geom.Rect        { return c.bbox }
func (c *ComponentBase) Bands() int32           { return int32(len(c.amplitude)) }
func (c *ComponentBase) Amplitude() []float32   { return c.amplitude }
func (c *ComponentBase) Morphology() []float32  { return c.morphology }
func (c *ComponentBase) IsActive() bool         { return c.active }
func (c *ComponentBase) Deactivate()            { c.active=false }

func (c *ComponentBase) SetAmplitude(a []float32) error {
	if len(a)!=len(c.amplitude) {
		return fmt.Errorf("amplitude has %d bands; component has %d", len(a), len(c.amplitude))
	}
	copy(c.amplitude, a)
	return nil
}

// Validates kernels against the band count and computes their L1 norms
func prepareKernels(kernels [][]float32, kernelWidth, bands int32) (norms []float32, err error) {
	norms=make([]float32, bands)
	for b:=range norms { norms[b]=1 }
	if kernels==nil { return norms, nil }
	if int32(len(kernels))!=bands {
		return nil, fmt.Errorf("%d kernels for %d bands", len(kernels), bands)
	}
	if kernelWidth<=0 {
		return nil, fmt.Errorf("invalid kernel width %d", kernelWidth)
	}
	for b, k:=range kernels {
		if k==nil { continue }
		if int32(len(k))%kernelWidth!=0 {
			return nil, fmt.Errorf("kernel %d length %d not divisible by width %d", b, len(k), kernelWidth)
		}
		sum:=float32(0)
		for _,v:=range k {
			if v>=0 { sum+=v } else { sum-=v }
		}
		norms[b]=sum
	}
	return norms, nil
}

// The component's contribution to band b for unit amplitude. Callers must
// treat the result as read-only, as it aliases the morphology for identity kernels
func (c *ComponentBase) unitContribution(b int32) []float32 {
	if c.kernels==nil || c.kernels[b]==nil { return c.morphology }
	return conv.Convolve(c.morphology, c.bbox.Width(), c.kernels[b], c.kernelWidth)
}

// Copies the bounding box region of the given residual band into dst,
// allocating it if nil
func (c *ComponentBase) residualPatch(res *cube.Cube, b int32, dst []float32) []float32 {
	if dst==nil { dst=make([]float32, c.bbox.Area()) }
	band:=res.Band(b)
	i:=0
	for y:=c.bbox.Y0; y<c.bbox.Y1; y++ {
		row:=y*res.Width
		for x:=c.bbox.X0; x<c.bbox.X1; x++ {
			dst[i]=band[row+x]
			i++
		}
	}
	return dst
}

func (c *ComponentBase) Render(dst *cube.Cube) {
	if !c.active { return }
	for b:=int32(0); b<c.Bands(); b++ {
		amp:=c.amplitude[b]
		if amp==0 { continue }
		contrib:=c.unitContribution(b)
		band:=dst.Band(b)
		i:=0
		for y:=c.bbox.Y0; y<c.bbox.Y1; y++ {
			row:=y*dst.Width
			for x:=c.bbox.X0; x<c.bbox.X1; x++ {
				band[row+x]+=amp*contrib[i]
				i++
			}
		}
	}
}

// One gradient step on the free factors, from a snapshot of the global
// residual. The amplitude update is an exact per-band minimizer given the
// morphology; the morphology update is a gradient step with a Lipschitz
// bounded step size. Both read shared state, but write only this component
func (c *ComponentBase) Step(res *cube.Cube, weights []float32, accelerated bool) {
	if !c.active { return }
	bands, n:=c.Bands(), c.bbox.Area()
	patch:=make([]float32, n)

	if !c.fixedAmplitude {
		if accelerated && c.velocityA==nil { c.velocityA=make([]float32, bands) }
		for b:=int32(0); b<bands; b++ {
			contrib:=c.unitContribution(b)
			patch=c.residualPatch(res, b, patch)
			num, denom:=float64(0), float64(0)
			for i:=int32(0); i<n; i++ {
				num  +=float64(patch[i])*float64(contrib[i])
				denom+=float64(contrib[i])*float64(contrib[i])
			}
			if denom<=0 { continue }
			delta:=float32(num/denom)
			if accelerated {
				c.velocityA[b]=momentum*c.velocityA[b]+delta
				delta=c.velocityA[b]
			}
			c.amplitude[b]+=delta
		}
	}

	if !c.fixedMorphology {
		lipschitz:=float64(c.l2Penalty)
		for b:=int32(0); b<bands; b++ {
			a, norm:=float64(c.amplitude[b]), float64(c.kernelNorms[b])
			lipschitz+=float64(weights[b])*a*a*norm*norm
		}
		if lipschitz<=0 { return }
		grad:=make([]float32, n)
		for b:=int32(0); b<bands; b++ {
			amp:=c.amplitude[b]
			if amp==0 { continue }
			patch=c.residualPatch(res, b, patch)
			corr:=patch
			if c.kernels!=nil && c.kernels[b]!=nil {
				corr=conv.Correlate(patch, c.bbox.Width(), c.kernels[b], c.kernelWidth)
			}
			wa:=weights[b]*amp
			for i:=int32(0); i<n; i++ { grad[i]+=wa*corr[i] }
		}
		if c.l2Penalty>0 {
			for i:=int32(0); i<n; i++ { grad[i]-=c.l2Penalty*c.morphology[i] }
		}
		eta:=float32(1.0/lipschitz)
		if accelerated {
			if c.velocityS==nil || len(c.velocityS)!=len(c.morphology) {
				c.velocityS=make([]float32, len(c.morphology))
			}
			for i:=int32(0); i<n; i++ {
				c.velocityS[i]=momentum*c.velocityS[i]+eta*grad[i]
				c.morphology[i]+=c.velocityS[i]
			}
		} else {
			for i:=int32(0); i<n; i++ { c.morphology[i]+=eta*grad[i] }
		}
	}
}

// Applies the shape constraints to the morphology and the joint scene
// normalization to both factors. Components with a fixed factor keep that
// factor at its construction-time normalization and skip the joint rescaling
func (c *ComponentBase) Project(mode constraint.NormMode) {
	if !c.active { return }
	if !c.fixedMorphology && c.constraints!=nil {
		cx, cy:=c.centerX-float32(c.bbox.X0), c.centerY-float32(c.bbox.Y0)
		c.constraints.Project(c.morphology, c.bbox.Width(), cx, cy)
	}
	if !c.fixedMorphology && !c.fixedAmplitude {
		constraint.Normalize(c.amplitude, c.morphology, mode)
	}
}

// The component's additive contribution to the scene loss
func (c *ComponentBase) PenaltyLoss() float64 {
	if !c.active || c.l2Penalty==0 { return 0 }
	sum:=float64(0)
	for _,m:=range c.morphology { sum+=float64(m)*float64(m) }
	return 0.5*float64(c.l2Penalty)*sum
}

// Relative L2 change of the factors versus the last saved state. Returns 1
// if shapes changed, or +Inf if no state was saved yet
func (c *ComponentBase) RelativeChange() float64 {
	if c.savedAmplitude==nil { return math.Inf(1) }
	if len(c.savedAmplitude)!=len(c.amplitude) || len(c.savedMorphology)!=len(c.morphology) { return 1 }
	return math.Max(relativeL2(c.amplitude,  c.savedAmplitude),
	                relativeL2(c.morphology, c.savedMorphology))
}

func relativeL2(cur, prev []float32) float64 {
	diff, ref:=float64(0), float64(0)
	for i:=range cur {
		d:=float64(cur[i]-prev[i])
		diff+=d*d
		ref +=float64(prev[i])*float64(prev[i])
	}
	if ref==0 {
		if diff==0 { return 0 }
		return 1
	}
	return math.Sqrt(diff/ref)
}

// Discards accumulated momentum, e.g. when the scene is rebound
func (c *ComponentBase) ResetMomentum() {
	c.velocityA, c.velocityS=nil, nil
}

// Save records the current factors and box as the last valid state
func (c *ComponentBase) Save() {
	c.savedAmplitude =append(c.savedAmplitude [:0], c.amplitude...)
	c.savedMorphology=append(c.savedMorphology[:0], c.morphology...)
	c.savedBBox=c.bbox
}

// Restore rolls the factors and box back to the last valid state and
// discards momentum
func (c *ComponentBase) Restore() {
	if c.savedAmplitude==nil { return }
	c.amplitude =append(c.amplitude [:0], c.savedAmplitude...)
	c.morphology=append(c.morphology[:0], c.savedMorphology...)
	c.bbox=c.savedBBox
	c.velocityA, c.velocityS=nil, nil
}

// Changes the bounding box and resizes the factor arrays, preserving
// morphology values at their prior cube locations. Momentum is discarded
func (c *ComponentBase) resizeTo(box geom.Rect) {
	if box==c.bbox { return }
	morph:=make([]float32, box.Area())
	geom.CopyOverlap(morph, box, c.morphology, c.bbox)
	c.morphology=morph
	c.bbox=box
	c.velocityS=nil
}
