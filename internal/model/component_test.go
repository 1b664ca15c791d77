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
	"math"
	"testing"
	"github.com/mlnoga/deblend/internal/constraint"
	"github.com/mlnoga/deblend/internal/cube"
	"github.com/mlnoga/deblend/internal/geom"
)

// A 1-band 16x16 cube with a gaussian blob of the given total flux at (cx,cy)
func blobCube(t *testing.T, cx, cy float32, flux float32) *cube.Cube {
	t.Helper()
	c, err:=cube.New(1, 16, 16, nil)
	if err!=nil { t.Fatalf("cube: %s", err.Error()) }
	data:=c.Band(0)
	for y:=int32(0); y<16; y++ {
		for x:=int32(0); x<16; x++ {
			dx, dy:=float64(float32(x)-cx), float64(float32(y)-cy)
			data[y*16+x]=flux*float32(math.Exp(-(dx*dx+dy*dy)/4.0)/(4.0*math.Pi))
		}
	}
	return c
}

func TestNewExtendedComponent(t *testing.T) {
	img:=blobCube(t, 8, 8, 100)
	comp, err:=NewExtendedComponent(img, 8, 8, 5, nil, 0, constraint.NewExtendedDefaults(0))
	if err!=nil { t.Fatalf("NewExtendedComponent failed: %s", err.Error()) }
	if got:=comp.BBox(); got!=geom.NewRect(3,3,14,14) {
		t.Errorf("bbox %v; want [3:14,3:14]", got)
	}
	if comp.Bands()!=1 { t.Errorf("bands %d; want 1", comp.Bands()) }
	peak:=img.Band(0)[8*16+8]
	if a:=comp.Amplitude()[0]; a!=peak {
		t.Errorf("amplitude seed %f; want center value %f", a, peak)
	}
	for i,m:=range comp.Morphology() {
		if m<0 { t.Errorf("negative morphology seed %f at %d", m, i) }
	}
}

func TestNewComponentOutsideCube(t *testing.T) {
	img:=blobCube(t, 8, 8, 100)
	if _, err:=NewExtendedComponent(img, 40, 8, 5, nil, 0, nil); err==nil {
		t.Errorf("expected error for source outside cube")
	}
	if _, err:=NewPointComponent(img, -20, -20, nil, 0); err==nil {
		t.Errorf("expected error for point source outside cube")
	}
}

func TestKernelBandMismatch(t *testing.T) {
	img:=blobCube(t, 8, 8, 100)  // one band
	kernels:=[][]float32{{1},{1}} // two kernels
	if _, err:=NewExtendedComponent(img, 8, 8, 5, kernels, 1, nil); err==nil {
		t.Errorf("expected error for kernel band count mismatch")
	}
}

func TestPointRender(t *testing.T) {
	img:=blobCube(t, 8, 8, 100)
	psf:=[]float32{
		0,    0.1,  0,
		0.1,  0.6,  0.1,
		0,    0.1,  0,
	}
	comp, err:=NewPointComponent(img, 8, 8, [][]float32{psf}, 3)
	if err!=nil { t.Fatalf("NewPointComponent failed: %s", err.Error()) }
	if err:=comp.SetAmplitude([]float32{2}); err!=nil { t.Fatalf("SetAmplitude: %s", err.Error()) }

	dst, _:=cube.New(1, 16, 16, nil)
	comp.Render(dst)
	band:=dst.Band(0)
	if got:=band[8*16+8]; math.Abs(float64(got-1.2))>1e-6 {
		t.Errorf("center %f; want 1.2", got)
	}
	if got:=band[8*16+9]; math.Abs(float64(got-0.2))>1e-6 {
		t.Errorf("right neighbor %f; want 0.2", got)
	}
	if got:=band[6*16+8]; got!=0 {
		t.Errorf("outside psf footprint %f; want 0", got)
	}
	sum:=float32(0)
	for _,v:=range band { sum+=v }
	if math.Abs(float64(sum-2))>1e-5 {
		t.Errorf("total flux %f; want 2", sum)
	}
}

// A single amplitude step against a fuller residual is an exact per-band
// minimizer, so one step must recover a known amplitude exactly
func TestStepRecoversAmplitude(t *testing.T) {
	img, _:=cube.New(2, 16, 16, nil)
	truth, err:=NewPointComponent(img, 8, 8, nil, 0)
	if err!=nil { t.Fatalf("NewPointComponent failed: %s", err.Error()) }
	if err:=truth.SetAmplitude([]float32{2, 3}); err!=nil { t.Fatalf("SetAmplitude: %s", err.Error()) }
	truth.Render(img)

	comp, err:=NewPointComponent(img, 8, 8, nil, 0)
	if err!=nil { t.Fatalf("NewPointComponent failed: %s", err.Error()) }

	model, _:=cube.New(2, 16, 16, nil)
	comp.Render(model)
	residual:=img.Clone()
	for i:=range residual.Data { residual.Data[i]-=model.Data[i] }

	comp.Step(residual, []float32{1, 1}, false)
	want:=[]float32{2, 3}
	for b, a:=range comp.Amplitude() {
		if math.Abs(float64(a-want[b]))>1e-4 {
			t.Errorf("band %d amplitude %f; want %f", b, a, want[b])
		}
	}
	for i, m:=range comp.Morphology() {
		want:=float32(0)
		if i==int(comp.BBox().Index(8, 8)) { want=1 }
		if m!=want { t.Errorf("morphology[%d]=%f changed; want %f", i, m, want) }
	}
}

func TestProjectNormalization(t *testing.T) {
	img:=blobCube(t, 8, 8, 100)
	comp, err:=NewExtendedComponent(img, 8, 8, 4, nil, 0, constraint.NewExtendedDefaults(0))
	if err!=nil { t.Fatalf("NewExtendedComponent failed: %s", err.Error()) }
	before:=comp.Amplitude()[0]*comp.Morphology()[len(comp.Morphology())/2]

	comp.Project(constraint.NormMorphology)
	sum:=float32(0)
	for _,m:=range comp.Morphology() { sum+=m }
	if math.Abs(float64(sum-1))>1e-5 { t.Errorf("morphology sum %f; want 1", sum) }
	after:=comp.Amplitude()[0]*comp.Morphology()[len(comp.Morphology())/2]
	if math.Abs(float64(after-before))>1e-5 {
		t.Errorf("projection changed the factor product from %f to %f", before, after)
	}
}

func TestRefine(t *testing.T) {
	img:=blobCube(t, 8, 8, 100)
	comp, err:=NewExtendedComponent(img, 8, 8, 6, nil, 0, nil)
	if err!=nil { t.Fatalf("NewExtendedComponent failed: %s", err.Error()) }

	// confine the morphology to a 3x3 block around the center
	morph:=comp.Morphology()
	box:=comp.BBox()
	for i:=range morph { morph[i]=0 }
	for y:=int32(7); y<10; y++ {
		for x:=int32(7); x<10; x++ { morph[box.Index(x,y)]=1 }
	}
	if !comp.Refine() { t.Fatalf("refine did not change the box") }
	if got:=comp.BBox(); got!=geom.NewRect(5,5,12,12) {
		t.Errorf("refined bbox %v; want [5:12,5:12]", got)
	}
	if got:=comp.Morphology()[comp.BBox().Index(8,8)]; got!=1 {
		t.Errorf("center value %f after resize; want 1", got)
	}
	sum:=float32(0)
	for _,m:=range comp.Morphology() { sum+=m }
	if sum!=9 { t.Errorf("flux %f after resize; want 9", sum) }
}

func TestRefineDegenerate(t *testing.T) {
	img:=blobCube(t, 8, 8, 100)
	comp, err:=NewExtendedComponent(img, 8, 8, 6, nil, 0, nil)
	if err!=nil { t.Fatalf("NewExtendedComponent failed: %s", err.Error()) }

	morph:=comp.Morphology()
	for i:=range morph { morph[i]=0 }
	comp.Refine()
	if !comp.IsActive() { t.Fatalf("component inactive after first empty refine; want one retry") }
	if got:=comp.BBox(); got.Width()!=1 || got.Height()!=1 {
		t.Errorf("degenerate bbox %v; want 1x1", got)
	}
	comp.Refine()
	if comp.IsActive() { t.Errorf("component still active after second empty refine") }
}

func TestSaveRestore(t *testing.T) {
	img:=blobCube(t, 8, 8, 100)
	comp, err:=NewExtendedComponent(img, 8, 8, 4, nil, 0, nil)
	if err!=nil { t.Fatalf("NewExtendedComponent failed: %s", err.Error()) }
	comp.Save()
	savedA:=append([]float32(nil), comp.Amplitude()...)
	savedS:=append([]float32(nil), comp.Morphology()...)
	savedBox:=comp.BBox()

	comp.Amplitude()[0]=float32(math.NaN())
	for i:=range comp.Morphology() { comp.Morphology()[i]*=7 }
	if comp.RelativeChange()==0 { t.Errorf("relative change zero after mutation") }

	comp.Restore()
	if comp.BBox()!=savedBox { t.Errorf("bbox %v after restore; want %v", comp.BBox(), savedBox) }
	for i:=range savedA {
		if comp.Amplitude()[i]!=savedA[i] { t.Errorf("amplitude[%d]=%f; want %f", i, comp.Amplitude()[i], savedA[i]) }
	}
	for i:=range savedS {
		if comp.Morphology()[i]!=savedS[i] { t.Errorf("morphology[%d]=%f; want %f", i, comp.Morphology()[i], savedS[i]) }
	}
	if comp.RelativeChange()!=0 { t.Errorf("relative change %f after restore; want 0", comp.RelativeChange()) }
}
