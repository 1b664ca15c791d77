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


package blend

import (
	"math"
	"testing"
	"github.com/mlnoga/deblend/internal/constraint"
	"github.com/mlnoga/deblend/internal/cube"
	"github.com/mlnoga/deblend/internal/model"
)

// A 2-band cube with one gaussian source of the given per-band fluxes
func singleSourceScene(t *testing.T) (img *cube.Cube, wantA []float32) {
	t.Helper()
	img, err:=cube.New(2, 24, 24, nil)
	if err!=nil { t.Fatalf("cube: %s", err.Error()) }
	wantA=[]float32{3, 2}
	for b:=int32(0); b<2; b++ {
		band:=img.Band(b)
		for y:=int32(0); y<24; y++ {
			for x:=int32(0); x<24; x++ {
				dx, dy:=float64(x-12), float64(y-12)
				band[y*24+x]=wantA[b]*float32(math.Exp(-(dx*dx+dy*dy)/8.0)/(8.0*math.Pi))
			}
		}
	}
	return img, wantA
}

func relativeError(got, want []float32) float64 {
	diff, ref:=float64(0), float64(0)
	for i:=range got {
		d:=float64(got[i]-want[i])
		diff+=d*d
		ref +=float64(want[i])*float64(want[i])
	}
	return math.Sqrt(diff/ref)
}

func TestStateMachine(t *testing.T) {
	img, _:=singleSourceScene(t)
	comp, err:=model.NewExtendedComponent(img, 12, 12, 8, nil, 0, constraint.NewExtendedDefaults(0))
	if err!=nil { t.Fatalf("component: %s", err.Error()) }
	b:=NewBlend([]model.Component{comp}, nil)

	if b.State()!=Uninitialized { t.Errorf("initial state %v; want uninitialized", b.State()) }
	if err:=b.Fit(10, 1e-3); err==nil { t.Errorf("fit without data must fail") }
	if _, err:=b.Model(); err==nil { t.Errorf("model without data must fail") }

	if err:=b.SetData(img, []float32{1, 1}, nil); err!=nil { t.Fatalf("SetData failed: %s", err.Error()) }
	if b.State()!=Ready { t.Errorf("state %v after SetData; want ready", b.State()) }

	if err:=b.Fit(500, 1e-5); err!=nil { t.Fatalf("fit failed: %s", err.Error()) }
	if b.State()!=Converged && b.State()!=MaxIterExceeded {
		t.Errorf("state %v after fit; want converged or maxIterationsExceeded", b.State())
	}
	if b.Iterations()==0 { t.Errorf("no iterations recorded") }
	if len(b.LossHistory())==0 { t.Errorf("no loss history recorded") }
}

func TestSetDataValidation(t *testing.T) {
	img, _:=singleSourceScene(t)
	mono, _:=cube.New(1, 24, 24, nil)
	comp, err:=model.NewExtendedComponent(img, 12, 12, 8, nil, 0, nil)
	if err!=nil { t.Fatalf("component: %s", err.Error()) }
	b:=NewBlend([]model.Component{comp}, nil)

	if err:=b.SetData(mono, []float32{1}, nil); err==nil {
		t.Errorf("band count mismatch must fail")
	}
	if err:=b.SetData(img, []float32{1}, nil); err==nil {
		t.Errorf("noise length mismatch must fail")
	}
	if err:=b.SetData(nil, nil, nil); err==nil {
		t.Errorf("nil cube must fail")
	}
}

// A fit converging on a single isolated source must recover the scene to
// better than one percent
func TestSingleSourceRecovery(t *testing.T) {
	img, _:=singleSourceScene(t)
	comp, err:=model.NewExtendedComponent(img, 12, 12, 8, nil, 0, constraint.NewExtendedDefaults(0))
	if err!=nil { t.Fatalf("component: %s", err.Error()) }
	b:=NewBlend([]model.Component{comp}, nil)
	if err:=b.SetData(img, []float32{1, 1}, nil); err!=nil { t.Fatalf("SetData failed: %s", err.Error()) }
	if err:=b.Fit(500, 1e-6); err!=nil { t.Fatalf("fit failed: %s", err.Error()) }

	m, err:=b.Model()
	if err!=nil { t.Fatalf("model failed: %s", err.Error()) }
	if rel:=relativeError(m.Data, img.Data); rel>=0.01 {
		t.Errorf("relative model error %f; want <0.01", rel)
	}

	losses:=b.LossHistory()
	if losses[len(losses)-1]>losses[0] {
		t.Errorf("loss increased from %g to %g", losses[0], losses[len(losses)-1])
	}
}

// Under morphology normalization, every free component must keep its
// morphology at exactly unit sum throughout the fit
func TestNormalizationInvariant(t *testing.T) {
	img, _:=singleSourceScene(t)
	comp, err:=model.NewExtendedComponent(img, 12, 12, 8, nil, 0, constraint.NewExtendedDefaults(0))
	if err!=nil { t.Fatalf("component: %s", err.Error()) }
	b:=NewBlend([]model.Component{comp}, nil)
	if err:=b.SetData(img, []float32{1, 1}, nil); err!=nil { t.Fatalf("SetData failed: %s", err.Error()) }
	for it:=0; it<5; it++ {
		if err:=b.Fit(1, 1e-9); err!=nil { t.Fatalf("fit failed: %s", err.Error()) }
		sum:=float32(0)
		for _,m:=range comp.Morphology() { sum+=m }
		if math.Abs(float64(sum-1))>1e-4 {
			t.Errorf("iteration %d: morphology sum %f; want 1", b.Iterations(), sum)
		}
	}
}

// Zero iterations must leave factors, loss history and model untouched
func TestFitZeroIterationsIdempotent(t *testing.T) {
	img, _:=singleSourceScene(t)
	comp, err:=model.NewExtendedComponent(img, 12, 12, 8, nil, 0, constraint.NewExtendedDefaults(0))
	if err!=nil { t.Fatalf("component: %s", err.Error()) }
	b:=NewBlend([]model.Component{comp}, nil)
	if err:=b.SetData(img, []float32{1, 1}, nil); err!=nil { t.Fatalf("SetData failed: %s", err.Error()) }
	if err:=b.Fit(20, 1e-6); err!=nil { t.Fatalf("fit failed: %s", err.Error()) }

	amp:=append([]float32(nil), comp.Amplitude()...)
	morph:=append([]float32(nil), comp.Morphology()...)
	iters, losses:=b.Iterations(), len(b.LossHistory())
	m1, _:=b.Model()

	if err:=b.Fit(0, 1e-6); err!=nil { t.Fatalf("zero iteration fit failed: %s", err.Error()) }
	if b.Iterations()!=iters { t.Errorf("iterations %d; want %d", b.Iterations(), iters) }
	if len(b.LossHistory())!=losses { t.Errorf("loss history grew to %d; want %d", len(b.LossHistory()), losses) }
	for i:=range amp {
		if comp.Amplitude()[i]!=amp[i] { t.Errorf("amplitude[%d] changed", i) }
	}
	for i:=range morph {
		if comp.Morphology()[i]!=morph[i] { t.Errorf("morphology[%d] changed", i) }
	}
	m2, _:=b.Model()
	for i:=range m1.Data {
		if m1.Data[i]!=m2.Data[i] { t.Fatalf("model changed at %d", i) }
	}
}

// Two well separated point sources with known amplitudes: fifty iterations
// must recover the per-band amplitudes within two percent and leave the
// pinned morphologies untouched
func TestTwoPointSources(t *testing.T) {
	img, err:=cube.New(2, 24, 24, nil)
	if err!=nil { t.Fatalf("cube: %s", err.Error()) }
	wantA:=[][]float32{{4, 1}, {1, 2}}
	positions:=[][2]float32{{8, 12}, {16, 12}}
	for k:=range positions {
		truth, err:=model.NewPointComponent(img, positions[k][0], positions[k][1], nil, 0)
		if err!=nil { t.Fatalf("truth %d: %s", k, err.Error()) }
		if err:=truth.SetAmplitude(wantA[k]); err!=nil { t.Fatalf("SetAmplitude: %s", err.Error()) }
		truth.Render(img)
	}

	comps:=make([]model.Component, len(positions))
	morphs:=make([][]float32, len(positions))
	for k:=range positions {
		comp, err:=model.NewPointComponent(img, positions[k][0], positions[k][1], nil, 0)
		if err!=nil { t.Fatalf("component %d: %s", k, err.Error()) }
		comps[k]=comp
		morphs[k]=append([]float32(nil), comp.Morphology()...)
	}
	b:=NewBlend(comps, nil)
	if err:=b.SetData(img, []float32{1, 1}, nil); err!=nil { t.Fatalf("SetData failed: %s", err.Error()) }
	if err:=b.Fit(50, 1e-9); err!=nil { t.Fatalf("fit failed: %s", err.Error()) }

	for k, comp:=range comps {
		for band, a:=range comp.Amplitude() {
			want:=wantA[k][band]
			if math.Abs(float64(a/want-1))>0.02 {
				t.Errorf("component %d band %d amplitude %f; want %f within 2%%", k, band, a, want)
			}
		}
		for i, m:=range comp.Morphology() {
			if m!=morphs[k][i] {
				t.Errorf("component %d morphology[%d] changed from %f to %f", k, i, morphs[k][i], m)
			}
		}
	}
}

// On a noiseless correctly specified scene the model flux must approach the
// observed flux
func TestFluxConservation(t *testing.T) {
	img, _:=singleSourceScene(t)
	comp, err:=model.NewExtendedComponent(img, 12, 12, 8, nil, 0, constraint.NewExtendedDefaults(0))
	if err!=nil { t.Fatalf("component: %s", err.Error()) }
	b:=NewBlend([]model.Component{comp}, nil)
	if err:=b.SetData(img, []float32{1, 1}, nil); err!=nil { t.Fatalf("SetData failed: %s", err.Error()) }
	if err:=b.Fit(500, 1e-6); err!=nil { t.Fatalf("fit failed: %s", err.Error()) }

	m, _:=b.Model()
	got, want:=m.TotalFlux(), img.TotalFlux()
	if math.Abs(got/want-1)>0.02 {
		t.Errorf("model flux %f; want %f within 2%%", got, want)
	}
}

func TestModelOf(t *testing.T) {
	img, err:=cube.New(1, 24, 24, nil)
	if err!=nil { t.Fatalf("cube: %s", err.Error()) }
	comps:=make([]model.Component, 2)
	for k, x:=range []float32{8, 16} {
		comp, err:=model.NewPointComponent(img, x, 12, nil, 0)
		if err!=nil { t.Fatalf("component %d: %s", k, err.Error()) }
		if err:=comp.SetAmplitude([]float32{float32(k+1)}); err!=nil { t.Fatalf("SetAmplitude: %s", err.Error()) }
		comps[k]=comp
	}
	b:=NewBlend(comps, nil)
	if err:=b.SetData(img, []float32{1}, nil); err!=nil { t.Fatalf("SetData failed: %s", err.Error()) }

	joint, err:=b.Model()
	if err!=nil { t.Fatalf("model failed: %s", err.Error()) }
	m0, err:=b.ModelOf(0)
	if err!=nil { t.Fatalf("modelOf(0) failed: %s", err.Error()) }
	m1, err:=b.ModelOf(1)
	if err!=nil { t.Fatalf("modelOf(1) failed: %s", err.Error()) }
	for i:=range joint.Data {
		if d:=joint.Data[i]-m0.Data[i]-m1.Data[i]; math.Abs(float64(d))>1e-6 {
			t.Fatalf("joint model differs from sum of contributions at %d by %f", i, d)
		}
	}
	if _, err:=b.ModelOf(2); err==nil { t.Errorf("out of range index must fail") }
	if _, err:=b.ModelOf(-1); err==nil { t.Errorf("negative index must fail") }
}

// A non-finite input pixel poisons the loss; the fit must fail with a
// rollback instead of corrupting component state
func TestDivergenceRollback(t *testing.T) {
	img, _:=singleSourceScene(t)
	comp, err:=model.NewExtendedComponent(img, 12, 12, 8, nil, 0, constraint.NewExtendedDefaults(0))
	if err!=nil { t.Fatalf("component: %s", err.Error()) }
	b:=NewBlend([]model.Component{comp}, nil)
	if err:=b.SetData(img, []float32{1, 1}, nil); err!=nil { t.Fatalf("SetData failed: %s", err.Error()) }

	amp:=append([]float32(nil), comp.Amplitude()...)
	img.Data[0]=float32(math.NaN())
	if err:=b.Fit(10, 1e-3); err==nil { t.Fatalf("expected divergence error") }
	if b.State()!=Ready { t.Errorf("state %v after divergence; want ready", b.State()) }
	for i:=range amp {
		if comp.Amplitude()[i]!=amp[i] { t.Errorf("amplitude[%d] corrupted after rollback", i) }
	}
}

func TestFitParameterValidation(t *testing.T) {
	img, _:=singleSourceScene(t)
	comp, err:=model.NewExtendedComponent(img, 12, 12, 8, nil, 0, nil)
	if err!=nil { t.Fatalf("component: %s", err.Error()) }
	b:=NewBlend([]model.Component{comp}, nil)
	if err:=b.SetData(img, []float32{1, 1}, nil); err!=nil { t.Fatalf("SetData failed: %s", err.Error()) }
	if err:=b.Fit(-1, 1e-3); err==nil { t.Errorf("negative iteration budget must fail") }
	if err:=b.Fit(10, 0); err==nil { t.Errorf("zero tolerance must fail") }
	if err:=b.Fit(10, -1); err==nil { t.Errorf("negative tolerance must fail") }
}
