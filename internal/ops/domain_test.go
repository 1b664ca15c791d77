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


package ops

import (
	"math"
	"os"
	"testing"
	"github.com/mlnoga/deblend/internal/catalog"
	"github.com/mlnoga/deblend/internal/cube"
	"github.com/mlnoga/deblend/internal/fits"
)

// A 2-band cube with one gaussian source of the given per-band fluxes
func gaussScene(t *testing.T) (img *cube.Cube, wantA []float32) {
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

func moffatStamp(alpha float64, width int32) []float32 {
	beta:=3.0
	data:=make([]float32, width*width)
	center:=float64(width-1)/2
	for y:=int32(0); y<width; y++ {
		for x:=int32(0); x<width; x++ {
			dx, dy:=float64(x)-center, float64(y)-center
			r2:=dx*dx+dy*dy
			data[y*width+x]=float32(math.Pow(1+r2/(alpha*alpha), -beta))
		}
	}
	return data
}

func TestOpCubeAssemble(t *testing.T) {
	ins:=[]Promise{}
	for _, id:=range []int{2, 0, 1} { // deliberately out of order
		data:=make([]float32, 5*4)
		for i:=range data { data[i]=float32(id+1) }
		f:=fits.NewImageFromNaxisn([]int32{5, 4}, data)
		f.ID=id
		f.Exposure=10*float32(id+1)
		f.Noise=[]float32{0.05*float32(id+1)}
		ins=append(ins, promiseFor(f))
	}

	outs, err:=NewOpCube().MakePromises(ins, testContext())
	if err!=nil { t.Fatalf("cube: %s", err.Error()) }
	if len(outs)!=1 { t.Fatalf("%d outputs; want 1", len(outs)) }
	f, err:=outs[0]()
	if err!=nil { t.Fatalf("materialize: %s", err.Error()) }

	if !fits.EqualInt32Slice(f.Naxisn, []int32{5, 4, 3}) { t.Fatalf("dimensions %v; want [5 4 3]", f.Naxisn) }
	for b:=0; b<3; b++ { // planes follow ascending ID order
		for i:=0; i<5*4; i++ {
			if f.Data[b*5*4+i]!=float32(b+1) { t.Fatalf("band %d pixel %d is %f; want %d", b, i, f.Data[b*5*4+i], b+1) }
		}
	}
	if f.Exposure!=60 { t.Errorf("exposure %f; want 60", f.Exposure) }
	want:=[]float32{0.05, 0.10, 0.15}
	if len(f.Noise)!=3 { t.Fatalf("noise %v; want 3 values", f.Noise) }
	for b:=range want {
		if math.Abs(float64(f.Noise[b]-want[b]))>1e-6 { t.Errorf("noise[%d]=%f; want %f", b, f.Noise[b], want[b]) }
	}
}

func TestOpCubeMismatch(t *testing.T) {
	a:=fits.NewImageFromNaxisn([]int32{5, 4}, nil)
	b:=fits.NewImageFromNaxisn([]int32{6, 4}, nil)
	b.ID=1
	outs, err:=NewOpCube().MakePromises([]Promise{promiseFor(a), promiseFor(b)}, testContext())
	if err!=nil { t.Fatalf("cube: %s", err.Error()) }
	if _, err:=outs[0](); err==nil { t.Errorf("mismatched dimensions must fail") }

	if _, err:=NewOpCube().MakePromises(nil, testContext()); err==nil { t.Errorf("cube without inputs must fail") }
}

func TestOpNoise(t *testing.T) {
	data:=make([]float32, 32*32)
	for i:=range data { // alternating pattern with a non-zero high frequency component
		data[i]=float32((i%2)*2-1)
	}
	f:=fits.NewImageFromNaxisn([]int32{32, 32}, data)

	res, err:=NewOpNoise().Apply(f, testContext())
	if err!=nil { t.Fatalf("noise: %s", err.Error()) }
	if res!=f { t.Errorf("noise must pass the image through") }
	if len(f.Noise)!=1 { t.Fatalf("noise %v; want one value", f.Noise) }
	if f.Noise[0]<=0 { t.Errorf("noise %f; want positive", f.Noise[0]) }
}

func TestOpStats(t *testing.T) {
	scene, _:=gaussScene(t)
	f:=fits.NewImageFromCube(scene)
	res, err:=NewOpStats().Apply(f, testContext())
	if err!=nil { t.Fatalf("stats: %s", err.Error()) }
	if res!=f { t.Errorf("stats must pass the image through") }
	if f.Stats==nil { t.Errorf("stats not recorded on the image") }
}

func TestOpPSFMatch(t *testing.T) {
	chTempDir(t)
	for b, alpha:=range []float64{1.5, 2.2} {
		img:=fits.NewImageFromNaxisn([]int32{21, 21}, moffatStamp(alpha, 21))
		name:=[]string{"psf_0.fits", "psf_1.fits"}[b]
		if err:=img.WriteFile(name); err!=nil { t.Fatalf("write %s: %s", name, err.Error()) }
	}

	c:=testContext()
	op:=NewOpPSFMatch([]string{"psf_*.fits"})
	f:=fits.NewImageFromNaxisn([]int32{8, 8}, nil)
	res, err:=op.Apply(f, c)
	if err!=nil { t.Fatalf("psfMatch: %s", err.Error()) }
	if res!=f { t.Errorf("psfMatch must pass the image through") }
	if c.PSF==nil { t.Fatalf("no psf match result stored in context") }
	if len(c.PSF.Kernels)!=2 { t.Errorf("%d kernels; want 2", len(c.PSF.Kernels)) }
	if c.PSF.KernelWidth!=21 { t.Errorf("kernel width %d; want 21", c.PSF.KernelWidth) }
	if c.PSF.TargetFWHM<1.3 || c.PSF.TargetFWHM>1.8 {
		t.Errorf("target FWHM %f; want near 1.53 for the narrowest band", c.PSF.TargetFWHM)
	}

	prev:=c.PSF
	if _, err:=op.Apply(f, c); err!=nil { t.Fatalf("second psfMatch: %s", err.Error()) }
	if c.PSF!=prev { t.Errorf("psfMatch must only run once per pipeline") }
}

func TestOpDeblendEndToEnd(t *testing.T) {
	chTempDir(t)
	scene, wantA:=gaussScene(t)
	img:=fits.NewImageFromCube(scene)
	if err:=img.WriteFile("scene.fits"); err!=nil { t.Fatalf("write scene: %s", err.Error()) }
	if err:=os.WriteFile("cat.csv", []byte("12,12,false\n"), 0644); err!=nil { t.Fatalf("write catalog: %s", err.Error()) }

	c:=testContext()
	load:=NewOpLoad(0, "scene.fits")
	ins, err:=load.MakePromises(nil, c)
	if err!=nil { t.Fatalf("load: %s", err.Error()) }

	calls:=0
	counted:=Promise(func() (*fits.Image, error) { calls++; return ins[0]() })

	op:=NewOpDeblend("cat.csv")
	op.CatalogOut="out.csv"
	op.Radius=8
	op.Config.MaxIterations=500
	op.Config.RelTolerance=1e-6
	outs, err:=op.MakePromises([]Promise{counted}, c)
	if err!=nil { t.Fatalf("deblend: %s", err.Error()) }
	if len(outs)!=2 { t.Fatalf("%d outputs; want model and residual", len(outs)) }

	mod, err:=outs[0]()
	if err!=nil { t.Fatalf("model: %s", err.Error()) }
	resid, err:=outs[1]()
	if err!=nil { t.Fatalf("residual: %s", err.Error()) }
	if calls!=1 { t.Errorf("input materialized %d times; want 1", calls) }
	if mod.ID!=0 || resid.ID!=1 { t.Errorf("output ids %d,%d; want 0,1", mod.ID, resid.ID) }
	if !fits.EqualInt32Slice(mod.Naxisn, []int32{24, 24, 2}) { t.Fatalf("model dimensions %v; want [24 24 2]", mod.Naxisn) }
	if !fits.EqualInt32Slice(resid.Naxisn, []int32{24, 24, 2}) { t.Fatalf("residual dimensions %v; want [24 24 2]", resid.Naxisn) }

	diff, ref:=float64(0), float64(0)
	for i:=range scene.Data {
		d:=float64(mod.Data[i]-scene.Data[i])
		diff+=d*d
		ref +=float64(scene.Data[i])*float64(scene.Data[i])
		if sum:=mod.Data[i]+resid.Data[i]; math.Abs(float64(sum-scene.Data[i]))>1e-5 {
			t.Fatalf("model+residual=%f at %d; want %f", sum, i, scene.Data[i])
		}
	}
	if rel:=math.Sqrt(diff/ref); rel>=0.02 {
		t.Errorf("relative model error %f; want <0.02", rel)
	}

	sources, err:=catalog.LoadFile("out.csv")
	if err!=nil { t.Fatalf("fitted catalog: %s", err.Error()) }
	if len(sources)!=1 { t.Fatalf("%d fitted sources; want 1", len(sources)) }
	if len(sources[0].Amplitudes)!=2 { t.Fatalf("fitted amplitudes %v; want 2 bands", sources[0].Amplitudes) }
	for b, a:=range sources[0].Amplitudes {
		if math.Abs(float64(a-wantA[b]))>0.05*float64(wantA[b]) {
			t.Errorf("band %d amplitude %f; want %f within 5%%", b, a, wantA[b])
		}
	}
}

func TestOpDeblendValidation(t *testing.T) {
	in:=promiseFor(nil)
	if _, err:=NewOpDeblend("cat.csv").MakePromises(nil, testContext()); err==nil {
		t.Errorf("deblend without input must fail")
	}
	if _, err:=NewOpDeblend("cat.csv").MakePromises([]Promise{in, in}, testContext()); err==nil {
		t.Errorf("deblend with two inputs must fail")
	}
	if _, err:=NewOpDeblend("").MakePromises([]Promise{in}, testContext()); err==nil {
		t.Errorf("deblend without catalog must fail")
	}
	if _, err:=NewOpDeblend("/abs/cat.csv").MakePromises([]Promise{in}, testContext()); err==nil {
		t.Errorf("deblend with absolute catalog path must fail")
	}
	op:=NewOpDeblend("cat.csv")
	op.CatalogOut="../out.csv"
	if _, err:=op.MakePromises([]Promise{in}, testContext()); err==nil {
		t.Errorf("deblend with parent directory output must fail")
	}
}

func TestOpViewShape(t *testing.T) {
	scene, _:=gaussScene(t)
	f:=fits.NewImageFromCube(scene)
	f.ID=7

	res, err:=NewOpView().Apply(f, testContext())
	if err!=nil { t.Fatalf("view: %s", err.Error()) }
	if !fits.EqualInt32Slice(res.Naxisn, []int32{24, 24, 3}) { t.Fatalf("dimensions %v; want [24 24 3]", res.Naxisn) }
	if res.ID!=7 { t.Errorf("id %d; want 7", res.ID) }
	for i, v:=range res.Data {
		if v<0 || v>1 { t.Fatalf("channel value %f at %d outside [0,1]", v, i) }
	}
}
