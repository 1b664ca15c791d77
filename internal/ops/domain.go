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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"github.com/mlnoga/deblend/internal/blend"
	"github.com/mlnoga/deblend/internal/catalog"
	"github.com/mlnoga/deblend/internal/constraint"
	"github.com/mlnoga/deblend/internal/fits"
	"github.com/mlnoga/deblend/internal/model"
	"github.com/mlnoga/deblend/internal/psf"
	"github.com/mlnoga/deblend/internal/stats"
	"github.com/mlnoga/deblend/internal/view"
)

// Assembles n single-band images of equal dimensions into one multi-band cube,
// in ascending ID order. Takes n inputs, produces one output
type OpCube struct {
	OpBase
}

func init() { SetOperatorFactory(func() Operator { return NewOpCubeDefault()}) } // register the operator for JSON decoding

func NewOpCubeDefault() *OpCube { return NewOpCube() }

func NewOpCube() *OpCube {
	return &OpCube{
		OpBase : OpBase{Type: "cube", Active: true},
	}
}

func (op *OpCube) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)==0 { return nil, errors.New(fmt.Sprintf("%s operator with no inputs", op.Type)) }
	out:=func() (f *fits.Image, err error) {
		frames, err:=MaterializeAll(ins, c.MaxThreads, false)
		if err!=nil { return nil, err }
		return op.assemble(frames, c)
	}
	return []Promise{out}, nil
}

func (op *OpCube) assemble(frames []*fits.Image, c *Context) (result *fits.Image, err error) {
	if len(frames)==0 { return nil, errors.New(fmt.Sprintf("%s operator with no frames to assemble", op.Type)) }
	sort.Slice(frames, func(i, j int) bool { return frames[i].ID<frames[j].ID })
	first:=frames[0]
	if len(first.Naxisn)!=2 {
		return nil, errors.New(fmt.Sprintf("%d: cannot assemble %s image into a cube, need 2 axes", first.ID, first.DimensionsToString()))
	}
	for _,f:=range frames[1:] {
		if !fits.EqualInt32Slice(f.Naxisn, first.Naxisn) {
			return nil, errors.New(fmt.Sprintf("%d: dimensions %s differ from %d: %s",
				                               f.ID, f.DimensionsToString(), first.ID, first.DimensionsToString()))
		}
	}
	width, height, bands:=first.Naxisn[0], first.Naxisn[1], int32(len(frames))
	neededMB:=int(int64(bands)*int64(height)*int64(width)*4/1024/1024)
	if c.MemoryMB>0 && neededMB>c.MemoryMB*7/10 {
		fmt.Fprintf(c.Log, "Warning: %d MB cube close to %d MB of system memory\n", neededMB, c.MemoryMB)
	}

	planeSize:=int(width)*int(height)
	data     :=make([]float32, int(bands)*planeSize)
	exposure :=float32(0)
	noise    :=make([]float32, 0, bands)
	for b,f:=range frames {
		copy(data[b*planeSize:(b+1)*planeSize], f.Data)
		exposure+=f.Exposure
		if len(f.Noise)==1 { noise=append(noise, f.Noise[0]) }
	}
	result=fits.NewImageFromNaxisn([]int32{width, height, bands}, data)
	result.Exposure=exposure
	if int32(len(noise))==bands { result.Noise=noise }

	fmt.Fprintf(c.Log, "Assembled %d bands into %s pixel cube\n", bands, result.DimensionsToString())
	return result, nil
}


// Estimates the background noise of every band and stores it with the image.
// Takes n inputs, produces n outputs
type OpNoise struct {
	OpUnaryBase
}

func init() { SetOperatorFactory(func() Operator { return NewOpNoiseDefault()}) } // register the operator for JSON decoding

func NewOpNoiseDefault() *OpNoise { return NewOpNoise() }

func NewOpNoise() *OpNoise {
	op:=OpNoise{
		OpUnaryBase : OpUnaryBase{OpBase : OpBase{Type: "noise", Active: true}},
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpNoise) Apply(f *fits.Image, c *Context) (result *fits.Image, err error) {
	cube, err:=f.Cube()
	if err!=nil { return nil, err }
	noise:=make([]float32, cube.Bands)
	for b:=int32(0); b<cube.Bands; b++ {
		noise[b]=stats.EstimateNoise(cube.Band(b), cube.Width)
		fmt.Fprintf(c.Log, "%d: Band %d background noise %.4g\n", f.ID, b, noise[b])
	}
	f.Noise=noise
	return f, nil
}


// Calculates and prints per-band statistics. Takes n inputs, produces n outputs
type OpStats struct {
	OpUnaryBase
}

func init() { SetOperatorFactory(func() Operator { return NewOpStatsDefault()}) } // register the operator for JSON decoding

func NewOpStatsDefault() *OpStats { return NewOpStats() }

func NewOpStats() *OpStats {
	op:=OpStats{
		OpUnaryBase : OpUnaryBase{OpBase : OpBase{Type: "stats", Active: true}},
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpStats) Apply(f *fits.Image, c *Context) (result *fits.Image, err error) {
	cube, err:=f.Cube()
	if err!=nil { return nil, err }
	for b:=int32(0); b<cube.Bands; b++ {
		st:=stats.CalcStats(cube.Band(b), cube.Width, c.LSEstimatorMode)
		fmt.Fprintf(c.Log, "%d: Band %d: %v\n", f.ID, b, st)
	}
	if f.Stats==nil { f.Stats=stats.CalcBasicStats(f.Data) }
	return f, nil
}


// Loads one empirical PSF image per band and matches them to a common target,
// storing the result in the context for the deblend operator.
// Takes n inputs, passes them through unchanged
type OpPSFMatch struct {
	OpUnaryBase
	FilePatterns []string     `json:"filePatterns"`
	Options      psf.Options  `json:"options"`
	mutex        sync.Mutex   `json:"-"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpPSFMatchDefault()}) } // register the operator for JSON decoding

func NewOpPSFMatchDefault() *OpPSFMatch { return NewOpPSFMatch(nil) }

func NewOpPSFMatch(filePatterns []string) *OpPSFMatch {
	op:=OpPSFMatch{
		OpUnaryBase : OpUnaryBase{OpBase : OpBase{Type: "psfMatch", Active: len(filePatterns)>0}},
		FilePatterns: filePatterns,
		Options     : *psf.NewOptions(),
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshals the operator from JSON, starting from the constructor defaults
func (op *OpPSFMatch) UnmarshalJSON(b []byte) error {
	type defaults OpPSFMatch
	def:=defaults(*NewOpPSFMatchDefault())
	if err:=json.Unmarshal(b, &def); err!=nil { return err }
	// *op=OpPSFMatch(def) triggers linter error "mutex passed by value", hence:
	op.OpUnaryBase =def.OpUnaryBase
	op.FilePatterns=def.FilePatterns
	op.Options     =def.Options
	op.mutex       =sync.Mutex{}
	op.OpUnaryBase.Apply=op.Apply // rebind abstract method to this instance
	return nil
}

func (op *OpPSFMatch) Apply(f *fits.Image, c *Context) (result *fits.Image, err error) {
	if !op.Active { return f, nil }
	op.mutex.Lock()                 // lock so a single thread runs the match
	defer op.mutex.Unlock()
	if c.PSF!=nil { return f, nil } // match once per pipeline
	if err=op.Match(c); err!=nil { return nil, err }
	return f, nil
}

// Loads the per-band PSF images, matches them to a common target and stores
// the result in the context
func (op *OpPSFMatch) Match(c *Context) error {
	psfs:=[][]float32{}
	var naxisn []int32
	for _, pattern := range op.FilePatterns {
		matches, err := filepath.Glob(pattern)
		if err!=nil { return err }
		for _,match:=range(matches) {
			if !isPathAllowed(match) {
				fmt.Fprintf(c.Log, "Pattern match outside current directory tree, skipping\n")
				continue
			}
			img, err:=fits.NewImageFromFile(match, len(psfs), c.Log)
			if err!=nil { return err }
			if len(img.Naxisn)!=2 {
				return errors.New(fmt.Sprintf("%s: psf has %d axes, need 2", match, len(img.Naxisn)))
			}
			if naxisn==nil {
				naxisn=img.Naxisn
			} else if !fits.EqualInt32Slice(img.Naxisn, naxisn) {
				return errors.New(fmt.Sprintf("%s: psf dimensions %s differ from first psf", match, img.DimensionsToString()))
			}
			psfs=append(psfs, img.Data)
		}
	}
	if len(psfs)==0 {
		return errors.New(fmt.Sprintf("%s operator with no psf files to load from pattern %v", op.Type, op.FilePatterns))
	}

	opt:=op.Options
	if opt.MaxThreads<=0 { opt.MaxThreads=c.MaxThreads }
	res, err:=psf.Match(psfs, naxisn[0], &opt, c.Log)
	if err!=nil { return err }
	c.PSF=res

	fmt.Fprintf(c.Log, "Matched %d band PSFs to target FWHM %.2f\n", len(psfs), res.TargetFWHM)
	return nil
}


// Deblends the sources of a catalog from a multi-band cube with constrained
// matrix factorization. Takes one input, produces two outputs: the fitted
// scene model with ID 0, and the fit residual with ID 1
type OpDeblend struct {
	OpBase
	CatalogFile       string        `json:"catalogFile"`
	CatalogOut        string        `json:"catalogOut"`
	Radius            int32         `json:"radius"`
	SparsityThreshold float32       `json:"sparsityThreshold"`
	Config            blend.Config  `json:"config"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpDeblendDefault()}) } // register the operator for JSON decoding

func NewOpDeblendDefault() *OpDeblend { return NewOpDeblend("") }

func NewOpDeblend(catalogFile string) *OpDeblend {
	return &OpDeblend{
		OpBase           : OpBase{Type: "deblend", Active: catalogFile!=""},
		CatalogFile      : catalogFile,
		Radius           : 32,
		SparsityThreshold: 0,
		Config           : *blend.NewConfig(),
	}
}

// Unmarshals the operator from JSON, starting from the constructor defaults
func (op *OpDeblend) UnmarshalJSON(b []byte) error {
	*op=*NewOpDeblendDefault()
	type defaults OpDeblend
	return json.Unmarshal(b, (*defaults)(op))
}

// Both output promises share the same single fit of the scene
func (op *OpDeblend) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)!=1 { return nil, errors.New(fmt.Sprintf("%s operator needs exactly one input, has %d", op.Type, len(ins))) }
	if op.CatalogFile=="" { return nil, errors.New(fmt.Sprintf("%s operator without a catalog file", op.Type)) }
	if !isPathAllowed(op.CatalogFile) { return nil, errors.New("Filename outside current directory tree, aborting") }
	if op.CatalogOut!="" && !isPathAllowed(op.CatalogOut) { return nil, errors.New("Filename outside current directory tree, aborting") }

	in:=ins[0]
	var once sync.Once
	var mod, resid *fits.Image
	var runErr error
	run:=func() {
		var f *fits.Image
		if f, runErr=in(); runErr!=nil { return }
		mod, resid, runErr=op.apply(f, c)
	}
	outs=[]Promise{
		func() (*fits.Image, error) { once.Do(run); if runErr!=nil { return nil, runErr }; return mod,   nil },
		func() (*fits.Image, error) { once.Do(run); if runErr!=nil { return nil, runErr }; return resid, nil },
	}
	return outs, nil
}

func (op *OpDeblend) apply(f *fits.Image, c *Context) (modelOut, residualOut *fits.Image, err error) {
	sources, err:=catalog.LoadFile(op.CatalogFile)
	if err!=nil { return nil, nil, err }
	if len(sources)==0 { return nil, nil, errors.New(fmt.Sprintf("no sources in catalog %s", op.CatalogFile)) }

	cube, err:=f.Cube()
	if err!=nil { return nil, nil, err }
	if c.PSF!=nil && int32(len(c.PSF.Kernels))!=cube.Bands {
		return nil, nil, errors.New(fmt.Sprintf("psf match has %d bands; cube has %d", len(c.PSF.Kernels), cube.Bands))
	}
	radius:=op.Radius
	if radius<=0 { radius=32 }

	comps, points:=make([]model.Component, len(sources)), 0
	for k,s:=range sources {
		if s.Point {
			var psfs [][]float32
			var psfWidth int32
			if c.PSF!=nil { psfs, psfWidth=c.PSF.Psfs, c.PSF.KernelWidth }
			comp, err:=model.NewPointComponent(cube, s.X, s.Y, psfs, psfWidth)
			if err!=nil { return nil, nil, fmt.Errorf("source %d: %s", k, err.Error()) }
			comps[k]=comp
			points++
		} else {
			var kernels [][]float32
			var kernelWidth int32
			if c.PSF!=nil { kernels, kernelWidth=c.PSF.Kernels, c.PSF.KernelWidth }
			comp, err:=model.NewExtendedComponent(cube, s.X, s.Y, radius, kernels, kernelWidth,
				                                 constraint.NewExtendedDefaults(op.SparsityThreshold))
			if err!=nil { return nil, nil, fmt.Errorf("source %d: %s", k, err.Error()) }
			comps[k]=comp
		}
	}
	fmt.Fprintf(c.Log, "%d: Deblending %d sources (%d point, %d extended) from %s pixel cube\n",
	            f.ID, len(comps), points, len(comps)-points, f.DimensionsToString())

	if len(comps)>1 {
		if err:=model.SeedAmplitudes(comps, cube); err!=nil {
			fmt.Fprintf(c.Log, "%d: Amplitude seeding failed (%s), using center pixel seeds\n", f.ID, err.Error())
		}
	}
	for k,s:=range sources { // catalog amplitudes take precedence over seeds
		if int32(len(s.Amplitudes))==cube.Bands {
			if err:=comps[k].SetAmplitude(s.Amplitudes); err!=nil { return nil, nil, err }
		}
	}

	cfg:=op.Config
	if cfg.MaxThreads<=0 { cfg.MaxThreads=c.MaxThreads }
	b:=blend.NewBlend(comps, c.Log)
	if err:=b.SetData(cube, nil, &cfg); err!=nil { return nil, nil, err }
	if err:=b.Fit(cfg.MaxIterations, cfg.RelTolerance); err!=nil { return nil, nil, err }

	finalLoss:=float64(0)
	if h:=b.LossHistory(); len(h)>0 { finalLoss=h[len(h)-1] }
	fmt.Fprintf(c.Log, "%d: Deblend %s after %d iterations with loss %.6g\n", f.ID, b.State(), b.Iterations(), finalLoss)
	for k,comp:=range comps {
		sources[k].Amplitudes=append([]float32(nil), comp.Amplitude()...)
		x, y:=comp.Center()
		fmt.Fprintf(c.Log, "%d: Source %d at (%.1f,%.1f) amplitudes %.6g\n", f.ID, k, x, y, sources[k].Amplitudes)
	}

	if op.CatalogOut!="" {
		w, err:=os.OpenFile(op.CatalogOut, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err!=nil { return nil, nil, err }
		err=catalog.Write(w, sources)
		w.Close()
		if err!=nil { return nil, nil, err }
		fmt.Fprintf(c.Log, "%d: Wrote %d fitted sources to %s\n", f.ID, len(sources), op.CatalogOut)
	}

	modelCube, err:=b.Model()
	if err!=nil { return nil, nil, err }
	residualCube, err:=b.Residual()
	if err!=nil { return nil, nil, err }

	modelOut=fits.NewImageFromCube(modelCube)
	modelOut.ID, modelOut.Exposure, modelOut.Noise=0, f.Exposure, cube.Noise
	residualOut=fits.NewImageFromCube(residualCube)
	residualOut.ID, residualOut.Exposure, residualOut.Noise=1, f.Exposure, cube.Noise
	return modelOut, residualOut, nil
}


// Renders a multi-band cube into a 3-band false color preview with
// asinh stretching. Takes n inputs, produces n outputs
type OpView struct {
	OpUnaryBase
	Options view.Options `json:"options"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpViewDefault()}) } // register the operator for JSON decoding

func NewOpViewDefault() *OpView { return NewOpView() }

func NewOpView() *OpView {
	op:=OpView{
		OpUnaryBase : OpUnaryBase{OpBase : OpBase{Type: "view", Active: true}},
		Options     : *view.NewOptions(),
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshals the operator from JSON, starting from the constructor defaults
func (op *OpView) UnmarshalJSON(b []byte) error {
	*op=*NewOpViewDefault()
	type defaults OpView
	if err:=json.Unmarshal(b, (*defaults)(op)); err!=nil { return err }
	op.OpUnaryBase.Apply=op.Apply // rebind abstract method to this instance
	return nil
}

func (op *OpView) Apply(f *fits.Image, c *Context) (result *fits.Image, err error) {
	cube, err:=f.Cube()
	if err!=nil { return nil, err }
	rgb, err:=view.FalseColor(cube, &op.Options, c.Log)
	if err!=nil { return nil, err }
	result=fits.NewImageFromCube(rgb)
	result.ID, result.FileName, result.Exposure=f.ID, f.FileName, f.Exposure
	return result, nil
}
