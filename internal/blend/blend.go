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
	"fmt"
	"io"
	"math"
	"runtime"
	"github.com/mlnoga/deblend/internal/constraint"
	"github.com/mlnoga/deblend/internal/cube"
	"github.com/mlnoga/deblend/internal/model"
)

// Fitting hyperparameters for a scene
type Config struct {
	MaxIterations int                 `json:"maxIterations"` // iteration budget for a fit
	RelTolerance  float32             `json:"relTolerance"`  // relative change of loss and factors considered converged
	RefineSkip    int                 `json:"refineSkip"`    // bounding box recompute interval in iterations, 0 disables
	Accelerated   bool                `json:"accelerated"`   // enables momentum on the gradient steps
	NormMode      constraint.NormMode `json:"normMode"`      // which factor is held at unit sum
	MaxThreads    int                 `json:"maxThreads"`    // component updates in flight, 0 for NumCPU
}

func NewConfig() *Config {
	return &Config{
		MaxIterations: 200,
		RelTolerance:  1e-3,
		RefineSkip:    10,
		Accelerated:   false,
		NormMode:      constraint.NormMorphology,
		MaxThreads:    0,
	}
}

// Fitting lifecycle state of a scene
type State int

const (
	Uninitialized   State = iota // no data bound
	Ready                        // data bound, fit not started or rolled back
	Fitting                      // fit in progress
	Converged                    // relative changes fell below tolerance
	MaxIterExceeded              // iteration budget exhausted, state still usable
)

func (s State) String() string {
	switch s {
	case Uninitialized:   return "uninitialized"
	case Ready:           return "ready"
	case Fitting:         return "fitting"
	case Converged:       return "converged"
	case MaxIterExceeded: return "maxIterationsExceeded"
	}
	return "unknown"
}

// A scene: the observed cube and the list of component models fitted to it.
// Components keep their construction order, so indices are stable for callers
type Blend struct {
	components  []model.Component
	img         *cube.Cube
	weights     []float32  // per-band 1/noise^2
	config      Config
	state       State
	iterations  int
	lossHistory []float64
	log         io.Writer
}

// Creates a scene over the given components. Data must be bound with SetData
// before fitting. The log writer may be nil
func NewBlend(components []model.Component, logWriter io.Writer) *Blend {
	return &Blend{
		components: components,
		state:      Uninitialized,
		log:        logWriter,
	}
}

func (b *Blend) State() State             { return b.state }
func (b *Blend) Iterations() int          { return b.iterations }
func (b *Blend) LossHistory() []float64   { return b.lossHistory }
func (b *Blend) Components() []model.Component { return b.components }

// Binds the observed cube, per-band noise and fitting configuration,
// transitioning the scene to Ready. The noise may be nil, in which case the
// cube's own estimates are used, estimated from the data if also absent.
// Fails if any component's band count or bounding box mismatches the cube.
// Rebinding resets the iteration count, loss history and momentum
func (b *Blend) SetData(img *cube.Cube, noise []float32, config *Config) error {
	if img==nil { return fmt.Errorf("no cube given") }
	for k, comp:=range b.components {
		if comp.Bands()!=img.Bands {
			return fmt.Errorf("component %d has %d bands; cube has %d", k, comp.Bands(), img.Bands)
		}
		if !comp.BBox().Inside(img.Width, img.Height) {
			return fmt.Errorf("component %d bounding box %v outside %dx%d cube", k, comp.BBox(), img.Width, img.Height)
		}
	}
	if noise==nil { noise=img.Noise }
	if noise==nil { noise=img.EstimateNoise() }
	if int32(len(noise))!=img.Bands {
		return fmt.Errorf("%d noise values for %d bands", len(noise), img.Bands)
	}
	weights:=make([]float32, img.Bands)
	for i, n:=range noise {
		if n>0 {
			weights[i]=1.0/(n*n)
		} else {
			weights[i]=1  // noiseless band, fall back to uniform weight
			if b.log!=nil { fmt.Fprintf(b.log, "Band %d has no noise estimate, using uniform weight\n", i) }
		}
	}

	if config==nil { config=NewConfig() }
	b.config=*config
	if b.config.MaxThreads<=0 { b.config.MaxThreads=runtime.GOMAXPROCS(0) }
	b.img=img
	b.weights=weights
	b.iterations=0
	b.lossHistory=nil
	for _, comp:=range b.components {
		comp.Project(b.config.NormMode)
		comp.ResetMomentum()
		comp.Save()
	}
	b.state=Ready
	return nil
}

// Runs up to maxIterations fitting iterations: render the joint model, take a
// projected gradient step on every component in parallel, periodically refine
// bounding boxes, and stop once the relative changes of the loss and of all
// factors fall below relTolerance. A numerical divergence rolls all
// components back to the last valid state and fails; exceeding the iteration
// budget does not
func (b *Blend) Fit(maxIterations int, relTolerance float32) error {
	if b.state==Uninitialized { return fmt.Errorf("no data bound, call SetData first") }
	if maxIterations<0 { return fmt.Errorf("invalid iteration budget %d", maxIterations) }
	if relTolerance<=0 { return fmt.Errorf("invalid relative tolerance %g", relTolerance) }

	b.state=Fitting
	prevLoss:=math.Inf(1)
	if len(b.lossHistory)>0 { prevLoss=b.lossHistory[len(b.lossHistory)-1] }

	for it:=0; it<maxIterations; it++ {
		res:=b.render()
		for i, d:=range b.img.Data { res.Data[i]=d-res.Data[i] }
		loss:=b.loss(res)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			for _, comp:=range b.components { comp.Restore() }
			b.state=Ready
			return fmt.Errorf("numerical divergence at iteration %d, state rolled back", b.iterations)
		}

		relLoss:=math.Inf(1)
		if prevLoss==loss {
			relLoss=0
		} else if !math.IsInf(prevLoss, 0) && prevLoss!=0 {
			relLoss=math.Abs(loss-prevLoss)/math.Abs(prevLoss)
		}
		relChange:=float64(0)
		for _, comp:=range b.components {
			if comp.IsActive() {
				if rc:=comp.RelativeChange(); rc>relChange { relChange=rc }
			}
		}
		b.lossHistory=append(b.lossHistory, loss)
		if b.log!=nil {
			fmt.Fprintf(b.log, "Iteration %d: loss %.6g, relative change %.3g\n", b.iterations, loss, relChange)
		}
		if relLoss<float64(relTolerance) && relChange<float64(relTolerance) {
			b.state=Converged
			return nil
		}
		prevLoss=loss

		for _, comp:=range b.components { comp.Save() }
		b.stepAll(res)
		b.iterations++

		if b.config.RefineSkip>0 && b.iterations%b.config.RefineSkip==0 {
			for k, comp:=range b.components {
				if comp.Refine() && b.log!=nil {
					fmt.Fprintf(b.log, "Component %d bounding box refined to %v\n", k, comp.BBox())
				}
			}
		}
	}
	b.state=MaxIterExceeded
	return nil
}

// One parallel projected gradient step for all components. Components read
// the shared residual snapshot and write only their own factors, joining on
// a barrier before the next residual is computed
func (b *Blend) stepAll(res *cube.Cube) {
	limiter:=make(chan bool, b.config.MaxThreads)
	for _, comp:=range b.components {
		limiter <- true
		go func(comp model.Component) {
			defer func() { <-limiter }()
			comp.Step(res, b.weights, b.config.Accelerated)
			comp.Project(b.config.NormMode)
		}(comp)
	}
	for i:=0; i<cap(limiter); i++ {  // wait for goroutines to finish
		limiter <- true
	}
}

// Renders the joint model of all active components into a fresh cube
func (b *Blend) render() *cube.Cube {
	m, _:=cube.New(b.img.Bands, b.img.Height, b.img.Width, nil)
	for _, comp:=range b.components { comp.Render(m) }
	return m
}

// The noise-weighted sum of squared residuals plus component penalty terms
func (b *Blend) loss(res *cube.Cube) float64 {
	sum:=float64(0)
	for band:=int32(0); band<res.Bands; band++ {
		w, data:=float64(b.weights[band]), res.Band(band)
		s:=float64(0)
		for _, r:=range data { s+=float64(r)*float64(r) }
		sum+=0.5*w*s
	}
	for _, comp:=range b.components { sum+=comp.PenaltyLoss() }
	return sum
}

// Returns the joint model of all components, shaped like the observed cube
func (b *Blend) Model() (*cube.Cube, error) {
	if b.state==Uninitialized { return nil, fmt.Errorf("no data bound, call SetData first") }
	return b.render(), nil
}

// Returns the contribution of component k alone, shaped like the observed
// cube and zero outside the component's bounding box
func (b *Blend) ModelOf(k int) (*cube.Cube, error) {
	if b.state==Uninitialized { return nil, fmt.Errorf("no data bound, call SetData first") }
	if k<0 || k>=len(b.components) { return nil, fmt.Errorf("component index %d out of range [0,%d)", k, len(b.components)) }
	m, _:=cube.New(b.img.Bands, b.img.Height, b.img.Width, nil)
	b.components[k].Render(m)
	return m, nil
}

// Returns the observed cube minus the joint model
func (b *Blend) Residual() (*cube.Cube, error) {
	m, err:=b.Model()
	if err!=nil { return nil, err }
	for i, d:=range b.img.Data { m.Data[i]=d-m.Data[i] }
	return m, nil
}
