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


package psf

import (
	"fmt"
	"io"
	"math"
	"runtime"

	"github.com/mlnoga/deblend/internal/blend"
	"github.com/mlnoga/deblend/internal/constraint"
	"github.com/mlnoga/deblend/internal/cube"
	"github.com/mlnoga/deblend/internal/model"
)

// Settings for matching a set of per-band PSFs to a common target
type Options struct {
	TargetFWHM    float32 `json:"targetFWHM"`    // prescribed target width, 0 selects the narrowest fitted profile
	L2Penalty     float32 `json:"l2Penalty"`     // regularization on the difference kernels
	MaxIterations int     `json:"maxIterations"` // iteration budget per kernel solve
	RelTolerance  float32 `json:"relTolerance"`  // convergence tolerance per kernel solve
	MaxThreads    int     `json:"maxThreads"`    // kernel solves in flight, 0 for NumCPU
}

func NewOptions() *Options {
	return &Options{
		TargetFWHM:    0,
		L2Penalty:     1e-3,
		MaxIterations: 500,
		RelTolerance:  1e-5,
		MaxThreads:    0,
	}
}

// Per-band outcome of the PSF matching stage
type BandReport struct {
	Band      int     `json:"band"`
	FWHM      float32 `json:"fwhm"`      // fitted profile width, 0 if the fit failed
	Converged bool    `json:"converged"` // kernel solve reached the tolerance
	Residual  float32 `json:"residual"`  // relative L2 distance of psf*kernel from the target
	Degraded  bool    `json:"degraded"`  // band fell back to its own empirical psf
}

// The common target PSF and the per-band difference kernels mapping each
// band's PSF onto it
type Result struct {
	Psfs        [][]float32  `json:"psfs"` // input PSFs normalized to unit sum
	TargetPSF   []float32    `json:"targetPSF"`
	TargetFWHM  float32      `json:"targetFWHM"`
	Kernels     [][]float32  `json:"kernels"`
	KernelWidth int32        `json:"kernelWidth"`
	Reports     []BandReport `json:"reports"`
}

// Matches one empirical PSF image per band to a common target: fits a Moffat
// profile to each band, renders the narrowest fitted profile as the smooth
// target (or synthesizes one of the prescribed width), and solves for one
// difference kernel per band minimizing |psf*kernel - target|^2 with an L2
// penalty, by fitting a single free morphology with the scene optimizer.
// Bands whose profile fit or kernel solve fails fall back to their own
// empirical PSF with an identity kernel, reported as degraded
func Match(psfs [][]float32, psfWidth int32, opt *Options, logWriter io.Writer) (*Result, error) {
	if len(psfs) == 0 {
		return nil, fmt.Errorf("no psfs given")
	}
	if psfWidth <= 0 || int32(len(psfs[0]))%psfWidth != 0 {
		return nil, fmt.Errorf("invalid psf width %d for length %d", psfWidth, len(psfs[0]))
	}
	if opt == nil {
		opt = NewOptions()
	}
	psfHeight := int32(len(psfs[0])) / psfWidth

	// normalize copies of the psfs to unit sum
	norm := make([][]float32, len(psfs))
	for b, psf := range psfs {
		if len(psf) != len(psfs[0]) {
			return nil, fmt.Errorf("band %d psf has length %d; band 0 has %d", b, len(psf), len(psfs[0]))
		}
		sum := float32(0)
		for _, v := range psf {
			sum += v
		}
		if sum <= 0 {
			return nil, fmt.Errorf("band %d psf sums to %f", b, sum)
		}
		norm[b] = make([]float32, len(psf))
		factor := 1.0 / sum
		for i, v := range psf {
			norm[b][i] = v * factor
		}
	}

	// smooth profile fit per band
	fits := make([]*Moffat, len(norm))
	reports := make([]BandReport, len(norm))
	for b := range norm {
		reports[b] = BandReport{Band: b}
		m, err := FitMoffat(norm[b], psfWidth)
		if err != nil {
			reports[b].Degraded = true
			if logWriter != nil {
				fmt.Fprintf(logWriter, "Band %d profile fit failed (%s), falling back to empirical psf\n", b, err.Error())
			}
			continue
		}
		fits[b] = m
		reports[b].FWHM = m.FWHM()
	}

	// target: prescribed width, or the narrowest fitted profile
	var target []float32
	var targetFWHM float32
	if opt.TargetFWHM > 0 {
		beta := 3.0
		m := &Moffat{
			Amplitude: 1,
			Alpha:     opt.TargetFWHM / (2 * float32(math.Sqrt(math.Pow(2, 1/beta)-1))),
			Beta:      float32(beta),
		}
		target, targetFWHM = m.Render(psfWidth, psfHeight), opt.TargetFWHM
		if logWriter != nil {
			fmt.Fprintf(logWriter, "Synthesized target psf with prescribed FWHM %.2f\n", targetFWHM)
		}
	} else {
		best := -1
		for b, m := range fits {
			if m != nil && (best < 0 || m.FWHM() < fits[best].FWHM()) {
				best = b
			}
		}
		if best < 0 {
			return nil, fmt.Errorf("no band profile fit converged and no target width prescribed")
		}
		target, targetFWHM = fits[best].Render(psfWidth, psfHeight), fits[best].FWHM()
		if logWriter != nil {
			fmt.Fprintf(logWriter, "Selected band %d as target psf with FWHM %.2f\n", best, targetFWHM)
		}
	}

	// per-band kernel solves, in parallel
	kernels := make([][]float32, len(norm))
	maxThreads := opt.MaxThreads
	if maxThreads <= 0 {
		maxThreads = runtime.GOMAXPROCS(0)
	}
	limiter := make(chan bool, maxThreads)
	errs := make(chan error, len(norm))
	for b := range norm {
		limiter <- true
		go func(b int) {
			defer func() { <-limiter }()
			if reports[b].Degraded {
				kernels[b] = deltaKernel(psfWidth, psfHeight)
				errs <- nil
				return
			}
			kernel, converged, residual, err := solveKernel(norm[b], target, psfWidth, opt)
			if err != nil {
				errs <- fmt.Errorf("band %d kernel solve: %s", b, err.Error())
				return
			}
			if kernel == nil { // solve diverged, degrade to the empirical psf
				reports[b].Degraded = true
				kernels[b] = deltaKernel(psfWidth, psfHeight)
				errs <- nil
				return
			}
			kernels[b] = kernel
			reports[b].Converged = converged
			reports[b].Residual = residual
			errs <- nil
		}(b)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	var err error
	for i := 0; i < len(norm); i++ { // collect errors
		if e := <-errs; e != nil {
			if err == nil {
				err = e
			} else {
				err = fmt.Errorf("%s; %s", err.Error(), e.Error())
			}
		}
	}
	if err != nil {
		return nil, err
	}

	if logWriter != nil {
		for _, r := range reports {
			if r.Degraded {
				fmt.Fprintf(logWriter, "Band %d: degraded, using empirical psf with identity kernel\n", r.Band)
			} else {
				fmt.Fprintf(logWriter, "Band %d: FWHM %.2f, kernel residual %.3g, converged %v\n",
					r.Band, r.FWHM, r.Residual, r.Converged)
			}
		}
	}
	return &Result{
		Psfs:        norm,
		TargetPSF:   target,
		TargetFWHM:  targetFWHM,
		Kernels:     kernels,
		KernelWidth: psfWidth,
		Reports:     reports,
	}, nil
}

// Solves |psf*kernel - target|^2 + l2 penalty for the difference kernel by
// running the scene optimizer on a one band scene: the target is the data,
// the psf the convolution kernel, and the unknown kernel the free signed
// morphology under a fixed unit amplitude. Returns a nil kernel when the
// solve diverges
func solveKernel(psf, target []float32, width int32, opt *Options) (kernel []float32, converged bool, residual float32, err error) {
	height := int32(len(target)) / width
	data := append([]float32(nil), target...)
	targetCube, err := cube.New(1, height, width, data)
	if err != nil {
		return nil, false, 0, err
	}
	comp, err := model.NewKernelComponent(float32(width/2), float32(height/2), width+height,
		width, height, psf, width, opt.L2Penalty)
	if err != nil {
		return nil, false, 0, err
	}

	cfg := blend.NewConfig()
	cfg.MaxIterations = opt.MaxIterations
	cfg.RelTolerance = opt.RelTolerance
	cfg.NormMode = constraint.NormNone
	cfg.RefineSkip = 0     // the kernel extent is fixed
	cfg.Accelerated = true // stable on the unconstrained quadratic
	cfg.MaxThreads = 1

	b := blend.NewBlend([]model.Component{comp}, nil)
	if err := b.SetData(targetCube, []float32{1}, cfg); err != nil {
		return nil, false, 0, err
	}
	if err := b.Fit(opt.MaxIterations, opt.RelTolerance); err != nil {
		return nil, false, 0, nil // diverged
	}

	res, err := b.Residual()
	if err != nil {
		return nil, false, 0, err
	}
	num, denom := float64(0), float64(0)
	for i, r := range res.Data {
		num += float64(r) * float64(r)
		denom += float64(target[i]) * float64(target[i])
	}
	residual = float32(math.Sqrt(num / denom))
	kernel = append([]float32(nil), comp.Morphology()...)
	return kernel, b.State() == blend.Converged, residual, nil
}

// An identity kernel of the given dimensions
func deltaKernel(width, height int32) []float32 {
	k := make([]float32, width*height)
	k[(height/2)*width+width/2] = 1
	return k
}
