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

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/debug"
	"strings"
	"time"
	"github.com/pbnjay/memory"
	"github.com/mlnoga/deblend/internal/constraint"
	"github.com/mlnoga/deblend/internal/ops"
	"github.com/mlnoga/deblend/internal/rest"
	"github.com/mlnoga/deblend/internal/stats"
)

const version = "0.1.0"

var totalMiBs=memory.TotalMemory()/1024/1024

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out  = flag.String("out", "out%d.fits", "save model (id 0) and residual (id 1) to `file` pattern, %d is replaced with the image id")
var jpg  = flag.String("jpg", "%auto", "save 8bit false color preview of the model as JPEG to `file`. `%auto` replaces suffix of output file with .jpg")
var tif  = flag.String("tif", "", "save 16bit false color preview of the model as TIFF to `file`")
var log  = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")

var cat    = flag.String("cat", "", "load source catalog from `file`, CSV rows of x,y,point flag and optional per-band amplitudes")
var catOut = flag.String("catOut", "", "save catalog with fitted amplitudes to `file`")

var radius  = flag.Int64("radius", 32, "half size of extended source morphology boxes in pixels")
var sparsity= flag.Float64("sparsity", 0, "sparsity threshold for extended source morphologies as multiple of background noise, 0=off")

var maxIters  = flag.Int64("maxIters", 200, "maximum number of fit iterations")
var relTol    = flag.Float64("relTol", 1e-3, "relative loss change considered converged")
var refineSkip= flag.Int64("refineSkip", 10, "iterations between bounding box refinements, 0=off")
var accel     = flag.Int64("accel", 0, "1=momentum on morphology gradient steps, 0=plain steps")
var norm      = flag.Int64("norm", 2, "normalization mode. 0=none, 1=unit sum amplitude, 2=unit sum morphology")
var maxThreads= flag.Int64("maxThreads", 0, "number of parallel component updates, 0=number of CPUs")

var psfs      = flag.String("psf", "", "comma-separated `patterns` of per-band PSF images to fit and match")
var targetFWHM= flag.Float64("targetFWHM", 0, "full width at half maximum of the matching target PSF, 0=narrowest fitted band")
var kernelL2  = flag.Float64("kernelL2", 1e-3, "L2 penalty on PSF difference kernels")
var psfIters  = flag.Int64("psfIters", 500, "maximum number of iterations per PSF kernel solve")

var lsEst     = flag.Int64("lsEst", 2, "location and scale estimators 0=mean/stddev, 1=median/MAD, 2=iterative sigma-clipped sampled median and sampled Qn (standard)")
var memMiBs   = flag.Int64("memory", int64(totalMiBs), "MiB of physical memory to assume for cube assembly warnings")

var viewQ     = flag.Float64("viewQ", 8, "asinh softening for false color previews, 0=linear")
var viewBlack = flag.Float64("viewBlack", 0.01, "histogram percentile mapped to black in false color previews")
var viewWhite = flag.Float64("viewWhite", 0.999, "histogram percentile mapped to white in false color previews")
var viewChroma= flag.Float64("viewChroma", 0.5, "HCL chroma of the band hues in false color previews")
var viewLum   = flag.Float64("viewLum", 0.7, "HCL luminance of the band hues in false color previews")

var chroot = flag.String("chroot", "", "change filesystem root to `path` before serving, requires root")
var setuid = flag.Int64("setuid", -1, "change user id to `uid` before serving, -1=no change")

func main() {
	var logWriter io.Writer=os.Stdout
	debug.SetGCPercent(10)
	start:=time.Now()
	flag.Usage=func(){
 	    fmt.Fprintf(logWriter, `Deblend Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (fit|psfmatch|stats|serve|legal) (band0.fits ... bandn.fits)

Commands:
  fit      Deblend catalog sources from the given input bands
  psfmatch Fit and match per-band PSF images without deblending
  stats    Show input image statistics
  serve    Serve the REST API on port 8080
  legal    Show license and attribution information
  version  Show version information

Flags:
`, os.Args[0])
	    flag.PrintDefaults()
	}
	flag.Parse()

	// Initialize logging to file in addition to stdout, if selected
	outBase:=strings.Replace(*out, "%d", "", 1)
	if *log=="%auto" {
		if *out!="" {
			*log=strings.TrimSuffix(outBase, filepath.Ext(outBase))+".log"
		} else {
			*log=""
		}
	}
	if *log!="" {
		f, err:=os.Create(*log)
		if err!=nil {
			fmt.Fprintf(os.Stderr, "Unable to open logfile '%s'\n", *log)
			os.Exit(-1)
		}
		defer f.Close()
		logWriter=io.MultiWriter(os.Stdout, f)
	}

	// Also auto-select JPEG preview target
	if *jpg=="%auto" {
		if *out!="" {
			*jpg=strings.TrimSuffix(outBase, filepath.Ext(outBase))+".jpg"
		} else {
			*jpg=""
		}
	}

	// Enable CPU profiling if flagged
    if *cpuprofile != "" {
        f, err := os.Create(*cpuprofile)
        if err != nil {
            fmt.Fprintf(os.Stderr, "Could not create CPU profile: %s\n", err.Error())
            os.Exit(-1)
        }
        defer f.Close()
        if err := pprof.StartCPUProfile(f); err != nil {
            fmt.Fprintf(os.Stderr, "Could not start CPU profile: %s\n", err.Error())
            os.Exit(-1)
        }
        defer pprof.StopCPUProfile()
    }

    args:=flag.Args()
    if len(args)<1 {
    	flag.Usage()
    	return
    }
    if args[0]=="fit" || args[0]=="psfmatch" || args[0]=="stats" {
	    fmt.Fprintf(logWriter, "Using location and scale estimator %d\n", *lsEst)
	}

	cc:=ops.NewContext(logWriter, stats.LSEstimatorMode(*lsEst))
	if *memMiBs>0    { cc.MemoryMB=int(*memMiBs) }
	if *maxThreads>0 { cc.MaxThreads=int(*maxThreads) }

	// run actions
	var err error
    switch args[0] {
    case "serve":
    	rest.MakeSandbox(*chroot, int(*setuid))
    	rest.Serve();

    case "stats":
		var proms []ops.Promise
		proms, err=ops.NewOpLoadMany(args[1:]).MakePromises(nil, cc)
		if err==nil { proms, err=ops.NewOpStats().MakePromises(proms, cc) }
		if err==nil { _, err=ops.MaterializeAll(proms, cc.MaxThreads, true) }

    case "psfmatch":
    	err=newOpPSFMatch(args[1:]).Match(cc)

    case "fit":
    	err=cmdFit(args[1:], cc, logWriter)

    case "legal":
    	cmdLegal(logWriter)

    case "version":
    	fmt.Fprintf(logWriter, "Version %s\n", version)

    case "help", "?":
    	flag.Usage()

    default:
    	fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
    	flag.Usage()
    	return
    }

	now:=time.Now()
	elapsed:=now.Sub(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	// Store memory profile if flagged
    if *memprofile != "" {
        f, err := os.Create(*memprofile)
        if err != nil {
            fmt.Fprintf(os.Stderr, "Could not create memory profile: %s\n", err.Error())
            os.Exit(-1)
        }
        defer f.Close()
        runtime.GC() // get up-to-date statistics
        if err := pprof.Lookup("allocs").WriteTo(f,0); err != nil {
            fmt.Fprintf(os.Stderr, "Could not write allocation profile: %s\n", err.Error())
            os.Exit(-1)
        }
    }

    if err!=nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		os.Exit(-1)
	}
}


/// Perform the deblending command: assemble the input bands into a cube,
// estimate noise, optionally match per-band PSFs, fit the catalog sources
// and save model, residual and previews
func cmdFit(args []string, cc *ops.Context, logWriter io.Writer) error {
	opDeblend:=ops.NewOpDeblend(*cat)
	opDeblend.CatalogOut=*catOut
	opDeblend.Radius=int32(*radius)
	opDeblend.SparsityThreshold=float32(*sparsity)
	opDeblend.Config.MaxIterations=int(*maxIters)
	opDeblend.Config.RelTolerance=float32(*relTol)
	opDeblend.Config.RefineSkip=int(*refineSkip)
	opDeblend.Config.Accelerated=(*accel)!=0
	opDeblend.Config.NormMode=constraint.NormMode(*norm)

	m,err:=json.MarshalIndent(opDeblend,"", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "\nDeblending %d input frames with these settings:\n%s\n", len(args), string(m))

	var proms []ops.Promise
	proms, err=ops.NewOpLoadMany(args).MakePromises(nil, cc)
	if err!=nil { return err }
	if len(proms)>1 {
		if proms, err=ops.NewOpCube().MakePromises(proms, cc); err!=nil { return err }
	}
	if proms, err=ops.NewOpNoise().MakePromises(proms, cc); err!=nil { return err }
	if *psfs!="" {
		if proms, err=newOpPSFMatch(strings.Split(*psfs, ",")).MakePromises(proms, cc); err!=nil { return err }
	}
	if proms, err=opDeblend.MakePromises(proms, cc); err!=nil { return err }
	if *out!="" {
		if proms, err=ops.NewOpSave(*out).MakePromises(proms, cc); err!=nil { return err }
	}

	// render and save false color previews of the model output only
	if *jpg!="" || *tif!="" {
		opView:=ops.NewOpView()
		opView.Options.Q              =float32(*viewQ)
		opView.Options.BlackPercentile=float32(*viewBlack)
		opView.Options.WhitePercentile=float32(*viewWhite)
		opView.Options.Chroma         =*viewChroma
		opView.Options.Luminance      =*viewLum
		seq:=ops.NewOpSequence(opView)
		if *jpg!="" { seq.Append(ops.NewOpSave(*jpg)) }
		if *tif!="" { seq.Append(ops.NewOpSave(*tif)) }
		var prevProms []ops.Promise
		if prevProms, err=seq.MakePromises(proms[:1], cc); err!=nil { return err }
		proms=append(prevProms, proms[1:]...)
	}

	_, err=ops.MaterializeAll(proms, cc.MaxThreads, true)
	return err
}

// Build a PSF matching operator from the command line flags
func newOpPSFMatch(patterns []string) *ops.OpPSFMatch {
	op:=ops.NewOpPSFMatch(patterns)
	op.Options.TargetFWHM   =float32(*targetFWHM)
	op.Options.L2Penalty    =float32(*kernelL2)
	op.Options.MaxIterations=int(*psfIters)
	return op
}
