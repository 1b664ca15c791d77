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


package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"github.com/gin-gonic/gin"

	"github.com/mlnoga/deblend/internal/ops"
	"github.com/mlnoga/deblend/internal/psf"
	"github.com/mlnoga/deblend/internal/stats"
)


func Serve() {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET ("/ping",     getPing)
			v1.POST("/stats",    postStats)
			v1.POST("/psfmatch", postPSFMatch)
			v1.POST("/deblend",  postDeblend)
		}
	}
	r.Run() // listen and serve on 0.0.0.0:8080
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m,err:=json.MarshalIndent(args, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

type postStatsArgs struct {
	FilePatterns []string      `json:"filePatterns"`
	Stats         *ops.OpStats `json:"stats"`
}

func postStats(c *gin.Context)  {
	logWriter := c.Writer
	var args postStatsArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}

	header := logWriter.Header()
	//header.Set("Transfer-Encoding", "chunked")
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err:=printArgs(logWriter, "Arguments:\n", "\n", args); err!=nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	if args.Stats==nil { args.Stats=ops.NewOpStats() }
	args.Stats.Active=true
	cc:=ops.NewContext(logWriter, stats.LSESCMedianQn)

	// glob filename arguments into loader promises
	var err error
	proms, err:=ops.NewOpLoadMany(args.FilePatterns).MakePromises(nil, cc)
	if err!=nil {
		fmt.Fprintf(logWriter, "Error globbing filenames: %s\n", err.Error())
		return
	}

	proms, err=args.Stats.MakePromises(proms, cc)
	if err==nil {
		_, err=ops.MaterializeAll(proms, cc.MaxThreads, true)
	}
	if(err!=nil) {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	logWriter.(http.Flusher).Flush()

	return
}


type postPSFMatchArgs struct {
	FilePatterns []string         `json:"filePatterns"`
	PSFMatch      *ops.OpPSFMatch `json:"psfMatch"`
}

func postPSFMatch(c *gin.Context) {
	logWriter := c.Writer
	var args postPSFMatchArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}

	header := logWriter.Header()
	//header.Set("Transfer-Encoding", "chunked")
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err:=printArgs(logWriter, "Arguments:\n", "\n", args); err!=nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	if args.PSFMatch==nil { args.PSFMatch=ops.NewOpPSFMatch(args.FilePatterns) }
	if len(args.PSFMatch.FilePatterns)==0 { args.PSFMatch.FilePatterns=args.FilePatterns }
	args.PSFMatch.Active=true

	cc:=ops.NewContext(logWriter, stats.LSESCMedianQn)
	if err:=args.PSFMatch.Match(cc); err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		logWriter.(http.Flusher).Flush()
		return
	}

	// report the fitted widths and kernel residuals, not the kernel data
	summary:=struct{
		TargetFWHM  float32          `json:"targetFWHM"`
		KernelWidth int32            `json:"kernelWidth"`
		Reports     []psf.BandReport `json:"reports"`
	}{cc.PSF.TargetFWHM, cc.PSF.KernelWidth, cc.PSF.Reports}
	if err:=printArgs(logWriter, "Result:\n", "\n", summary); err!=nil {
		fmt.Fprintf(logWriter, "Error printing result: %s\n", err.Error())
	}
	logWriter.(http.Flusher).Flush()

	return
}


type postDeblendArgs struct {
	FilePatterns []string         `json:"filePatterns"`
	PSFMatch      *ops.OpPSFMatch `json:"psfMatch"`
	Deblend       *ops.OpDeblend  `json:"deblend"`
	Save          *ops.OpSave     `json:"save"`
	View          *ops.OpView     `json:"view"`
	Preview       *ops.OpSave     `json:"preview"`
}

func postDeblend(c *gin.Context) {
	logWriter := c.Writer
	var args postDeblendArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}

	header := logWriter.Header()
	//header.Set("Transfer-Encoding", "chunked")
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err:=printArgs(logWriter, "Arguments:\n", "\n", args); err!=nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	if args.Deblend==nil {
		fmt.Fprintf(logWriter, "error: missing deblend arguments\n")
		logWriter.(http.Flusher).Flush()
		return
	}
	args.Deblend.Active=true
	cc:=ops.NewContext(logWriter, stats.LSESCMedianQn)

	// glob filename arguments into loader promises
	var err error
	proms, err:=ops.NewOpLoadMany(args.FilePatterns).MakePromises(nil, cc)
	if err!=nil {
		fmt.Fprintf(logWriter, "Error globbing filenames: %s\n", err.Error())
		return
	}

	// assemble single-band frames into a cube, estimate noise, then
	// optionally match per-band psfs before deblending
	if len(proms)>1 {
		proms, err=ops.NewOpCube().MakePromises(proms, cc)
	}
	if err==nil {
		proms, err=ops.NewOpNoise().MakePromises(proms, cc)
	}
	if err==nil && args.PSFMatch!=nil {
		args.PSFMatch.Active=true
		proms, err=args.PSFMatch.MakePromises(proms, cc)
	}
	if err==nil {
		proms, err=args.Deblend.MakePromises(proms, cc)
	}
	if err==nil && args.Save!=nil {
		args.Save.Active=true
		proms, err=args.Save.MakePromises(proms, cc)
	}
	if err==nil && (args.View!=nil || args.Preview!=nil) {
		// render and save a preview of the model output only
		seq:=ops.NewOpSequence()
		if args.View!=nil    { args.View.Active=true;    seq.Append(args.View)    }
		if args.Preview!=nil { args.Preview.Active=true; seq.Append(args.Preview) }
		var prevProms []ops.Promise
		prevProms, err=seq.MakePromises(proms[:1], cc)
		if err==nil { proms=append(prevProms, proms[1:]...) }
	}
	if err==nil {
		_, err=ops.MaterializeAll(proms, cc.MaxThreads, true)
	}
	if(err!=nil) {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	logWriter.(http.Flusher).Flush()

	return
}
