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
	"gonum.org/v1/gonum/mat"
	"github.com/mlnoga/deblend/internal/cube"
)

// Jointly refines the amplitude vectors of all active components by per-band
// linear least squares against the observed cube, holding the morphologies
// fixed. This corrects the per-pixel amplitude seeds of overlapping sources,
// which would otherwise double count shared flux. Negative solutions are
// clamped to zero
func SeedAmplitudes(components []Component, img *cube.Cube) error {
	type contributor interface {
		unitContribution(b int32) []float32
	}
	var active []Component
	for _,comp:=range components {
		if comp.IsActive() { active=append(active, comp) }
	}
	if len(active)==0 { return nil }

	plane:=int(img.Plane())
	amplitudes:=make([][]float32, len(active))
	for k:=range amplitudes { amplitudes[k]=make([]float32, img.Bands) }

	for b:=int32(0); b<img.Bands; b++ {
		m:=mat.NewDense(plane, len(active), nil)
		for k, comp:=range active {
			uc, ok:=comp.(contributor)
			if !ok { return fmt.Errorf("component %d does not expose unit contributions", k) }
			contrib:=uc.unitContribution(b)
			box:=comp.BBox()
			i:=0
			for y:=box.Y0; y<box.Y1; y++ {
				row:=y*img.Width
				for x:=box.X0; x<box.X1; x++ {
					m.Set(int(row+x), k, float64(contrib[i]))
					i++
				}
			}
		}
		band:=img.Band(b)
		y:=mat.NewVecDense(plane, nil)
		for i,v:=range band { y.SetVec(i, float64(v)) }

		var x mat.Dense
		if err:=x.Solve(m, y); err!=nil {
			if _,ok:=err.(mat.Condition); !ok {
				return fmt.Errorf("band %d amplitude seed: %s", b, err.Error())
			}
		}
		for k:=range active {
			a:=x.At(k, 0)
			if a<0 { a=0 }
			amplitudes[k][b]=float32(a)
		}
	}

	for k, comp:=range active {
		if err:=comp.SetAmplitude(amplitudes[k]); err!=nil { return err }
	}
	return nil
}
