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
	"github.com/mlnoga/deblend/internal/cube"
)

// Two nearby point sources double count shared flux in their per-pixel
// amplitude seeds; the joint least-squares seed must separate them
func TestSeedAmplitudes(t *testing.T) {
	img, _:=cube.New(2, 24, 24, nil)
	wantA:=[][]float32{{2, 1}, {1, 3}}
	positions:=[][2]float32{{11, 12}, {13, 12}}  // footprints overlap at x=12
	for k:=range positions {
		truth, err:=NewPointComponent(img, positions[k][0], positions[k][1], nil, 0)
		if err!=nil { t.Fatalf("truth component %d: %s", k, err.Error()) }
		if err:=truth.SetAmplitude(wantA[k]); err!=nil { t.Fatalf("SetAmplitude: %s", err.Error()) }
		truth.Render(img)
	}

	comps:=make([]Component, len(positions))
	for k:=range positions {
		comp, err:=NewPointComponent(img, positions[k][0], positions[k][1], nil, 0)
		if err!=nil { t.Fatalf("component %d: %s", k, err.Error()) }
		comps[k]=comp
	}
	if err:=SeedAmplitudes(comps, img); err!=nil {
		t.Fatalf("SeedAmplitudes failed: %s", err.Error())
	}
	for k, comp:=range comps {
		for b, a:=range comp.Amplitude() {
			if math.Abs(float64(a-wantA[k][b]))>1e-3 {
				t.Errorf("component %d band %d amplitude %f; want %f", k, b, a, wantA[k][b])
			}
		}
	}
}

func TestSeedAmplitudesEmpty(t *testing.T) {
	img, _:=cube.New(1, 8, 8, nil)
	if err:=SeedAmplitudes(nil, img); err!=nil {
		t.Errorf("empty component list failed: %s", err.Error())
	}
}
