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


package cube

import (
	"testing"
)

func TestNew(t *testing.T) {
	c, err:=New(2, 3, 4, nil)
	if err!=nil { t.Fatalf("New failed: %s", err.Error()) }
	if c.Plane()!=12 { t.Errorf("plane size %d; want 12", c.Plane()) }
	if len(c.Data)!=24 { t.Errorf("data length %d; want 24", len(c.Data)) }

	if _, err:=New(0, 3, 4, nil); err==nil {
		t.Errorf("expected error for zero bands")
	}
	if _, err:=New(2, 3, 4, make([]float32, 23)); err==nil {
		t.Errorf("expected error for mismatched data length")
	}
}

func TestBand(t *testing.T) {
	c, err:=New(3, 2, 2, nil)
	if err!=nil { t.Fatalf("New failed: %s", err.Error()) }
	for b:=int32(0); b<c.Bands; b++ {
		band:=c.Band(b)
		for i:=range band { band[i]=float32(b) }
	}
	for i, d:=range c.Data {
		want:=float32(i/4)
		if d!=want { t.Errorf("data[%d]=%f; want %f", i, d, want) }
	}
}

func TestClone(t *testing.T) {
	c, err:=New(1, 2, 2, []float32{1,2,3,4})
	if err!=nil { t.Fatalf("New failed: %s", err.Error()) }
	c.Noise=[]float32{0.5}
	d:=c.Clone()
	d.Data[0]=42
	d.Noise[0]=99
	if c.Data[0]!=1 { t.Errorf("clone shares data with original") }
	if c.Noise[0]!=0.5 { t.Errorf("clone shares noise with original") }
	if d.TotalFlux()!=42+2+3+4 { t.Errorf("clone flux %f; want %f", d.TotalFlux(), float64(42+2+3+4)) }
}

func TestEstimateNoiseConstant(t *testing.T) {
	c, err:=New(2, 16, 16, nil)
	if err!=nil { t.Fatalf("New failed: %s", err.Error()) }
	for i:=range c.Data { c.Data[i]=0.25 }
	noise:=c.EstimateNoise()
	if len(noise)!=2 { t.Fatalf("noise length %d; want 2", len(noise)) }
	for b, n:=range noise {
		if n>1e-6 { t.Errorf("band %d noise %f; want 0", b, n) }
	}
}
