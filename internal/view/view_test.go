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

package view

import (
	"testing"

	"github.com/mlnoga/deblend/internal/cube"
)

func TestBandWeights(t *testing.T) {
	ws := bandWeights(3, 0.5, 0.7)
	if ws[0][2] <= ws[0][0] {
		t.Errorf("first band weights %v; want blue dominant over red", ws[0])
	}
	if ws[2][0] <= ws[2][2] {
		t.Errorf("last band weights %v; want red dominant over blue", ws[2])
	}

	ws = bandWeights(1, 0.5, 0.7)
	if ws[0] != [3]float64{1, 1, 1} {
		t.Errorf("single band weights %v; want neutral gray", ws[0])
	}
}

func TestFalseColorShape(t *testing.T) {
	c, _ := cube.New(2, 8, 8, nil)
	for i := range c.Data {
		c.Data[i] = float32(i%13) * 0.1
	}
	rgb, err := FalseColor(c, nil, nil)
	if err != nil {
		t.Fatalf("render failed: %s", err.Error())
	}
	if rgb.Bands != 3 || rgb.Height != 8 || rgb.Width != 8 {
		t.Fatalf("output dims %s; want 3x8x8", rgb.DimensionsToString())
	}
	for i, v := range rgb.Data {
		if v < 0 || v > 1 {
			t.Fatalf("output[%d]=%f outside [0,1]", i, v)
		}
	}

	if _, err := FalseColor(nil, nil, nil); err == nil {
		t.Errorf("expected error for nil cube")
	}
}

func TestFalseColorStretch(t *testing.T) {
	c, _ := cube.New(1, 8, 8, nil)
	c.Data[9] = 0.5
	c.Data[10] = 1
	opt := NewOptions()
	opt.BlackPercentile, opt.WhitePercentile = 0, 1
	rgb, err := FalseColor(c, opt, nil)
	if err != nil {
		t.Fatalf("render failed: %s", err.Error())
	}
	dim, bright := rgb.Data[9], rgb.Data[10]
	if !(bright > dim) || !(dim > 0) {
		t.Errorf("stretch not monotone: dim %f bright %f", dim, bright)
	}
	if bright < 0.9 {
		t.Errorf("white point pixel renders at %f; want near 1", bright)
	}
	// asinh stretch lifts the midtones above linear
	if dim < 0.5 {
		t.Errorf("midtone pixel renders at %f; want lifted above linear 0.5", dim)
	}
	if rgb.Data[0] != 0 {
		t.Errorf("background pixel renders at %f; want 0", rgb.Data[0])
	}
}

func TestFalseColorConstantBand(t *testing.T) {
	c, _ := cube.New(2, 4, 4, nil)
	for i := 0; i < 16; i++ {
		c.Data[i] = 3 // constant first band
		c.Data[16+i] = float32(i) * 0.1
	}
	rgb, err := FalseColor(c, nil, nil)
	if err != nil {
		t.Fatalf("render failed: %s", err.Error())
	}
	for i, v := range rgb.Data {
		if v < 0 || v > 1 {
			t.Fatalf("output[%d]=%f outside [0,1]", i, v)
		}
	}
}
