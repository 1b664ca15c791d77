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

package catalog

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	input := `x,y,point,amp_g,amp_r
# central galaxy
12.5, 8.25, false, 2.0, 3.5
3,4
7,9,true
`
	sources, err := Load(strings.NewReader(input))
	if err != nil {
		t.Fatalf("load failed: %s", err.Error())
	}
	if len(sources) != 3 {
		t.Fatalf("got %d sources; want 3", len(sources))
	}
	s := sources[0]
	if s.X != 12.5 || s.Y != 8.25 || s.Point || len(s.Amplitudes) != 2 || s.Amplitudes[1] != 3.5 {
		t.Errorf("source 0 %+v unexpected", s)
	}
	s = sources[1]
	if s.X != 3 || s.Y != 4 || s.Point || s.Amplitudes != nil {
		t.Errorf("source 1 %+v unexpected", s)
	}
	if !sources[2].Point {
		t.Errorf("source 2 point flag not set")
	}
}

func TestLoadNoHeader(t *testing.T) {
	sources, err := Load(strings.NewReader("1,2\n3,4\n"))
	if err != nil {
		t.Fatalf("load failed: %s", err.Error())
	}
	if len(sources) != 2 || sources[0].X != 1 {
		t.Errorf("got %+v; want two sources", sources)
	}
}

func TestLoadMalformed(t *testing.T) {
	cases := []string{
		"1,2\nfoo,4\n",
		"1,2\n3,bar\n",
		"1,2\n3,4,maybe\n",
		"1,2\n3,4,true,x\n",
		"x,y\n5\n",
	}
	for i, c := range cases {
		if _, err := Load(strings.NewReader(c)); err == nil {
			t.Errorf("case %d: expected error for %q", i, c)
		}
	}
}

func TestWriteRoundtrip(t *testing.T) {
	sources := []Source{
		{X: 1.5, Y: 2, Point: true, Amplitudes: []float32{3, 4}},
		{X: 7, Y: 8.25},
	}
	buf := bytes.Buffer{}
	if err := Write(&buf, sources); err != nil {
		t.Fatalf("write failed: %s", err.Error())
	}
	back, err := Load(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("load failed: %s", err.Error())
	}
	if len(back) != 2 {
		t.Fatalf("got %d sources; want 2", len(back))
	}
	if back[0].X != 1.5 || !back[0].Point || back[0].Amplitudes[1] != 4 {
		t.Errorf("source 0 %+v unexpected", back[0])
	}
	if back[1].X != 7 || back[1].Y != 8.25 || back[1].Point {
		t.Errorf("source 1 %+v unexpected", back[1])
	}
}
