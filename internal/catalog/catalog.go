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
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// A catalog entry with an approximate source position in image coordinates,
// x growing right and y growing down, origin at the top left pixel center
type Source struct {
	X, Y       float32
	Point      bool      // fit as point source with the PSF footprint
	Amplitudes []float32 // optional per-band reference amplitudes, or nil
}

// Reads a source catalog from the CSV file with the given name.
// Columns are x,y[,point[,amplitude per band...]]. Lines starting with #
// and a leading non-numeric header line are skipped
func LoadFile(fileName string) ([]Source, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sources, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %s", fileName, err.Error())
	}
	return sources, nil
}

// Reads a source catalog in CSV format from the given reader
func Load(r io.Reader) ([]Source, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	sources := []Source{}
	for lineNo := 1; ; lineNo++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("line %d: need at least x and y, have %d fields", lineNo, len(record))
		}

		x, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 32)
		if err != nil {
			if lineNo == 1 {
				continue // header line
			}
			return nil, fmt.Errorf("line %d: invalid x value %q", lineNo, record[0])
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid y value %q", lineNo, record[1])
		}
		s := Source{X: float32(x), Y: float32(y)}

		if len(record) > 2 {
			point, err := strconv.ParseBool(strings.TrimSpace(record[2]))
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid point flag %q", lineNo, record[2])
			}
			s.Point = point
		}
		if len(record) > 3 {
			s.Amplitudes = make([]float32, len(record)-3)
			for i, field := range record[3:] {
				a, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
				if err != nil {
					return nil, fmt.Errorf("line %d: invalid amplitude %q", lineNo, field)
				}
				s.Amplitudes[i] = float32(a)
			}
		}
		sources = append(sources, s)
	}
	return sources, nil
}

// Writes the source catalog in CSV format to the given writer
func Write(w io.Writer, sources []Source) error {
	for _, s := range sources {
		sb := strings.Builder{}
		fmt.Fprintf(&sb, "%g,%g,%t", s.X, s.Y, s.Point)
		for _, a := range s.Amplitudes {
			fmt.Fprintf(&sb, ",%g", a)
		}
		sb.WriteString("\n")
		if _, err := io.WriteString(w, sb.String()); err != nil {
			return err
		}
	}
	return nil
}
