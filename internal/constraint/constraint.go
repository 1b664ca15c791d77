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


package constraint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// A projection onto a feasible set of morphologies. Projections mutate the
// given morphology patch in place. The patch is a height x width image stored
// row-major, with height=len(data)/width. centerX and centerY locate the
// source center in patch coordinates
type Constraint interface {
	GetType() string
	IsActive() bool
	Project(data []float32, width int32, centerX, centerY float32)
}

// Base type for constraints, including type information for JSON serializing/deserializing
type ConstraintBase struct {
	Type        string `json:"type"`
	Active      bool   `json:"active"`
}

func (c *ConstraintBase) GetType() string { return c.Type }
func (c *ConstraintBase) IsActive() bool { return c.Active }

// Factory method for subclasses of constraints. For JSON serializing/deserializing
type ConstraintFactory func() Constraint

// Mapping from constraint type strings to factory method for the type
var constraintFactories=map[string]ConstraintFactory{}

// Returns the constraint factory for a given type string
func GetConstraintFactory(t string) ConstraintFactory {
	return constraintFactories[t]
}

// Registers a given type string for a given type of Constraint, identified via an exemplar generator
func SetConstraintFactory(f ConstraintFactory) {
	c:=f()
	t:=c.GetType()
	if GetConstraintFactory(t)!=nil { panic(fmt.Sprintf("error: re-registering constraint key %s\n", t))}
	constraintFactories[t]=f
}


// An ordered sequence of constraints, applied in order on every projection
type Set struct {
	ConstraintBase
	Steps       []Constraint      `json:"-"`      // the actual steps
	StepsRaw    []json.RawMessage `json:"steps"`  // helper for unmarshaling
}

func init() { SetConstraintFactory(func() Constraint { return NewSetDefault()}) } // register the constraint for JSON decoding

func NewSetDefault() *Set { return NewSet() }

func NewSet(steps ...Constraint) *Set {
	return &Set{
		ConstraintBase : ConstraintBase{Type: "seq", Active: len(steps)>0},
		Steps  : steps,
	}
}

// The default constraint sequence for extended sources: monotonic falloff,
// point symmetry, then sparsity thresholding at the given level, clamped
// non-negative. A zero threshold omits the sparsity step
func NewExtendedDefaults(sparsityThreshold float32) *Set {
	steps:=[]Constraint{
		NewMonotonicity(),
		NewSymmetry(false),
	}
	if sparsityThreshold>0 {
		steps=append(steps, NewSparsityL0(sparsityThreshold))
	}
	steps=append(steps, NewNonNegativity())
	return NewSet(steps...)
}

// Applies all active constraints in sequence
func (s *Set) Project(data []float32, width int32, centerX, centerY float32) {
	if !s.Active { return }
	for _,step:=range s.Steps {
		if step.IsActive() {
			step.Project(data, width, centerX, centerY)
		}
	}
}

// Appends one or more constraints to the existing sequence
func (s *Set) Append(steps ...Constraint) {
	for _,step:=range steps {
		s.Steps=append(s.Steps, step)
	}
	s.Active=s.Active || len(s.Steps)>0
}

// Unmarshals a sequence of polymorphic constraints from JSON.
// Uses temporary s.StepsRaw inspired by https://alexkappa.medium.com/json-polymorphism-in-go-4cade1e58ed1
func (s *Set) UnmarshalJSON(b []byte) error {
    type alias Set
    err := json.Unmarshal(b, (*alias)(s))
    if err != nil { return err }

    for _, raw := range s.StepsRaw {
        var step ConstraintBase
        err = json.Unmarshal(raw, &step)
        if err != nil { return err }

        var i Constraint
        if factory:=GetConstraintFactory(step.Type); factory!=nil {
        	i=factory()
        } else {
            return errors.New(fmt.Sprintf("Unknown constraint type '%s' in raw JSON message '%s'", step.Type, string(raw)))
        }
        err = json.Unmarshal(raw, i)
        if err != nil { return err }
        s.Steps = append(s.Steps, i)
    }
    return nil
}

// Marshals a sequence with polymorphic constraints to JSON.
// Uses the actual s.Steps with label "steps", and ignores s.StepsRaw
func (s *Set) MarshalJSON() (bs []byte, err error) {
	buf:=bytes.Buffer{}
	buf.WriteString("{\"type\":")
	inner,err:=json.Marshal(s.Type)
	if err!=nil { return nil, err }
	buf.Write(inner)
	fmt.Fprintf(&buf,", \"active\":%v, \"steps\":", s.Active)
	inner,err=json.Marshal(s.Steps)
	if err!=nil { return nil, err }
	buf.Write(inner)
	buf.WriteString("}")
	return buf.Bytes(), nil
}
