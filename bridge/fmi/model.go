package fmi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fmubridge/fmubridge/bridge/transform"
	"github.com/fmubridge/fmubridge/bridge/types"
)

// ValueReference identifies one FMU variable.
type ValueReference uint32

// Dimension is one array dimension of a variable. Its size is either fixed
// (Start) or taken from the start value of a structural parameter.
type Dimension struct {
	Start          uint64
	ValueReference *ValueReference
}

// Variable is one entry of ModelVariables.
type Variable struct {
	Name           string
	ValueReference ValueReference
	Causality      Causality
	// Kind is the native kind. Enumerations are KindEnum and FMI 3 clocks
	// are KindClock.
	Kind         types.Kind
	DeclaredType string
	Unit         string
	Start        string
	Dimensions   []Dimension
	// Clocks lists the clocks this variable is clocked by.
	Clocks []ValueReference
}

// IsArray reports whether v has at least one dimension.
func (v *Variable) IsArray() bool {
	return len(v.Dimensions) > 0
}

// ModelDescription is the parsed modelDescription.xml.
type ModelDescription struct {
	FMIVersion         string
	ModelName          string
	InstantiationToken string

	StartTime       float64
	StopTime        float64
	DefaultStepSize float64

	Variables []*Variable
	// Units maps a unit name to its conversion from the display unit into the
	// FMU's raw values.
	Units map[string]transform.Unit
	// DeclaredUnits maps a float type definition name to its unit name.
	DeclaredUnits map[string]string
	Enums         []*types.EnumDefinition

	byName map[string]*Variable
	byRef  map[ValueReference]*Variable
}

func (md *ModelDescription) index() error {
	md.byName = make(map[string]*Variable, len(md.Variables))
	md.byRef = make(map[ValueReference]*Variable, len(md.Variables))
	for _, v := range md.Variables {
		if _, dup := md.byName[v.Name]; dup {
			return fmt.Errorf("variable %q declared twice", v.Name)
		}
		md.byName[v.Name] = v
		// FMI 2 allows aliases sharing a value reference; the first one wins.
		if _, ok := md.byRef[v.ValueReference]; !ok {
			md.byRef[v.ValueReference] = v
		}
	}
	return nil
}

// Variable returns the variable with the given name.
func (md *ModelDescription) Variable(name string) (*Variable, bool) {
	v, ok := md.byName[name]
	return v, ok
}

// ByReference returns the variable with the given value reference.
func (md *ModelDescription) ByReference(vr ValueReference) (*Variable, bool) {
	v, ok := md.byRef[vr]
	return v, ok
}

// MajorVersion returns 2 or 3.
func (md *ModelDescription) MajorVersion() int {
	if strings.HasPrefix(md.FMIVersion, "2") {
		return 2
	}
	return 3
}

// EnumWidth is the width in bytes of a native enumeration value. FMI 2
// booleans share it.
func (md *ModelDescription) EnumWidth() int {
	if md.MajorVersion() == 2 {
		return 4
	}
	return 8
}

// Enum returns the enumeration type definition with the given name.
func (md *ModelDescription) Enum(name string) (*types.EnumDefinition, bool) {
	for _, e := range md.Enums {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// UnitOf returns the unit conversion of v, looking through its declared type
// when the variable names no unit itself.
func (md *ModelDescription) UnitOf(v *Variable) transform.Unit {
	name := v.Unit
	if name == "" && v.DeclaredType != "" {
		name = md.DeclaredUnits[v.DeclaredType]
	}
	if u, ok := md.Units[name]; ok {
		return u
	}
	return transform.Identity
}

// Shape returns the size of every dimension of v, outermost first. Scalars
// have an empty shape.
func (md *ModelDescription) Shape(v *Variable) ([]int, error) {
	if len(v.Dimensions) == 0 {
		return nil, nil
	}
	shape := make([]int, len(v.Dimensions))
	for i, d := range v.Dimensions {
		if d.ValueReference == nil {
			shape[i] = int(d.Start)
			continue
		}
		p, ok := md.ByReference(*d.ValueReference)
		if !ok {
			return nil, fmt.Errorf("variable %s: dimension %d references unknown value reference %d", v.Name, i, *d.ValueReference)
		}
		n, err := strconv.ParseUint(strings.TrimSpace(p.Start), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("variable %s: dimension %d: structural parameter %s has no usable start value: %w", v.Name, i, p.Name, err)
		}
		shape[i] = int(n)
	}
	return shape, nil
}

// ElementCount returns the number of scalar elements of a shape.
func ElementCount(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
