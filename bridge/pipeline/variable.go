package pipeline

import (
	"fmt"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
	"github.com/fmubridge/fmubridge/bridge/fmi"
	"github.com/fmubridge/fmubridge/bridge/naming"
	"github.com/fmubridge/fmubridge/bridge/transform"
	"github.com/fmubridge/fmubridge/bridge/types"
)

// Direction says which way a variable's values travel.
type Direction int

const (
	// Publish moves FMU outputs to the bus.
	Publish Direction = iota
	// Subscribe moves bus samples into FMU inputs.
	Subscribe
)

func (d Direction) String() string {
	if d == Subscribe {
		return "subscribe"
	}
	return "publish"
}

// ConfiguredVariable is an FMU variable bound to its wire representation.
// It is built once by Configure and read-only afterwards.
type ConfiguredVariable struct {
	Variable  *fmi.Variable
	Path      []string
	Topic     string
	Direction Direction
	// Shape holds the size of every array dimension, outermost first.
	Shape     []int
	Unit      transform.Unit
	Type      *types.Descriptor
	Transform *transform.Transformation
	EnumWidth int

	explicit bool
}

// Name returns the FMU variable name.
func (cv *ConfiguredVariable) Name() string {
	return cv.Variable.Name
}

// Kind returns the native kind of the FMU variable.
func (cv *ConfiguredVariable) Kind() types.Kind {
	return cv.Variable.Kind
}

// IsClock reports whether the variable is an FMU clock.
func (cv *ConfiguredVariable) IsClock() bool {
	return cv.Variable.Kind == types.KindClock
}

// linear reports whether values cross without unit or transform arithmetic.
func (cv *ConfiguredVariable) linear() bool {
	return cv.Unit.IsIdentity() && cv.Transform.IsLinearIdentity()
}

func directionOf(v *fmi.Variable) (Direction, bool) {
	switch v.Causality {
	case fmi.CausalityOutput:
		return Publish, true
	case fmi.CausalityInput:
		return Subscribe, true
	default:
		return 0, false
	}
}

// defaultDescriptor derives the wire type of v from its native kind, one list
// level per array dimension.
func defaultDescriptor(md *fmi.ModelDescription, reg *types.Registry, v *fmi.Variable, shape []int) *types.Descriptor {
	d := types.Primitive(v.Kind)
	if v.Kind == types.KindEnum && v.DeclaredType != "" {
		d.Name = v.DeclaredType
		if def, ok := reg.Enum(v.DeclaredType); ok {
			d.Enum = def
		} else if def, ok := md.Enum(v.DeclaredType); ok {
			d.Enum = def
		}
	}
	for range shape {
		d = types.ListOf(d)
	}
	return d
}

// clone copies the list spine of d down to its leaf.
func clone(d *types.Descriptor) *types.Descriptor {
	c := *d
	if d.List {
		c.Elem = clone(d.Elem)
	}
	return &c
}

// newVariable binds v using the override o, which may be nil.
func newVariable(md *fmi.ModelDescription, reg *types.Registry, v *fmi.Variable, dir Direction, o *VariableOverride) (*ConfiguredVariable, error) {
	subject := fmt.Sprintf("variable %q", v.Name)
	path, err := naming.Parse(v.Name)
	if err != nil {
		return nil, err
	}
	shape, err := md.Shape(v)
	if err != nil {
		return nil, bridgeerrors.Configuration(subject, fmt.Errorf("%w: %v", bridgeerrors.ErrInvalidConfig, err))
	}
	cv := &ConfiguredVariable{
		Variable:  v,
		Path:      path,
		Topic:     v.Name,
		Direction: dir,
		Shape:     shape,
		Unit:      md.UnitOf(v),
		EnumWidth: md.EnumWidth(),
	}
	if v.Kind == types.KindClock {
		return cv, nil
	}
	cv.Type = defaultDescriptor(md, reg, v, shape)

	if o != nil {
		if o.Topic != "" {
			cv.Topic = o.Topic
		}
		if o.Type != "" {
			d, err := types.Parse(o.Type)
			if err != nil {
				return nil, err
			}
			if err := reg.Resolve(d, subject); err != nil {
				return nil, err
			}
			cv.Type = d
			cv.explicit = true
		}
		if o.Transform != nil {
			if err := o.Transform.Validate(); err != nil {
				return nil, bridgeerrors.Configuration(subject, fmt.Errorf("%w: %v", bridgeerrors.ErrInvalidConfig, err))
			}
			cv.Transform = o.Transform
		}
	}
	if tt := cv.Transform.Transmission(); tt != "" {
		if err := cv.applyTransmission(reg, tt); err != nil {
			return nil, err
		}
	}
	if err := cv.check(cv.Type); err != nil {
		return nil, err
	}
	if !cv.linear() && !cv.Kind().IsNumeric() && cv.Kind() != types.KindBool {
		return nil, bridgeerrors.Configurationf(subject, bridgeerrors.ErrInvalidConfig, "unit or linear transformation on %s variable", cv.Kind())
	}
	return cv, nil
}

// applyTransmission replaces the leaf kind of the wire type with the
// transmission type token.
func (cv *ConfiguredVariable) applyTransmission(reg *types.Registry, token string) error {
	subject := fmt.Sprintf("variable %q transmission type", cv.Name())
	tt, err := types.Parse(token)
	if err != nil {
		return err
	}
	if err := reg.Resolve(tt, subject); err != nil {
		return err
	}
	if tt.List || tt.IsStruct() {
		return bridgeerrors.Configurationf(subject, bridgeerrors.ErrInvalidConfig, "%s is not a primitive or enum type", tt)
	}
	d := clone(cv.Type)
	leaf := d.Leaf()
	leaf.Kind, leaf.Name, leaf.Enum = tt.Kind, tt.Name, tt.Enum
	cv.Type = d
	cv.explicit = true
	return nil
}

// check verifies that d can carry the variable's values.
func (cv *ConfiguredVariable) check(d *types.Descriptor) error {
	subject := fmt.Sprintf("variable %q", cv.Name())
	if d.Depth() != len(cv.Shape) {
		return bridgeerrors.Configurationf(subject, bridgeerrors.ErrInvalidConfig, "type %s has %d list levels, variable has %d dimensions", d, d.Depth(), len(cv.Shape))
	}
	if leaf := d.Leaf(); !compatible(cv.Kind(), leaf.Kind) {
		return bridgeerrors.Configurationf(subject, bridgeerrors.ErrInvalidConfig, "native %s cannot travel as %s", cv.Kind(), d)
	}
	return nil
}

// adopt makes the declared member type d the variable's wire type.
func (cv *ConfiguredVariable) adopt(d *types.Descriptor) error {
	if cv.explicit && !cv.Type.Equal(d) {
		return bridgeerrors.Configurationf(fmt.Sprintf("variable %q", cv.Name()), bridgeerrors.ErrInvalidConfig, "configured type %s conflicts with member type %s", cv.Type, d)
	}
	if err := cv.check(d); err != nil {
		return err
	}
	cv.Type = d
	return nil
}
