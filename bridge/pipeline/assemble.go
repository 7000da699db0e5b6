package pipeline

import (
	"fmt"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
	"github.com/fmubridge/fmubridge/bridge/naming"
	"github.com/fmubridge/fmubridge/bridge/types"
)

// Slot is one member of a ConfiguredStructure, filled by either a variable
// or a nested structure.
type Slot struct {
	Name      string
	Type      *types.Descriptor
	Variable  *ConfiguredVariable
	Structure *ConfiguredStructure
}

func (s *Slot) filled() bool {
	return s.Variable != nil || s.Structure != nil
}

// ConfiguredStructure groups the variables sharing a structured-name prefix.
// Its slots are encoded back to back in order.
type ConfiguredStructure struct {
	Path     []string
	Optional bool
	Def      *types.StructDefinition
	Slots    []*Slot
	// Clocks holds the clock variables found inside the structure. They
	// carry no data.
	Clocks []*ConfiguredVariable

	declared bool
}

// Name returns the structured name of the structure.
func (s *ConfiguredStructure) Name() string {
	return naming.Join(s.Path)
}

// Descriptor returns the wire type of the whole structure.
func (s *ConfiguredStructure) Descriptor() *types.Descriptor {
	return &types.Descriptor{Kind: types.KindCustom, Name: s.Def.Name, Struct: s.Def, Optional: s.Optional}
}

// Slot returns the slot called name.
func (s *ConfiguredStructure) Slot(name string) *Slot {
	for _, sl := range s.Slots {
		if sl.Name == name {
			return sl
		}
	}
	return nil
}

// Variables returns every data variable of the structure, depth first.
func (s *ConfiguredStructure) Variables() []*ConfiguredVariable {
	var out []*ConfiguredVariable
	for _, sl := range s.Slots {
		if sl.Structure != nil {
			out = append(out, sl.Structure.Variables()...)
		} else if sl.Variable != nil {
			out = append(out, sl.Variable)
		}
	}
	return out
}

// AllClocks returns the clocks of the structure and its nested structures.
func (s *ConfiguredStructure) AllClocks() []*ConfiguredVariable {
	out := append([]*ConfiguredVariable(nil), s.Clocks...)
	for _, sl := range s.Slots {
		if sl.Structure != nil {
			out = append(out, sl.Structure.AllClocks()...)
		}
	}
	return out
}

func newStructure(path []string, declared *types.Descriptor) *ConfiguredStructure {
	s := &ConfiguredStructure{Path: path}
	if declared == nil {
		return s
	}
	s.declared = true
	s.Def = declared.Struct
	s.Optional = declared.Optional
	for _, m := range s.Def.Members {
		sl := &Slot{Name: m.Name, Type: m.Type}
		if m.Type.IsStruct() {
			sl.Structure = newStructure(append(append([]string(nil), path...), m.Name), m.Type)
		}
		s.Slots = append(s.Slots, sl)
	}
	return s
}

// Assemble groups the variables whose names have more than one path segment
// into structures, one per root segment. declared maps a root segment to the
// struct type configured for it; its members become the expected slots.
// Without a declared type, slots follow the order of vars.
//
// Clock variables never fill a slot; they are collected in Clocks of the
// structure that contains them.
func Assemble(vars []*ConfiguredVariable, declared map[string]*types.Descriptor) ([]*ConfiguredStructure, error) {
	byRoot := make(map[string]*ConfiguredStructure)
	var out []*ConfiguredStructure
	for _, cv := range vars {
		if len(cv.Path) < 2 {
			continue
		}
		root := naming.Root(cv.Path)
		s, ok := byRoot[root]
		if !ok {
			d := declared[root]
			if d != nil && !d.IsStruct() {
				return nil, bridgeerrors.Configurationf(fmt.Sprintf("structure %q", root), bridgeerrors.ErrInvalidConfig, "type %s is not a struct", d)
			}
			s = newStructure([]string{root}, d)
			byRoot[root] = s
			out = append(out, s)
		}
		if err := s.place(cv, cv.Path[1:]); err != nil {
			return nil, err
		}
	}
	for _, s := range out {
		if err := s.complete(); err != nil {
			return nil, err
		}
		s.define()
	}
	return out, nil
}

func (s *ConfiguredStructure) place(cv *ConfiguredVariable, rest []string) error {
	subject := fmt.Sprintf("variable %q", cv.Name())
	name := rest[0]
	sl := s.Slot(name)

	if len(rest) == 1 {
		if cv.IsClock() {
			s.Clocks = append(s.Clocks, cv)
			return nil
		}
		switch {
		case s.declared && sl == nil:
			return bridgeerrors.Configurationf(subject, bridgeerrors.ErrUnexpectedMember, "struct %s declares no member %q", s.Def.Name, name)
		case sl != nil && sl.Structure != nil:
			return bridgeerrors.Configurationf(subject, bridgeerrors.ErrUnexpectedMember, "member %q of %s is a structure", name, s.Name())
		case sl != nil && sl.Variable != nil:
			return bridgeerrors.Configurationf(subject, bridgeerrors.ErrDuplicateName, "member %q of %s already filled by %s", name, s.Name(), sl.Variable.Name())
		case sl != nil:
			if err := cv.adopt(sl.Type); err != nil {
				return err
			}
			sl.Variable = cv
		default:
			s.Slots = append(s.Slots, &Slot{Name: name, Type: cv.Type, Variable: cv})
		}
		return nil
	}

	switch {
	case sl == nil && s.declared:
		if cv.IsClock() {
			s.Clocks = append(s.Clocks, cv)
			return nil
		}
		return bridgeerrors.Configurationf(subject, bridgeerrors.ErrUnexpectedMember, "struct %s declares no member %q", s.Def.Name, name)
	case sl == nil:
		sl = &Slot{Name: name, Structure: newStructure(append(append([]string(nil), s.Path...), name), nil)}
		s.Slots = append(s.Slots, sl)
	case sl.Structure == nil:
		if cv.IsClock() && s.declared {
			s.Clocks = append(s.Clocks, cv)
			return nil
		}
		return bridgeerrors.Configurationf(subject, bridgeerrors.ErrDuplicateName, "member %q of %s is not a structure", name, s.Name())
	}
	return sl.Structure.place(cv, rest[1:])
}

func (s *ConfiguredStructure) complete() error {
	for _, sl := range s.Slots {
		if !sl.filled() {
			return bridgeerrors.Configurationf(fmt.Sprintf("structure %q", s.Name()), bridgeerrors.ErrIncompleteStruct, "member %q has no variable", sl.Name)
		}
		if sl.Structure != nil {
			if err := sl.Structure.complete(); err != nil {
				return err
			}
		}
	}
	return nil
}

// define synthesizes the struct definition of undeclared structures from
// their slots.
func (s *ConfiguredStructure) define() {
	for _, sl := range s.Slots {
		if sl.Structure != nil {
			sl.Structure.define()
			if !s.declared {
				sl.Type = sl.Structure.Descriptor()
			}
		}
	}
	if s.declared {
		return
	}
	def := &types.StructDefinition{Name: s.Name()}
	for _, sl := range s.Slots {
		def.Members = append(def.Members, types.Member{Name: sl.Name, Type: sl.Type})
	}
	s.Def = def
}
