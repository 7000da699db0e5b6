package types

import (
	"fmt"
	"sort"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
)

// Member is a named struct field.
type Member struct {
	Name string
	Type *Descriptor
}

// StructDefinition is a named, ordered list of members. Members are encoded
// back-to-back in declaration order.
type StructDefinition struct {
	Name    string
	Members []Member
}

// Member returns the member called name.
func (s *StructDefinition) Member(name string) (Member, bool) {
	for _, m := range s.Members {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}

// EnumItem is one named enumeration literal.
type EnumItem struct {
	Name  string
	Value int64
}

// EnumDefinition is a named enumeration.
type EnumDefinition struct {
	Name  string
	Items []EnumItem
}

// ValueOf returns the value of the literal called name.
func (e *EnumDefinition) ValueOf(name string) (int64, bool) {
	for _, it := range e.Items {
		if it.Name == name {
			return it.Value, true
		}
	}
	return 0, false
}

// Registry holds the struct and enum definitions known to a session and
// binds custom type names to them. Declarations are registered first and
// resolved afterwards so definitions may reference each other in any order.
type Registry struct {
	structs map[string]*StructDefinition
	enums   map[string]*EnumDefinition
	origins map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		structs: make(map[string]*StructDefinition),
		enums:   make(map[string]*EnumDefinition),
		origins: make(map[string]string),
	}
}

// AddStruct registers def. origin names the declaration for error messages.
func (r *Registry) AddStruct(def *StructDefinition, origin string) error {
	if _, exists := r.structs[def.Name]; exists {
		return bridgeerrors.Configurationf(origin, bridgeerrors.ErrDuplicateName, "struct %q already declared at %s", def.Name, r.origins["struct:"+def.Name])
	}
	seen := make(map[string]bool, len(def.Members))
	for _, m := range def.Members {
		if m.Name == "" {
			return bridgeerrors.Configurationf(origin, bridgeerrors.ErrInvalidConfig, "struct %q has a member without a name", def.Name)
		}
		if seen[m.Name] {
			return bridgeerrors.Configurationf(fmt.Sprintf("%s.members[%s]", origin, m.Name), bridgeerrors.ErrDuplicateName, "member %q declared twice in struct %q", m.Name, def.Name)
		}
		seen[m.Name] = true
	}
	r.structs[def.Name] = def
	r.origins["struct:"+def.Name] = origin
	return nil
}

// AddEnum registers def. An enum declared identically twice (for example by
// the FMU model description and the user configuration) is accepted once.
func (r *Registry) AddEnum(def *EnumDefinition, origin string) error {
	if prev, exists := r.enums[def.Name]; exists {
		if sameEnum(prev, def) {
			return nil
		}
		return bridgeerrors.Configurationf(origin, bridgeerrors.ErrDuplicateName, "enum %q already declared at %s", def.Name, r.origins["enum:"+def.Name])
	}
	seen := make(map[string]bool, len(def.Items))
	for _, it := range def.Items {
		if seen[it.Name] {
			return bridgeerrors.Configurationf(origin, bridgeerrors.ErrDuplicateName, "literal %q declared twice in enum %q", it.Name, def.Name)
		}
		seen[it.Name] = true
	}
	r.enums[def.Name] = def
	r.origins["enum:"+def.Name] = origin
	return nil
}

func sameEnum(a, b *EnumDefinition) bool {
	if len(a.Items) != len(b.Items) {
		return false
	}
	for i := range a.Items {
		if a.Items[i] != b.Items[i] {
			return false
		}
	}
	return true
}

// Struct returns the struct called name.
func (r *Registry) Struct(name string) (*StructDefinition, bool) {
	s, ok := r.structs[name]
	return s, ok
}

// Enum returns the enum called name.
func (r *Registry) Enum(name string) (*EnumDefinition, bool) {
	e, ok := r.enums[name]
	return e, ok
}

// StructNames returns the registered struct names in sorted order.
func (r *Registry) StructNames() []string {
	names := make([]string, 0, len(r.structs))
	for n := range r.structs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve binds every custom name in d. Struct definitions are tried before
// enum definitions; a name matching neither is a configuration error that
// names origin.
func (r *Registry) Resolve(d *Descriptor, origin string) error {
	if d.List {
		if d.Elem == nil {
			return bridgeerrors.Configurationf(origin, bridgeerrors.ErrUnknownType, "list without element type")
		}
		return r.Resolve(d.Elem, origin)
	}
	if d.Kind != KindCustom || d.Struct != nil {
		return nil
	}
	if s, ok := r.structs[d.Name]; ok {
		d.Struct = s
		return nil
	}
	if e, ok := r.enums[d.Name]; ok {
		d.Kind = KindEnum
		d.Enum = e
		return nil
	}
	return bridgeerrors.Configurationf(origin, bridgeerrors.ErrUnresolvedType, "type %q is neither a declared struct nor enum", d.Name)
}

// ResolveAll resolves the member types of every registered struct and
// rejects structs that contain themselves directly or transitively.
func (r *Registry) ResolveAll() error {
	for _, name := range r.StructNames() {
		def := r.structs[name]
		origin := r.origins["struct:"+name]
		for _, m := range def.Members {
			if err := r.Resolve(m.Type, fmt.Sprintf("%s.members[%s]", origin, m.Name)); err != nil {
				return err
			}
		}
	}
	for _, name := range r.StructNames() {
		if err := r.checkCycle(r.structs[name], nil); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) checkCycle(def *StructDefinition, stack []string) error {
	for _, n := range stack {
		if n == def.Name {
			return bridgeerrors.Configurationf(r.origins["struct:"+stack[0]], bridgeerrors.ErrCyclicType, "struct %q contains itself via %v", def.Name, append(stack, def.Name))
		}
	}
	stack = append(stack, def.Name)
	for _, m := range def.Members {
		if leaf := m.Type.Leaf(); leaf.Struct != nil {
			if err := r.checkCycle(leaf.Struct, stack); err != nil {
				return err
			}
		}
	}
	return nil
}
