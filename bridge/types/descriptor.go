package types

import (
	"fmt"
	"strings"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
)

// Descriptor is one node of a type tree built from a type token such as
// "List<Double?>?". A list node carries its element in Elem; any other node
// carries a primitive Kind or, for custom types, a Name that Registry.Resolve
// binds to a StructDefinition or EnumDefinition.
//
// Descriptors are built once while the configuration loads and are read-only
// afterwards, so they are shared freely between goroutines.
type Descriptor struct {
	Optional bool
	List     bool
	Elem     *Descriptor
	Kind     Kind
	Name     string
	Struct   *StructDefinition
	Enum     *EnumDefinition
}

// Primitive returns a non-optional descriptor of kind k.
func Primitive(k Kind) *Descriptor {
	return &Descriptor{Kind: k}
}

// ListOf returns a non-optional list descriptor wrapping elem.
func ListOf(elem *Descriptor) *Descriptor {
	return &Descriptor{List: true, Elem: elem}
}

// OptionalOf returns a shallow copy of d marked optional.
func OptionalOf(d *Descriptor) *Descriptor {
	c := *d
	c.Optional = true
	return &c
}

// Parse turns a type token into a Descriptor tree. Custom names are left
// unresolved; see Registry.Resolve.
func Parse(token string) (*Descriptor, error) {
	d, err := parse(strings.TrimSpace(token))
	if err != nil {
		return nil, bridgeerrors.Configurationf(fmt.Sprintf("type %q", token), bridgeerrors.ErrUnknownType, "%v", err)
	}
	return d, nil
}

func parse(tok string) (*Descriptor, error) {
	if tok == "" {
		return nil, fmt.Errorf("empty type token")
	}
	d := &Descriptor{}
	if strings.HasSuffix(tok, "?") {
		d.Optional = true
		tok = strings.TrimSpace(strings.TrimSuffix(tok, "?"))
		if tok == "" || strings.HasSuffix(tok, "?") {
			return nil, fmt.Errorf("misplaced '?'")
		}
	}

	if len(tok) >= 5 && strings.EqualFold(tok[:5], "list<") {
		if !strings.HasSuffix(tok, ">") {
			return nil, fmt.Errorf("unterminated List<...> in %q", tok)
		}
		elem, err := parse(strings.TrimSpace(tok[5 : len(tok)-1]))
		if err != nil {
			return nil, err
		}
		d.List = true
		d.Elem = elem
		return d, nil
	}

	if strings.ContainsAny(tok, "<>?, ") {
		return nil, fmt.Errorf("invalid type name %q", tok)
	}
	if k, ok := LookupPrimitive(tok); ok {
		d.Kind = k
		return d, nil
	}
	d.Kind = KindCustom
	d.Name = tok
	return d, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level tables.
func MustParse(token string) *Descriptor {
	d, err := Parse(token)
	if err != nil {
		panic(err)
	}
	return d
}

// String renders the canonical token for d.
func (d *Descriptor) String() string {
	if d == nil {
		return "<nil>"
	}
	var s string
	switch {
	case d.List:
		s = "List<" + d.Elem.String() + ">"
	case d.Kind == KindCustom || d.Kind == KindEnum && d.Name != "":
		s = d.Name
	default:
		s = d.Kind.String()
	}
	if d.Optional {
		s += "?"
	}
	return s
}

// Equal reports whether d and o describe the same type tree. Resolved
// definitions are compared by name.
func (d *Descriptor) Equal(o *Descriptor) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.Optional != o.Optional || d.List != o.List || d.Kind != o.Kind || d.Name != o.Name {
		return false
	}
	if d.List {
		return d.Elem.Equal(o.Elem)
	}
	return true
}

// Leaf returns the innermost non-list descriptor.
func (d *Descriptor) Leaf() *Descriptor {
	for d.List {
		d = d.Elem
	}
	return d
}

// Depth returns the number of nested list levels.
func (d *Descriptor) Depth() int {
	n := 0
	for d.List {
		n++
		d = d.Elem
	}
	return n
}

// IsStruct reports whether d is a resolved struct reference.
func (d *Descriptor) IsStruct() bool {
	return !d.List && d.Kind == KindCustom && d.Struct != nil
}

// IsResolved reports whether every custom name in the tree is bound.
func (d *Descriptor) IsResolved() bool {
	if d.List {
		return d.Elem.IsResolved()
	}
	return d.Kind != KindCustom || d.Struct != nil
}
