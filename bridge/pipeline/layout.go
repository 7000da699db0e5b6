package pipeline

import (
	"fmt"
	"io"
	"sort"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
	"github.com/fmubridge/fmubridge/bridge/fmi"
	"github.com/fmubridge/fmubridge/bridge/transform"
	"github.com/fmubridge/fmubridge/bridge/types"
)

// VariableOverride adjusts how one FMU variable is exchanged.
type VariableOverride struct {
	Name      string
	Topic     string
	Type      string
	Transform *transform.Transformation
	Skip      bool
}

// StructureOverride configures the structure rooted at Name.
type StructureOverride struct {
	Name  string
	Topic string
	// Type names a declared struct; a trailing '?' makes the structure optional.
	Type string
}

// Options controls Configure.
type Options struct {
	// Registry holds user struct and enum declarations. The enumerations of
	// the model description are added to it.
	Registry   *types.Registry
	Variables  []VariableOverride
	Structures []StructureOverride
	// Reserved lists variable names and structure roots served by CAN and
	// RPC channels. They get no data topic.
	Reserved []string
}

// Topic is one data channel between the FMU and the bus. Exactly one of
// Variable and Structure is set.
type Topic struct {
	Name      string
	Direction Direction
	Type      *types.Descriptor
	Variable  *ConfiguredVariable
	Structure *ConfiguredStructure
	// Clocks gate the topic: an output topic with clocks is only published
	// when one of them ticked, an input topic ticks them on every import.
	Clocks []*ConfiguredVariable
}

// Layout is the configured mapping between an FMU and the bus.
type Layout struct {
	Publications  []*Topic
	Subscriptions []*Topic
	EnumWidth     int

	variables  map[string]*ConfiguredVariable
	structures map[string]*ConfiguredStructure
	order      []*ConfiguredStructure
}

// Variable returns the configured variable called name.
func (l *Layout) Variable(name string) (*ConfiguredVariable, bool) {
	cv, ok := l.variables[name]
	return cv, ok
}

// Structure returns the structure rooted at root.
func (l *Layout) Structure(root string) (*ConfiguredStructure, bool) {
	s, ok := l.structures[root]
	return s, ok
}

// Structures returns every assembled structure in model order.
func (l *Layout) Structures() []*ConfiguredStructure {
	return l.order
}

// Subscription returns the input topic called name.
func (l *Layout) Subscription(name string) (*Topic, bool) {
	for _, t := range l.Subscriptions {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Publication returns the output topic called name.
func (l *Layout) Publication(name string) (*Topic, bool) {
	for _, t := range l.Publications {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Configure binds the variables of md to the bus according to opts.
func Configure(md *fmi.ModelDescription, opts Options) (*Layout, error) {
	reg := opts.Registry
	if reg == nil {
		reg = types.NewRegistry()
	}
	for _, e := range md.Enums {
		if err := reg.AddEnum(e, "modelDescription.TypeDefinitions"); err != nil {
			return nil, err
		}
	}
	if err := reg.ResolveAll(); err != nil {
		return nil, err
	}

	overrides := make(map[string]*VariableOverride, len(opts.Variables))
	for i := range opts.Variables {
		o := &opts.Variables[i]
		subject := fmt.Sprintf("variables[%d]", i)
		if _, ok := md.Variable(o.Name); !ok {
			return nil, bridgeerrors.Configurationf(subject, bridgeerrors.ErrInvalidConfig, "model has no variable %q", o.Name)
		}
		if _, dup := overrides[o.Name]; dup {
			return nil, bridgeerrors.Configurationf(subject, bridgeerrors.ErrDuplicateName, "variable %q configured twice", o.Name)
		}
		overrides[o.Name] = o
	}
	reserved := make(map[string]bool, len(opts.Reserved))
	for _, r := range opts.Reserved {
		reserved[r] = true
	}

	l := &Layout{
		EnumWidth:  md.EnumWidth(),
		variables:  make(map[string]*ConfiguredVariable),
		structures: make(map[string]*ConfiguredStructure),
	}
	var vars []*ConfiguredVariable
	for _, v := range md.Variables {
		o := overrides[v.Name]
		if o != nil && o.Skip {
			continue
		}
		dir, ok := directionOf(v)
		if !ok {
			if o != nil {
				return nil, bridgeerrors.Configurationf(fmt.Sprintf("variable %q", v.Name), bridgeerrors.ErrInvalidConfig, "causality %s is not exchanged", v.Causality)
			}
			continue
		}
		cv, err := newVariable(md, reg, v, dir, o)
		if err != nil {
			return nil, err
		}
		if len(cv.Path) > 1 && o != nil && o.Topic != "" {
			return nil, bridgeerrors.Configurationf(fmt.Sprintf("variable %q", v.Name), bridgeerrors.ErrInvalidConfig, "structure members take the topic of their structure")
		}
		vars = append(vars, cv)
		l.variables[v.Name] = cv
	}

	declared := make(map[string]*types.Descriptor)
	topics := make(map[string]string)
	for i, so := range opts.Structures {
		subject := fmt.Sprintf("structures[%d]", i)
		if _, dup := topics[so.Name]; dup {
			return nil, bridgeerrors.Configurationf(subject, bridgeerrors.ErrDuplicateName, "structure %q configured twice", so.Name)
		}
		topics[so.Name] = so.Topic
		if so.Type == "" {
			continue
		}
		d, err := types.Parse(so.Type)
		if err != nil {
			return nil, err
		}
		if err := reg.Resolve(d, subject); err != nil {
			return nil, err
		}
		declared[so.Name] = d
	}

	structs, err := Assemble(vars, declared)
	if err != nil {
		return nil, err
	}
	for _, s := range structs {
		l.structures[s.Path[0]] = s
		l.order = append(l.order, s)
	}
	for name := range topics {
		if _, ok := l.structures[name]; !ok {
			return nil, bridgeerrors.Configurationf(fmt.Sprintf("structure %q", name), bridgeerrors.ErrInvalidConfig, "model has no variables below %q", name)
		}
	}

	byRef := make(map[fmi.ValueReference]*ConfiguredVariable)
	for _, cv := range vars {
		byRef[cv.Variable.ValueReference] = cv
	}
	seen := map[Direction]map[string]bool{Publish: {}, Subscribe: {}}
	add := func(t *Topic) error {
		if seen[t.Direction][t.Name] {
			return bridgeerrors.Configurationf(fmt.Sprintf("topic %q", t.Name), bridgeerrors.ErrDuplicateName, "topic used twice for %s", t.Direction)
		}
		seen[t.Direction][t.Name] = true
		if t.Direction == Publish {
			l.Publications = append(l.Publications, t)
		} else {
			l.Subscriptions = append(l.Subscriptions, t)
		}
		return nil
	}

	for _, cv := range vars {
		if len(cv.Path) != 1 || cv.IsClock() || reserved[cv.Name()] {
			continue
		}
		t := &Topic{Name: cv.Topic, Direction: cv.Direction, Type: cv.Type, Variable: cv}
		for _, ref := range cv.Variable.Clocks {
			if c, ok := byRef[ref]; ok && c.IsClock() {
				t.Clocks = append(t.Clocks, c)
			}
		}
		if err := add(t); err != nil {
			return nil, err
		}
	}
	for _, s := range structs {
		root := s.Path[0]
		if reserved[root] {
			continue
		}
		members := s.Variables()
		if len(members) == 0 {
			continue
		}
		dir := members[0].Direction
		for _, cv := range members[1:] {
			if cv.Direction != dir {
				return nil, bridgeerrors.Configurationf(fmt.Sprintf("structure %q", root), bridgeerrors.ErrInvalidConfig, "mixes inputs and outputs (%s, %s)", members[0].Name(), cv.Name())
			}
		}
		name := root
		if topics[root] != "" {
			name = topics[root]
		}
		if err := add(&Topic{Name: name, Direction: dir, Type: s.Descriptor(), Structure: s, Clocks: s.AllClocks()}); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// WriteReport prints the topics of l and their wire types.
func (l *Layout) WriteReport(w io.Writer) error {
	var err error
	printf := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}
	for _, group := range []struct {
		title  string
		topics []*Topic
	}{{"publications", l.Publications}, {"subscriptions", l.Subscriptions}} {
		printf("%s:\n", group.title)
		topics := append([]*Topic(nil), group.topics...)
		sort.Slice(topics, func(i, j int) bool { return topics[i].Name < topics[j].Name })
		for _, t := range topics {
			printf("  %s: %s", t.Name, t.Type)
			if len(t.Clocks) > 0 {
				printf(" (clocked by")
				for _, c := range t.Clocks {
					printf(" %s", c.Name())
				}
				printf(")")
			}
			printf("\n")
			if t.Structure != nil {
				writeSlots(printf, t.Structure, "    ")
			} else if t.Variable.Name() != t.Name {
				printf("    <- %s\n", t.Variable.Name())
			}
		}
	}
	return err
}

func writeSlots(printf func(string, ...any), s *ConfiguredStructure, indent string) {
	for _, sl := range s.Slots {
		if sl.Structure != nil {
			printf("%s%s: %s\n", indent, sl.Name, sl.Type)
			writeSlots(printf, sl.Structure, indent+"  ")
			continue
		}
		printf("%s%s: %s <- %s\n", indent, sl.Name, sl.Type, sl.Variable.Name())
	}
}
