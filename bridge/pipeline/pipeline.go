package pipeline

import (
	"fmt"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
	"github.com/fmubridge/fmubridge/bridge/fmi"
	"github.com/fmubridge/fmubridge/bridge/types"
	"github.com/fmubridge/fmubridge/bridge/wire"
)

// Accessor reads and writes native FMU values. *fmi.Binding implements it.
type Accessor interface {
	Get(refs []fmi.ValueReference, k types.Kind) (fmi.NativeValues, error)
	Set(ref fmi.ValueReference, values fmi.NativeValues) error
}

// Pipeline moves values between an FMU and wire payloads according to a
// Layout. It is used from the stepping goroutine only.
type Pipeline struct {
	layout *Layout
	fmu    Accessor
	w      *wire.Writer
}

// New returns a pipeline for layout on fmu.
func New(layout *Layout, fmu Accessor) *Pipeline {
	return &Pipeline{layout: layout, fmu: fmu, w: wire.NewWriter(256)}
}

// Layout returns the layout the pipeline was built for.
func (p *Pipeline) Layout() *Layout {
	return p.layout
}

// Publications returns the output topics.
func (p *Pipeline) Publications() []*Topic {
	return p.layout.Publications
}

// Subscriptions returns the input topics.
func (p *Pipeline) Subscriptions() []*Topic {
	return p.layout.Subscriptions
}

// Export reads the current FMU values of t and encodes them.
func (p *Pipeline) Export(t *Topic) ([]byte, error) {
	if t.Structure != nil {
		return p.ExportStructure(t.Structure)
	}
	v, err := p.exportVariable(t.Variable)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", t.Name, err)
	}
	return p.encode(t.Type, v)
}

// ExportStructure reads and encodes every member of s.
func (p *Pipeline) ExportStructure(s *ConfiguredStructure) ([]byte, error) {
	rec, err := p.exportStructure(s)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", s.Name(), err)
	}
	return p.encode(s.Descriptor(), rec)
}

func (p *Pipeline) encode(d *types.Descriptor, v any) ([]byte, error) {
	p.w.Reset()
	if err := wire.Encode(p.w, d, v); err != nil {
		return nil, err
	}
	return append([]byte(nil), p.w.Bytes()...), nil
}

func (p *Pipeline) exportStructure(s *ConfiguredStructure) (wire.Record, error) {
	rec := make(wire.Record, len(s.Slots))
	for _, sl := range s.Slots {
		var (
			v   any
			err error
		)
		if sl.Structure != nil {
			v, err = p.exportStructure(sl.Structure)
		} else {
			v, err = p.exportVariable(sl.Variable)
		}
		if err != nil {
			return nil, err
		}
		rec[sl.Name] = v
	}
	return rec, nil
}

func (p *Pipeline) exportVariable(cv *ConfiguredVariable) (any, error) {
	nv, err := p.fmu.Get([]fmi.ValueReference{cv.Variable.ValueReference}, cv.Kind())
	if err != nil {
		return nil, err
	}
	raw, err := nv.Unpack()
	if err != nil {
		return nil, err
	}
	if n := fmi.ElementCount(cv.Shape); len(raw) != n {
		return nil, bridgeerrors.Codecf("export", bridgeerrors.ErrShape, "variable %s: got %d elements, shape %v needs %d", cv.Name(), len(raw), cv.Shape, n)
	}
	leaf := cv.Type.Leaf().Kind
	for i, x := range raw {
		if raw[i], err = cv.toWire(x, leaf); err != nil {
			return nil, fmt.Errorf("variable %s: %w", cv.Name(), err)
		}
	}
	if len(cv.Shape) == 0 {
		return raw[0], nil
	}
	return nest(raw, cv.Shape), nil
}

// toWire maps one native element through the unit and the transformation
// and casts it to the wire kind.
func (cv *ConfiguredVariable) toWire(x any, to types.Kind) (any, error) {
	if cv.linear() {
		return convert(x, to)
	}
	f, err := toFloat(x)
	if err != nil {
		return nil, err
	}
	return fromFloat(cv.Transform.Apply(cv.Unit.ToBus(f)), to)
}

// fromWire is the inbound counterpart of toWire.
func (cv *ConfiguredVariable) fromWire(x any) (any, error) {
	if cv.linear() {
		return convert(x, cv.Kind())
	}
	f, err := toFloat(x)
	if err != nil {
		return nil, err
	}
	return fromFloat(cv.Unit.FromBus(cv.Transform.Apply(f)), cv.Kind())
}

// nest turns a row-major flat slice into one []any level per dimension.
func nest(flat []any, shape []int) []any {
	if len(shape) == 1 {
		return flat
	}
	stride := len(flat) / shape[0]
	out := make([]any, shape[0])
	for i := range out {
		out[i] = nest(flat[i*stride:(i+1)*stride], shape[1:])
	}
	return out
}

// flatten is the inverse of nest. Every level must match its dimension.
func flatten(v any, shape []int, out []any) ([]any, error) {
	if len(shape) == 0 {
		return append(out, v), nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, bridgeerrors.Codecf("import", bridgeerrors.ErrValueType, "%T where a list was expected", v)
	}
	if len(items) != shape[0] {
		return nil, bridgeerrors.Codecf("import", bridgeerrors.ErrShape, "list of %d elements for dimension of %d", len(items), shape[0])
	}
	var err error
	for _, item := range items {
		if out, err = flatten(item, shape[1:], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Import decodes payload and writes it into the FMU inputs of t, then ticks
// the clocks of t.
func (p *Pipeline) Import(t *Topic, payload []byte) error {
	if t.Structure != nil {
		if err := p.ImportStructure(t.Structure, payload); err != nil {
			return err
		}
	} else {
		v, err := p.decode(t.Type, payload)
		if err != nil {
			return fmt.Errorf("import %s: %w", t.Name, err)
		}
		if err := p.importVariable(t.Variable, v); err != nil {
			return fmt.Errorf("import %s: %w", t.Name, err)
		}
	}
	return p.Tick(t.Clocks...)
}

// ImportStructure decodes payload and writes every present member of s.
func (p *Pipeline) ImportStructure(s *ConfiguredStructure, payload []byte) error {
	v, err := p.decode(s.Descriptor(), payload)
	if err != nil {
		return fmt.Errorf("import %s: %w", s.Name(), err)
	}
	if v == nil {
		return nil
	}
	if err := p.importStructure(s, v.(wire.Record)); err != nil {
		return fmt.Errorf("import %s: %w", s.Name(), err)
	}
	return nil
}

func (p *Pipeline) decode(d *types.Descriptor, payload []byte) (any, error) {
	r := wire.NewReader(payload)
	v, err := wire.Decode(r, d)
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, bridgeerrors.Codecf("decode", bridgeerrors.ErrShape, "%d trailing bytes after %s", r.Remaining(), d)
	}
	return v, nil
}

func (p *Pipeline) importStructure(s *ConfiguredStructure, rec wire.Record) error {
	for _, sl := range s.Slots {
		v := rec[sl.Name]
		if v == nil {
			continue
		}
		var err error
		if sl.Structure != nil {
			err = p.importStructure(sl.Structure, v.(wire.Record))
		} else {
			err = p.importVariable(sl.Variable, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// importVariable writes v into cv. Absent elements keep the FMU's current
// value.
func (p *Pipeline) importVariable(cv *ConfiguredVariable, v any) error {
	if v == nil {
		return nil
	}
	flat, err := flatten(v, cv.Shape, make([]any, 0, fmi.ElementCount(cv.Shape)))
	if err != nil {
		return fmt.Errorf("variable %s: %w", cv.Name(), err)
	}
	var current fmi.NativeValues
	for i, x := range flat {
		if x == nil {
			if current.Kind == types.KindInvalid {
				if current, err = p.fmu.Get([]fmi.ValueReference{cv.Variable.ValueReference}, cv.Kind()); err != nil {
					return err
				}
			}
			if flat[i], err = current.At(i); err != nil {
				return fmt.Errorf("variable %s: %w", cv.Name(), err)
			}
			continue
		}
		if flat[i], err = cv.fromWire(x); err != nil {
			return fmt.Errorf("variable %s: %w", cv.Name(), err)
		}
	}
	nv, err := fmi.Pack(cv.Kind(), cv.EnumWidth, flat...)
	if err != nil {
		return fmt.Errorf("variable %s: %w", cv.Name(), err)
	}
	return p.fmu.Set(cv.Variable.ValueReference, nv)
}

// Tick activates the given input clocks.
func (p *Pipeline) Tick(clocks ...*ConfiguredVariable) error {
	for _, c := range clocks {
		if c.Direction != Subscribe {
			continue
		}
		nv, err := fmi.Pack(types.KindClock, p.layout.EnumWidth, true)
		if err != nil {
			return err
		}
		if err := p.fmu.Set(c.Variable.ValueReference, nv); err != nil {
			return err
		}
	}
	return nil
}

// Active reports whether an output topic should be published: topics without
// clocks always are, clocked topics only when a clock ticked.
func (p *Pipeline) Active(t *Topic) (bool, error) {
	return p.AnyTicked(t.Clocks)
}

// AnyTicked reports whether clocks is empty or any of the clocks is active.
func (p *Pipeline) AnyTicked(clocks []*ConfiguredVariable) (bool, error) {
	if len(clocks) == 0 {
		return true, nil
	}
	for _, c := range clocks {
		on, err := p.ClockActive(c)
		if err != nil || on {
			return on, err
		}
	}
	return false, nil
}

// ClockActive reads the clock variable c.
func (p *Pipeline) ClockActive(c *ConfiguredVariable) (bool, error) {
	nv, err := p.fmu.Get([]fmi.ValueReference{c.Variable.ValueReference}, types.KindClock)
	if err != nil {
		return false, err
	}
	for i := 0; i < nv.Len(); i++ {
		v, err := nv.At(i)
		if err != nil {
			return false, err
		}
		if on, _ := v.(bool); on {
			return true, nil
		}
	}
	return false, nil
}

// ReadBinary returns the concatenated bytes of the binary variable cv.
func (p *Pipeline) ReadBinary(cv *ConfiguredVariable) ([]byte, error) {
	nv, err := p.fmu.Get([]fmi.ValueReference{cv.Variable.ValueReference}, types.KindBinary)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), nv.Data...), nil
}

// WriteBinary stores b as the single element of the binary variable cv.
func (p *Pipeline) WriteBinary(cv *ConfiguredVariable, b []byte) error {
	nv, err := fmi.Pack(types.KindBinary, p.layout.EnumWidth, b)
	if err != nil {
		return err
	}
	return p.fmu.Set(cv.Variable.ValueReference, nv)
}
