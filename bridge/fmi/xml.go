package fmi

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
	"github.com/fmubridge/fmubridge/bridge/transform"
	"github.com/fmubridge/fmubridge/bridge/types"
)

// fmi3Kinds maps FMI 3 variable element names to native kinds.
var fmi3Kinds = map[string]types.Kind{
	"Float32":     types.KindFloat32,
	"Float64":     types.KindFloat64,
	"Int8":        types.KindInt8,
	"Int16":       types.KindInt16,
	"Int32":       types.KindInt32,
	"Int64":       types.KindInt64,
	"UInt8":       types.KindUInt8,
	"UInt16":      types.KindUInt16,
	"UInt32":      types.KindUInt32,
	"UInt64":      types.KindUInt64,
	"Boolean":     types.KindBool,
	"String":      types.KindString,
	"Binary":      types.KindBinary,
	"Enumeration": types.KindEnum,
	"Clock":       types.KindClock,
}

type xmlUnitDefinitions struct {
	Units []struct {
		Name     string `xml:"name,attr"`
		BaseUnit *struct {
			Factor *float64 `xml:"factor,attr"`
			Offset *float64 `xml:"offset,attr"`
		} `xml:"BaseUnit"`
	} `xml:"Unit"`
}

type xmlEnumType struct {
	Name  string `xml:"name,attr"`
	Items []struct {
		Name  string `xml:"name,attr"`
		Value int64  `xml:"value,attr"`
	} `xml:"Item"`
}

type xmlFloatType struct {
	Name string `xml:"name,attr"`
	Unit string `xml:"unit,attr"`
}

type xmlTypeDefinitions struct {
	// FMI 2
	SimpleTypes []struct {
		Name        string        `xml:"name,attr"`
		Real        *xmlFloatType `xml:"Real"`
		Enumeration *xmlEnumType  `xml:"Enumeration"`
	} `xml:"SimpleType"`
	// FMI 3
	EnumerationTypes []xmlEnumType  `xml:"EnumerationType"`
	Float32Types     []xmlFloatType `xml:"Float32Type"`
	Float64Types     []xmlFloatType `xml:"Float64Type"`
}

type xmlDefaultExperiment struct {
	StartTime float64 `xml:"startTime,attr"`
	StopTime  float64 `xml:"stopTime,attr"`
	StepSize  float64 `xml:"stepSize,attr"`
}

type xmlVariable struct {
	Name           string `xml:"name,attr"`
	ValueReference uint32 `xml:"valueReference,attr"`
	Causality      string `xml:"causality,attr"`
	DeclaredType   string `xml:"declaredType,attr"`
	Unit           string `xml:"unit,attr"`
	Start          string `xml:"start,attr"`
	Clocks         string `xml:"clocks,attr"`
	Dimensions     []struct {
		Start          *uint64 `xml:"start,attr"`
		ValueReference *uint32 `xml:"valueReference,attr"`
	} `xml:"Dimension"`
	StartValues []struct {
		Value string `xml:"value,attr"`
	} `xml:"Start"`
}

type xmlTyped2 struct {
	DeclaredType string `xml:"declaredType,attr"`
	Unit         string `xml:"unit,attr"`
	Start        string `xml:"start,attr"`
}

type xmlScalarVariable struct {
	Name           string     `xml:"name,attr"`
	ValueReference uint32     `xml:"valueReference,attr"`
	Causality      string     `xml:"causality,attr"`
	Real           *xmlTyped2 `xml:"Real"`
	Integer        *xmlTyped2 `xml:"Integer"`
	Boolean        *xmlTyped2 `xml:"Boolean"`
	String         *xmlTyped2 `xml:"String"`
	Enumeration    *xmlTyped2 `xml:"Enumeration"`
}

// LoadModelDescription reads a modelDescription.xml from disk.
func LoadModelDescription(path string) (*ModelDescription, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model description: %w", err)
	}
	defer f.Close()
	md, err := ParseModelDescription(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return md, nil
}

// ParseModelDescription reads an FMI 2.0 or 3.0 model description in a
// single pass over the XML token stream. Elements the bridge does not use
// are skipped.
func ParseModelDescription(r io.Reader) (*ModelDescription, error) {
	dec := xml.NewDecoder(r)
	md := &ModelDescription{
		Units:         make(map[string]transform.Unit),
		DeclaredUnits: make(map[string]string),
	}
	seenRoot := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse model description: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "fmiModelDescription":
			seenRoot = true
			for _, a := range se.Attr {
				switch a.Name.Local {
				case "fmiVersion":
					md.FMIVersion = a.Value
				case "modelName":
					md.ModelName = a.Value
				case "guid", "instantiationToken":
					md.InstantiationToken = a.Value
				}
			}
		case "UnitDefinitions":
			var x xmlUnitDefinitions
			if err := dec.DecodeElement(&x, &se); err != nil {
				return nil, fmt.Errorf("parse UnitDefinitions: %w", err)
			}
			if err := md.addUnits(x); err != nil {
				return nil, err
			}
		case "TypeDefinitions":
			var x xmlTypeDefinitions
			if err := dec.DecodeElement(&x, &se); err != nil {
				return nil, fmt.Errorf("parse TypeDefinitions: %w", err)
			}
			md.addTypes(x)
		case "DefaultExperiment":
			var x xmlDefaultExperiment
			if err := dec.DecodeElement(&x, &se); err != nil {
				return nil, fmt.Errorf("parse DefaultExperiment: %w", err)
			}
			md.StartTime, md.StopTime, md.DefaultStepSize = x.StartTime, x.StopTime, x.StepSize
		case "ModelVariables":
			if err := md.parseVariables(dec); err != nil {
				return nil, fmt.Errorf("parse ModelVariables: %w", err)
			}
		default:
			if !seenRoot {
				return nil, fmt.Errorf("unexpected root element <%s>", se.Name.Local)
			}
			if err := dec.Skip(); err != nil {
				return nil, fmt.Errorf("parse model description: %w", err)
			}
		}
	}
	if !seenRoot {
		return nil, fmt.Errorf("no fmiModelDescription element")
	}
	if md.FMIVersion == "" {
		return nil, fmt.Errorf("fmiVersion attribute missing")
	}
	if err := md.index(); err != nil {
		return nil, err
	}
	return md, nil
}

func (md *ModelDescription) addUnits(x xmlUnitDefinitions) error {
	for _, u := range x.Units {
		unit := transform.Identity
		if u.BaseUnit != nil {
			if u.BaseUnit.Factor != nil {
				unit.Factor = *u.BaseUnit.Factor
			}
			if u.BaseUnit.Offset != nil {
				unit.Offset = *u.BaseUnit.Offset
			}
		}
		if err := unit.Validate(); err != nil {
			return bridgeerrors.Configurationf("unit "+u.Name, bridgeerrors.ErrInvalidConfig, "%v", err)
		}
		md.Units[u.Name] = unit
	}
	return nil
}

func (md *ModelDescription) addTypes(x xmlTypeDefinitions) {
	addEnum := func(name string, e *xmlEnumType) {
		def := &types.EnumDefinition{Name: name}
		for _, it := range e.Items {
			def.Items = append(def.Items, types.EnumItem{Name: it.Name, Value: it.Value})
		}
		md.Enums = append(md.Enums, def)
	}
	for _, st := range x.SimpleTypes {
		if st.Real != nil && st.Real.Unit != "" {
			md.DeclaredUnits[st.Name] = st.Real.Unit
		}
		if st.Enumeration != nil {
			addEnum(st.Name, st.Enumeration)
		}
	}
	for i := range x.EnumerationTypes {
		addEnum(x.EnumerationTypes[i].Name, &x.EnumerationTypes[i])
	}
	for _, ft := range append(x.Float32Types, x.Float64Types...) {
		if ft.Unit != "" {
			md.DeclaredUnits[ft.Name] = ft.Unit
		}
	}
}

func (md *ModelDescription) parseVariables(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return nil
		case xml.StartElement:
			v, err := decodeVariable(dec, t)
			if err != nil {
				return err
			}
			md.Variables = append(md.Variables, v)
		}
	}
}

func decodeVariable(dec *xml.Decoder, se xml.StartElement) (*Variable, error) {
	if se.Name.Local == "ScalarVariable" {
		var x xmlScalarVariable
		if err := dec.DecodeElement(&x, &se); err != nil {
			return nil, err
		}
		return x.variable()
	}
	kind, ok := fmi3Kinds[se.Name.Local]
	if !ok {
		return nil, fmt.Errorf("unsupported variable element <%s>", se.Name.Local)
	}
	var x xmlVariable
	if err := dec.DecodeElement(&x, &se); err != nil {
		return nil, err
	}
	return x.variable(kind)
}

func (x *xmlVariable) variable(kind types.Kind) (*Variable, error) {
	c, err := ParseCausality(x.Causality)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", x.Name, err)
	}
	v := &Variable{
		Name:           x.Name,
		ValueReference: ValueReference(x.ValueReference),
		Causality:      c,
		Kind:           kind,
		DeclaredType:   x.DeclaredType,
		Unit:           x.Unit,
		Start:          x.Start,
	}
	if v.Start == "" && len(x.StartValues) > 0 {
		starts := make([]string, len(x.StartValues))
		for i, s := range x.StartValues {
			starts[i] = s.Value
		}
		v.Start = strings.Join(starts, " ")
	}
	for i, d := range x.Dimensions {
		switch {
		case d.Start != nil && d.ValueReference == nil:
			v.Dimensions = append(v.Dimensions, Dimension{Start: *d.Start})
		case d.Start == nil && d.ValueReference != nil:
			vr := ValueReference(*d.ValueReference)
			v.Dimensions = append(v.Dimensions, Dimension{ValueReference: &vr})
		default:
			return nil, fmt.Errorf("variable %s: dimension %d needs exactly one of start or valueReference", x.Name, i)
		}
	}
	for _, f := range strings.Fields(x.Clocks) {
		n, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("variable %s: clocks: %w", x.Name, err)
		}
		v.Clocks = append(v.Clocks, ValueReference(n))
	}
	return v, nil
}

func (x *xmlScalarVariable) variable() (*Variable, error) {
	c, err := ParseCausality(x.Causality)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", x.Name, err)
	}
	v := &Variable{Name: x.Name, ValueReference: ValueReference(x.ValueReference), Causality: c}
	var typed *xmlTyped2
	switch {
	case x.Real != nil:
		v.Kind, typed = types.KindFloat64, x.Real
	case x.Integer != nil:
		v.Kind, typed = types.KindInt32, x.Integer
	case x.Boolean != nil:
		v.Kind, typed = types.KindBool, x.Boolean
	case x.String != nil:
		v.Kind, typed = types.KindString, x.String
	case x.Enumeration != nil:
		v.Kind, typed = types.KindEnum, x.Enumeration
	default:
		return nil, fmt.Errorf("variable %s: no type element", x.Name)
	}
	v.DeclaredType, v.Unit, v.Start = typed.DeclaredType, typed.Unit, typed.Start
	return v, nil
}
