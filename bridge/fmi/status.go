package fmi

import "fmt"

// Status is the result code of a native FMI call.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusDiscard
	StatusError
	StatusFatal
	// StatusPending reports an asynchronous step that has not finished yet.
	StatusPending
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "Warning"
	case StatusDiscard:
		return "Discard"
	case StatusError:
		return "Error"
	case StatusFatal:
		return "Fatal"
	case StatusPending:
		return "Pending"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Succeeded reports whether s is one of the two success-equivalent codes.
func (s Status) Succeeded() bool {
	return s == StatusOK || s == StatusPending
}

// Tolerable reports whether the call may continue after logging s.
func (s Status) Tolerable() bool {
	return s == StatusWarning || s == StatusDiscard
}

// Causality is the role of a variable in the FMU.
type Causality int

const (
	CausalityLocal Causality = iota
	CausalityInput
	CausalityOutput
	CausalityParameter
	CausalityCalculatedParameter
	CausalityStructuralParameter
	CausalityIndependent
)

var causalityNames = map[string]Causality{
	"local":               CausalityLocal,
	"input":               CausalityInput,
	"output":              CausalityOutput,
	"parameter":           CausalityParameter,
	"calculatedParameter": CausalityCalculatedParameter,
	"structuralParameter": CausalityStructuralParameter,
	"independent":         CausalityIndependent,
}

// ParseCausality maps the modelDescription attribute to a Causality. An empty
// attribute is "local", the FMI default.
func ParseCausality(s string) (Causality, error) {
	if s == "" {
		return CausalityLocal, nil
	}
	c, ok := causalityNames[s]
	if !ok {
		return 0, fmt.Errorf("unknown causality %q", s)
	}
	return c, nil
}

func (c Causality) String() string {
	switch c {
	case CausalityLocal:
		return "local"
	case CausalityInput:
		return "input"
	case CausalityOutput:
		return "output"
	case CausalityParameter:
		return "parameter"
	case CausalityCalculatedParameter:
		return "calculatedParameter"
	case CausalityStructuralParameter:
		return "structuralParameter"
	case CausalityIndependent:
		return "independent"
	default:
		return fmt.Sprintf("Causality(%d)", int(c))
	}
}
