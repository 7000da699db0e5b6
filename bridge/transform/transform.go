// Package transform holds the linear conversions applied to numeric values
// on their way between the FMU and the bus: the FMU unit conversion and the
// user-configured Transformation.
package transform

import (
	"fmt"
	"math"
	"sync"
)

// Transformation is a user-configured linear map v·factor + offset with an
// optional transmission type override. Unset factor and offset mean identity.
// With ReverseTransform the inverse map is applied instead, which lets a
// subscriber undo the transformation a publisher applied.
//
// The effective parameters are computed once on first use and cached; a
// Transformation is safe for concurrent use after construction.
type Transformation struct {
	Factor           *float64
	Offset           *float64
	ReverseTransform bool
	TransmissionType string

	once   sync.Once
	factor float64
	offset float64
}

// New returns a Transformation with the given parameters.
func New(factor, offset *float64, reverse bool, transmissionType string) *Transformation {
	return &Transformation{Factor: factor, Offset: offset, ReverseTransform: reverse, TransmissionType: transmissionType}
}

// Validate rejects factors that cannot be applied or inverted.
func (t *Transformation) Validate() error {
	if t == nil {
		return nil
	}
	if t.Factor != nil {
		f := *t.Factor
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("factor must be a finite number, got %v", f)
		}
		if f == 0 {
			return fmt.Errorf("factor must be non-zero")
		}
	}
	if t.Offset != nil && (math.IsNaN(*t.Offset) || math.IsInf(*t.Offset, 0)) {
		return fmt.Errorf("offset must be a finite number, got %v", *t.Offset)
	}
	return nil
}

// Effective returns the factor and offset Apply uses.
func (t *Transformation) Effective() (factor, offset float64) {
	if t == nil {
		return 1, 0
	}
	t.once.Do(func() {
		f, o := 1.0, 0.0
		if t.Factor != nil {
			f = *t.Factor
		}
		if t.Offset != nil {
			o = *t.Offset
		}
		if t.ReverseTransform {
			f, o = 1/f, -o/f
		}
		t.factor, t.offset = f, o
	})
	return t.factor, t.offset
}

// IsLinearIdentity reports whether Apply leaves every value unchanged.
func (t *Transformation) IsLinearIdentity() bool {
	f, o := t.Effective()
	return f == 1 && o == 0
}

// Apply maps v through the effective parameters.
func (t *Transformation) Apply(v float64) float64 {
	f, o := t.Effective()
	return v*f + o
}

// Invert undoes Apply.
func (t *Transformation) Invert(v float64) float64 {
	f, o := t.Effective()
	return (v - o) / f
}

// Transmission returns the configured transmission type token, or "".
func (t *Transformation) Transmission() string {
	if t == nil {
		return ""
	}
	return t.TransmissionType
}

// Unit is the FMU-side unit conversion of a variable, declared in the model
// description as raw = value·Factor + Offset.
type Unit struct {
	Factor float64
	Offset float64
}

// Identity is the unit conversion that changes nothing.
var Identity = Unit{Factor: 1}

// Validate rejects unit definitions whose factor cannot be divided out.
func (u Unit) Validate() error {
	if math.IsNaN(u.Factor) || math.IsInf(u.Factor, 0) || u.Factor == 0 {
		return fmt.Errorf("unit factor must be a finite non-zero number, got %v", u.Factor)
	}
	if math.IsNaN(u.Offset) || math.IsInf(u.Offset, 0) {
		return fmt.Errorf("unit offset must be a finite number, got %v", u.Offset)
	}
	return nil
}

// IsIdentity reports whether u changes nothing.
func (u Unit) IsIdentity() bool {
	return u.Factor == 1 && u.Offset == 0
}

// ToBus converts a raw FMU value for transmission. The offset is removed
// before dividing by the factor.
func (u Unit) ToBus(raw float64) float64 {
	return (raw - u.Offset) / u.Factor
}

// FromBus converts a received value into the FMU's raw unit.
func (u Unit) FromBus(v float64) float64 {
	return v*u.Factor + u.Offset
}
