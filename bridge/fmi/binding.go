package fmi

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
	"github.com/fmubridge/fmubridge/bridge/types"
)

// Instance is an instantiated and initialized co-simulation FMU.
type Instance interface {
	ModelDescription() *ModelDescription
	// GetValues reads the variables refs, which all share native kind k.
	GetValues(refs []ValueReference, k types.Kind) (NativeValues, Status)
	// SetValues writes every element of values into the variable ref.
	SetValues(ref ValueReference, k types.Kind, values NativeValues) Status
	// DoStep advances from currentTime by stepSize and returns the time the
	// FMU actually reached.
	DoStep(currentTime, stepSize float64) (float64, Status)
	Terminate() Status
}

// StepResult is the outcome of an asynchronous step.
type StepResult struct {
	LastSuccessfulTime float64
	Status             Status
}

// AsyncStepper is implemented by instances whose DoStep may return
// StatusPending. The result of the pending step is delivered on
// StepFinished.
type AsyncStepper interface {
	StepFinished() <-chan StepResult
}

// Binding wraps an Instance, turning FMI status codes into errors.
// OK and Pending succeed; Warning and Discard are logged and the call is
// treated as successful; Error and Fatal become native errors.
type Binding struct {
	inst Instance
	md   *ModelDescription
}

// NewBinding wraps inst.
func NewBinding(inst Instance) *Binding {
	return &Binding{inst: inst, md: inst.ModelDescription()}
}

// ModelDescription returns the wrapped instance's model description.
func (b *Binding) ModelDescription() *ModelDescription {
	return b.md
}

func (b *Binding) check(op string, s Status) error {
	switch {
	case s.Succeeded():
		return nil
	case s.Tolerable():
		logrus.Warnf("[fmi] %s returned %s", op, s)
		return nil
	default:
		err := bridgeerrors.Native(op, s)
		logrus.Errorf("[fmi] %v", err)
		return err
	}
}

// Get reads the variables refs of native kind k.
func (b *Binding) Get(refs []ValueReference, k types.Kind) (NativeValues, error) {
	nv, s := b.inst.GetValues(refs, k)
	if err := b.check(fmt.Sprintf("get %s %v", k, refs), s); err != nil {
		return NativeValues{}, err
	}
	return nv, nil
}

// Set writes values into the variable ref.
func (b *Binding) Set(ref ValueReference, values NativeValues) error {
	return b.check(fmt.Sprintf("set %s %d", values.Kind, ref), b.inst.SetValues(ref, values.Kind, values))
}

// DoStep performs one step. A pending asynchronous step is awaited until
// the instance reports completion or ctx is done; there is no timeout.
func (b *Binding) DoStep(ctx context.Context, currentTime, stepSize float64) (float64, error) {
	op := fmt.Sprintf("doStep t=%g h=%g", currentTime, stepSize)
	reached, s := b.inst.DoStep(currentTime, stepSize)
	if err := b.check(op, s); err != nil {
		return currentTime, err
	}
	if s != StatusPending {
		return reached, nil
	}
	async, ok := b.inst.(AsyncStepper)
	if !ok {
		return currentTime, bridgeerrors.Native(op+" (pending without completion channel)", s)
	}
	logrus.Debugf("[fmi] %s pending, waiting for completion", op)
	select {
	case res := <-async.StepFinished():
		if err := b.check(op, res.Status); err != nil {
			return currentTime, err
		}
		if res.Status == StatusPending {
			return currentTime, bridgeerrors.Native(op+" (completion still pending)", res.Status)
		}
		return res.LastSuccessfulTime, nil
	case <-ctx.Done():
		return currentTime, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// Terminate ends the simulation on the FMU side.
func (b *Binding) Terminate() error {
	return b.check("terminate", b.inst.Terminate())
}
