// Package loopback is an in-memory fmi.Instance. It keeps the native value of
// every variable, initialized from the start values of the model
// description, and on every step copies linked variables from source to
// target. It stands in for a native FMU in tests and in the CLI.
package loopback

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fmubridge/fmubridge/bridge/fmi"
	"github.com/fmubridge/fmubridge/bridge/types"
)

// Link copies the value of From into To after every step.
type Link struct {
	From fmi.ValueReference
	To   fmi.ValueReference
}

// Option configures an Instance.
type Option func(*Instance)

// WithLinks adds step links.
func WithLinks(links ...Link) Option {
	return func(i *Instance) { i.links = append(i.links, links...) }
}

// WithAsyncSteps makes DoStep return fmi.StatusPending and report the
// result on StepFinished.
func WithAsyncSteps() Option {
	return func(i *Instance) { i.async = true }
}

// Instance implements fmi.Instance and fmi.AsyncStepper.
type Instance struct {
	md    *fmi.ModelDescription
	links []Link
	async bool
	done  chan fmi.StepResult

	mu         sync.Mutex
	values     map[fmi.ValueReference]fmi.NativeValues
	steps      int
	terminated bool
}

// New builds an Instance for md.
func New(md *fmi.ModelDescription, opts ...Option) (*Instance, error) {
	inst := &Instance{
		md:     md,
		done:   make(chan fmi.StepResult, 1),
		values: make(map[fmi.ValueReference]fmi.NativeValues, len(md.Variables)),
	}
	for _, o := range opts {
		o(inst)
	}
	for _, v := range md.Variables {
		if _, ok := inst.values[v.ValueReference]; ok {
			continue
		}
		shape, err := md.Shape(v)
		if err != nil {
			return nil, err
		}
		nv, err := fmi.ParseStart(v.Kind, md.EnumWidth(), v.Start, fmi.ElementCount(shape))
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", v.Name, err)
		}
		inst.values[v.ValueReference] = nv
	}
	for _, l := range inst.links {
		from, okFrom := md.ByReference(l.From)
		to, okTo := md.ByReference(l.To)
		if !okFrom || !okTo {
			return nil, fmt.Errorf("link %d->%d references an unknown variable", l.From, l.To)
		}
		if from.Kind != to.Kind {
			return nil, fmt.Errorf("link %s->%s joins %s and %s", from.Name, to.Name, from.Kind, to.Kind)
		}
	}
	return inst, nil
}

// LinksByName resolves name pairs (source to target) into links.
func LinksByName(md *fmi.ModelDescription, pairs map[string]string) ([]Link, error) {
	links := make([]Link, 0, len(pairs))
	for from, to := range pairs {
		f, ok := md.Variable(from)
		if !ok {
			return nil, fmt.Errorf("link source %q is not a variable", from)
		}
		t, ok := md.Variable(to)
		if !ok {
			return nil, fmt.Errorf("link target %q is not a variable", to)
		}
		links = append(links, Link{From: f.ValueReference, To: t.ValueReference})
	}
	return links, nil
}

func (i *Instance) ModelDescription() *fmi.ModelDescription {
	return i.md
}

func (i *Instance) GetValues(refs []fmi.ValueReference, k types.Kind) (fmi.NativeValues, fmi.Status) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.terminated {
		return fmi.NativeValues{}, fmi.StatusError
	}
	out := fmi.NewNativeValues(k, i.md.EnumWidth())
	for _, ref := range refs {
		v, ok := i.md.ByReference(ref)
		if !ok || v.Kind != k {
			logrus.Debugf("[loopback] get %s: bad reference %d", k, ref)
			return fmi.NativeValues{}, fmi.StatusError
		}
		out.Concat(i.values[ref])
	}
	return out, fmi.StatusOK
}

func (i *Instance) SetValues(ref fmi.ValueReference, k types.Kind, values fmi.NativeValues) fmi.Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.terminated {
		return fmi.StatusError
	}
	v, ok := i.md.ByReference(ref)
	if !ok || v.Kind != k || values.Kind != k {
		return fmi.StatusError
	}
	cur := i.values[ref]
	if k != types.KindBinary && k != types.KindString && values.Len() != cur.Len() {
		return fmi.StatusError
	}
	stored := fmi.NewNativeValues(k, i.md.EnumWidth())
	stored.Concat(values)
	i.values[ref] = stored
	return fmi.StatusOK
}

func (i *Instance) DoStep(currentTime, stepSize float64) (float64, fmi.Status) {
	i.mu.Lock()
	if i.terminated {
		i.mu.Unlock()
		return currentTime, fmi.StatusError
	}
	for _, l := range i.links {
		i.values[l.To] = i.values[l.From]
	}
	// Input clocks tick once.
	for _, v := range i.md.Variables {
		if v.Kind == types.KindClock && v.Causality == fmi.CausalityInput {
			cur := i.values[v.ValueReference]
			i.values[v.ValueReference] = fmi.NativeValues{Kind: types.KindClock, Data: make([]byte, cur.Len())}
		}
	}
	i.steps++
	i.mu.Unlock()

	reached := currentTime + stepSize
	if i.async {
		res := fmi.StepResult{LastSuccessfulTime: reached, Status: fmi.StatusOK}
		select {
		case i.done <- res:
		default:
			// The previous result was never collected; replace it.
			<-i.done
			i.done <- res
		}
		return currentTime, fmi.StatusPending
	}
	return reached, fmi.StatusOK
}

func (i *Instance) StepFinished() <-chan fmi.StepResult {
	return i.done
}

func (i *Instance) Terminate() fmi.Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.terminated {
		return fmi.StatusError
	}
	i.terminated = true
	return fmi.StatusOK
}

// Steps returns the number of completed steps.
func (i *Instance) Steps() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.steps
}
