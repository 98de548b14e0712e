package autograd

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/born-ml/autograd/internal/backend/cpu"
	"github.com/born-ml/autograd/internal/tensor"
)

// Function is the forward side of a differentiable operation.
//
// Apply computes the outputs and, when any input requires grad, records one
// backward Node whose edges point at the inputs' producers. A Function holds
// only its parameters and can be applied any number of times.
type Function interface {
	Kind() Kind

	// Apply runs the operation. Optional inputs may be nil.
	Apply(inputs ...*Variable) ([]*Variable, error)

	// Attr reads a parameter by field name.
	Attr(name string) (any, error)

	// Fields lists the parameter names in construction order.
	Fields() []string
}

// InPlaceFunction is implemented by functions that can overwrite their single
// input.
type InPlaceFunction interface {
	Function

	// ApplyInPlace writes the result into v's data and makes v the output.
	ApplyInPlace(v *Variable) (*Variable, error)
}

// forwardResult is what a kind's forward computation hands back to Apply.
type forwardResult struct {
	outputs  []*tensor.Tensor
	saved    []*tensor.Tensor
	backward backwardFunc
}

type forwardFunc func(inputs []*tensor.Tensor) (forwardResult, error)

// kernels is the backend used by every function.
var kernels = cpu.New()

// function implements Function for all kinds.
type function struct {
	kind   Kind
	fields fieldTable

	// minInputs..maxInputs is the accepted number of inputs; maxInputs < 0
	// means unbounded. Inputs at index >= required may be nil.
	minInputs, maxInputs int
	required             int

	forward forwardFunc
	inPlace bool
}

func (f *function) Kind() Kind { return f.kind }

func (f *function) Attr(name string) (any, error) { return f.fields.attr(f.kind, name) }

func (f *function) Fields() []string { return f.fields.names() }

func (f *function) String() string { return string(f.kind) }

func (f *function) Apply(inputs ...*Variable) ([]*Variable, error) {
	if len(inputs) < f.minInputs || (f.maxInputs >= 0 && len(inputs) > f.maxInputs) {
		return nil, errors.Errorf("%s: got %d inputs, expected %s", f.kind, len(inputs), f.inputRange())
	}
	data := make([]*tensor.Tensor, len(inputs))
	for i, v := range inputs {
		if v == nil {
			if i < f.required {
				return nil, errors.Errorf("%s: input %d is required", f.kind, i)
			}
			continue
		}
		data[i] = v.data
	}

	var (
		res        forwardResult
		forwardErr error
	)
	if err := exceptions.TryCatch[error](func() { res, forwardErr = f.forward(data) }); err != nil {
		return nil, errors.WithMessagef(err, "%s forward", f.kind)
	}
	if forwardErr != nil {
		return nil, forwardErr
	}

	outputs := make([]*Variable, len(res.outputs))
	for i, t := range res.outputs {
		outputs[i] = &Variable{data: t, version: versionOf(t, inputs)}
	}
	if !slices.ContainsFunc(inputs, func(v *Variable) bool { return v != nil && v.requiresGrad }) {
		return outputs, nil
	}

	next := make([]Edge, len(inputs))
	inMeta := make([]Meta, len(inputs))
	for i, v := range inputs {
		if v != nil {
			next[i] = v.gradEdge()
			inMeta[i] = metaOf(v.data)
		}
	}
	outMeta := make([]Meta, len(res.outputs))
	for i, t := range res.outputs {
		outMeta[i] = metaOf(t)
	}
	node := newNode(BackwardKind(f.kind), f.fields, next, inMeta, outMeta, res.saved, res.backward)
	node.versions = pinVersions(res.saved, inputs, outputs)
	for i, out := range outputs {
		out.requiresGrad = true
		out.node, out.slot = node, i
	}
	return outputs, nil
}

// versionOf returns the version counter for an output tensor: the counter of
// the input it aliases, or a new one.
func versionOf(t *tensor.Tensor, inputs []*Variable) *atomic.Uint64 {
	for _, v := range inputs {
		if v != nil && v.data == t {
			return v.version
		}
	}
	return new(atomic.Uint64)
}

// pinVersions records the current version of every input or output whose
// data was saved for backward.
func pinVersions(saved []*tensor.Tensor, groups ...[]*Variable) []savedVersion {
	var pins []savedVersion
	for _, vars := range groups {
		for _, v := range vars {
			if v != nil && slices.Contains(saved, v.data) {
				pins = append(pins, savedVersion{v: v, version: v.Version()})
			}
		}
	}
	return pins
}

// ApplyInPlace runs a unary function and writes its result over v's data.
// The history of v is rebased onto the new node and its version is bumped,
// so nodes that saved the old contents fail with ErrModifiedInPlace.
func (f *function) ApplyInPlace(v *Variable) (*Variable, error) {
	if !f.inPlace {
		return nil, errors.Errorf("%s does not support in-place application", f.kind)
	}
	if v == nil {
		return nil, errors.Errorf("%s: in-place input is nil", f.kind)
	}
	if v.IsLeaf() && v.requiresGrad {
		return nil, errors.Wrapf(ErrLeafInPlace, "%s on %s", f.kind, v)
	}
	// The node saves a private copy of the input, v's buffer is free to change.
	input := &Variable{data: v.data.Clone(), requiresGrad: v.requiresGrad, node: v.node, slot: v.slot, version: new(atomic.Uint64)}
	outs, err := f.Apply(input)
	if err != nil {
		return nil, err
	}
	copy(v.data.Data(), outs[0].data.Data())
	v.version.Add(1)
	if outs[0].node != nil {
		v.node, v.slot = outs[0].node, 0
	}
	return v, nil
}

func (f *function) inputRange() string {
	switch {
	case f.maxInputs < 0:
		return fmt.Sprintf("at least %d", f.minInputs)
	case f.minInputs == f.maxInputs:
		return fmt.Sprint(f.minInputs)
	}
	return fmt.Sprintf("%d to %d", f.minInputs, f.maxInputs)
}

// sameShape checks that all non-nil inputs share the shape of the first.
func sameShape(kind Kind, inputs []*tensor.Tensor) error {
	for i, t := range inputs[1:] {
		if t != nil && !t.Shape().Equal(inputs[0].Shape()) {
			return errors.Errorf("%s: input %d has shape %v, input 0 has shape %v", kind, i+1, t.Shape(), inputs[0].Shape())
		}
	}
	return nil
}
