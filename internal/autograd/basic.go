package autograd

import (
	"github.com/pkg/errors"

	"github.com/born-ml/autograd/internal/tensor"
)

// NewAdd returns the Add function: out = a + b for two inputs of equal shape.
func NewAdd() Function {
	return &function{
		kind:      Add,
		minInputs: 2, maxInputs: 2, required: 2,
		forward: func(in []*tensor.Tensor) (forwardResult, error) {
			if err := sameShape(Add, in); err != nil {
				return forwardResult{}, err
			}
			return forwardResult{
				outputs: []*tensor.Tensor{tensor.Add(in[0], in[1])},
				backward: func(_, g []*tensor.Tensor) ([]*tensor.Tensor, error) {
					return []*tensor.Tensor{g[0], g[0]}, nil
				},
			}, nil
		},
	}
}

// NewClone returns the Clone function, which copies its input.
// Its backward node is an Identity.
func NewClone() Function {
	return passThrough(Clone)
}

// NewIdentity returns the Identity function.
func NewIdentity() Function {
	return passThrough(Identity)
}

func passThrough(kind Kind) Function {
	return &function{
		kind:      kind,
		minInputs: 1, maxInputs: 1, required: 1,
		forward: func(in []*tensor.Tensor) (forwardResult, error) {
			return forwardResult{
				outputs:  []*tensor.Tensor{in[0].Clone()},
				backward: identityBackward,
			}, nil
		},
	}
}

func identityBackward(_, g []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return g, nil
}

// NewDelayedError returns a function that passes its inputs through unchanged
// and installs an Error node, so the stored message is raised only if a
// backward pass reaches it.
func NewDelayedError(msg string) Function {
	f := &function{
		kind:      DelayedError,
		minInputs: 1, maxInputs: -1,
		forward: func(in []*tensor.Tensor) (forwardResult, error) {
			for i, t := range in {
				if t == nil {
					return forwardResult{}, errors.Errorf("%s: input %d is nil", DelayedError, i)
				}
			}
			return forwardResult{
				outputs:  in,
				backward: errorBackward(msg),
			}, nil
		},
	}
	f.fields = messageFields(&msg)
	return f
}

// NewErrorNode creates an Error node with one edge per input directly,
// without running a forward computation. Running its backward fails with
// *DeferredError.
func NewErrorNode(msg string, inputs ...*Variable) *Node {
	next := make([]Edge, len(inputs))
	meta := make([]Meta, len(inputs))
	for i, v := range inputs {
		if v != nil {
			next[i] = v.gradEdge()
			meta[i] = metaOf(v.data)
		}
	}
	return newNode(Error, messageFields(&msg), next, meta, meta, nil, errorBackward(msg))
}

func errorBackward(msg string) backwardFunc {
	return func(_, _ []*tensor.Tensor) ([]*tensor.Tensor, error) {
		return nil, &DeferredError{Msg: msg}
	}
}

func messageFields(msg *string) fieldTable {
	return fieldTable{{"msg", func() any { return *msg }}}
}
