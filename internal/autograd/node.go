package autograd

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/born-ml/autograd/internal/tensor"
)

// nextSeq numbers nodes in creation order, process wide.
var nextSeq atomic.Uint64

// Edge points at output slot Slot of Node. The zero Edge is invalid and
// marks an input that does not require grad.
type Edge struct {
	Node *Node
	Slot int
}

// IsValid reports whether the edge points at a node.
func (e Edge) IsValid() bool {
	return e.Node != nil
}

func (e Edge) String() string {
	if e.Node == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s:%d", e.Node, e.Slot)
}

// Relation is the full form of an edge: gradient for input TargetSlot of
// Target flows back to output SourceSlot of Source.
type Relation struct {
	Source     *Node
	SourceSlot int
	Target     *Node
	TargetSlot int
}

// Meta describes one tensor slot of a node.
type Meta struct {
	Shape tensor.Shape
	DType tensor.DataType
}

func metaOf(t *tensor.Tensor) Meta {
	if t == nil {
		return Meta{}
	}
	return Meta{Shape: t.Shape(), DType: t.DType()}
}

// backwardFunc computes input gradients from the saved tensors and one
// gradient per output slot. It may return nil for inputs whose gradient is
// zero or not needed.
type backwardFunc func(saved, gradOutputs []*tensor.Tensor) ([]*tensor.Tensor, error)

// savedVersion pins the version of a variable whose data was saved.
type savedVersion struct {
	v       *Variable
	version uint64
}

// Node is a vertex of the backward graph: it computes the gradients of one
// function application.
type Node struct {
	seq    uint64
	kind   Kind
	fields fieldTable

	next    []Edge
	inputs  []Meta
	outputs []Meta

	impl     backwardFunc
	versions []savedVersion

	mu       sync.Mutex
	saved    []*tensor.Tensor
	released bool

	// acc is set for AccumulateGrad nodes only.
	acc *Accumulator
}

func newNode(kind Kind, fields fieldTable, next []Edge, inputs, outputs []Meta,
	saved []*tensor.Tensor, impl backwardFunc) *Node {
	return &Node{
		seq:     nextSeq.Add(1),
		kind:    kind,
		fields:  fields,
		next:    next,
		inputs:  inputs,
		outputs: outputs,
		saved:   saved,
		impl:    impl,
	}
}

func newAccumulateGradNode(v *Variable) *Node {
	n := newNode(AccumulateGrad, nil, nil, nil, []Meta{metaOf(v.data)}, nil, nil)
	n.acc = newAccumulator(v)
	n.fields = fieldTable{{"variable", func() any { return v }}}
	return n
}

// Seq returns the creation sequence number.
// Later forward operations have larger numbers.
func (n *Node) Seq() uint64 { return n.seq }

// Kind returns the node kind.
func (n *Node) Kind() Kind { return n.kind }

// NumInputs returns the number of input slots (edges).
func (n *Node) NumInputs() int { return len(n.next) }

// NumOutputs returns the number of output slots.
func (n *Node) NumOutputs() int { return len(n.outputs) }

// Next returns a copy of the node's edges, one per input slot.
func (n *Node) Next() []Edge { return slices.Clone(n.next) }

// OutputMeta returns the shape and dtype of output slot i.
func (n *Node) OutputMeta(i int) Meta { return n.outputs[i] }

// Accumulator returns the accumulator of an AccumulateGrad node, nil otherwise.
func (n *Node) Accumulator() *Accumulator { return n.acc }

// Edges returns the valid edges of n as full relations.
func (n *Node) Edges() []Relation {
	var rels []Relation
	for i, e := range n.next {
		if e.IsValid() {
			rels = append(rels, Relation{Source: e.Node, SourceSlot: e.Slot, Target: n, TargetSlot: i})
		}
	}
	return rels
}

// Fields lists the readable attribute names, NextFunctionsField last.
func (n *Node) Fields() []string {
	return append(n.fields.names(), NextFunctionsField)
}

// Attr reads an attribute by name.
func (n *Node) Attr(name string) (any, error) {
	if name == NextFunctionsField {
		return n.Next(), nil
	}
	return n.fields.attr(n.kind, name)
}

// Released reports whether the saved buffers were freed.
func (n *Node) Released() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.released
}

func (n *Node) String() string {
	return fmt.Sprintf("%s#%d", n.kind, n.seq)
}

// release frees the saved buffers and returns how many bytes they held.
// AccumulateGrad nodes are never released.
func (n *Node) release() int {
	if n.acc != nil {
		return 0
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	var bytes int
	for _, t := range n.saved {
		if t != nil {
			bytes += t.ByteSize()
		}
	}
	n.saved = nil
	n.released = true
	return bytes
}

// Backward computes one gradient per input slot from one gradient per output
// slot.
//
// Nil output gradients are treated as zeros. The result has nil for inputs
// whose edge is invalid and an explicit tensor, zeros included, for every
// other input. For AccumulateGrad nodes the gradient is accumulated and the
// result is empty.
func (n *Node) Backward(gradOutputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(gradOutputs) != len(n.outputs) {
		return nil, errors.Errorf("%s: expected %d output gradients, got %d", n, len(n.outputs), len(gradOutputs))
	}
	grads := make([]*tensor.Tensor, len(gradOutputs))
	for i, g := range gradOutputs {
		meta := n.outputs[i]
		if g == nil {
			grads[i] = tensor.Zeros(meta.Shape, meta.DType)
			continue
		}
		if !g.Shape().Equal(meta.Shape) {
			return nil, errors.Errorf("%s: gradient for output %d has shape %v, expected %v", n, i, g.Shape(), meta.Shape)
		}
		grads[i] = g
	}
	if n.acc != nil {
		return nil, n.acc.Accumulate(grads[0])
	}

	n.mu.Lock()
	released, saved := n.released, n.saved
	n.mu.Unlock()
	if released {
		return nil, errors.Wrapf(ErrReleased, "%s", n)
	}
	for _, sv := range n.versions {
		if got := sv.v.Version(); got != sv.version {
			return nil, errors.Wrapf(ErrModifiedInPlace, "%s: %s is at version %d, expected %d", n, sv.v, got, sv.version)
		}
	}

	var (
		inputGrads []*tensor.Tensor
		implErr    error
	)
	if err := exceptions.TryCatch[error](func() { inputGrads, implErr = n.impl(saved, grads) }); err != nil {
		return nil, errors.WithMessagef(err, "%s", n)
	}
	if implErr != nil {
		return nil, errors.WithMessagef(implErr, "%s", n)
	}
	return n.checkInputGrads(inputGrads)
}

func (n *Node) checkInputGrads(grads []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(grads) != len(n.next) {
		return nil, errors.Errorf("%s: backward returned %d gradients for %d inputs", n, len(grads), len(n.next))
	}
	for i, e := range n.next {
		if !e.IsValid() {
			grads[i] = nil
			continue
		}
		meta := n.inputs[i]
		if grads[i] == nil {
			grads[i] = tensor.Zeros(meta.Shape, meta.DType)
			continue
		}
		if !grads[i].Shape().Equal(meta.Shape) {
			return nil, errors.Errorf("%s: gradient for input %d has shape %v, expected %v", n, i, grads[i].Shape(), meta.Shape)
		}
	}
	return grads, nil
}
